package imgutil

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// CompressToJPEG は画像データ（PNG, GIF, JPEG等）をJPEG形式に圧縮します。
// JPEG はアルファを持たないため、透過部分は黒背景に合成されます。
func CompressToJPEG(data []byte, quality int) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, flatten(imaging.Clone(img)), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Preview は進捗表示用の縮小画像を作ります。
// quality が 0 以下の場合は PNG のまま返します。
func Preview(data []byte, size, quality int) ([]byte, error) {
	small, err := Normalize(data, size, ColorModeRGB)
	if err != nil {
		return nil, err
	}
	if quality <= 0 {
		return small, nil
	}
	return CompressToJPEG(small, quality)
}
