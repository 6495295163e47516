// Package compositor は複数の画像を1枚のグリッド画像に合成します。
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// GridSide は n 枚を並べる正方グリッドの一辺のタイル数です。
func GridSide(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

// CellOrigin は i 番目のタイルを置く左上のピクセル座標を返します。
// 行優先で (i % side, i / side) のセルに配置します。
func CellOrigin(i, side, width, height int) image.Point {
	col := i % side
	row := i / side
	return image.Pt(col*width, row*height)
}

// Compose は同一サイズの画像列を行優先でグリッドに並べ、PNG として返します。
// 失敗した場合はバイト列を一切返しません。
func Compose(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, &domain.CompositeError{Reason: "no images to compose"}
	}
	if len(images) > domain.MaxIterations {
		return nil, &domain.CompositeError{Reason: fmt.Sprintf("too many images: %d (max %d)", len(images), domain.MaxIterations)}
	}

	tiles := make([]image.Image, len(images))
	var width, height int
	for i, data := range images {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &domain.CompositeError{Reason: fmt.Sprintf("tile %d is not a valid image", i), Err: err}
		}
		b := img.Bounds()
		if i == 0 {
			width, height = b.Dx(), b.Dy()
		} else if b.Dx() != width || b.Dy() != height {
			return nil, &domain.CompositeError{
				Reason: fmt.Sprintf("tile %d size mismatch: expected %dx%d, got %dx%d", i, width, height, b.Dx(), b.Dy()),
			}
		}
		tiles[i] = img
	}

	side := GridSide(len(tiles))
	canvas := imaging.New(side*width, side*height, color.NRGBA{A: 0xff})
	for i, tile := range tiles {
		canvas = imaging.Paste(canvas, tile, CellOrigin(i, side, width, height))
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, canvas, imaging.PNG); err != nil {
		return nil, &domain.CompositeError{Reason: "encode composite", Err: err}
	}
	return buf.Bytes(), nil
}
