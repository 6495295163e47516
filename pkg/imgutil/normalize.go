package imgutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// MaxPixels はデコードを許す画像の最大画素数です。
// 展開後のサイズはヘッダから分かるので、全体をデコードする前に弾きます。
const MaxPixels = 40_000_000

// ErrTooManyPixels は画素数が MaxPixels を超える画像に対して返されます。
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// ColorMode は正規化後の色モードです。
type ColorMode int

const (
	// ColorModeRGB はアルファを黒背景に合成して不透明にします（既定値）。
	ColorModeRGB ColorMode = iota
	// ColorModeRGBA はアルファチャンネルを保持します。
	ColorModeRGBA
)

// ParseColorMode は設定値の文字列を ColorMode に変換します。
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "rgb", "RGB":
		return ColorModeRGB, nil
	case "rgba", "RGBA":
		return ColorModeRGBA, nil
	default:
		return ColorModeRGB, fmt.Errorf("unknown color mode: %q", s)
	}
}

// Normalize は任意形式の画像を size x size の PNG に変換します。
// アップロード直後の画像と生成 API の出力の両方がここを通ります。
// 既に正規化済みの画像を渡した場合は同一のバイト列を返します。
func Normalize(data []byte, size int, mode ColorMode) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size: %d", size)
	}

	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	// 同一サイズの場合 imaging.Resize は再サンプリングせず複製を返す
	dst := imaging.Resize(img, size, size, imaging.Lanczos)
	if mode == ColorModeRGB {
		dst = flatten(dst)
	}

	return encodePNG(dst)
}

// DecodeConfig は画像全体をデコードせずに形式とサイズだけを確認します。
// 画素数が MaxPixels を超える場合は ErrTooManyPixels を包んだ DecodeError を返すのだ。
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", &domain.DecodeError{Err: err}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return image.Config{}, "", &domain.DecodeError{
			Err: fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, cfg.Width, cfg.Height, MaxPixels),
		}
	}
	return cfg, format, nil
}

// Dimensions は PNG などのエンコード済み画像の幅と高さを返します。
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := DecodeConfig(data)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &domain.DecodeError{Err: fmt.Errorf("empty input")}
	}
	if _, _, err := DecodeConfig(data); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &domain.DecodeError{Err: err}
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// flatten は半透明ピクセルを黒背景に合成します。不透明ピクセルはそのまま残します。
func flatten(img *image.NRGBA) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		if c.A == 0xff {
			return c
		}
		a := uint32(c.A)
		return color.NRGBA{
			R: uint8(uint32(c.R) * a / 0xff),
			G: uint8(uint32(c.G) * a / 0xff),
			B: uint8(uint32(c.B) * a / 0xff),
			A: 0xff,
		}
	})
}
