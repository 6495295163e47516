package generator

import (
	"bytes"
	"context"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// LocalClient は外部 API を使わずに色相回転・彩度・コントラストで画像を変換するオフライン用バックエンドです。
// 同じ入力と強度に対して常に同じ出力を返します。
type LocalClient struct {
	cfg Config
}

// NewLocalClient は LocalClient を初期化します。
func NewLocalClient(cfg Config) (*LocalClient, error) {
	cfg.Backend = BackendLocal
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}
	return &LocalClient{cfg: cfg}, nil
}

func (c *LocalClient) Name() string   { return BackendLocal }
func (c *LocalClient) ImageSize() int { return c.cfg.ImageSize }

// Transform は強度に応じて色相を最大 180 度回転させ、彩度とコントラストを持ち上げます。
func (c *LocalClient) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.GenerationError{Backend: BackendLocal, Cause: "context done", Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendLocal, Cause: "decode input", Err: err}
	}

	intensity = clamp(intensity, 0, 1)
	shift := 180 * intensity
	out := imaging.AdjustFunc(img, func(px color.NRGBA) color.NRGBA {
		return rotateHue(px, shift)
	})
	out = imaging.AdjustSaturation(out, 60*intensity)
	out = imaging.AdjustContrast(out, 30*intensity)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, &domain.GenerationError{Backend: BackendLocal, Cause: "encode output", Err: err}
	}
	return buf.Bytes(), nil
}

// rotateHue は HSV 空間で色相を deg 度回転させます。アルファはそのまま残します。
func rotateHue(px color.NRGBA, deg float64) color.NRGBA {
	c := colorful.Color{R: float64(px.R) / 255, G: float64(px.G) / 255, B: float64(px.B) / 255}
	h, s, v := c.Hsv()
	h = math.Mod(h+deg, 360)
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: px.A}
}
