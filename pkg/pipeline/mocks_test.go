package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// markerColor は i 回目の出力を識別するための色です。
func markerColor(i int) color.NRGBA {
	return color.NRGBA{R: uint8(20 + i*25), G: uint8(200 - i*20), B: uint8(i * 7), A: 255}
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeTransformer は呼び出し順に marker 色の画像を返し、failAt 回目で失敗します。
type fakeTransformer struct {
	t      *testing.T
	failAt int
	err    error

	intensities []float64
	inputs      [][]byte
}

func (f *fakeTransformer) Transform(ctx context.Context, img []byte, intensity float64) ([]byte, error) {
	i := len(f.intensities)
	f.intensities = append(f.intensities, intensity)
	f.inputs = append(f.inputs, img)
	if f.err != nil && i == f.failAt {
		return nil, f.err
	}
	// API の出力サイズは入力と一致しないことがある
	return solidPNG(f.t, 12, 12, markerColor(i)), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *recordingSink) Emit(ctx context.Context, ev domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}
