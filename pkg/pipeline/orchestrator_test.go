package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tile = 8

func newOrchestrator(t *testing.T, tr *fakeTransformer) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(tr, Options{TargetSize: tile}, nil)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_Run(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")

	t.Run("9回: 進捗9件と最終1件、3x3 の合成画像", func(t *testing.T) {
		tr := &fakeTransformer{t: t}
		sink := &recordingSink{}
		src := solidPNG(t, 30, 20, color.NRGBA{R: 255, A: 255})

		composite, err := newOrchestrator(t, tr).Run(ctx, src, 9, sink)
		require.NoError(t, err)

		assert.Equal(t, 3*tile, composite.Width)
		assert.Equal(t, 3*tile, composite.Height)
		assert.Equal(t, 9, composite.Tiles)

		kinds := sink.kinds()
		require.Len(t, kinds, 10)
		for i := 0; i < 9; i++ {
			assert.Equal(t, domain.EventProgress, kinds[i])
			assert.Equal(t, i+1, sink.events[i].Iteration)
			assert.Equal(t, "run-1", sink.events[i].RunID)
			assert.NotEmpty(t, sink.events[i].ImageData)
		}
		assert.Equal(t, domain.EventFinal, kinds[9])
		assert.Equal(t, composite.Data, sink.events[9].ImageData)

		img, err := imaging.Decode(bytes.NewReader(composite.Data))
		require.NoError(t, err)
		assert.Equal(t, 3*tile, img.Bounds().Dx())

		// i 番目の出力は (i%3, i/3) のタイルに置かれる
		for i := 0; i < 9; i++ {
			x := (i%3)*tile + tile/2
			y := (i/3)*tile + tile/2
			r, g, b, _ := img.At(x, y).RGBA()
			want := markerColor(i)
			assert.Equal(t, []uint8{want.R, want.G, want.B}, []uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}, "tile %d", i)
		}
	})

	t.Run("強度は 0.2 刻みで 1.0 に頭打ち、入力は前回の正規化済み出力", func(t *testing.T) {
		tr := &fakeTransformer{t: t}
		_, err := newOrchestrator(t, tr).Run(ctx, solidPNG(t, 4, 4, color.NRGBA{B: 255, A: 255}), 6, nil)
		require.NoError(t, err)

		require.Len(t, tr.intensities, 6)
		assert.InDeltaSlice(t, []float64{0.2, 0.4, 0.6, 0.8, 1.0, 1.0}, tr.intensities, 1e-9)

		for i, in := range tr.inputs {
			w, h := dims(t, in)
			assert.Equal(t, tile, w, "input %d width", i)
			assert.Equal(t, tile, h, "input %d height", i)
		}
	})

	t.Run("非正方の回数は ceil(sqrt(N)) のグリッドになる", func(t *testing.T) {
		tr := &fakeTransformer{t: t}
		composite, err := newOrchestrator(t, tr).Run(ctx, solidPNG(t, 4, 4, color.NRGBA{A: 255}), 5, nil)
		require.NoError(t, err)
		assert.Equal(t, 3*tile, composite.Width)
		assert.Equal(t, 5, composite.Tiles)
	})

	t.Run("回数は [1, 9] に丸められる", func(t *testing.T) {
		tr := &fakeTransformer{t: t}
		composite, err := newOrchestrator(t, tr).Run(ctx, solidPNG(t, 4, 4, color.NRGBA{A: 255}), 42, nil)
		require.NoError(t, err)
		assert.Len(t, tr.intensities, 9)
		assert.Equal(t, 9, composite.Tiles)

		tr = &fakeTransformer{t: t}
		composite, err = newOrchestrator(t, tr).Run(ctx, solidPNG(t, 4, 4, color.NRGBA{A: 255}), 0, nil)
		require.NoError(t, err)
		assert.Len(t, tr.intensities, 1)
		assert.Equal(t, tile, composite.Width)
	})

	t.Run("k 回目で失敗したら以降を実行せず合成もしない", func(t *testing.T) {
		apiErr := errors.New("503 from upstream")
		tr := &fakeTransformer{t: t, failAt: 3, err: apiErr}
		sink := &recordingSink{}

		composite, err := newOrchestrator(t, tr).Run(ctx, solidPNG(t, 4, 4, color.NRGBA{A: 255}), 9, sink)
		assert.Nil(t, composite)

		var pErr *domain.PipelineError
		require.True(t, errors.As(err, &pErr))
		assert.Equal(t, domain.StageGeneration, pErr.Stage)
		assert.Equal(t, 3, pErr.Iteration)
		assert.ErrorIs(t, err, apiErr)

		assert.Len(t, tr.intensities, 4)
		require.Len(t, sink.events, 3)
		for _, ev := range sink.events {
			assert.Equal(t, domain.EventProgress, ev.Kind)
			assert.LessOrEqual(t, ev.Iteration, 3)
		}
	})

	t.Run("元画像が壊れていれば decode 段階で失敗する", func(t *testing.T) {
		tr := &fakeTransformer{t: t}
		_, err := newOrchestrator(t, tr).Run(ctx, []byte("not an image"), 9, nil)

		var pErr *domain.PipelineError
		require.True(t, errors.As(err, &pErr))
		assert.Equal(t, domain.StageDecode, pErr.Stage)
		var decErr *domain.DecodeError
		assert.True(t, errors.As(err, &decErr))
		assert.Empty(t, tr.intensities)
	})

	t.Run("JPEG プレビューを進捗に載せる", func(t *testing.T) {
		tr := &fakeTransformer{t: t}
		sink := &recordingSink{}
		o, err := NewOrchestrator(tr, Options{TargetSize: tile, DisplaySize: 4, DisplayQuality: 80}, nil)
		require.NoError(t, err)

		_, err = o.Run(ctx, solidPNG(t, 4, 4, color.NRGBA{A: 255}), 1, sink)
		require.NoError(t, err)

		require.Len(t, sink.events, 2)
		_, format, err := imageFormat(sink.events[0].ImageData)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	})
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(nil, Options{TargetSize: 8}, nil)
	assert.Error(t, err)

	_, err = NewOrchestrator(&fakeTransformer{t: t}, Options{}, nil)
	assert.Error(t, err)
}

func TestSinkFunc(t *testing.T) {
	var got domain.ProgressEvent
	SinkFunc(func(ctx context.Context, ev domain.ProgressEvent) { got = ev }).
		Emit(context.Background(), domain.ProgressEvent{Kind: domain.EventFinal})
	assert.Equal(t, domain.EventFinal, got.Kind)
}
