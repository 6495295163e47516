package generator

import (
	"bytes"
	"context"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClient_Transform(t *testing.T) {
	ctx := context.Background()
	src := pngBytes(t, 20, 12)

	c, err := NewLocalClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, 512, c.ImageSize())

	t.Run("同じ入力と強度なら同じ出力になる", func(t *testing.T) {
		a, err := c.Transform(ctx, src, 0.6)
		require.NoError(t, err)
		b, err := c.Transform(ctx, src, 0.6)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.NotEqual(t, src, a)
	})

	t.Run("寸法は変わらない", func(t *testing.T) {
		out, err := c.Transform(ctx, src, 1.0)
		require.NoError(t, err)
		img, err := imaging.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 20, img.Bounds().Dx())
		assert.Equal(t, 12, img.Bounds().Dy())
	})

	t.Run("画像以外はエラー", func(t *testing.T) {
		_, err := c.Transform(ctx, []byte("nope"), 0.2)
		assert.Error(t, err)
	})

	t.Run("キャンセル済みのコンテキストはエラー", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Transform(cctx, src, 0.2)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRotateHue(t *testing.T) {
	red := color.NRGBA{R: 255, A: 200}

	t.Run("180度で補色になる", func(t *testing.T) {
		got := rotateHue(red, 180)
		assert.Equal(t, color.NRGBA{R: 0, G: 255, B: 255, A: 200}, got)
	})

	t.Run("0度なら変わらない", func(t *testing.T) {
		assert.Equal(t, red, rotateHue(red, 0))
	})
}
