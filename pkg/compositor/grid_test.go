package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// markerImage は index ごとに異なる単色で塗りつぶした画像を作ります。
func markerImage(t *testing.T, index, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	c := markerColor(index)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func markerColor(index int) color.NRGBA {
	return color.NRGBA{R: uint8(20 * (index + 1)), G: uint8(255 - 20*index), B: uint8(7 * index), A: 255}
}

func TestGridSide(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 4: 2, 5: 3, 9: 3}
	for n, want := range cases {
		assert.Equal(t, want, GridSide(n), "n=%d", n)
	}
}

func TestCompose(t *testing.T) {
	const w, h = 6, 4

	t.Run("9枚のマーカー画像が (i%3, i/3) のタイルに配置されること", func(t *testing.T) {
		images := make([][]byte, 9)
		for i := range images {
			images[i] = markerImage(t, i, w, h)
		}

		out, err := Compose(images)
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 3*w, 3*h), img.Bounds())

		for i := 0; i < 9; i++ {
			x := (i%3)*w + w/2
			y := (i/3)*h + h/2
			got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			assert.Equal(t, markerColor(i), got, "tile %d", i)
		}
	})

	t.Run("平方数でない枚数は切り上げたグリッドになり空きセルは黒", func(t *testing.T) {
		images := [][]byte{markerImage(t, 0, w, h), markerImage(t, 1, w, h), markerImage(t, 2, w, h)}

		out, err := Compose(images)
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 2*w, 2*h), img.Bounds())

		empty := color.NRGBAModel.Convert(img.At(w+1, h+1)).(color.NRGBA)
		assert.Equal(t, color.NRGBA{A: 255}, empty)
	})

	t.Run("空の入力は CompositeError", func(t *testing.T) {
		out, err := Compose(nil)

		var cErr *domain.CompositeError
		assert.ErrorAs(t, err, &cErr)
		assert.Nil(t, out)
	})

	t.Run("サイズが異なる画像が混ざると CompositeError", func(t *testing.T) {
		images := [][]byte{markerImage(t, 0, w, h), markerImage(t, 1, w+1, h)}

		out, err := Compose(images)

		var cErr *domain.CompositeError
		require.ErrorAs(t, err, &cErr)
		assert.Contains(t, cErr.Reason, "size mismatch")
		assert.Nil(t, out)
	})

	t.Run("デコードできないタイルは CompositeError", func(t *testing.T) {
		out, err := Compose([][]byte{markerImage(t, 0, w, h), []byte("garbage")})

		var cErr *domain.CompositeError
		assert.ErrorAs(t, err, &cErr)
		assert.Nil(t, out)
	})

	t.Run("上限を超える枚数は CompositeError", func(t *testing.T) {
		images := make([][]byte, 10)
		for i := range images {
			images[i] = markerImage(t, 0, w, h)
		}
		_, err := Compose(images)

		var cErr *domain.CompositeError
		assert.ErrorAs(t, err, &cErr)
	})
}
