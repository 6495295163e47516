package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntensity(t *testing.T) {
	assert.InDelta(t, 0.2, Intensity(0), 1e-9)
	assert.InDelta(t, 0.6, Intensity(2), 1e-9)
	assert.Equal(t, 1.0, Intensity(4))
	assert.Equal(t, 1.0, Intensity(8))
	assert.InDelta(t, 0.2, Intensity(-3), 1e-9)

	t.Run("単調非減少で [0.2, 1.0] に収まる", func(t *testing.T) {
		prev := 0.0
		for i := 0; i < 20; i++ {
			v := Intensity(i)
			assert.GreaterOrEqual(t, v, prev)
			assert.GreaterOrEqual(t, v, 0.2-1e-9)
			assert.LessOrEqual(t, v, 1.0)
			prev = v
		}
	})
}

func TestClampIterations(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, 1}, {0, 1}, {1, 1}, {5, 5}, {9, 9}, {10, 9}, {100, 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampIterations(tt.in), "ClampIterations(%d)", tt.in)
	}
}
