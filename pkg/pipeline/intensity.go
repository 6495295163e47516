package pipeline

import (
	"math"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

const intensityStep = 0.2

// Intensity は i 回目（0 始まり）の変換強度を返します。
// 0.2 刻みで増え、5 回目以降は 1.0 で頭打ちになります。
func Intensity(i int) float64 {
	if i < 0 {
		i = 0
	}
	return math.Min(float64(i+1)*intensityStep, 1.0)
}

// ClampIterations は反復回数を [1, MaxIterations] に収めます。
func ClampIterations(n int) int {
	if n < 1 {
		return 1
	}
	if n > domain.MaxIterations {
		return domain.MaxIterations
	}
	return n
}
