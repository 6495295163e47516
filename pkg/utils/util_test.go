package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedUtils(t *testing.T) {
	t.Run("dereferenceSeed: nil の場合は 0 を返すのだ", func(t *testing.T) {
		assert.Equal(t, int64(0), DereferenceSeed(nil))
	})

	t.Run("dereferenceSeed: 値がある場合はその値を返すのだ", func(t *testing.T) {
		var val int64 = 999
		assert.Equal(t, int64(999), DereferenceSeed(&val))
	})

	t.Run("SeedToPtrInt32: nil はそのまま nil なのだ", func(t *testing.T) {
		assert.Nil(t, SeedToPtrInt32(nil))
	})

	t.Run("SeedToPtrInt32: 範囲外の値は下位ビットに切り詰めるのだ", func(t *testing.T) {
		small := int64(42)
		got := SeedToPtrInt32(&small)
		require.NotNil(t, got)
		assert.Equal(t, int32(42), *got)

		big := int64(math.MaxInt32) + 1
		got = SeedToPtrInt32(&big)
		require.NotNil(t, got)
		assert.Equal(t, int32(math.MinInt32), *got)
	})
}
