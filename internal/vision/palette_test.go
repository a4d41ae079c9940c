package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorForLabel(t *testing.T) {
	t.Parallel()

	t.Run("deterministic for the same label", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, ColorForLabel(3), ColorForLabel(3))
	})

	t.Run("wraps around the fixed palette size", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, ColorForLabel(0), ColorForLabel(10))
		assert.Equal(t, ColorForLabel(4), ColorForLabel(14))
	})

	t.Run("matches the known first entry", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "#ff6b6b", ColorForLabel(0))
	})
}

func TestColorRGBForLabel(t *testing.T) {
	t.Parallel()

	t.Run("decodes the hex palette to matching RGB bytes", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, [3]uint8{0xff, 0x6b, 0x6b}, ColorRGBForLabel(0))
	})

	t.Run("agrees with ColorForLabel on wraparound", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, ColorRGBForLabel(1), ColorRGBForLabel(11))
	})
}
