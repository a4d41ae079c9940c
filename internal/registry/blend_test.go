package registry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vecNorm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

func TestBlendAndNormalize(t *testing.T) {
	t.Parallel()

	t.Run("weights the new vector toward the configured split and renormalizes", func(t *testing.T) {
		t.Parallel()
		newVec := []float32{1, 0}
		oldVec := []float32{0, 1}
		out := blendAndNormalize(newVec, oldVec, 0.7, 0.3)

		require.Len(t, out, 2)
		assert.InDelta(t, 1.0, vecNorm(out), 1e-6)
		// Unnormalized blend would be (0.7, 0.3); after L2 renormalization
		// the ratio between components must be preserved.
		assert.InDelta(t, 0.7/0.3, float64(out[0]/out[1]), 1e-4)
	})

	t.Run("identical vectors blend to themselves", func(t *testing.T) {
		t.Parallel()
		v := []float32{0.6, 0.8} // already unit length
		out := blendAndNormalize(v, v, 0.7, 0.3)
		assert.InDelta(t, float64(v[0]), float64(out[0]), 1e-5)
		assert.InDelta(t, float64(v[1]), float64(out[1]), 1e-5)
	})

	t.Run("all-zero blend stays zero instead of dividing by zero", func(t *testing.T) {
		t.Parallel()
		out := blendAndNormalize([]float32{0, 0, 0}, []float32{0, 0, 0}, 0.7, 0.3)
		assert.Equal(t, []float32{0, 0, 0}, out)
	})
}
