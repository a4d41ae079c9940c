package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHungarianAssign(t *testing.T) {
	t.Parallel()

	t.Run("square matrix picks minimum cost assignment", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{1, 2},
			{2, 1},
		}
		assignment := hungarianAssign(cost)
		assert.Equal(t, []int{0, 1}, assignment)
	})

	t.Run("rectangular matrix leaves extra rows unmatched", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{0.1, 0.9},
			{0.9, 0.1},
			{0.5, 0.5},
		}
		assignment := hungarianAssign(cost)
		require := assert.New(t)
		require.Len(assignment, 3)
		require.Equal(0, assignment[0])
		require.Equal(1, assignment[1])
		require.Equal(-1, assignment[2])
	})

	t.Run("empty matrix returns nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, hungarianAssign(nil))
	})

	t.Run("single row single column", func(t *testing.T) {
		t.Parallel()
		assignment := hungarianAssign([][]float64{{0.42}})
		assert.Equal(t, []int{0}, assignment)
	})
}
