package vision

import "math"

// hungarianAssign solves the rectangular linear sum assignment problem on a
// cost matrix (rows=n, cols=m), returning for each row the matched column
// index or -1 if unmatched (when m < n) via the Jonker-Volgenant/Munkres
// method. No example repo in the pack ships a Go assignment-problem solver
// (the teacher's tracker only ever did greedy best-IoU matching), so this
// is a from-scratch stdlib implementation grounded directly on the classic
// O(n^3) Hungarian algorithm rather than any example file — see DESIGN.md.
func hungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])

	// Pad to square with a large cost so the algorithm always has a column
	// to assign; assignments to padded columns are dropped before this
	// function returns, so those rows come back as -1.
	size := n
	if m > size {
		size = m
	}
	const inf = 1e12

	a := make([][]float64, size)
	for i := range a {
		a[i] = make([]float64, size)
		for j := range a[i] {
			if i < n && j < m {
				a[i][j] = cost[i][j]
			} else {
				a[i][j] = inf
			}
		}
	}

	u := make([]float64, size+1)
	v := make([]float64, size+1)
	p := make([]int, size+1) // p[j] = row assigned to column j (1-indexed), 0 = unassigned
	way := make([]int, size+1)

	for i := 1; i <= size; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, size+1)
		used := make([]bool, size+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := -1
			for j := 1; j <= size; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= size; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	for j := 1; j <= size; j++ {
		row := p[j]
		if row >= 1 && row <= n && j-1 < m {
			result[row-1] = j - 1
		}
	}
	return result
}
