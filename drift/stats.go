package drift

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// quantile returns the empirical p-quantile of sample using linear
// interpolation between order statistics (R type 7). The input is not
// modified.
func quantile(sample []float64, p float64) float64 {
	n := len(sample)
	sorted := make([]float64, n)
	copy(sorted, sample)
	sort.Float64s(sorted)

	h := (float64(n)-1)*p + 1 // 1-based fractional rank
	hFloor := int(h)
	q := sorted[hFloor-1]
	if float64(hFloor) != h && hFloor < n {
		q += (h - float64(hFloor)) * (sorted[hFloor] - sorted[hFloor-1])
	}
	return q
}

// zeroDiagSum sums all entries of a square matrix excluding the diagonal.
func zeroDiagSum(m mat.Matrix) float64 {
	r, _ := m.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < r; j++ {
			if i != j {
				sum += m.At(i, j)
			}
		}
	}
	return sum
}

// zeroDiagSubsetSum sums k[inds[a], inds[b]] over all a != b.
func zeroDiagSubsetSum(k *mat.Dense, inds []int) float64 {
	sum := 0.0
	for a, i := range inds {
		row := k.RawRowView(i)
		for b, j := range inds {
			if a != b {
				sum += row[j]
			}
		}
	}
	return sum
}

// crossSubsetColSums returns, for every column index in cols, the sum of
// k[r, c] over all row indices in rows.
func crossSubsetColSums(k *mat.Dense, rows, cols []int) []float64 {
	sums := make([]float64, len(cols))
	for _, i := range rows {
		row := k.RawRowView(i)
		for b, j := range cols {
			sums[b] += row[j]
		}
	}
	return sums
}

// selectRows copies the given rows of x into a new dense matrix.
func selectRows(x *mat.Dense, inds []int) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(len(inds), c, nil)
	for a, i := range inds {
		out.SetRow(a, x.RawRowView(i))
	}
	return out
}

// rowsToDense stacks row vectors into a dense matrix.
func rowsToDense(rows [][]float64) *mat.Dense {
	r := len(rows)
	c := len(rows[0])
	out := mat.NewDense(r, c, nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	return out
}

// colMeans returns the per-column mean of m.
func colMeans(m *mat.Dense) []float64 {
	r, c := m.Dims()
	means := make([]float64, c)
	for i := 0; i < r; i++ {
		floats.Add(means, m.RawRowView(i))
	}
	floats.Scale(1/float64(r), means)
	return means
}
