package kernel

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/godrift/core/parallel"
)

// rows below which the pairwise distance loop runs sequentially
const parallelThreshold = 64

// SquaredPairwiseDistance computes the matrix of squared Euclidean distances
// between the rows of x [Nx, d] and the rows of y [Ny, d] using the expansion
// ||a-b||^2 = ||a||^2 + ||b||^2 - 2*a.b. Values are clamped at zero to guard
// against cancellation producing small negatives.
func SquaredPairwiseDistance(x, y mat.Matrix) *mat.Dense {
	nx, _ := x.Dims()
	ny, _ := y.Dims()

	var cross mat.Dense
	cross.Mul(x, y.T())

	xNorms := rowSquaredNorms(x)
	yNorms := rowSquaredNorms(y)

	dist := mat.NewDense(nx, ny, nil)
	parallel.ParallelizeWithThreshold(nx, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < ny; j++ {
				d := xNorms[i] + yNorms[j] - 2*cross.At(i, j)
				if d < 0 {
					d = 0
				}
				dist.Set(i, j, d)
			}
		}
	})

	return dist
}

func rowSquaredNorms(x mat.Matrix) []float64 {
	r, c := x.Dims()
	norms := make([]float64, r)
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			v := x.At(i, j)
			sum += v * v
		}
		norms[i] = sum
	}
	return norms
}
