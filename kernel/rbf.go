// Package kernel provides pairwise similarity functions over batches of
// instances. The Gaussian RBF kernel is the default used by the online
// drift detectors; its bandwidth can be fixed, averaged over several values,
// or inferred from data via the median heuristic.
package kernel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/godrift/pkg/errors"
)

// GaussianRBF is the kernel k(x,y) = exp(-||x-y||^2 / (2*sigma^2)).
// When several bandwidth values are set, the kernel matrix is the mean of the
// per-bandwidth matrices. The bandwidth is stored in log space.
type GaussianRBF struct {
	logSigma     []float64
	trainable    bool
	initRequired bool
}

// Option configures a GaussianRBF.
type Option func(*GaussianRBF)

// WithBandwidth fixes the kernel bandwidth. Passing several values averages
// the kernel evaluation over all of them.
func WithBandwidth(sigma ...float64) Option {
	return func(k *GaussianRBF) {
		k.logSigma = make([]float64, len(sigma))
		for i, s := range sigma {
			k.logSigma[i] = math.Log(s)
		}
		k.initRequired = len(sigma) == 0
	}
}

// WithTrainable marks the bandwidth as a learnable parameter. A trainable
// bandwidth cannot be combined with median-heuristic inference.
func WithTrainable(trainable bool) Option {
	return func(k *GaussianRBF) {
		k.trainable = trainable
	}
}

// NewGaussianRBF creates a Gaussian RBF kernel. Without WithBandwidth the
// bandwidth is inferred from data on the first evaluation.
func NewGaussianRBF(opts ...Option) *GaussianRBF {
	k := &GaussianRBF{initRequired: true}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Sigma returns the current bandwidth values, or nil when the bandwidth has
// not been set or inferred yet.
func (k *GaussianRBF) Sigma() []float64 {
	if k.initRequired {
		return nil
	}
	sigma := make([]float64, len(k.logSigma))
	for i, ls := range k.logSigma {
		sigma[i] = math.Exp(ls)
	}
	return sigma
}

// Trainable reports whether the bandwidth is marked as learnable.
func (k *GaussianRBF) Trainable() bool {
	return k.trainable
}

// Evaluate computes the kernel matrix [Nx, Ny] between the rows of x and y.
// When inferSigma is set (or the bandwidth was never initialised) the
// bandwidth is first set via the median heuristic over the pairwise
// distances, then stored for subsequent calls.
func (k *GaussianRBF) Evaluate(x, y mat.Matrix, inferSigma bool) (*mat.Dense, error) {
	nx, dx := x.Dims()
	ny, dy := y.Dims()
	if nx == 0 || ny == 0 {
		return nil, errors.NewModelError("GaussianRBF.Evaluate", "empty data", errors.ErrEmptyData)
	}
	if dx != dy {
		return nil, errors.NewDimensionError("GaussianRBF.Evaluate", dx, dy, 1)
	}

	dist := SquaredPairwiseDistance(x, y)

	if inferSigma || k.initRequired {
		if k.trainable && inferSigma {
			return nil, errors.NewValueError("GaussianRBF.Evaluate",
				"gradients cannot be computed w.r.t. an inferred sigma value")
		}
		sigma := medianHeuristic(x, y, dist)
		k.logSigma = []float64{math.Log(sigma)}
		k.initRequired = false
	}

	out := mat.NewDense(nx, ny, nil)
	nSigma := float64(len(k.logSigma))
	for _, ls := range k.logSigma {
		s := math.Exp(ls)
		gamma := 1.0 / (2.0 * s * s)
		for i := 0; i < nx; i++ {
			for j := 0; j < ny; j++ {
				out.Set(i, j, out.At(i, j)+math.Exp(-gamma*dist.At(i, j))/nSigma)
			}
		}
	}
	return out, nil
}

// medianHeuristic picks sigma so that 2*sigma^2 equals the median of the
// pairwise squared distances. When x and y share an identical leading block
// (the usual k(x,x) call) the zero self-distances are skipped so they do not
// bias the median downwards.
func medianHeuristic(x, y mat.Matrix, dist *mat.Dense) float64 {
	nx, _ := x.Dims()
	ny, _ := y.Dims()

	n := nx
	if ny < n {
		n = ny
	}
	if nx != ny || !equalLeadingRows(x, y, n) {
		n = 0
	}

	flat := make([]float64, 0, nx*ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			flat = append(flat, dist.At(i, j))
		}
	}
	sort.Float64s(flat)

	nMedian := n + (nx*ny-n)/2 - 1
	if nMedian < 0 {
		nMedian = 0
	}
	return math.Sqrt(0.5 * flat[nMedian])
}

func equalLeadingRows(x, y mat.Matrix, n int) bool {
	_, c := x.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			if x.At(i, j) != y.At(i, j) {
				return false
			}
		}
	}
	return true
}
