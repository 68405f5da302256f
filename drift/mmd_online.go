package drift

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/godrift/core/parallel"
	"github.com/YuminosukeSato/godrift/kernel"
	"github.com/YuminosukeSato/godrift/pkg/errors"
	"github.com/YuminosukeSato/godrift/pkg/log"
)

// bootstrap samples below which calibration loops run sequentially
const calibrationParallelThreshold = 16

// MMDOnline is an online drift detector based on the Maximum Mean
// Discrepancy two-sample statistic. Thresholds are calibrated once at
// construction by simulating no-drift streams from permutations of the
// reference data, targeting the configured expected run-time (ERT) to a
// false detection. Each Predict call consumes exactly one instance and
// updates the statistic in O(window) time.
//
// A detector instance is stateful and not safe for concurrent use;
// Predict must be called strictly sequentially per monitored stream.
type MMDOnline struct {
	onlineBase

	kernel   *kernel.GaussianRBF
	kXX      *mat.Dense // pairwise kernel matrix over the reference data
	kFullSum float64    // zero-diagonal sum of kXX

	// state reselected on every Reset
	refInds    []int
	xRefSub    *mat.Dense
	kXXSubSum  float64
	testWindow [][]float64
	kXYCols    [][]float64 // cross-kernel columns, one per window slot
}

// NewMMDOnline creates and calibrates an online MMD drift detector.
//
// xRef is the reference sample (n instances by d features) and must satisfy
// n > 2*windowSize. ert is the expected run-time in the absence of drift;
// windowSize is the size of the sliding test window. Smaller windows respond
// faster to severe drift, larger windows detect slighter drift.
func NewMMDOnline(xRef mat.Matrix, ert float64, windowSize int, opts ...Option) (*MMDOnline, error) {
	cfg := defaultOnlineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.nKernelCenters != 0 {
		return nil, errors.NewValidationError("n_kernel_centers",
			"only supported by the LSDD detector", cfg.nKernelCenters)
	}
	if cfg.lambdaRDMax != 0.2 {
		return nil, errors.NewValidationError("lambda_rd_max",
			"only supported by the LSDD detector", cfg.lambdaRDMax)
	}

	base, err := newOnlineBase("MMDOnline", xRef, ert, windowSize, &cfg)
	if err != nil {
		return nil, err
	}
	d := &MMDOnline{onlineBase: *base}

	k := cfg.kernel
	if k == nil {
		if len(cfg.sigma) > 0 {
			k = kernel.NewGaussianRBF(kernel.WithBandwidth(cfg.sigma...))
		} else {
			k = kernel.NewGaussianRBF()
		}
	}
	d.kernel = k

	inferSigma := len(cfg.sigma) == 0 && cfg.kernel == nil
	kXX, err := k.Evaluate(d.xRef, d.xRef, inferSigma)
	if err != nil {
		return nil, err
	}
	d.kXX = kXX
	d.kFullSum = zeroDiagSum(kXX)

	if d.ertMissing() {
		d.infiniteThresholds()
	} else if err := d.configureThresholds(); err != nil {
		return nil, err
	}

	if err := d.initialise(d); err != nil {
		return nil, err
	}
	d.SetFitted()
	return d, nil
}

// Predict consumes one instance and reports whether the most recent window
// of data has drifted from the reference distribution. When returnTestStat
// is set the result also carries the statistic and the threshold it was
// compared to. A detector that has flagged drift keeps scoring; callers are
// expected to Reset it to resume clean monitoring.
func (d *MMDOnline) Predict(x []float64, returnTestStat bool) (*DriftPrediction, error) {
	return d.predict(d, x, returnTestStat)
}

// Reset clears the test window and run state and reselects the random
// reference subset used for the baseline kernel sum. The threshold schedule
// is kept: thresholds are expensive to calibrate and assumed stationary.
func (d *MMDOnline) Reset() error {
	return d.initialise(d)
}

// configureThresholds runs the bootstrap simulation. Each bootstrap sample
// splits a permutation of the reference indices into a pool prefix (the
// simulated persistent reference) and a 2*window stream suffix. For every
// window fill-up step the statistic of the sliding stream slice is computed
// for all surviving samples and the (1-fpr)-quantile becomes the step's
// threshold. Samples exceeding it are pruned: a sample that already
// triggered must not contribute to later, conditional thresholds.
func (d *MMDOnline) configureThresholds() error {
	w := d.windowSize
	rwSize := d.n - 2*w
	nBoot := d.nBootstraps

	d.logger.Info("generating permutations of kernel matrix",
		log.DetectorKey, d.name,
		log.OperationKey, "configure_thresholds",
		log.NBootstrapsKey, nBoot,
		log.WindowSizeKey, w,
		log.ERTKey, d.ert,
	)

	pInds := make([][]int, nBoot)
	qInds := make([][]int, nBoot)
	for b := 0; b < nBoot; b++ {
		perm := d.rng.Perm(d.n)
		pInds[b] = perm[:rwSize]
		qInds[b] = perm[rwSize:]
	}

	poolNorm := float64(rwSize * (rwSize - 1))
	if poolNorm == 0 {
		poolNorm = 1 // single-element pool has an empty zero-diagonal sum
	}

	kXYColSums := make([][]float64, nBoot)
	kXXSums := make([]float64, nBoot)
	parallel.ParallelizeWithThreshold(nBoot, calibrationParallelThreshold, func(start, end int) {
		for b := start; b < end; b++ {
			colSums := crossSubsetColSums(d.kXX, pInds[b], qInds[b])
			total := floats.Sum(colSums)
			kXXSums[b] = (d.kFullSum - zeroDiagSubsetSum(d.kXX, qInds[b]) - 2*total) / poolNorm
			for j := range colSums {
				colSums[j] /= float64(rwSize * w)
			}
			kXYColSums[b] = colSums
		}
	})

	selfNorm := float64(w * (w - 1))
	if selfNorm == 0 {
		selfNorm = 1
	}

	surviving := make([]int, nBoot)
	for b := range surviving {
		surviving[b] = b
	}

	thresholds := make([]float64, w)
	for step := 0; step < w; step++ {
		if len(surviving) == 0 {
			return errors.NewCalibrationUnderflowError(d.name, step, w, nBoot)
		}

		stats := make([]float64, len(surviving))
		parallel.ParallelizeWithThreshold(len(surviving), calibrationParallelThreshold, func(start, end int) {
			for i := start; i < end; i++ {
				b := surviving[i]
				qSlice := qInds[b][step : step+w]
				stats[i] = kXXSums[b] +
					zeroDiagSubsetSum(d.kXX, qSlice)/selfNorm -
					2*floats.Sum(kXYColSums[b][step:step+w])
			}
		})

		thresholds[step] = quantile(stats, 1-d.fpr)

		kept := surviving[:0]
		for i, b := range surviving {
			if stats[i] < thresholds[step] {
				kept = append(kept, b)
			}
		}
		surviving = kept
		d.logCalibrationStep(step, len(surviving))
	}

	d.thresholds = thresholds
	return nil
}

// configureRefSubset draws the random partition of reference indices whose
// contributing subset forms the running baseline kernel sum.
func (d *MMDOnline) configureRefSubset() error {
	perm := d.rng.Perm(d.n)
	d.refInds = perm[:d.n-2*d.windowSize]
	d.xRefSub = selectRows(d.xRef, d.refInds)

	norm := float64(len(d.refInds) * (len(d.refInds) - 1))
	if norm == 0 {
		norm = 1
	}
	d.kXXSubSum = zeroDiagSubsetSum(d.kXX, d.refInds) / norm

	d.testWindow = nil
	d.kXYCols = nil
	return nil
}

// score routes one preprocessed instance into the sliding window. While the
// window is filling the statistic is undefined. Once full, the oldest
// instance and its cross-kernel column are dropped, the new ones appended,
// and the statistic recomputed from the cached baseline sum, the window
// self-kernel matrix and the cross-kernel block.
func (d *MMDOnline) score(xt *mat.Dense) (float64, bool, error) {
	kernelCol, err := d.kernel.Evaluate(d.xRefSub, xt, false)
	if err != nil {
		return 0, false, err
	}
	nSub := len(d.refInds)
	col := make([]float64, nSub)
	for i := 0; i < nSub; i++ {
		col[i] = kernelCol.At(i, 0)
	}
	row := append([]float64(nil), xt.RawRowView(0)...)

	if len(d.testWindow) < d.windowSize {
		d.testWindow = append(d.testWindow, row)
		d.kXYCols = append(d.kXYCols, col)
	} else {
		d.testWindow = append(d.testWindow[1:], row)
		d.kXYCols = append(d.kXYCols[1:], col)
	}
	if len(d.testWindow) < d.windowSize {
		return 0, false, nil
	}

	windowMat := rowsToDense(d.testWindow)
	kYY, err := d.kernel.Evaluate(windowMat, windowMat, false)
	if err != nil {
		return 0, false, err
	}

	selfTerm := 0.0
	if d.windowSize > 1 {
		selfTerm = zeroDiagSum(kYY) / float64(d.windowSize*(d.windowSize-1))
	}

	crossTotal := 0.0
	for _, c := range d.kXYCols {
		crossTotal += floats.Sum(c)
	}
	crossMean := crossTotal / float64(nSub*d.windowSize)

	stat := d.kXXSubSum + selfTerm - 2*crossMean
	if err := errors.CheckScalar("mmd_update", stat, d.t); err != nil {
		return 0, false, err
	}
	return stat, true, nil
}
