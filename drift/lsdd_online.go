package drift

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/godrift/core/parallel"
	"github.com/YuminosukeSato/godrift/kernel"
	"github.com/YuminosukeSato/godrift/pkg/errors"
	"github.com/YuminosukeSato/godrift/pkg/log"
	"github.com/YuminosukeSato/godrift/preprocessing"
)

// number of candidate regularisation constants 1/4^i tried during the
// lambda search, and the cap on reference subset rejection attempts.
const (
	nLambdaCandidates  = 10
	maxSubsetAttempts  = 1000
	lsddExtendedFactor = 2 // extended window covers 2*window_size - 1 steps
)

// LSDDOnline is an online drift detector based on the Least-Squares Density
// Difference between the reference and the test window. It shares the
// bootstrap threshold calibration scheme of MMDOnline but scores against a
// fixed set of kernel centers, which keeps the per-instance update cost
// independent of the reference size.
//
// The reference data is standardised to zero mean and unit variance at
// construction and every test instance is standardised with the same
// statistics before scoring. The test window is pre-seeded from held-out
// reference instances, so a statistic is emitted from the first Predict
// call onwards.
//
// A detector instance is stateful and not safe for concurrent use.
type LSDDOnline struct {
	onlineBase

	kernel      *kernel.GaussianRBF
	normalizer  *preprocessing.StandardScaler
	nCenters    int
	lambdaRDMax float64

	kernelCenters *mat.Dense
	xRefEff       *mat.Dense // non-center reference rows, standardised
	kXC           *mat.Dense // kernel between xRefEff and the centers
	hMat          *mat.Dense // kernel between centers at sqrt(2)*sigma
	hLamInv       *mat.Dense // regularised inverse used by the statistic

	// state reselected on every Reset
	c2s      []float64   // column means of kXC over the reference subset
	kXTCRows [][]float64 // kernel rows between window slots and centers
}

// NewLSDDOnline creates and calibrates an online LSDD drift detector.
//
// xRef is the reference sample and must be large enough to hold the kernel
// centers (default 2*windowSize), the extended calibration window of
// 2*windowSize-1 instances and a non-empty reference subset on top.
func NewLSDDOnline(xRef mat.Matrix, ert float64, windowSize int, opts ...Option) (*LSDDOnline, error) {
	cfg := defaultOnlineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := newOnlineBase("LSDDOnline", xRef, ert, windowSize, &cfg)
	if err != nil {
		return nil, err
	}
	d := &LSDDOnline{onlineBase: *base, lambdaRDMax: cfg.lambdaRDMax}

	if d.lambdaRDMax <= 0 || d.lambdaRDMax >= 1 {
		return nil, errors.NewValidationError("lambda_rd_max",
			"must lie in the open interval (0, 1)", d.lambdaRDMax)
	}
	d.nCenters = cfg.nKernelCenters
	if d.nCenters == 0 {
		d.nCenters = 2 * windowSize
	}
	if d.nCenters < 1 || d.nCenters >= d.n {
		return nil, errors.NewValidationError("n_kernel_centers",
			"must be a positive integer smaller than the reference size", d.nCenters)
	}

	etwSize := lsddExtendedFactor*windowSize - 1
	if d.n-d.nCenters-etwSize < 1 {
		return nil, errors.NewValidationError("window_size",
			"reference sample too small for the kernel centers and the extended test window", windowSize)
	}

	d.normalizer = preprocessing.NewStandardScalerDefault()
	normalized, err := d.normalizer.FitTransform(d.xRef)
	if err != nil {
		return nil, err
	}
	d.xRef = mat.DenseCopyOf(normalized)

	k := cfg.kernel
	if k == nil {
		if len(cfg.sigma) > 0 {
			k = kernel.NewGaussianRBF(kernel.WithBandwidth(cfg.sigma...))
		} else {
			k = kernel.NewGaussianRBF()
		}
	}
	d.kernel = k
	if len(cfg.sigma) == 0 && cfg.kernel == nil {
		// One evaluation on the standardised reference fixes the bandwidth
		// via the median heuristic before the centers are split off.
		if _, err := k.Evaluate(d.xRef, d.xRef, true); err != nil {
			return nil, err
		}
	}

	if err := d.configureKernelCenters(); err != nil {
		return nil, err
	}

	sigma := k.Sigma()
	if len(sigma) == 0 {
		return nil, errors.NewValidationError("sigma", "kernel bandwidth is not set", nil)
	}
	widened := make([]float64, len(sigma))
	for i, s := range sigma {
		widened[i] = math.Sqrt2 * s
	}
	hKernel := kernel.NewGaussianRBF(kernel.WithBandwidth(widened...))
	d.hMat, err = hKernel.Evaluate(d.kernelCenters, d.kernelCenters, false)
	if err != nil {
		return nil, err
	}

	if err := d.configureThresholds(); err != nil {
		return nil, err
	}
	if err := d.initialise(d); err != nil {
		return nil, err
	}
	d.SetFitted()
	return d, nil
}

// Predict consumes one instance and reports whether the most recent window
// of data has drifted from the reference distribution.
func (d *LSDDOnline) Predict(x []float64, returnTestStat bool) (*DriftPrediction, error) {
	return d.predict(d, x, returnTestStat)
}

// Reset clears the run state and redraws the reference subset and the
// pre-seeded test window. The threshold schedule and the kernel centers are
// kept.
func (d *LSDDOnline) Reset() error {
	return d.initialise(d)
}

// configureKernelCenters splits the standardised reference into the kernel
// centers and the effective reference and caches the kernel between them.
func (d *LSDDOnline) configureKernelCenters() error {
	perm := d.rng.Perm(d.n)
	d.kernelCenters = selectRows(d.xRef, perm[:d.nCenters])
	d.xRefEff = selectRows(d.xRef, perm[d.nCenters:])

	var err error
	d.kXC, err = d.kernel.Evaluate(d.xRefEff, d.kernelCenters, false)
	return err
}

// configureThresholds simulates no-drift streams over an extended window of
// 2*window_size-1 steps: the pre-seeded window needs window_size-1 slides
// before it is disjoint from its seed, and another window_size slides to
// cover the fill-up schedule. The regularised inverse selected during the
// first step is reused for live scoring.
func (d *LSDDOnline) configureThresholds() error {
	w := d.windowSize
	etwSize := lsddExtendedFactor*w - 1
	nkc := d.n - d.nCenters
	rwSize := nkc - etwSize
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
		perm := d.rng.Perm(nkc)
		pInds[b] = perm[:rwSize]
		qInds[b] = perm[rwSize:]
	}

	// Step 0 also selects the regularisation constant and the inverse.
	step0 := make([][]int, nBoot)
	for b := 0; b < nBoot; b++ {
		step0[b] = qInds[b][:w]
	}
	lsdds, hLamInv, err := d.permedLSDDs(pInds, step0, nil)
	if err != nil {
		return err
	}
	d.hLamInv = hLamInv

	if d.ertMissing() {
		d.infiniteThresholds()
		return nil
	}

	surviving := make([]int, nBoot)
	for b := range surviving {
		surviving[b] = b
	}

	thresholds := make([]float64, w)
	stats := lsdds
	for step := 0; step < w; step++ {
		if len(surviving) == 0 {
			return errors.NewCalibrationUnderflowError(d.name, step, w, nBoot)
		}
		if step > 0 {
			pSub := make([][]int, len(surviving))
			qSub := make([][]int, len(surviving))
			for i, b := range surviving {
				pSub[i] = pInds[b]
				qSub[i] = qInds[b][step : step+w]
			}
			stats, _, err = d.permedLSDDs(pSub, qSub, d.hLamInv)
			if err != nil {
				return err
			}
		}

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

// permedLSDDs computes the LSDD estimate for every (reference, window) index
// pair over the effective reference. When hLamInv is nil the regularisation
// constant is selected first: candidates 1/4^i are tried in decreasing order
// and the first one whose relative difference between the two estimator
// forms stays below lambdaRDMax wins.
func (d *LSDDOnline) permedLSDDs(xInds, yInds [][]int, hLamInv *mat.Dense) ([]float64, *mat.Dense, error) {
	nBoot := len(xInds)
	_, nc := d.kXC.Dims()

	hPerms := mat.NewDense(nBoot, nc, nil)
	parallel.ParallelizeWithThreshold(nBoot, calibrationParallelThreshold, func(start, end int) {
		for b := start; b < end; b++ {
			xm := colMeanRows(d.kXC, xInds[b])
			ym := colMeanRows(d.kXC, yInds[b])
			for j := 0; j < nc; j++ {
				xm[j] -= ym[j]
			}
			hPerms.SetRow(b, xm)
		}
	})

	if hLamInv == nil {
		var err error
		hLamInv, err = d.selectLambda(hPerms)
		if err != nil {
			return nil, nil, err
		}
	}

	lsdds := make([]float64, nBoot)
	parallel.ParallelizeWithThreshold(nBoot, calibrationParallelThreshold, func(start, end int) {
		for b := start; b < end; b++ {
			lsdds[b] = quadForm(hPerms.RawRowView(b), hLamInv)
		}
	})
	return lsdds, hLamInv, nil
}

// selectLambda picks the regularisation constant for the LSDD estimator and
// returns the combined inverse 2*(H+lam*I)^-1 - (H+lam*I)^-1 H (H+lam*I)^-1.
// When no candidate keeps the relative difference between the regularised
// and plug-in estimates below lambdaRDMax, the smallest candidate is used
// and a convergence warning is emitted.
func (d *LSDDOnline) selectLambda(hPerms *mat.Dense) (*mat.Dense, error) {
	nBoot, nc := hPerms.Dims()

	var hPlusLamInv *mat.Dense
	chosen := false
	lam := 0.0
	for i := 0; i < nLambdaCandidates; i++ {
		lam = 1 / math.Pow(4, float64(i))

		hPlusLam := mat.DenseCopyOf(d.hMat)
		for j := 0; j < nc; j++ {
			hPlusLam.Set(j, j, hPlusLam.At(j, j)+lam)
		}
		hPlusLamInv = mat.NewDense(nc, nc, nil)
		if err := hPlusLamInv.Inverse(hPlusLam); err != nil {
			return nil, errors.Wrapf(errors.ErrSingularMatrix,
				"godrift: LSDDOnline: H + %g*I is not invertible", lam)
		}

		// rd measures how far the regularised quadratic form deviates from
		// the plug-in one, averaged over the bootstrap samples.
		rdSum := 0.0
		omega := make([]float64, nc)
		hOmegaVec := make([]float64, nc)
		for b := 0; b < nBoot; b++ {
			h := hPerms.RawRowView(b)
			matVec(hPlusLamInv, h, omega)
			matVec(d.hMat, omega, hOmegaVec)
			hDotOmega := floats.Dot(h, omega)
			omegaHOmega := floats.Dot(omega, hOmegaVec)
			rdSum += 1 - omegaHOmega/hDotOmega
		}
		rd := rdSum / float64(nBoot)

		if rd < d.lambdaRDMax {
			chosen = true
			break
		}
	}

	if !chosen {
		errors.Warn(errors.NewConvergenceWarning("lsdd_lambda_search",
			"no regularisation constant satisfied the relative difference bound, using the smallest candidate"))
	}
	d.logger.Debug("selected regularisation constant",
		log.DetectorKey, d.name,
		log.OperationKey, "select_lambda",
		"lambda", lam,
	)

	// hLamInv = 2*inv - inv*H*inv
	var tmp, second mat.Dense
	tmp.Mul(hPlusLamInv, d.hMat)
	second.Mul(&tmp, hPlusLamInv)

	hLamInv := mat.NewDense(nc, nc, nil)
	for i := 0; i < nc; i++ {
		for j := 0; j < nc; j++ {
			hLamInv.Set(i, j, 2*hPlusLamInv.At(i, j)-second.At(i, j))
		}
	}
	return hLamInv, nil
}

// configureRefSubset redraws the reference subset and the pre-seeded test
// window. Draws whose initial statistic already exceeds the first threshold
// are rejected so that monitoring never starts in a firing state; the
// attempt count is capped to keep a badly calibrated detector from looping
// forever.
func (d *LSDDOnline) configureRefSubset() error {
	w := d.windowSize
	nkc := d.n - d.nCenters
	rwSize := nkc - (lsddExtendedFactor*w - 1)

	for attempt := 0; attempt < maxSubsetAttempts; attempt++ {
		perm := d.rng.Perm(nkc)
		refInds := perm[:rwSize]
		seedInds := perm[nkc-w:]

		c2s := colMeanRows(d.kXC, refInds)

		kRows := make([][]float64, w)
		for slot, i := range seedInds {
			kRows[slot] = append([]float64(nil), d.kXC.RawRowView(i)...)
		}

		h := make([]float64, len(c2s))
		wm := colMeans(rowsToDense(kRows))
		for j := range h {
			h[j] = c2s[j] - wm[j]
		}
		if quadForm(h, d.hLamInv) < d.GetThreshold(0) {
			d.c2s = c2s
			d.kXTCRows = kRows
			return nil
		}
	}
	return errors.NewModelError(d.name,
		"could not draw an initial test window below the first threshold", nil)
}

// score standardises one instance, slides the pre-seeded window and
// recomputes the statistic. The window is always full, so a statistic is
// returned on every call.
func (d *LSDDOnline) score(xt *mat.Dense) (float64, bool, error) {
	transformed, err := d.normalizer.Transform(xt)
	if err != nil {
		return 0, false, err
	}
	normalized := mat.DenseCopyOf(transformed)
	kernelRow, err := d.kernel.Evaluate(normalized, d.kernelCenters, false)
	if err != nil {
		return 0, false, err
	}
	_, nc := kernelRow.Dims()
	row := make([]float64, nc)
	for j := 0; j < nc; j++ {
		row[j] = kernelRow.At(0, j)
	}

	d.kXTCRows = append(d.kXTCRows[1:], row)

	h := make([]float64, nc)
	wm := colMeans(rowsToDense(d.kXTCRows))
	for j := range h {
		h[j] = d.c2s[j] - wm[j]
	}

	lsdd := quadForm(h, d.hLamInv)
	if err := errors.CheckScalar("lsdd_update", lsdd, d.t); err != nil {
		return 0, false, err
	}
	return lsdd, true, nil
}

// colMeanRows returns the per-column mean of k restricted to the given rows.
func colMeanRows(k *mat.Dense, inds []int) []float64 {
	_, c := k.Dims()
	means := make([]float64, c)
	for _, i := range inds {
		floats.Add(means, k.RawRowView(i))
	}
	floats.Scale(1/float64(len(inds)), means)
	return means
}

// quadForm computes h' M h.
func quadForm(h []float64, m *mat.Dense) float64 {
	total := 0.0
	for i := range h {
		total += h[i] * floats.Dot(m.RawRowView(i), h)
	}
	return total
}

// matVec computes dst = m * v.
func matVec(m *mat.Dense, v, dst []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		dst[i] = floats.Dot(m.RawRowView(i), v)
	}
}
