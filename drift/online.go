// Package drift provides online drift detectors. The kernel-based detectors
// (MMDOnline, LSDDOnline) monitor a stream of instances against a fixed
// reference sample using thresholds pre-calibrated by bootstrap simulation to
// target an expected run-time to false alarm. DDM and ADWIN monitor a stream
// of model errors instead.
package drift

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/godrift/core/model"
	"github.com/YuminosukeSato/godrift/kernel"
	"github.com/YuminosukeSato/godrift/pkg/errors"
	"github.com/YuminosukeSato/godrift/pkg/log"
)

// PreprocessFunc transforms a batch of instances before scoring. It is
// applied once to the reference data when configured with preprocessRef, and
// to every test instance on Predict. Errors propagate to the caller as-is.
type PreprocessFunc func(mat.Matrix) (mat.Matrix, error)

// DriftPrediction is the outcome of feeding one instance to an online
// detector.
type DriftPrediction struct {
	// IsDrift reports whether the test statistic exceeded the threshold.
	IsDrift bool

	// Time is the number of instances seen since construction or Reset.
	Time int

	// ERT is the configured expected run-time to false alarm.
	ERT float64

	// TestStat is the current value of the test statistic. Only meaningful
	// when HasStat is true.
	TestStat float64

	// HasStat is false while the test window holds too few instances for
	// the statistic to be defined.
	HasStat bool

	// Threshold is the decision threshold the statistic was compared to.
	Threshold float64
}

// Option configures an online kernel drift detector.
type Option func(*onlineConfig)

type onlineConfig struct {
	nBootstraps    int
	sigma          []float64
	kernel         *kernel.GaussianRBF
	preprocessFn   PreprocessFunc
	preprocessRef  bool
	seed           int64
	seeded         bool
	nKernelCenters int
	lambdaRDMax    float64
	logger         *slog.Logger
}

func defaultOnlineConfig() onlineConfig {
	return onlineConfig{
		nBootstraps: 1000,
		lambdaRDMax: 0.2,
	}
}

// WithNBootstraps sets the number of bootstrap simulations used to calibrate
// the thresholds. Larger values target the desired ERT more accurately and
// should ideally be at least an order of magnitude larger than the ERT.
func WithNBootstraps(n int) Option {
	return func(c *onlineConfig) {
		c.nBootstraps = n
	}
}

// WithSigma fixes the Gaussian RBF kernel bandwidth. Passing several values
// averages the kernel evaluation over all of them. Without this option the
// bandwidth is inferred from the reference data via the median heuristic.
func WithSigma(sigma ...float64) Option {
	return func(c *onlineConfig) {
		c.sigma = sigma
	}
}

// WithKernel supplies a custom kernel instead of the default Gaussian RBF.
func WithKernel(k *kernel.GaussianRBF) Option {
	return func(c *onlineConfig) {
		c.kernel = k
	}
}

// WithPreprocess sets the preprocessing capability. When preprocessRef is
// true the reference data is transformed once at construction; test instances
// are always transformed before scoring.
func WithPreprocess(fn PreprocessFunc, preprocessRef bool) Option {
	return func(c *onlineConfig) {
		c.preprocessFn = fn
		c.preprocessRef = preprocessRef
	}
}

// WithRandomSeed seeds the detector's random source. Calibration and the
// reference subset reselection on Reset become reproducible.
func WithRandomSeed(seed int64) Option {
	return func(c *onlineConfig) {
		c.seed = seed
		c.seeded = true
	}
}

// WithKernelCenters sets the number of reference instances set aside as
// kernel centers by the LSDD detector. Defaults to 2*window_size.
func WithKernelCenters(n int) Option {
	return func(c *onlineConfig) {
		c.nKernelCenters = n
	}
}

// WithLambdaRDMax sets the maximum relative difference the LSDD
// regularisation constant is allowed to cause between two estimates of the
// statistic. Defaults to 0.2.
func WithLambdaRDMax(lambdaRDMax float64) Option {
	return func(c *onlineConfig) {
		c.lambdaRDMax = lambdaRDMax
	}
}

// WithLogger routes calibration progress and diagnostics to the given
// logger instead of slog's default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *onlineConfig) {
		c.logger = logger
	}
}

// onlineVariant is the statistic-specific half of an online detector. The
// shared driver (onlineBase) owns step counting, threshold lookup and result
// assembly; variants own subset selection and incremental scoring.
type onlineVariant interface {
	// configureRefSubset reselects the random reference subset used for the
	// baseline kernel sums and clears the sliding window state.
	configureRefSubset() error

	// score consumes one preprocessed instance and returns the updated test
	// statistic. ok is false while the statistic is undefined.
	score(x *mat.Dense) (stat float64, ok bool, err error)
}

// onlineBase carries the state shared by the kernel-based online detectors.
type onlineBase struct {
	model.BaseEstimator

	name        string
	ert         float64
	fpr         float64
	windowSize  int
	n           int
	nFeatures   int
	nBootstraps int

	xRef         *mat.Dense
	preprocessFn PreprocessFunc

	rng    *rand.Rand
	logger *slog.Logger

	thresholds []float64
	t          int
	testStats  []float64
	driftPreds []bool
}

func newOnlineBase(name string, xRef mat.Matrix, ert float64, windowSize int, cfg *onlineConfig) (*onlineBase, error) {
	if xRef == nil {
		return nil, errors.NewModelError(name, "empty data", errors.ErrEmptyData)
	}
	n, d := xRef.Dims()
	if n == 0 || d == 0 {
		return nil, errors.NewModelError(name, "empty data", errors.ErrEmptyData)
	}
	if windowSize < 1 {
		return nil, errors.NewValidationError("window_size", "must be a positive integer", windowSize)
	}
	if n <= 2*windowSize {
		return nil, errors.NewValidationError("window_size",
			"reference sample must contain more than 2*window_size instances", windowSize)
	}
	if cfg.nBootstraps < 1 {
		return nil, errors.NewValidationError("n_bootstraps", "must be a positive integer", cfg.nBootstraps)
	}
	if ert < 0 || (ert > 0 && ert <= 1) {
		return nil, errors.NewValidationError("ert", "must be greater than 1", ert)
	}
	for _, s := range cfg.sigma {
		if s <= 0 || math.IsNaN(s) {
			return nil, errors.NewValidationError("sigma", "bandwidth values must be positive", s)
		}
	}

	seed := cfg.seed
	if !cfg.seeded {
		seed = time.Now().UnixNano()
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &onlineBase{
		name:         name,
		ert:          ert,
		windowSize:   windowSize,
		n:            n,
		nFeatures:    d,
		nBootstraps:  cfg.nBootstraps,
		preprocessFn: cfg.preprocessFn,
		rng:          rand.New(rand.NewSource(seed)),
		logger:       logger,
	}

	// An unset ERT (zero or NaN) is a non-fatal configuration issue: the
	// detector constructs with +Inf thresholds and never fires.
	if ert == 0 || math.IsNaN(ert) {
		errors.Warn(errors.NewMissingERTWarning(name))
		b.fpr = 0
	} else {
		b.fpr = 1 / ert
	}

	ref := mat.DenseCopyOf(xRef)
	if cfg.preprocessRef && cfg.preprocessFn != nil {
		transformed, err := cfg.preprocessFn(ref)
		if err != nil {
			return nil, err
		}
		ref = mat.DenseCopyOf(transformed)
		b.n, b.nFeatures = ref.Dims()
		if b.n <= 2*windowSize {
			return nil, errors.NewValidationError("window_size",
				"preprocessed reference sample must contain more than 2*window_size instances", windowSize)
		}
	}
	b.xRef = ref

	return b, nil
}

// ertMissing reports whether the detector was constructed without a usable
// expected run-time.
func (b *onlineBase) ertMissing() bool {
	return b.fpr == 0
}

// infiniteThresholds fills the threshold schedule with +Inf so that no drift
// decision can fire.
func (b *onlineBase) infiniteThresholds() {
	b.thresholds = make([]float64, b.windowSize)
	for i := range b.thresholds {
		b.thresholds[i] = math.Inf(1)
	}
}

// GetThreshold returns the decision threshold for step t. Beyond the window
// fill-up phase the last calibrated threshold is reused indefinitely.
func (b *onlineBase) GetThreshold(t int) float64 {
	if t < b.windowSize {
		return b.thresholds[t]
	}
	return b.thresholds[b.windowSize-1]
}

// Thresholds returns the calibrated threshold schedule, one entry per window
// fill-up step.
func (b *onlineBase) Thresholds() []float64 {
	out := make([]float64, len(b.thresholds))
	copy(out, b.thresholds)
	return out
}

// T returns the number of instances seen since construction or Reset.
func (b *onlineBase) T() int {
	return b.t
}

// ERT returns the configured expected run-time.
func (b *onlineBase) ERT() float64 {
	return b.ert
}

// WindowSize returns the sliding test-window size.
func (b *onlineBase) WindowSize() int {
	return b.windowSize
}

// TestStats returns the statistics emitted so far, NaN while undefined.
func (b *onlineBase) TestStats() []float64 {
	out := make([]float64, len(b.testStats))
	copy(out, b.testStats)
	return out
}

// DriftPreds returns the per-step drift decisions emitted so far.
func (b *onlineBase) DriftPreds() []bool {
	out := make([]bool, len(b.driftPreds))
	copy(out, b.driftPreds)
	return out
}

// initialise clears the run state and delegates the reference subset
// reselection to the variant. Thresholds are left untouched.
func (b *onlineBase) initialise(v onlineVariant) error {
	b.t = 0
	b.testStats = nil
	b.driftPreds = nil
	return v.configureRefSubset()
}

// predict advances the stream by exactly one instance and assembles the
// drift decision. Not reentrant: calls must be strictly sequential per
// detector.
func (b *onlineBase) predict(v onlineVariant, x []float64, returnTestStat bool) (*DriftPrediction, error) {
	if !b.IsFitted() {
		return nil, errors.NewNotFittedError(b.name, "Predict")
	}

	b.t++

	xt := mat.NewDense(1, len(x), append([]float64(nil), x...))
	if b.preprocessFn != nil {
		transformed, err := b.preprocessFn(xt)
		if err != nil {
			return nil, err
		}
		xt = mat.DenseCopyOf(transformed)
	}

	stat, ok, err := v.score(xt)
	if err != nil {
		return nil, err
	}
	threshold := b.GetThreshold(b.t)
	isDrift := ok && stat > threshold

	if ok {
		b.testStats = append(b.testStats, stat)
	} else {
		b.testStats = append(b.testStats, math.NaN())
	}
	b.driftPreds = append(b.driftPreds, isDrift)

	pred := &DriftPrediction{
		IsDrift: isDrift,
		Time:    b.t,
		ERT:     b.ert,
	}
	if returnTestStat {
		pred.TestStat = stat
		pred.HasStat = ok
		pred.Threshold = threshold
	}
	return pred, nil
}

// logCalibrationStep emits the calibration progress indicator.
func (b *onlineBase) logCalibrationStep(step, survivors int) {
	b.logger.Debug("computing thresholds",
		log.DetectorKey, b.name,
		log.OperationKey, "configure_thresholds",
		log.StepKey, step+1,
		log.TotalKey, b.windowSize,
		log.SurvivorsKey, survivors,
	)
}
