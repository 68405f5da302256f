package drift

import (
	"math"
	"sync"

	"github.com/YuminosukeSato/godrift/pkg/errors"
)

// DDM implements the Drift Detection Method of Gama et al. (2004),
// "Learning with Drift Detection". Unlike the kernel detectors it monitors a
// stream of prediction outcomes rather than raw instances: the error rate of
// a stationary model follows a binomial distribution, and a significant rise
// of rate plus standard deviation above the running minimum signals drift.
type DDM struct {
	minNumInstances int
	warningLevel    float64
	outControlLevel float64

	numInstances int
	numErrors    int
	errorRate    float64
	stdDev       float64

	// running minima since the last (re)start
	minErrorRate float64
	minStdDev    float64

	warningDetected bool
	driftDetected   bool

	mu sync.RWMutex
}

// ErrorRateResult is the outcome of feeding one prediction outcome to an
// error-rate drift detector.
type ErrorRateResult struct {
	// WarningDetected reports that the error rate crossed the warning level.
	WarningDetected bool

	// DriftDetected reports that the error rate crossed the drift level.
	DriftDetected bool

	// ErrorRate is the error rate at the time of the update.
	ErrorRate float64

	// ConfidenceLevel is the ratio of the current level to the running
	// minimum. Values near 1 indicate a stationary stream.
	ConfidenceLevel float64
}

// DDMOption configures a DDM detector.
type DDMOption func(*DDM)

// WithDDMMinNumInstances sets the number of outcomes required before any
// decision is made. Defaults to 30.
func WithDDMMinNumInstances(n int) DDMOption {
	return func(d *DDM) {
		d.minNumInstances = n
	}
}

// WithDDMWarningLevel sets the warning level in standard deviations above
// the minimum error rate. Defaults to 2.
func WithDDMWarningLevel(level float64) DDMOption {
	return func(d *DDM) {
		d.warningLevel = level
	}
}

// WithDDMOutControlLevel sets the drift level in standard deviations above
// the minimum error rate. Defaults to 3.
func WithDDMOutControlLevel(level float64) DDMOption {
	return func(d *DDM) {
		d.outControlLevel = level
	}
}

// NewDDM creates a DDM detector with the given options.
func NewDDM(opts ...DDMOption) *DDM {
	d := &DDM{
		minNumInstances: 30,
		warningLevel:    2.0,
		outControlLevel: 3.0,
		minErrorRate:    math.Inf(1),
		minStdDev:       math.Inf(1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Update consumes one prediction outcome. On drift the internal statistics
// restart so that the detector can track the post-drift error rate, and a
// model drift warning is emitted on the package warning channel.
func (d *DDM) Update(correct bool) *ErrorRateResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.numInstances++
	if !correct {
		d.numErrors++
	}

	if d.numInstances < d.minNumInstances {
		return &ErrorRateResult{}
	}

	d.errorRate = float64(d.numErrors) / float64(d.numInstances)
	d.stdDev = math.Sqrt(d.errorRate * (1.0 - d.errorRate) / float64(d.numInstances))

	result := &ErrorRateResult{ErrorRate: d.errorRate}

	level := d.errorRate + d.stdDev
	if level < d.minErrorRate+d.minStdDev {
		d.minErrorRate = d.errorRate
		d.minStdDev = d.stdDev
	}

	if d.minStdDev > 0 {
		result.ConfidenceLevel = level / (d.minErrorRate + d.minStdDev)
	} else {
		result.ConfidenceLevel = 1.0
	}

	d.warningDetected = level > d.minErrorRate+d.warningLevel*d.minStdDev
	result.WarningDetected = d.warningDetected

	driftThreshold := d.minErrorRate + d.outControlLevel*d.minStdDev
	if level > driftThreshold {
		d.driftDetected = true
		result.DriftDetected = true
		errors.Warn(errors.NewModelDriftWarning("DDM", level, driftThreshold, d.numInstances))
		d.restart()
	} else {
		d.driftDetected = false
	}

	return result
}

// UpdateWithError treats an absolute error below the threshold as a correct
// prediction, allowing regression models to feed the detector.
func (d *DDM) UpdateWithError(err, threshold float64) *ErrorRateResult {
	return d.Update(math.Abs(err) < threshold)
}

// Reset returns the detector to its initial state.
func (d *DDM) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restart()
}

// restart clears the statistics. Callers must hold the lock.
func (d *DDM) restart() {
	d.numInstances = 0
	d.numErrors = 0
	d.errorRate = 0
	d.stdDev = 0
	d.minErrorRate = math.Inf(1)
	d.minStdDev = math.Inf(1)
	d.warningDetected = false
	d.driftDetected = false
}

// Statistics returns a snapshot of the detector's internal state.
func (d *DDM) Statistics() DDMStatistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DDMStatistics{
		NumInstances:    d.numInstances,
		NumErrors:       d.numErrors,
		ErrorRate:       d.errorRate,
		StdDev:          d.stdDev,
		MinErrorRate:    d.minErrorRate,
		MinStdDev:       d.minStdDev,
		WarningDetected: d.warningDetected,
		DriftDetected:   d.driftDetected,
	}
}

// DDMStatistics is a snapshot of a DDM detector's state.
type DDMStatistics struct {
	NumInstances    int
	NumErrors       int
	ErrorRate       float64
	StdDev          float64
	MinErrorRate    float64
	MinStdDev       float64
	WarningDetected bool
	DriftDetected   bool
}
