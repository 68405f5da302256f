package drift

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/godrift/pkg/errors"
)

// randnMatrix draws r*c standard normal values shifted by mean.
func randnMatrix(rng *rand.Rand, r, c int, mean float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() + mean
	}
	return mat.NewDense(r, c, data)
}

func TestMMDOnlineStationaryStream(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	xRef := randnMatrix(rng, 200, 3, 0)

	det, err := NewMMDOnline(xRef, 30, 10,
		WithNBootstraps(250),
		WithRandomSeed(42),
	)
	require.NoError(t, err)

	w := det.WindowSize()
	for i := 0; i < 40; i++ {
		row := randnMatrix(rng, 1, 3, 0)
		pred, err := det.Predict(row.RawRowView(0), true)
		require.NoError(t, err)

		assert.Equal(t, i+1, pred.Time)
		if pred.Time < w {
			assert.False(t, pred.HasStat, "statistic defined before the window is full at t=%d", pred.Time)
			assert.False(t, pred.IsDrift, "drift flagged while the statistic is undefined at t=%d", pred.Time)
		} else {
			assert.True(t, pred.HasStat, "statistic undefined with a full window at t=%d", pred.Time)
			assert.False(t, math.IsNaN(pred.TestStat))
			assert.False(t, math.IsInf(pred.TestStat, 0))
		}
	}

	stats := det.TestStats()
	require.Len(t, stats, 40)
	for i := 0; i < w-1; i++ {
		assert.True(t, math.IsNaN(stats[i]), "recorded stat at t=%d should be NaN", i+1)
	}
}

func TestMMDOnlineDetectsMeanShift(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	xRef := randnMatrix(rng, 200, 3, 0)

	det, err := NewMMDOnline(xRef, 30, 10,
		WithNBootstraps(250),
		WithRandomSeed(42),
	)
	require.NoError(t, err)

	detected := 0
	for i := 0; i < 30; i++ {
		row := randnMatrix(rng, 1, 3, 1.0)
		pred, err := det.Predict(row.RawRowView(0), true)
		require.NoError(t, err)
		if pred.IsDrift {
			detected = pred.Time
			break
		}
	}

	require.NotZero(t, detected, "mean shift of one standard deviation went undetected")
	assert.GreaterOrEqual(t, detected, det.WindowSize(),
		"drift flagged before the window could fill")
}

// TestMMDOnlineERTCalibration checks that the calibrated thresholds actually
// target the configured expected run-time: on stationary streams the average
// false-alarm delay lands in a broad band around the ERT, and under a mean
// shift of one standard deviation per feature the detector fires much faster.
func TestMMDOnlineERTCalibration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ERT calibration run in short mode")
	}

	const (
		ert        = 25.0
		windowSize = 5
		nTrials    = 40
		maxSteps   = 300
	)

	rng := rand.New(rand.NewSource(101))
	xRef := randnMatrix(rng, 300, 10, 0)

	det, err := NewMMDOnline(xRef, ert, windowSize,
		WithNBootstraps(200),
		WithRandomSeed(202),
	)
	require.NoError(t, err)

	runTrials := func(shift float64) (delays, allStats []float64) {
		for trial := 0; trial < nTrials; trial++ {
			require.NoError(t, det.Reset())
			delay := float64(maxSteps)
			for step := 0; step < maxSteps; step++ {
				pred, err := det.Predict(randnMatrix(rng, 1, 10, shift).RawRowView(0), true)
				require.NoError(t, err)
				if pred.HasStat {
					allStats = append(allStats, pred.TestStat)
				}
				if pred.IsDrift {
					require.GreaterOrEqual(t, pred.Time, windowSize,
						"drift fired before the window filled")
					delay = float64(pred.Time - windowSize)
					break
				}
			}
			delays = append(delays, delay)
		}
		return delays, allStats
	}

	nullDelays, nullStats := runTrials(0)
	avgNullDelay := stat.Mean(nullDelays, nil)
	assert.Greater(t, avgNullDelay, ert/3, "false alarms fire far too early")
	assert.Less(t, avgNullDelay, 3*ert, "false alarms fire far too late")

	shiftDelays, shiftStats := runTrials(1.0)
	avgShiftDelay := stat.Mean(shiftDelays, nil)
	assert.Less(t, avgShiftDelay, ert/2, "shifted stream detected too slowly")
	assert.Greater(t, stat.Mean(shiftStats, nil), stat.Mean(nullStats, nil),
		"mean statistic under shift should exceed the stationary mean")
}

func TestMMDOnlineDeterministicWithSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	xRef := randnMatrix(rng, 120, 2, 0)
	stream := randnMatrix(rng, 25, 2, 0.5)

	build := func() *MMDOnline {
		det, err := NewMMDOnline(xRef, 20, 5,
			WithNBootstraps(150),
			WithRandomSeed(99),
		)
		require.NoError(t, err)
		return det
	}

	a, b := build(), build()
	assert.Equal(t, a.Thresholds(), b.Thresholds())

	for i := 0; i < 25; i++ {
		row := stream.RawRowView(i)
		predA, err := a.Predict(row, true)
		require.NoError(t, err)
		predB, err := b.Predict(row, true)
		require.NoError(t, err)
		assert.Equal(t, predA, predB, "divergence at t=%d", i+1)
	}
}

func TestMMDOnlineThresholdPlateau(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	xRef := randnMatrix(rng, 100, 2, 0)

	det, err := NewMMDOnline(xRef, 20, 5,
		WithNBootstraps(100),
		WithRandomSeed(1),
	)
	require.NoError(t, err)

	thresholds := det.Thresholds()
	require.Len(t, thresholds, 5)
	last := thresholds[4]
	for _, tt := range []int{5, 6, 50, 10000} {
		assert.Equal(t, last, det.GetThreshold(tt), "threshold at t=%d should plateau", tt)
	}
	for i, th := range thresholds {
		assert.Equal(t, th, det.GetThreshold(i))
	}
}

func TestMMDOnlineReset(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	xRef := randnMatrix(rng, 100, 2, 0)

	det, err := NewMMDOnline(xRef, 20, 5,
		WithNBootstraps(100),
		WithRandomSeed(1),
	)
	require.NoError(t, err)

	thresholds := det.Thresholds()
	for i := 0; i < 8; i++ {
		_, err := det.Predict(randnMatrix(rng, 1, 2, 0).RawRowView(0), false)
		require.NoError(t, err)
	}
	require.Equal(t, 8, det.T())

	require.NoError(t, det.Reset())
	assert.Equal(t, 0, det.T())
	assert.Empty(t, det.TestStats())
	assert.Empty(t, det.DriftPreds())
	assert.Equal(t, thresholds, det.Thresholds(), "reset must not recalibrate thresholds")

	pred, err := det.Predict(randnMatrix(rng, 1, 2, 0).RawRowView(0), true)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Time)
	assert.False(t, pred.HasStat)
}

func TestMMDOnlineWithFixedSigma(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	xRef := randnMatrix(rng, 80, 2, 0)

	det, err := NewMMDOnline(xRef, 10, 3,
		WithNBootstraps(60),
		WithSigma(1.5),
		WithRandomSeed(2),
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, det.kernel.Sigma())
}

func TestMMDOnlineWithPreprocess(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	xRef := randnMatrix(rng, 80, 4, 0)

	// Project onto the first two features.
	project := func(x mat.Matrix) (mat.Matrix, error) {
		r, _ := x.Dims()
		out := mat.NewDense(r, 2, nil)
		for i := 0; i < r; i++ {
			out.Set(i, 0, x.At(i, 0))
			out.Set(i, 1, x.At(i, 1))
		}
		return out, nil
	}

	det, err := NewMMDOnline(xRef, 10, 3,
		WithNBootstraps(60),
		WithRandomSeed(2),
		WithPreprocess(project, true),
	)
	require.NoError(t, err)

	pred, err := det.Predict([]float64{0.1, -0.2, 5, 5}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Time)
}

func TestMMDOnlineValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	xRef := randnMatrix(rng, 50, 2, 0)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"zero window", func() error {
			_, err := NewMMDOnline(xRef, 10, 0)
			return err
		}},
		{"reference too small", func() error {
			_, err := NewMMDOnline(xRef, 10, 25)
			return err
		}},
		{"ert at most one", func() error {
			_, err := NewMMDOnline(xRef, 1, 5)
			return err
		}},
		{"negative ert", func() error {
			_, err := NewMMDOnline(xRef, -3, 5)
			return err
		}},
		{"no bootstraps", func() error {
			_, err := NewMMDOnline(xRef, 10, 5, WithNBootstraps(0))
			return err
		}},
		{"negative sigma", func() error {
			_, err := NewMMDOnline(xRef, 10, 5, WithSigma(-1))
			return err
		}},
		{"kernel centers not supported", func() error {
			_, err := NewMMDOnline(xRef, 10, 5, WithKernelCenters(8))
			return err
		}},
		{"lambda bound not supported", func() error {
			_, err := NewMMDOnline(xRef, 10, 5, WithLambdaRDMax(0.1))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			var vErr *errors.ValidationError
			assert.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
		})
	}

	_, err := NewMMDOnline(nil, 10, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestMMDOnlineMissingERT(t *testing.T) {
	var captured []error
	errors.SetWarningHandler(func(w error) {
		captured = append(captured, w)
	})
	defer errors.SetWarningHandler(nil)

	rng := rand.New(rand.NewSource(29))
	xRef := randnMatrix(rng, 80, 2, 0)

	det, err := NewMMDOnline(xRef, 0, 5,
		WithNBootstraps(60),
		WithRandomSeed(4),
	)
	require.NoError(t, err)

	require.Len(t, captured, 1)
	var missing *errors.MissingERTWarning
	assert.True(t, errors.As(captured[0], &missing))

	for _, th := range det.Thresholds() {
		assert.True(t, math.IsInf(th, 1), "threshold should be +Inf without an ERT")
	}

	// Even a gross shift never fires.
	for i := 0; i < 20; i++ {
		pred, err := det.Predict(randnMatrix(rng, 1, 2, 10).RawRowView(0), false)
		require.NoError(t, err)
		assert.False(t, pred.IsDrift)
	}
}

func TestMMDOnlineCalibrationUnderflow(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	xRef := randnMatrix(rng, 60, 2, 0)

	// Two bootstrap samples and an aggressive false positive rate prune the
	// pool to nothing before the schedule completes.
	_, err := NewMMDOnline(xRef, 1.25, 5,
		WithNBootstraps(2),
		WithRandomSeed(4),
	)
	require.Error(t, err)
	var underflow *errors.CalibrationUnderflowError
	assert.True(t, errors.As(err, &underflow), "expected CalibrationUnderflowError, got %v", err)
}

func TestMMDOnlinePredictBeforeFitIsRejected(t *testing.T) {
	det := &MMDOnline{}
	det.name = "MMDOnline"
	_, err := det.Predict([]float64{1}, false)
	require.Error(t, err)
	var notFitted *errors.NotFittedError
	assert.True(t, errors.As(err, &notFitted))
}
