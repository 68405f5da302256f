package log

// Attribute keys shared across the library so that log records from the
// kernel, calibration and scoring code can be filtered uniformly.
const (
	// DetectorKey names the detector emitting the record ("MMDOnline", ...).
	DetectorKey = "detector"

	// OperationKey names the operation ("configure_thresholds", "predict").
	OperationKey = "operation"

	// WindowSizeKey is the sliding test-window size.
	WindowSizeKey = "window_size"

	// NBootstrapsKey is the number of bootstrap samples used for calibration.
	NBootstrapsKey = "n_bootstraps"

	// ERTKey is the configured expected run-time.
	ERTKey = "ert"

	// StepKey is the current calibration step (window fill-up position).
	StepKey = "step"

	// TotalKey is the total number of steps for a long-running operation.
	TotalKey = "total"

	// SurvivorsKey is the number of bootstrap samples surviving pruning.
	SurvivorsKey = "survivors"

	// SamplesKey is the number of instances in a batch.
	SamplesKey = "samples"

	// FeaturesKey is the number of features per instance.
	FeaturesKey = "features"

	// TestStatKey is the current value of the test statistic.
	TestStatKey = "test_stat"

	// ThresholdKey is the decision threshold compared against the statistic.
	ThresholdKey = "threshold"
)
