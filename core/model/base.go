// Package model provides the base types shared by all estimators in the
// library.
package model

// EstimatorState represents the fitted state of an estimator.
type EstimatorState int

const (
	// NotFitted is the state before Fit (or detector calibration) has run.
	NotFitted EstimatorState = iota
	// Fitted is the state after a successful Fit or calibration.
	Fitted
)

// BaseEstimator is embedded by every estimator and detector. It tracks
// whether the estimator has been fitted; methods that need fitted state check
// IsFitted and return a NotFittedError otherwise.
type BaseEstimator struct {
	state EstimatorState
}

// IsFitted reports whether the estimator has been fitted.
func (e *BaseEstimator) IsFitted() bool {
	return e.state == Fitted
}

// SetFitted marks the estimator as fitted.
func (e *BaseEstimator) SetFitted() {
	e.state = Fitted
}

// Reset returns the estimator to its unfitted state.
func (e *BaseEstimator) Reset() {
	e.state = NotFitted
}
