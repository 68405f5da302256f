// Package errors provides the error handling and warning system used across
// the library. It is inspired by scikit-learn's warning/exception hierarchy
// and carries structured error information suitable for zerolog output.
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// Default handler logs to standard error.
		log.Printf("godrift-warning: %v\n", w)
	}
	// zerolog sink, injected lazily to avoid an import cycle with pkg/log.
	zerologWarnFunc func(warning error)
)

// SetWarningHandler sets the library-wide warning handler. Non-fatal
// configuration issues (missing ERT, non-converged regularisation searches)
// are routed through it instead of halting construction.
//
// Example:
//
//	errors.SetWarningHandler(func(w error) {
//	    // ignore warnings
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc installs a zerolog-backed warning sink.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn emits a warning. When a zerolog sink is installed it takes priority,
// otherwise the plain handler is used.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// MissingERTWarning is emitted when an online detector is constructed without
// a usable expected run-time. The detector still works but its thresholds are
// set to +Inf, so threshold-based drift decisions never fire.
type MissingERTWarning struct {
	Detector string
}

func (w *MissingERTWarning) Error() string {
	return fmt.Sprintf("%s: no expected run-time set for the drift threshold. Need to set it to detect data drift.", w.Detector)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *MissingERTWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("detector", w.Detector).
		Str("type", "MissingERTWarning")
}

// NewMissingERTWarning creates a new MissingERTWarning.
func NewMissingERTWarning(detector string) *MissingERTWarning {
	return &MissingERTWarning{Detector: detector}
}

// ConvergenceWarning is emitted when an internal search fails to satisfy its
// stopping criterion, e.g. the LSDD regularisation constant search running
// out of candidate values.
type ConvergenceWarning struct {
	Algorithm string
	Message   string
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("%s failed to converge: %s", w.Algorithm, w.Message)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning creates a new ConvergenceWarning.
func NewConvergenceWarning(algorithm, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Message: message}
}

// ModelDriftWarning reports that a detector has flagged drift. Callers that
// route detections through the warning channel get the score, threshold and
// detector name in structured form.
type ModelDriftWarning struct {
	Detector   string
	DriftScore float64
	Threshold  float64
	Time       int
}

func (w *ModelDriftWarning) Error() string {
	return fmt.Sprintf("drift detected by %s at t=%d: stat=%.4g (threshold=%.4g)",
		w.Detector, w.Time, w.DriftScore, w.Threshold)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *ModelDriftWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("detector", w.Detector).
		Float64("drift_score", w.DriftScore).
		Float64("threshold", w.Threshold).
		Int("time", w.Time).
		Str("type", "ModelDriftWarning")
}

// NewModelDriftWarning creates a new ModelDriftWarning.
func NewModelDriftWarning(detector string, score, threshold float64, t int) *ModelDriftWarning {
	return &ModelDriftWarning{Detector: detector, DriftScore: score, Threshold: threshold, Time: t}
}

// ===========================================================================
//
//	Structured error types
//
// ===========================================================================

// NotFittedError is returned when Predict or Transform is called on an
// estimator that has not been fitted.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("godrift: %s: this estimator is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError creates a NotFittedError with a stack trace attached.
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError is returned when input dimensions differ from what the
// estimator expects.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("godrift: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace attached.
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError is returned when a construction parameter fails validation.
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("godrift: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError creates a ValidationError with a stack trace attached.
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError is returned when an argument value is out of range or otherwise
// unusable, e.g. requesting bandwidth inference on a trainable kernel.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("godrift: %s: %s", e.Op, e.Message)
}

// NewValueError creates a ValueError with a stack trace attached.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ModelError is a general estimator error wrapping an underlying cause.
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("godrift: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("godrift: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError creates a ModelError with a stack trace attached.
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// CalibrationUnderflowError is returned when the bootstrap threshold
// calibration prunes away every surviving sample before all window steps have
// a threshold. The quantile at the failing step would be taken over an empty
// set, so calibration fails instead of guessing a fallback value. Increasing
// n_bootstraps relative to the target ERT resolves it.
type CalibrationUnderflowError struct {
	Detector    string
	Step        int
	WindowSize  int
	NBootstraps int
}

func (e *CalibrationUnderflowError) Error() string {
	return fmt.Sprintf("godrift: %s: threshold calibration exhausted all %d bootstrap samples at step %d of %d. Increase n_bootstraps relative to the target ERT",
		e.Detector, e.NBootstraps, e.Step, e.WindowSize)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *CalibrationUnderflowError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("detector", e.Detector).
		Int("step", e.Step).
		Int("window_size", e.WindowSize).
		Int("n_bootstraps", e.NBootstraps).
		Str("type", "CalibrationUnderflowError")
}

// NewCalibrationUnderflowError creates a CalibrationUnderflowError with a
// stack trace attached.
func NewCalibrationUnderflowError(detector string, step, windowSize, nBootstraps int) error {
	err := &CalibrationUnderflowError{
		Detector:    detector,
		Step:        step,
		WindowSize:  windowSize,
		NBootstraps: nBootstraps,
	}
	return errors.WithStack(err)
}

// NumericalInstabilityError reports NaN/Inf values produced by a numerical
// operation, e.g. a kernel evaluation or a streaming statistic update.
type NumericalInstabilityError struct {
	Operation string
	Values    []float64
	Iteration int
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("godrift: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError creates a NumericalInstabilityError with a
// stack trace attached.
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack attaches a stack trace to an error.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	Common error variables
//
// ===========================================================================

var (
	// ErrEmptyData is returned when an empty batch is passed.
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix is returned when a matrix inversion fails.
	ErrSingularMatrix = New("singular matrix")
)
