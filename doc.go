// Package godrift provides online drift detection for Go services that run
// machine learning models in production.
//
// The library monitors a stream of feature vectors against a fixed reference
// sample and raises an alarm as soon as the stream's distribution moves away
// from the reference. Detection thresholds are calibrated once at
// construction by bootstrap simulation, targeting a configurable expected
// run-time (ERT) to a false alarm on stationary data.
//
// # Features
//
// - Online operation: each instance is processed in O(window) time
// - Kernel two-sample statistics: MMD and LSDD with Gaussian RBF kernels
// - Calibrated thresholds: bootstrap simulation with progressive pruning
// - Error-rate detectors: DDM and ADWIN for supervised monitoring
// - Robust error handling and structured logging
//
// # Installation
//
// Install godrift using go get:
//
//	go get github.com/YuminosukeSato/godrift
//
// # Quick Start
//
// Monitoring a stream with the online MMD detector:
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/godrift/drift"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    // Reference sample drawn from the training distribution.
//	    xRef := mat.NewDense(500, 5, refData)
//
//	    det, err := drift.NewMMDOnline(xRef, 100, 20)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    for _, x := range stream {
//	        pred, err := det.Predict(x, true)
//	        if err != nil {
//	            log.Fatal(err)
//	        }
//	        if pred.IsDrift {
//	            fmt.Println("drift detected at", pred.Time)
//	            det.Reset()
//	        }
//	    }
//	}
//
// # Packages
//
// The library is organized into several packages:
//
//   - drift: Online detectors (MMDOnline, LSDDOnline, DDM, ADWIN)
//   - kernel: Gaussian RBF kernel and pairwise distance computations
//   - preprocessing: Data preprocessing utilities (StandardScaler)
//   - core/model: Core interfaces and base types
//   - core/parallel: Parallel processing utilities
//   - pkg/errors: Structured errors and the library warning channel
//   - pkg/log: slog setup with stack-trace aware formatting
//
// # Choosing the window size
//
// The window size trades detection speed against sensitivity: small windows
// react quickly to severe drift, large windows accumulate evidence for
// slight drift. The expected run-time should be at least an order of
// magnitude smaller than the number of bootstrap simulations used for
// calibration.
//
// # License
//
// godrift is released under the MIT License.
package godrift
