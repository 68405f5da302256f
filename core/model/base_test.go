package model

import "testing"

func TestBaseEstimatorLifecycle(t *testing.T) {
	var e BaseEstimator

	if e.IsFitted() {
		t.Error("fresh estimator reports fitted")
	}

	e.SetFitted()
	if !e.IsFitted() {
		t.Error("SetFitted did not take effect")
	}

	e.Reset()
	if e.IsFitted() {
		t.Error("Reset did not clear the fitted state")
	}
}
