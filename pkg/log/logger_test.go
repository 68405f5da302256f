package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	gderrors "github.com/YuminosukeSato/godrift/pkg/errors"
)

func TestToLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		if got := ToLogLevel(tt.in); got != tt.want {
			t.Errorf("ToLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToLogLevelPanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown level")
		}
	}()
	ToLogLevel("verbose")
}

func TestEnableZerologWarnings(t *testing.T) {
	var buf bytes.Buffer
	EnableZerologWarnings(&buf)
	defer gderrors.SetZerologWarnFunc(nil)

	gderrors.Warn(gderrors.NewMissingERTWarning("MMDOnline"))

	out := buf.String()
	if !strings.Contains(out, `"detector":"MMDOnline"`) {
		t.Errorf("structured detector field missing from output: %s", out)
	}
	if !strings.Contains(out, "MissingERTWarning") {
		t.Errorf("warning type missing from output: %s", out)
	}
}
