// Package log provides structured logging for drift detection operations.
//
// It wires Go's log/slog to a JSON handler that understands
// cockroachdb/errors stack traces, and bridges the library's warning channel
// (pkg/errors) to zerolog so that structured warnings such as
// MissingERTWarning end up in the same log stream.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rs/zerolog"

	gderrors "github.com/YuminosukeSato/godrift/pkg/errors"
)

// SetupLogger installs the default slog logger used by the library.
func SetupLogger(loglevel string) {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     ToLogLevel(loglevel),
	}
	handler := slog.NewJSONHandler(os.Stdout, &ops)
	errFmtHandler := WrapByErrFmtHandler(handler)
	slog.SetDefault(slog.New(errFmtHandler))
}

// ToLogLevel converts a level name to a slog.Level.
func ToLogLevel(level string) slog.Level {
	switch level {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		panic(fmt.Sprintf("invalid log level :%s", level))
	}
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// EnableZerologWarnings routes the pkg/errors warning channel to a zerolog
// logger writing to w. Warning types implementing zerolog.LogObjectMarshaler
// are embedded as structured fields.
func EnableZerologWarnings(w io.Writer) {
	logger := zerolog.New(w).With().Timestamp().Logger()
	gderrors.SetZerologWarnFunc(func(warning error) {
		event := logger.Warn()
		if obj, ok := warning.(zerolog.LogObjectMarshaler); ok {
			event = event.EmbedObject(obj)
		}
		event.Msg(warning.Error())
	})
}
