package errutil

import (
	"log/slog"
)

// LogMsg logs the error as a warning with a custom message if it is not nil.
// Use it for failures the job can live with.
func LogMsg(err error, msg string, args ...any) {
	if err != nil {
		slog.Warn(msg, withError(err, args)...)
	}
}

// ReportError logs an unexpected error.
// Every command-level failure goes through here before the process exits.
func ReportError(err error, msg string, args ...any) {
	if err != nil {
		slog.Error(msg, withError(err, args)...)
	}
}

// CloseLogged closes c and logs a failure with msg.
func CloseLogged(c interface{ Close() error }, msg string, args ...any) {
	LogMsg(c.Close(), msg, args...)
}

func withError(err error, args []any) []any {
	return append([]any{"error", err}, args...)
}
