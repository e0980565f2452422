// Package omnishlog configures the tinted-console slog.Logger used by
// the omnish/omnishd binaries. Library packages never call this
// directly — they accept a *slog.Logger (defaulting to slog.Default())
// and let the binary own handler configuration.
package omnishlog

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

var Log *slog.Logger = slog.Default()

// Init builds the process-wide default logger: a tint console handler
// writing to stderr, optionally tee'd to a log file.
func Init(level string, logFile string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}
