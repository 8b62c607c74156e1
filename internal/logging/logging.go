package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// New returns a slog.Logger with the provided level string (info, debug,
// warn, error). format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogSolveStart logs the beginning of a plate-solve job.
func LogSolveStart(logger *slog.Logger, jobID, inputPath string, ra, dec float64) {
	logger.Info("solve started",
		"id", jobID,
		"input", inputPath,
		"ra_deg", ra,
		"dec_deg", dec,
	)
}

// LogSolveComplete logs successful completion of a plate-solve job.
func LogSolveComplete(logger *slog.Logger, jobID, outputPath string, duration time.Duration, meta map[string]any) {
	logger.Info("solve completed",
		"id", jobID,
		"output", outputPath,
		"duration_ms", duration.Milliseconds(),
		"result", meta,
	)
}

// LogSolveError logs a failed plate-solve job.
func LogSolveError(logger *slog.Logger, jobID, inputPath string, duration time.Duration, err error) {
	logger.Error("solve failed",
		"id", jobID,
		"input", inputPath,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}
