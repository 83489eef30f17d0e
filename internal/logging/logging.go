package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init configures the process-wide slog default. Errors only by default:
// the room view owns the terminal, so anything chattier belongs in a file
// via LIVEROOM_LOG_FILE rather than on stderr.
func Init() {
	level := slog.LevelError

	if l, ok := os.LookupEnv("LIVEROOM_LOG"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}

	var out io.Writer = os.Stderr
	if path := os.Getenv("LIVEROOM_LOG_FILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}

	logger := slog.New(
		slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}
