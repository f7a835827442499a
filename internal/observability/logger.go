package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func consoleLogger(w io.Writer, app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}

// InitLogger installs a console logger tagged with app as the global logger.
func InitLogger(app string) zerolog.Logger {
	logger := consoleLogger(os.Stdout, app)
	log.Logger = logger
	return logger
}

// DiagnosticsLogger writes to stderr and is meant for pipe error mirroring,
// so failures stay visible when stdout is piped elsewhere.
func DiagnosticsLogger(app string) zerolog.Logger {
	return consoleLogger(os.Stderr, app).With().Str("stream", "diagnostics").Logger()
}
