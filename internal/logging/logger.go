package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Development gets debug level and the
// console writer; everything else logs JSON.
func New(appEnv, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level)
}

func NewWithWriter(out io.Writer, appEnv, level string) zerolog.Logger {
	development := strings.EqualFold(appEnv, "development")

	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	if development && parsed > zerolog.DebugLevel {
		parsed = zerolog.DebugLevel
	}

	logger := zerolog.New(out).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "fitcoach-back").
		Logger()

	if development {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger
}
