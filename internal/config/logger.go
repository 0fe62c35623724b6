package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger builds the process logger and installs it as the global zerolog
// logger.
func NewLogger(c Config) (zerolog.Logger, error) {
	return newLogger(c, os.Stdout)
}

func newLogger(c Config, out io.Writer) (zerolog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}

	w := out
	if c.LogFormat != LogFormatJSON {
		w = zerolog.ConsoleWriter{Out: out}
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		l = l.With().Caller().Logger()
	}

	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = l
	return l, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", raw)
	}
}
