package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultService stamps every log line when Config.Service is left blank,
// so ad-hoc loggers built in tests still identify their origin.
const defaultService = "form4sentinel"

// Config controls the base logger every binary in this module builds at
// startup, then narrows further with `.With().Str("component", ...)`.
type Config struct {
	Level   string // debug, info, warn, error
	Pretty  bool   // console-friendly output instead of JSON, for local runs
	Service string // stamped as the "service" field; defaults to defaultService
}

// New builds a zerolog.Logger with RFC3339 timestamps, caller info, and a
// "service" field identifying the binary. Pretty switches from line-
// delimited JSON to a human-readable console writer; production
// deployments should always run with Pretty false.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
}

// SetGlobalLogger installs l as the package-level zerolog logger used by
// any code that logs via the top-level zerolog/log functions instead of
// holding its own zerolog.Logger value.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
