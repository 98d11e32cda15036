package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log" // zerolog's global logger
)

// InitLogger initializes zerolog's global logger instance.
// It allows for console or JSON output based on the LOG_FORMAT environment variable.
// Log level is also configured via LOG_LEVEL environment variable.
func InitLogger() {
	logFormat := os.Getenv("LOG_FORMAT")
	level := ParseLevel(os.Getenv("LOG_LEVEL"))

	zerolog.SetGlobalLevel(level)

	if logFormat != "json" { // Default to console if not "json"
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().Str("logFormat", logFormat).Str("logLevel", level.String()).Msg("Logger initialized")
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(logLevelStr string) zerolog.Level {
	switch logLevelStr {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the configured global zerolog logger.
func GetLogger() zerolog.Logger {
	return log.Logger
}
