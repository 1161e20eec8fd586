package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process-wide root logger. Components derive their own loggers
// from it via GetForComponent so every line carries a component field.
var Logger zerolog.Logger

// Initialize configures the global logger. Level is one of debug/info/warn/
// error; anything else falls back to info. Setting LOG_FORMAT=json switches
// from the human console writer to raw JSON lines for log shippers.
func Initialize(logLevel string) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out zerolog.Logger
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		out = zerolog.New(os.Stdout)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}
	Logger = out.With().Timestamp().Caller().Logger()

	switch strings.ToLower(logLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = Logger
}

// GetForComponent returns a child logger tagged with a component field.
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
