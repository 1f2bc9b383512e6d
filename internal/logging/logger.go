package logging

import (
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/config"
)

// InitLogger sets the log level and format based on the provided configuration
func InitLogger(cfg *config.Config) {
	setLogLevel(strings.ToLower(cfg.LogLevel))
	log.SetFormatter(newFormatter(cfg.LogFormat))
}

// InitFromEnv initializes logging from LOG_LEVEL and LOG_FORMAT
func InitFromEnv() {
	setLogLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	log.SetFormatter(newFormatter(os.Getenv("LOG_FORMAT")))
}

// newFormatter returns a JSON formatter for "json" and the text formatter
// otherwise. Entry fields become top-level JSON keys.
func newFormatter(format string) log.Formatter {
	if strings.EqualFold(format, "json") {
		return &log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        log.FieldMap{log.FieldKeyMsg: "message"},
		}
	}
	return &log.TextFormatter{
		FullTimestamp: true,
	}
}

// setLogLevel sets the log level based on string input. Unset or unknown
// levels fall back to error so library use stays quiet.
func setLogLevel(logLevel string) {
	switch logLevel {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

func init() {
	InitFromEnv()
}
