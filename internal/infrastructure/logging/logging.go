// Package logging builds the process logger from configuration.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ersonp/draft-core/internal/infrastructure/config"
)

// Level maps a configured level name to a logrus level. "silent" only lets
// panics through. Unknown names fall back to info.
func Level(name string) logrus.Level {
	switch name {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// New returns a logger writing to out with the configured level and format.
func New(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(Level(cfg.Level))
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
