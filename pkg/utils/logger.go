// Package utils provides the shared structured logger used across the
// tracker's packages.
package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger instance. Packages that need a
// named sub-logger should call Component instead of using this
// directly.
var Logger *logrus.Logger

func init() {
	Logger = NewLogger("info", "stdout")
}

// NewLogger builds a logrus.Logger at the given level, writing JSON
// lines to stdout or to a file path.
func NewLogger(level, output string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(parseLevel(level))

	if output == "" || output == "stdout" {
		logger.SetOutput(os.Stdout)
	} else {
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logger.SetOutput(file)
		} else {
			logger.SetOutput(os.Stdout)
			logger.Warnf("failed to open log file %s, using stdout", output)
		}
	}

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	return logger
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLogLevel changes the package logger's level at runtime.
func SetLogLevel(level string) {
	Logger.SetLevel(parseLevel(level))
}

// Component returns a logger scoped with a "component" field, the
// convention every internal/ package uses so log lines can be
// filtered by subsystem (tracker, iodevice, api, livefeed, ...).
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
