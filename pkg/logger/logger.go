// Package logger wraps the process-wide CLI logger. The core packages never
// log; they report through callbacks, and the CLI layer turns those into
// log lines here.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

// InitLogger initializes the global logger for CLI operations.
func InitLogger(logLevel string, noColor bool) {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if noColor {
		logger.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: false,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   true,
			FullTimestamp: false,
		})
	}
}

// GetLogger returns the configured logger instance.
func GetLogger() *logrus.Logger {
	if logger == nil {
		InitLogger("info", false)
	}
	return logger
}

// Info logs an info message.
func Info(msg string, fields ...logrus.Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Info(msg)
}

// Debug logs a debug message (only shown when debug level is enabled).
func Debug(msg string, fields ...logrus.Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Debug(msg)
}

// Warn logs a warning message.
func Warn(msg string, fields ...logrus.Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Warn(msg)
}

// Error logs an error message.
func Error(msg string, fields ...logrus.Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Error(msg)
}

// mergeFields merges multiple logrus.Fields into one.
func mergeFields(fields ...logrus.Fields) logrus.Fields {
	result := make(logrus.Fields)
	for _, field := range fields {
		for k, v := range field {
			result[k] = v
		}
	}
	return result
}
