package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logg *logrus.Logger

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.InfoLevel)
	logg.SetOutput(os.Stdout)
}

// GetLogger returns the process-wide logger
func GetLogger() *logrus.Logger {
	return logg
}

// SetLevel applies a textual level such as "debug" or "warn".
// Unknown levels keep the current one and return the parse error.
func SetLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logg.SetLevel(parsed)
	return nil
}

// LogError writes a structured error event tagged with where it happened
func LogError(moduleName string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logg.WithFields(fields).Error(err.Error())
}

// LogWarning writes a structured warning event
func LogWarning(moduleName string, funcName string, message string, data any) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
	}
	if data != nil {
		fields["data"] = data
	}
	logg.WithFields(fields).Warn(message)
}
