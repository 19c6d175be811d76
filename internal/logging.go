package internal

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the Printf surface shared by every repowatch package.
type Logger interface {
	Printf(format string, args ...interface{})
}

var rootLogger = newRootLogger()

func newRootLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

// NewLogger returns an entry tagged with component "repowatch/<component>".
func NewLogger(component string) *logrus.Entry {
	name := "repowatch"
	if component != "" {
		name = name + "/" + component
	}
	return rootLogger.WithField("component", name)
}

// ConfigureLogging applies level ("debug", "info", ...) and format ("text" or
// "json") to every logger returned by NewLogger.
func ConfigureLogging(level, format string) error {
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		rootLogger.SetLevel(parsed)
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		rootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		rootLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
