package delivery

import "github.com/sirupsen/logrus"

// Logger is the Printf surface the worker logs through.
type Logger interface {
	Printf(format string, args ...interface{})
}

func defaultLogger() Logger {
	return logrus.WithField("component", "repowatch/delivery")
}
