package logger

import (
	"github.com/sirupsen/logrus"
)

var projectLogger *logrus.Logger

// GetProjectLogger returns the shared project logger.
func GetProjectLogger() *logrus.Logger {
	if projectLogger == nil {
		projectLogger = logrus.New()
		projectLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return projectLogger
}
