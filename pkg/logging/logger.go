package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/deepugangadhar46/protego/pkg/config"
)

// Logger is the shared logger type used across the service.
type Logger = *logrus.Logger

// Fields holds structured log fields.
type Fields = logrus.Fields

// NewLogger returns a JSON logger at the level configured via LOG_LEVEL.
func NewLogger() Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService tags every entry with the service name.
func NewLoggerWithService(serviceName string) Logger {
	logger := NewLogger()
	logger.AddHook(&serviceHook{service: serviceName})
	return logger
}

type serviceHook struct {
	service string
}

func (h *serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.service
	return nil
}
