package monitor

import (
	"github.com/sirupsen/logrus"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the component log at warning level.
type LogSink struct {
	Entry *logrus.Entry
}

func (s LogSink) Send(message string) error {
	entry := s.Entry
	if entry == nil {
		entry = log
	}
	entry.Warn(message)
	return nil
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(string) error

func (f SinkFunc) Send(message string) error { return f(message) }
