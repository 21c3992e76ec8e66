// Package sinks provides EventSink implementations for the engine's
// telemetry events: a structured-logging sink backed by logrus and an
// in-memory sink for tests and UI log views.
package sinks

import (
	"github.com/sirupsen/logrus"

	anchorclient "github.com/stellar-connect/anchor-client-go"
)

// logrusSink emits engine events as structured log entries.
type logrusSink struct {
	logger *logrus.Logger
}

// NewLogrusSink creates an EventSink that writes to the given logrus logger.
// A nil logger uses the logrus standard logger.
func NewLogrusSink(logger *logrus.Logger) anchorclient.EventSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &logrusSink{logger: logger}
}

// Emit writes one event. Error events log at error level, everything else at
// info level, with the kind and body carried as fields.
func (s *logrusSink) Emit(event anchorclient.Event) {
	entry := s.logger.WithField("kind", string(event.Kind))
	if event.Body != nil {
		entry = entry.WithField("body", event.Body)
	}
	if event.Kind == anchorclient.EventError {
		entry.Error(event.Title)
		return
	}
	entry.Info(event.Title)
}
