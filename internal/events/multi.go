package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/metrics"
)

// Sink is a named publisher inside a Multi.
type Sink struct {
	Name      string
	Publisher board.Publisher
}

// Multi publishes to every sink. A failing sink does not stop the others;
// failures are logged, counted and joined into the returned error.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out over sinks. Nil publishers are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s.Publisher != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Publish implements board.Publisher.
func (m *Multi) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publisher.Publish(ctx, topic, payload); err != nil {
			metrics.PublishFailed(s.Name)
			slog.Warn("publish failed", "sink", s.Name, "topic", topic, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
