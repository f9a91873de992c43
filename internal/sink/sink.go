// Package sink delivers persisted notifications to downstream channels.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
)

// LogSink writes notifications to the structured log. It is the fallback when
// no other channel is configured.
type LogSink struct {
	name   string
	logger *logger.Logger
}

// NewLogSink creates a log sink
func NewLogSink(name string, log *logger.Logger) *LogSink {
	return &LogSink{name: name, logger: log.WithComponent("sink")}
}

// Name returns the sink name
func (s *LogSink) Name() string {
	return s.name
}

// Push logs the notification
func (s *LogSink) Push(ctx context.Context, n *notification.ThreatNotification) error {
	s.logger.WithFields(map[string]interface{}{
		"sink":            s.name,
		"notification_id": n.ID,
		"kind":            n.Kind,
		"severity":        n.Severity,
		"priority":        n.Priority,
		"indicator":       n.IndicatorKey,
		"ticket_id":       n.TicketID,
	}).Info(n.Title)
	return nil
}

// Fanout pushes to every member and joins their errors. One failing member
// does not stop delivery to the others.
type Fanout struct {
	name    string
	members []notification.Sink
}

// NewFanout combines sinks; nil members are ignored
func NewFanout(name string, members ...notification.Sink) *Fanout {
	f := &Fanout{name: name}
	for _, m := range members {
		if m != nil {
			f.members = append(f.members, m)
		}
	}
	return f
}

// Name returns the fan-out name
func (f *Fanout) Name() string {
	return f.name
}

// Len returns the number of member sinks
func (f *Fanout) Len() int {
	return len(f.members)
}

// Push delivers n to every member
func (f *Fanout) Push(ctx context.Context, n *notification.ThreatNotification) error {
	var errs []error
	for _, m := range f.members {
		if err := m.Push(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
