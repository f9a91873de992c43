package ticket

import (
	"context"
	"time"
)

// Repository defines the interface for ticket data access
type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id string) (*Ticket, error)
	Update(ctx context.Context, id string, changes Changes) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Ticket, int64, error)

	// ListActive returns non-terminal tickets that have not been escalated yet
	ListActive(ctx context.Context) ([]*Ticket, error)

	// MarkEscalated sets the escalation fields only if escalated_at is still null and
	// the ticket is not terminal. It reports whether this call performed the transition.
	MarkEscalated(ctx context.Context, id string, at time.Time, reason string) (bool, error)

	// ListUnnotifiedEscalations returns escalated tickets whose supervisory
	// notification has not been delivered.
	ListUnnotifiedEscalations(ctx context.Context) ([]*Ticket, error)
	MarkEscalationNotified(ctx context.Context, id string) error
}
