package ticket

import "context"

// Service is the ticketing collaborator
type Service interface {
	Open(ctx context.Context, t *Ticket) (*Ticket, error)
	Get(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Ticket, int64, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Ticket, error)

	// Reprioritize is the only operation that recomputes an SLA deadline
	Reprioritize(ctx context.Context, id string, priority int) (*Ticket, error)
}
