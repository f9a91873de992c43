package notification

import "context"

// Sink delivers a persisted notification downstream. Delivery is fire-and-forget:
// the stored record is authoritative.
type Sink interface {
	Name() string
	Push(ctx context.Context, n *ThreatNotification) error
}

// Service exposes notification reads and the one user-facing mutation
type Service interface {
	Get(ctx context.Context, id string) (*ThreatNotification, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*ThreatNotification, int64, error)
	Acknowledge(ctx context.Context, id string, by string) (*ThreatNotification, error)
}
