package notification

import "context"

// Repository defines the interface for notification data access.
// Notifications are never deleted.
type Repository interface {
	Create(ctx context.Context, n *ThreatNotification) error
	GetByID(ctx context.Context, id string) (*ThreatNotification, error)

	// FindOpenByIndicator returns the unacknowledged threat notification for an
	// indicator, or nil when there is none.
	FindOpenByIndicator(ctx context.Context, indicatorID string) (*ThreatNotification, error)

	UpdateStatus(ctx context.Context, id string, status Status) error

	// AttachTicket records the ticket opened for an action-required notification
	AttachTicket(ctx context.Context, id string, ticketID string) error
	Acknowledge(ctx context.Context, n *ThreatNotification) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*ThreatNotification, int64, error)
}
