package indicator

import "context"

// Repository defines the interface for indicator data access
type Repository interface {
	// GetByKey returns nil, nil when no indicator exists for the key
	GetByKey(ctx context.Context, key Key) (*Indicator, error)
	GetByID(ctx context.Context, id string) (*Indicator, error)

	// Upsert inserts or replaces the record stored under the indicator's key
	Upsert(ctx context.Context, ind *Indicator) error

	List(ctx context.Context, filter Filter, limit, offset int) ([]*Indicator, error)
	Count(ctx context.Context) (int64, error)
}

// PulseRepository stores campaign groupings
type PulseRepository interface {
	// Upsert is keyed on (source id, external id)
	Upsert(ctx context.Context, p *Pulse) error
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*Pulse, error)
}
