package source

import (
	"context"
	"time"
)

// Repository defines the interface for source data access
type Repository interface {
	Create(ctx context.Context, s *Source) error
	GetByID(ctx context.Context, id string) (*Source, error)
	GetByName(ctx context.Context, name string) (*Source, error)
	List(ctx context.Context, filter Filter) ([]*Source, error)

	// Update writes configuration fields (interval, weight, enabled, options)
	// and advances UpdatedAt, the source's configuration revision.
	Update(ctx context.Context, s *Source) error

	// UpdateHealth overwrites the health fields; UpdatedAt is left alone
	UpdateHealth(ctx context.Context, id string, update HealthUpdate) error

	// RecordFailure increments the stored failure counter in one statement and
	// returns the result. The source becomes failed once the count reaches
	// threshold and stays failed until UpdateHealth resets it.
	RecordFailure(ctx context.Context, id string, reason string, threshold int) (HealthUpdate, error)

	// RecordSuccess clears the failure counter and stamps the success time,
	// unless the source is failed. It returns the resulting health.
	RecordSuccess(ctx context.Context, id string, at time.Time) (Health, error)
}
