package source

import "context"

// Service is the source registry. It owns Source records exclusively.
type Service interface {
	Register(ctx context.Context, s *Source) (string, error)
	Get(ctx context.Context, id string) (*Source, error)
	List(ctx context.Context, enabledOnly bool) ([]*Source, error)

	// MarkHealthy resets the consecutive-failure counter after a successful poll
	MarkHealthy(ctx context.Context, id string) error

	// MarkFailed counts a failed poll; at the configured threshold the source
	// transitions to failed and stops being scheduled.
	MarkFailed(ctx context.Context, id string, reason string) (Health, error)

	Disable(ctx context.Context, id string, reason string) error
	Enable(ctx context.Context, id string) error
	UpdateSettings(ctx context.Context, id string, settings Settings) (*Source, error)
}
