package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// MinPollInterval is the shortest interval a source may be polled at
const MinPollInterval = time.Minute

// SourceService implements source.Service. Failure counts live in the stored
// row and are changed with single-statement updates, so every process sharing
// the database sees the same breaker state.
type SourceService struct {
	repo      source.Repository
	threshold int
	logger    *logger.Logger
	now       func() time.Time
}

// NewSourceService creates the source registry. threshold is the number of
// consecutive failures after which a source is marked failed.
func NewSourceService(repo source.Repository, threshold int, log *logger.Logger) *SourceService {
	if threshold <= 0 {
		threshold = 5
	}
	return &SourceService{
		repo:      repo,
		threshold: threshold,
		logger:    log.WithComponent("source_registry"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register validates and stores a new source
func (s *SourceService) Register(ctx context.Context, src *source.Source) (string, error) {
	src.Name = strings.TrimSpace(src.Name)
	if src.Name == "" {
		return "", apperrors.BadRequest("source name is required")
	}
	if src.Provider == "" {
		return "", apperrors.BadRequest("source provider is required")
	}
	if !src.FeedType.IsValid() {
		return "", apperrors.BadRequest(fmt.Sprintf("unknown feed type %q", src.FeedType))
	}
	if src.PollInterval < MinPollInterval {
		return "", apperrors.BadRequest(fmt.Sprintf("poll interval must be at least %s", MinPollInterval))
	}
	if src.TrustWeight < 0 {
		return "", apperrors.BadRequest("trust weight must not be negative")
	}
	if src.TrustWeight == 0 {
		src.TrustWeight = source.DefaultTrustWeight
	}
	src.Health = source.HealthHealthy
	src.FailureCount = 0

	if err := s.repo.Create(ctx, src); err != nil {
		s.logger.ErrorWithErr(err, "Failed to register source")
		return "", err
	}

	s.logger.WithFields(map[string]interface{}{
		"source_id": src.ID,
		"name":      src.Name,
		"provider":  src.Provider,
		"interval":  src.PollInterval.String(),
		"weight":    src.TrustWeight,
	}).Info("Source registered")

	return src.ID, nil
}

// Get retrieves a source by ID
func (s *SourceService) Get(ctx context.Context, id string) (*source.Source, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all sources, or only enabled ones
func (s *SourceService) List(ctx context.Context, enabledOnly bool) ([]*source.Source, error) {
	return s.repo.List(ctx, source.Filter{EnabledOnly: enabledOnly})
}

// MarkHealthy resets the failure counter after a successful poll. A source the
// breaker already tripped stays failed until Enable.
func (s *SourceService) MarkHealthy(ctx context.Context, id string) error {
	health, err := s.repo.RecordSuccess(ctx, id, s.now())
	if err != nil {
		s.logger.WithFields(map[string]interface{}{"source_id": id}).ErrorWithErr(err, "Failed to persist source health")
		return err
	}
	if health != source.HealthFailed {
		metrics.SetSourceFailures(id, 0)
	}
	return nil
}

// MarkFailed counts a failed poll and reports the resulting health
func (s *SourceService) MarkFailed(ctx context.Context, id string, reason string) (source.Health, error) {
	update, err := s.repo.RecordFailure(ctx, id, reason, s.threshold)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{"source_id": id}).ErrorWithErr(err, "Failed to persist source health")
		return "", err
	}
	metrics.SetSourceFailures(id, update.FailureCount)

	if update.Health == source.HealthFailed && update.FailureCount == s.threshold {
		s.logger.WithFields(map[string]interface{}{
			"source_id": id,
			"failures":  update.FailureCount,
			"reason":    reason,
		}).Warn("Source failed; excluded from scheduling until re-enabled")
	}
	return update.Health, nil
}

// Disable stops scheduling a source; sources are never deleted
func (s *SourceService) Disable(ctx context.Context, id string, reason string) error {
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	src.Enabled = false
	src.DisabledReason = reason
	if err := s.repo.Update(ctx, src); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"source_id": id,
		"reason":    reason,
	}).Info("Source disabled")
	return nil
}

// Enable re-enables a source and clears its failure state
func (s *SourceService) Enable(ctx context.Context, id string) error {
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	src.Enabled = true
	src.DisabledReason = ""
	if err := s.repo.Update(ctx, src); err != nil {
		return err
	}

	if err := s.repo.UpdateHealth(ctx, id, source.HealthUpdate{Health: source.HealthHealthy}); err != nil {
		s.logger.WithFields(map[string]interface{}{"source_id": id}).ErrorWithErr(err, "Failed to persist source health")
		return err
	}
	metrics.SetSourceFailures(id, 0)

	s.logger.WithFields(map[string]interface{}{"source_id": id}).Info("Source enabled")
	return nil
}

// UpdateSettings applies a partial configuration change. Adapters are rebuilt
// on the next poll because the change advances the source's revision.
func (s *SourceService) UpdateSettings(ctx context.Context, id string, settings source.Settings) (*source.Source, error) {
	if settings.Empty() {
		return nil, apperrors.BadRequest("nothing to update")
	}
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if settings.PollInterval != nil {
		if *settings.PollInterval < MinPollInterval {
			return nil, apperrors.BadRequest(fmt.Sprintf("poll interval must be at least %s", MinPollInterval))
		}
		src.PollInterval = *settings.PollInterval
	}
	if settings.TrustWeight != nil {
		if *settings.TrustWeight <= 0 {
			return nil, apperrors.BadRequest("trust weight must be positive")
		}
		src.TrustWeight = *settings.TrustWeight
	}
	if settings.Endpoint != nil {
		endpoint := strings.TrimSpace(*settings.Endpoint)
		if endpoint == "" {
			return nil, apperrors.BadRequest("endpoint must not be empty")
		}
		src.Endpoint = endpoint
	}
	if settings.CredentialRef != nil {
		src.CredentialRef = strings.TrimSpace(*settings.CredentialRef)
	}
	if settings.Options != nil {
		src.Options = settings.Options
	}
	if err := s.repo.Update(ctx, src); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"source_id": id,
		"interval":  src.PollInterval.String(),
		"weight":    src.TrustWeight,
		"endpoint":  src.Endpoint,
	}).Info("Source settings updated")
	return src, nil
}

var _ source.Service = (*SourceService)(nil)
