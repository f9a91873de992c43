package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

// SourceRepository implements source.Repository for PostgreSQL/SQLite
type SourceRepository struct {
	db *sql.DB
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

const sourceColumns = `id, name, provider, endpoint, credential_ref, feed_type, poll_interval_seconds,
	trust_weight, enabled, health, last_success_at, failure_count, last_error, disabled_reason,
	options, created_at, updated_at`

// Create inserts a new source
func (r *SourceRepository) Create(ctx context.Context, s *source.Source) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Health == "" {
		s.Health = source.HealthHealthy
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO sources (` + sourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.Name,
		s.Provider,
		s.Endpoint,
		s.CredentialRef,
		string(s.FeedType),
		int64(s.PollInterval/time.Second),
		s.TrustWeight,
		s.Enabled,
		string(s.Health),
		nullTime(s.LastSuccessAt),
		s.FailureCount,
		s.LastError,
		s.DisabledReason,
		encodeJSON(s.Options, "{}"),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("source %q already exists", s.Name))
		}
		return fmt.Errorf("failed to create source: %w", err)
	}

	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetByID retrieves a source by ID
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*source.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("source")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return s, nil
}

// GetByName retrieves a source by its unique name
func (r *SourceRepository) GetByName(ctx context.Context, name string) (*source.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("source")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return s, nil
}

// List retrieves sources ordered by name
func (r *SourceRepository) List(ctx context.Context, filter source.Filter) ([]*source.Source, error) {
	var p placeholders
	var where []string
	if filter.EnabledOnly {
		where = append(where, "enabled = "+p.add(true))
	}
	if filter.Provider != "" {
		where = append(where, "provider = "+p.add(filter.Provider))
	}

	query := `SELECT ` + sourceColumns + ` FROM sources`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query, p.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*source.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// Update writes the configuration fields of a source
func (r *SourceRepository) Update(ctx context.Context, s *source.Source) error {
	now := time.Now().UTC()
	query := `
		UPDATE sources
		SET endpoint = $1, credential_ref = $2, feed_type = $3, poll_interval_seconds = $4,
			trust_weight = $5, enabled = $6, disabled_reason = $7, options = $8, updated_at = $9
		WHERE id = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		s.Endpoint,
		s.CredentialRef,
		string(s.FeedType),
		int64(s.PollInterval/time.Second),
		s.TrustWeight,
		s.Enabled,
		s.DisabledReason,
		encodeJSON(s.Options, "{}"),
		now,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if err := expectOneRow(result, "source"); err != nil {
		return err
	}
	s.UpdatedAt = now
	return nil
}

// UpdateHealth writes only the health fields of a source
func (r *SourceRepository) UpdateHealth(ctx context.Context, id string, update source.HealthUpdate) error {
	query := `
		UPDATE sources
		SET health = $1, failure_count = $2, last_error = $3,
			last_success_at = COALESCE($4, last_success_at)
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		string(update.Health),
		update.FailureCount,
		update.LastError,
		nullTime(update.LastSuccessAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update source health: %w", err)
	}
	return expectOneRow(result, "source")
}

// RecordFailure increments the failure counter and derives the new health from
// the stored row, so concurrent reporters and other processes never lose a count
func (r *SourceRepository) RecordFailure(ctx context.Context, id string, reason string, threshold int) (source.HealthUpdate, error) {
	query := `
		UPDATE sources
		SET failure_count = failure_count + 1,
			health = CASE
				WHEN health = 'failed' OR failure_count + 1 >= $1 THEN 'failed'
				ELSE 'degraded'
			END,
			last_error = $2
		WHERE id = $3
		RETURNING health, failure_count, last_error
	`
	var update source.HealthUpdate
	var health string
	err := r.db.QueryRowContext(ctx, query, threshold, reason, id).Scan(&health, &update.FailureCount, &update.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return update, apperrors.NotFound("source")
	}
	if err != nil {
		return update, fmt.Errorf("failed to record source failure: %w", err)
	}
	update.Health = source.Health(health)
	return update, nil
}

// RecordSuccess resets the failure counter of a source that is not failed
func (r *SourceRepository) RecordSuccess(ctx context.Context, id string, at time.Time) (source.Health, error) {
	query := `
		UPDATE sources
		SET failure_count = CASE WHEN health = 'failed' THEN failure_count ELSE 0 END,
			last_error = CASE WHEN health = 'failed' THEN last_error ELSE '' END,
			last_success_at = CASE WHEN health = 'failed' THEN last_success_at ELSE $1 END,
			health = CASE WHEN health = 'failed' THEN 'failed' ELSE 'healthy' END
		WHERE id = $2
		RETURNING health
	`
	var health string
	err := r.db.QueryRowContext(ctx, query, at.UTC(), id).Scan(&health)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NotFound("source")
	}
	if err != nil {
		return "", fmt.Errorf("failed to record source success: %w", err)
	}
	return source.Health(health), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*source.Source, error) {
	var s source.Source
	var feedType, health, options string
	var intervalSeconds int64
	var lastSuccess sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Provider,
		&s.Endpoint,
		&s.CredentialRef,
		&feedType,
		&intervalSeconds,
		&s.TrustWeight,
		&s.Enabled,
		&health,
		&lastSuccess,
		&s.FailureCount,
		&s.LastError,
		&s.DisabledReason,
		&options,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.FeedType = source.FeedType(feedType)
	s.Health = source.Health(health)
	s.PollInterval = time.Duration(intervalSeconds) * time.Second
	s.LastSuccessAt = timePtr(lastSuccess)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if err := decodeJSON(options, &s.Options); err != nil {
		return nil, fmt.Errorf("invalid options for source %s: %w", s.ID, err)
	}
	return &s, nil
}

func expectOneRow(result sql.Result, resource string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound(resource)
	}
	return nil
}

// isUniqueViolation matches unique constraint errors from lib/pq and both sqlite drivers
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed: unique")
}
