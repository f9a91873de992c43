package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

// IndicatorRepository implements indicator.Repository for PostgreSQL/SQLite
type IndicatorRepository struct {
	db *sql.DB
}

// NewIndicatorRepository creates a new indicator repository
func NewIndicatorRepository(db *sql.DB) *IndicatorRepository {
	return &IndicatorRepository{db: db}
}

const indicatorColumns = `id, type, value, raw_value, first_seen, last_seen, sources, reputation,
	category, campaigns, tags, sightings, created_at, updated_at`

// GetByKey returns the indicator stored under key, or nil when none exists
func (r *IndicatorRepository) GetByKey(ctx context.Context, key indicator.Key) (*indicator.Indicator, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+indicatorColumns+` FROM indicators WHERE type = $1 AND value = $2`,
		string(key.Type), key.Value)
	ind, err := scanIndicator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator: %w", err)
	}
	return ind, nil
}

// GetByID retrieves an indicator by ID
func (r *IndicatorRepository) GetByID(ctx context.Context, id string) (*indicator.Indicator, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+indicatorColumns+` FROM indicators WHERE id = $1`, id)
	ind, err := scanIndicator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("indicator")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator: %w", err)
	}
	return ind, nil
}

// Upsert inserts the indicator or replaces the merge fields of the row stored
// under the same (type, value). The stored ID and creation time are kept.
func (r *IndicatorRepository) Upsert(ctx context.Context, ind *indicator.Indicator) error {
	if ind.ID == "" {
		ind.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	createdAt := ind.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO indicators (` + indicatorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (type, value) DO UPDATE SET
			raw_value = excluded.raw_value,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			sources = excluded.sources,
			reputation = excluded.reputation,
			category = excluded.category,
			campaigns = excluded.campaigns,
			tags = excluded.tags,
			sightings = excluded.sightings,
			updated_at = excluded.updated_at
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		ind.ID,
		string(ind.Type),
		ind.Value,
		ind.RawValue,
		ind.FirstSeen.UTC(),
		ind.LastSeen.UTC(),
		encodeJSON(ind.Sources, "[]"),
		ind.Reputation,
		ind.Category,
		encodeJSON(ind.Campaigns, "[]"),
		encodeJSON(ind.Tags, "[]"),
		encodeJSON(ind.Sightings, "{}"),
		createdAt,
		now,
	).Scan(&ind.ID)
	if err != nil {
		return apperrors.Persistence("failed to upsert indicator "+ind.Key().String(), err)
	}

	ind.CreatedAt = createdAt
	ind.UpdatedAt = now
	return nil
}

// List retrieves indicators, most recently seen first
func (r *IndicatorRepository) List(ctx context.Context, filter indicator.Filter, limit, offset int) ([]*indicator.Indicator, error) {
	var p placeholders
	var where []string
	if filter.Type != "" {
		where = append(where, "type = "+p.add(string(filter.Type)))
	}
	if filter.MaxReputation != nil {
		where = append(where, "reputation <= "+p.add(*filter.MaxReputation))
	}
	if filter.SourceID != "" {
		where = append(where, "sources LIKE "+p.add(`%"`+filter.SourceID+`"%`))
	}

	query := `SELECT ` + indicatorColumns + ` FROM indicators`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_seen DESC, id"
	if limit > 0 {
		query += " LIMIT " + p.add(limit) + " OFFSET " + p.add(offset)
	}

	rows, err := r.db.QueryContext(ctx, query, p.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indicators: %w", err)
	}
	defer rows.Close()

	var out []*indicator.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// Count returns the number of stored indicators
func (r *IndicatorRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indicators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count indicators: %w", err)
	}
	return n, nil
}

func scanIndicator(row rowScanner) (*indicator.Indicator, error) {
	var ind indicator.Indicator
	var typ, sources, campaigns, tags, sightings string

	err := row.Scan(
		&ind.ID,
		&typ,
		&ind.Value,
		&ind.RawValue,
		&ind.FirstSeen,
		&ind.LastSeen,
		&sources,
		&ind.Reputation,
		&ind.Category,
		&campaigns,
		&tags,
		&sightings,
		&ind.CreatedAt,
		&ind.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ind.Type = indicator.Type(typ)
	ind.FirstSeen = ind.FirstSeen.UTC()
	ind.LastSeen = ind.LastSeen.UTC()
	ind.CreatedAt = ind.CreatedAt.UTC()
	ind.UpdatedAt = ind.UpdatedAt.UTC()

	for _, col := range []struct {
		raw  string
		dest interface{}
	}{
		{sources, &ind.Sources},
		{campaigns, &ind.Campaigns},
		{tags, &ind.Tags},
		{sightings, &ind.Sightings},
	} {
		if err := decodeJSON(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("invalid json column for indicator %s: %w", ind.ID, err)
		}
	}
	for id, s := range ind.Sightings {
		s.FirstSeen = s.FirstSeen.UTC()
		s.LastSeen = s.LastSeen.UTC()
		ind.Sightings[id] = s
	}
	return &ind, nil
}

// PulseRepository implements indicator.PulseRepository for PostgreSQL/SQLite
type PulseRepository struct {
	db *sql.DB
}

// NewPulseRepository creates a new pulse repository
func NewPulseRepository(db *sql.DB) *PulseRepository {
	return &PulseRepository{db: db}
}

// Upsert stores a pulse keyed on (source id, external id)
func (r *PulseRepository) Upsert(ctx context.Context, p *indicator.Pulse) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO pulses (id, source_id, external_id, name, author, tags, indicator_keys, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			name = excluded.name,
			author = excluded.author,
			tags = excluded.tags,
			indicator_keys = excluded.indicator_keys,
			updated_at = excluded.updated_at
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID,
		p.SourceID,
		p.ExternalID,
		p.Name,
		p.Author,
		encodeJSON(p.Tags, "[]"),
		encodeJSON(p.IndicatorKeys, "[]"),
		now,
		now,
	).Scan(&p.ID)
	if err != nil {
		return apperrors.Persistence("failed to upsert pulse "+p.ExternalID, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return nil
}

// ListBySource returns a source's pulses, most recently updated first
func (r *PulseRepository) ListBySource(ctx context.Context, sourceID string, limit int) ([]*indicator.Pulse, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, external_id, name, author, tags, indicator_keys, created_at, updated_at
		FROM pulses WHERE source_id = $1
		ORDER BY updated_at DESC, id
		LIMIT $2
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pulses: %w", err)
	}
	defer rows.Close()

	var out []*indicator.Pulse
	for rows.Next() {
		var p indicator.Pulse
		var tags, keys string
		if err := rows.Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.Name, &p.Author,
			&tags, &keys, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pulse: %w", err)
		}
		if err := decodeJSON(tags, &p.Tags); err != nil {
			return nil, err
		}
		if err := decodeJSON(keys, &p.IndicatorKeys); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
