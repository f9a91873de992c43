package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

// NotificationRepository implements notification.Repository for PostgreSQL/SQLite
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, kind, indicator_id, indicator_key, ticket_id, title, message, severity,
	category, priority, reputation, sources, status, is_read, acknowledged, acknowledged_by,
	acknowledged_at, action_required, expires_at, created_at, updated_at`

// Create persists a new notification. A second open threat notification for
// the same indicator violates the partial unique index and yields a Conflict.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.ThreatNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = notification.StatusPending
	}

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	query := `
		INSERT INTO threat_notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		string(n.Kind),
		n.IndicatorID,
		n.IndicatorKey,
		n.TicketID,
		n.Title,
		n.Message,
		string(n.Severity),
		n.Category,
		n.Priority,
		n.Reputation,
		encodeJSON(n.Sources, "[]"),
		string(n.Status),
		n.Read,
		n.Acknowledged,
		n.AcknowledgedBy,
		nullTime(n.AcknowledgedAt),
		n.ActionRequired,
		nullTime(n.ExpiresAt),
		n.CreatedAt.UTC(),
		n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("an open notification already exists for indicator " + n.IndicatorID)
		}
		return apperrors.Persistence("failed to create notification", err)
	}
	return nil
}

// GetByID retrieves a notification by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*notification.ThreatNotification, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM threat_notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("notification")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// FindOpenByIndicator returns the unacknowledged threat notification for an indicator
func (r *NotificationRepository) FindOpenByIndicator(ctx context.Context, indicatorID string) (*notification.ThreatNotification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM threat_notifications
		WHERE indicator_id = $1 AND kind = $2 AND acknowledged = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, indicatorID, string(notification.KindThreat), false)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to look up open notification", err)
	}
	return n, nil
}

// UpdateStatus moves a notification along its dispatch lifecycle
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, status notification.Status) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE threat_notifications SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return apperrors.Persistence("failed to update notification status", err)
	}
	return expectOneRow(result, "notification")
}

// AttachTicket links the ticket opened for a notification
func (r *NotificationRepository) AttachTicket(ctx context.Context, id string, ticketID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE threat_notifications SET ticket_id = $1, updated_at = $2 WHERE id = $3`,
		ticketID, time.Now().UTC(), id)
	if err != nil {
		return apperrors.Persistence("failed to attach ticket to notification", err)
	}
	return expectOneRow(result, "notification")
}

// Acknowledge writes the acknowledgment fields of n
func (r *NotificationRepository) Acknowledge(ctx context.Context, n *notification.ThreatNotification) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE threat_notifications
		SET status = $1, is_read = $2, acknowledged = $3, acknowledged_by = $4, acknowledged_at = $5, updated_at = $6
		WHERE id = $7
	`,
		string(notification.StatusAcknowledged),
		true,
		true,
		n.AcknowledgedBy,
		nullTime(n.AcknowledgedAt),
		now,
		n.ID,
	)
	if err != nil {
		return apperrors.Persistence("failed to acknowledge notification", err)
	}
	if err := expectOneRow(result, "notification"); err != nil {
		return err
	}
	n.Status = notification.StatusAcknowledged
	n.Read = true
	n.Acknowledged = true
	n.UpdatedAt = now
	return nil
}

// List retrieves notifications with pagination, newest first
func (r *NotificationRepository) List(ctx context.Context, filter notification.Filter, limit, offset int) ([]*notification.ThreatNotification, int64, error) {
	var p placeholders
	var where []string
	if filter.Kind != "" {
		where = append(where, "kind = "+p.add(string(filter.Kind)))
	}
	if filter.IndicatorID != "" {
		where = append(where, "indicator_id = "+p.add(filter.IndicatorID))
	}
	if filter.Severity != "" {
		where = append(where, "severity = "+p.add(string(filter.Severity)))
	}
	if filter.UnacknowledgedOnly {
		where = append(where, "acknowledged = "+p.add(false))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threat_notifications`+clause, p.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `SELECT ` + notificationColumns + ` FROM threat_notifications` + clause + ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += " LIMIT " + p.add(limit) + " OFFSET " + p.add(offset)
	}

	rows, err := r.db.QueryContext(ctx, query, p.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.ThreatNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func scanNotification(row rowScanner) (*notification.ThreatNotification, error) {
	var n notification.ThreatNotification
	var kind, severity, status, sources string
	var ackAt, expiresAt sql.NullTime

	err := row.Scan(
		&n.ID,
		&kind,
		&n.IndicatorID,
		&n.IndicatorKey,
		&n.TicketID,
		&n.Title,
		&n.Message,
		&severity,
		&n.Category,
		&n.Priority,
		&n.Reputation,
		&sources,
		&status,
		&n.Read,
		&n.Acknowledged,
		&n.AcknowledgedBy,
		&ackAt,
		&n.ActionRequired,
		&expiresAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Kind = notification.Kind(kind)
	n.Severity = notification.Severity(severity)
	n.Status = notification.Status(status)
	n.AcknowledgedAt = timePtr(ackAt)
	n.ExpiresAt = timePtr(expiresAt)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	if err := decodeJSON(sources, &n.Sources); err != nil {
		return nil, fmt.Errorf("invalid sources for notification %s: %w", n.ID, err)
	}
	return &n, nil
}
