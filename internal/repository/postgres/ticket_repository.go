package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

// TicketRepository implements ticket.Repository for PostgreSQL/SQLite
type TicketRepository struct {
	db *sql.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, notification_id, indicator_id, title, category, priority, status,
	sla_deadline, first_response_at, escalated, escalation_reason, escalated_at,
	escalation_notified, created_at, updated_at`

// Create persists a new ticket
func (r *TicketRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = ticket.StatusOpen
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.NotificationID,
		t.IndicatorID,
		t.Title,
		t.Category,
		t.Priority,
		string(t.Status),
		t.SLADeadline.UTC(),
		nullTime(t.FirstResponseAt),
		t.Escalated,
		t.EscalationReason,
		nullTime(t.EscalatedAt),
		t.EscalationNotified,
		t.CreatedAt.UTC(),
		t.UpdatedAt,
	)
	if err != nil {
		return apperrors.Persistence("failed to create ticket", err)
	}
	return nil
}

// GetByID retrieves a ticket by ID
func (r *TicketRepository) GetByID(ctx context.Context, id string) (*ticket.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// Update applies the non-nil fields of changes
func (r *TicketRepository) Update(ctx context.Context, id string, changes ticket.Changes) error {
	var p placeholders
	var set []string
	if changes.Status != nil {
		set = append(set, "status = "+p.add(string(*changes.Status)))
	}
	if changes.Priority != nil {
		set = append(set, "priority = "+p.add(*changes.Priority))
	}
	if changes.SLADeadline != nil {
		set = append(set, "sla_deadline = "+p.add(changes.SLADeadline.UTC()))
	}
	if changes.FirstResponseAt != nil {
		set = append(set, "first_response_at = "+p.add(changes.FirstResponseAt.UTC()))
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = "+p.add(time.Now().UTC()))

	query := `UPDATE tickets SET ` + strings.Join(set, ", ") + ` WHERE id = ` + p.add(id)
	result, err := r.db.ExecContext(ctx, query, p.args...)
	if err != nil {
		return apperrors.Persistence("failed to update ticket", err)
	}
	return expectOneRow(result, "ticket")
}

// List retrieves tickets with pagination, newest first
func (r *TicketRepository) List(ctx context.Context, filter ticket.Filter, limit, offset int) ([]*ticket.Ticket, int64, error) {
	var p placeholders
	var where []string
	if filter.Status != "" {
		where = append(where, "status = "+p.add(string(filter.Status)))
	}
	if filter.Escalated != nil {
		where = append(where, "escalated = "+p.add(*filter.Escalated))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`+clause, p.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets` + clause + ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += " LIMIT " + p.add(limit) + " OFFSET " + p.add(offset)
	}
	tickets, err := r.query(ctx, query, p.args...)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// ListActive returns non-terminal tickets that have not been escalated yet,
// earliest deadline first.
func (r *TicketRepository) ListActive(ctx context.Context) ([]*ticket.Ticket, error) {
	return r.query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE status NOT IN ($1, $2) AND escalated_at IS NULL
		ORDER BY sla_deadline, id
	`, string(ticket.StatusResolved), string(ticket.StatusClosed))
}

// MarkEscalated sets the escalation fields once. The WHERE clause is the guard:
// a ticket already escalated or terminal is left untouched and false is returned.
func (r *TicketRepository) MarkEscalated(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tickets
		SET escalated = $1, escalation_reason = $2, escalated_at = $3, updated_at = $4
		WHERE id = $5 AND escalated_at IS NULL AND status NOT IN ($6, $7)
	`,
		true,
		reason,
		at.UTC(),
		time.Now().UTC(),
		id,
		string(ticket.StatusResolved),
		string(ticket.StatusClosed),
	)
	if err != nil {
		return false, apperrors.Persistence("failed to escalate ticket", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListUnnotifiedEscalations returns escalated tickets whose supervisory
// notification has not been delivered yet
func (r *TicketRepository) ListUnnotifiedEscalations(ctx context.Context) ([]*ticket.Ticket, error) {
	return r.query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE escalated = $1 AND escalation_notified = $2
		ORDER BY escalated_at, id
	`, true, false)
}

// MarkEscalationNotified records delivery of the supervisory notification
func (r *TicketRepository) MarkEscalationNotified(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET escalation_notified = $1, updated_at = $2 WHERE id = $3`,
		true, time.Now().UTC(), id)
	if err != nil {
		return apperrors.Persistence("failed to mark escalation notified", err)
	}
	return expectOneRow(result, "ticket")
}

func (r *TicketRepository) query(ctx context.Context, query string, args ...interface{}) ([]*ticket.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var out []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row rowScanner) (*ticket.Ticket, error) {
	var t ticket.Ticket
	var status string
	var firstResponse, escalatedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.NotificationID,
		&t.IndicatorID,
		&t.Title,
		&t.Category,
		&t.Priority,
		&status,
		&t.SLADeadline,
		&firstResponse,
		&t.Escalated,
		&t.EscalationReason,
		&escalatedAt,
		&t.EscalationNotified,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = ticket.Status(status)
	t.SLADeadline = t.SLADeadline.UTC()
	t.FirstResponseAt = timePtr(firstResponse)
	t.EscalatedAt = timePtr(escalatedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
