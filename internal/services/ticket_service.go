package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// TicketService implements ticket.Service
type TicketService struct {
	repo   ticket.Repository
	sla    config.SLATable
	logger *logger.Logger
	now    func() time.Time
}

// NewTicketService creates a ticket service using the given SLA table
func NewTicketService(repo ticket.Repository, sla config.SLATable, log *logger.Logger) *TicketService {
	return &TicketService{
		repo:   repo,
		sla:    sla,
		logger: log.WithComponent("tickets"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open creates a ticket with its SLA deadline set from the priority
func (s *TicketService) Open(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	if t.Priority < 1 || t.Priority > 4 {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid priority %d", t.Priority))
	}

	now := s.now()
	t.Status = ticket.StatusOpen
	t.CreatedAt = now
	t.SLADeadline = now.Add(s.sla.For(t.Priority))
	t.Escalated = false
	t.EscalatedAt = nil
	t.EscalationNotified = false

	if err := s.repo.Create(ctx, t); err != nil {
		s.logger.ErrorWithErr(err, "Failed to open ticket")
		return nil, err
	}

	metrics.RecordTicketOpened(t.Priority)
	s.logger.WithFields(map[string]interface{}{
		"ticket_id":       t.ID,
		"notification_id": t.NotificationID,
		"priority":        t.Priority,
		"sla_deadline":    t.SLADeadline,
	}).Info("Ticket opened")

	return t, nil
}

// Get retrieves a ticket by ID
func (s *TicketService) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves tickets with pagination
func (s *TicketService) List(ctx context.Context, filter ticket.Filter, limit, offset int) ([]*ticket.Ticket, int64, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// UpdateStatus moves a ticket through its workflow. The first move out of open
// stamps the first-response time.
func (s *TicketService) UpdateStatus(ctx context.Context, id string, status ticket.Status) (*ticket.Ticket, error) {
	if !status.IsValid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown ticket status %q", status))
	}

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ticket.CanTransition(t.Status, status); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	changes := ticket.Changes{Status: &status}
	if t.FirstResponseAt == nil {
		now := s.now()
		changes.FirstResponseAt = &now
		t.FirstResponseAt = &now
	}
	if err := s.repo.Update(ctx, id, changes); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"ticket_id": id,
		"from":      t.Status,
		"to":        status,
	}).Info("Ticket status changed")

	t.Status = status
	return t, nil
}

// Reprioritize changes the priority and recomputes the deadline from the
// ticket's creation time. Escalated or terminal tickets keep their deadline.
func (s *TicketService) Reprioritize(ctx context.Context, id string, priority int) (*ticket.Ticket, error) {
	if priority < 1 || priority > 4 {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid priority %d", priority))
	}

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, apperrors.Conflict("ticket is " + string(t.Status))
	}
	if t.EscalatedAt != nil {
		return nil, apperrors.Conflict("ticket is already escalated")
	}

	deadline := t.CreatedAt.Add(s.sla.For(priority))
	if err := s.repo.Update(ctx, id, ticket.Changes{Priority: &priority, SLADeadline: &deadline}); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"ticket_id":    id,
		"priority":     priority,
		"sla_deadline": deadline,
	}).Info("Ticket reprioritized")

	t.Priority = priority
	t.SLADeadline = deadline
	return t, nil
}

var _ ticket.Service = (*TicketService)(nil)
