package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// DispatcherConfig holds the dispatch policy
type DispatcherConfig struct {
	// ActionPriority is the least urgent priority that still raises a notification
	ActionPriority int
	// ActionCategories open a ticket when notified
	ActionCategories []string
}

// DispatcherConfigFrom extracts the dispatch policy from the intel configuration
func DispatcherConfigFrom(cfg config.IntelConfig) DispatcherConfig {
	return DispatcherConfig{
		ActionPriority:   cfg.ActionPriority,
		ActionCategories: cfg.ActionCategories,
	}
}

// NotificationDispatcher is the only creator of threat notifications. It also
// implements notification.Service for reads and acknowledgment.
type NotificationDispatcher struct {
	repo        notification.Repository
	tickets     ticket.Service
	scorer      *PriorityScorer
	sink        notification.Sink
	supervisors notification.Sink
	cfg         DispatcherConfig
	actionable  map[string]bool
	locks       keyedLock
	logger      *logger.Logger
	now         func() time.Time
}

// NewNotificationDispatcher creates a dispatcher. sink receives threat
// notifications; supervisors receives escalations. Either may be nil.
func NewNotificationDispatcher(
	repo notification.Repository,
	tickets ticket.Service,
	scorer *PriorityScorer,
	sink notification.Sink,
	supervisors notification.Sink,
	cfg DispatcherConfig,
	log *logger.Logger,
) *NotificationDispatcher {
	if cfg.ActionPriority < 1 || cfg.ActionPriority > 4 {
		cfg.ActionPriority = 2
	}
	actionable := make(map[string]bool, len(cfg.ActionCategories))
	for _, c := range cfg.ActionCategories {
		actionable[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &NotificationDispatcher{
		repo:        repo,
		tickets:     tickets,
		scorer:      scorer,
		sink:        sink,
		supervisors: supervisors,
		cfg:         cfg,
		actionable:  actionable,
		logger:      log.WithComponent("dispatcher"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate scores ind and creates a notification when it crosses the action
// threshold and no unacknowledged one exists for it. It returns the new
// notification, or nil when nothing was created.
func (d *NotificationDispatcher) Evaluate(ctx context.Context, ind *indicator.Indicator) (*notification.ThreatNotification, error) {
	priority := d.scorer.Score(ind)
	if priority > d.cfg.ActionPriority {
		return nil, nil
	}

	unlock := d.locks.Lock(ind.ID)
	defer unlock()

	open, err := d.repo.FindOpenByIndicator(ctx, ind.ID)
	if err != nil {
		return nil, apperrors.Persistence("failed to check open notifications", err)
	}
	if open != nil {
		// finish a dispatch that failed part way
		if open.ActionRequired && open.TicketID == "" {
			if err := d.openTicket(ctx, open); err != nil {
				return nil, err
			}
		}
		if open.Status == notification.StatusPending {
			return nil, d.deliver(ctx, open)
		}
		return nil, nil
	}

	now := d.now()
	severity := notification.SeverityForPriority(priority)
	n := &notification.ThreatNotification{
		Kind:           notification.KindThreat,
		IndicatorID:    ind.ID,
		IndicatorKey:   ind.Key().String(),
		Title:          fmt.Sprintf("%s %s %s", strings.ToUpper(string(severity)), ind.Type, ind.Value),
		Message:        threatMessage(ind, priority),
		Severity:       severity,
		Category:       ind.Category,
		Priority:       priority,
		Reputation:     ind.Reputation,
		Sources:        append([]string(nil), ind.Sources...),
		Status:         notification.StatusPending,
		ActionRequired: d.actionable[ind.Category],
		CreatedAt:      now,
	}

	if err := d.repo.Create(ctx, n); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
			// another writer holds the open notification
			return nil, nil
		}
		return nil, apperrors.Persistence("failed to create notification", err)
	}
	metrics.RecordNotification(string(n.Kind), string(n.Severity))

	d.logger.WithFields(map[string]interface{}{
		"notification_id": n.ID,
		"indicator":       n.IndicatorKey,
		"priority":        priority,
		"reputation":      ind.Reputation,
		"action_required": n.ActionRequired,
	}).Info("Threat notification created")

	if n.ActionRequired {
		if err := d.openTicket(ctx, n); err != nil {
			return n, err
		}
	}

	return n, d.deliver(ctx, n)
}

// deliver pushes n to the analyst sink and marks it dispatched
func (d *NotificationDispatcher) deliver(ctx context.Context, n *notification.ThreatNotification) error {
	d.push(ctx, d.sink, n)
	if err := d.repo.UpdateStatus(ctx, n.ID, notification.StatusDispatched); err != nil {
		return apperrors.Persistence("failed to mark notification dispatched", err)
	}
	n.Status = notification.StatusDispatched
	return nil
}

// DispatchEscalation records and delivers the supervisory notification for an
// escalated ticket. The record id is derived from the ticket so retries reuse
// it. A delivery failure is returned as an EscalationError.
func (d *NotificationDispatcher) DispatchEscalation(ctx context.Context, t *ticket.Ticket) error {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("escalation:"+t.ID)).String()

	n, err := d.repo.GetByID(ctx, id)
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		return apperrors.Escalation(t.ID, err)
	}
	if n == nil {
		priority := max(1, t.Priority-1)
		reason := t.EscalationReason
		if reason == "" {
			reason = "SLA deadline missed"
		}
		n = &notification.ThreatNotification{
			ID:             id,
			Kind:           notification.KindEscalation,
			IndicatorID:    t.IndicatorID,
			TicketID:       t.ID,
			Title:          "ESCALATION " + t.Title,
			Message:        fmt.Sprintf("%s: ticket %s was due %s and is still %s", reason, t.ID, t.SLADeadline.Format(time.RFC3339), t.Status),
			Severity:       notification.SeverityForPriority(priority),
			Category:       t.Category,
			Priority:       priority,
			Status:         notification.StatusPending,
			ActionRequired: true,
			CreatedAt:      d.now(),
		}
		if err := d.repo.Create(ctx, n); err != nil {
			return apperrors.Escalation(t.ID, err)
		}
		metrics.RecordNotification(string(n.Kind), string(n.Severity))
	}

	if d.supervisors != nil {
		if err := d.supervisors.Push(ctx, n); err != nil {
			metrics.RecordSinkFailure(d.supervisors.Name())
			return apperrors.Escalation(t.ID, err)
		}
	}
	if err := d.repo.UpdateStatus(ctx, n.ID, notification.StatusDispatched); err != nil {
		return apperrors.Escalation(t.ID, err)
	}
	return nil
}

// Get retrieves a notification by ID
func (d *NotificationDispatcher) Get(ctx context.Context, id string) (*notification.ThreatNotification, error) {
	return d.repo.GetByID(ctx, id)
}

// List retrieves notifications with pagination
func (d *NotificationDispatcher) List(ctx context.Context, filter notification.Filter, limit, offset int) ([]*notification.ThreatNotification, int64, error) {
	return d.repo.List(ctx, filter, limit, offset)
}

// Acknowledge marks a notification acknowledged. Acknowledging twice is a no-op.
func (d *NotificationDispatcher) Acknowledge(ctx context.Context, id string, by string) (*notification.ThreatNotification, error) {
	if strings.TrimSpace(by) == "" {
		return nil, apperrors.BadRequest("acknowledged_by is required")
	}

	n, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Acknowledged {
		return n, nil
	}

	now := d.now()
	n.AcknowledgedBy = by
	n.AcknowledgedAt = &now
	if err := d.repo.Acknowledge(ctx, n); err != nil {
		return nil, err
	}

	d.logger.WithFields(map[string]interface{}{
		"notification_id": id,
		"by":              by,
	}).Info("Notification acknowledged")
	return n, nil
}

func (d *NotificationDispatcher) openTicket(ctx context.Context, n *notification.ThreatNotification) error {
	t, err := d.tickets.Open(ctx, &ticket.Ticket{
		NotificationID: n.ID,
		IndicatorID:    n.IndicatorID,
		Title:          n.Title,
		Category:       n.Category,
		Priority:       n.Priority,
	})
	if err != nil {
		return apperrors.Persistence("failed to open ticket for notification "+n.ID, err)
	}
	if err := d.repo.AttachTicket(ctx, n.ID, t.ID); err != nil {
		return apperrors.Persistence("failed to link ticket to notification "+n.ID, err)
	}
	n.TicketID = t.ID
	return nil
}

// push delivers to a sink without failing the caller; the stored record is authoritative
func (d *NotificationDispatcher) push(ctx context.Context, sink notification.Sink, n *notification.ThreatNotification) {
	if sink == nil {
		return
	}
	if err := sink.Push(ctx, n); err != nil {
		metrics.RecordSinkFailure(sink.Name())
		d.logger.WithFields(map[string]interface{}{
			"notification_id": n.ID,
			"sink":            sink.Name(),
		}).WarnWithErr(err, "Sink delivery failed")
	}
}

func threatMessage(ind *indicator.Indicator, priority int) string {
	msg := fmt.Sprintf("%s %s has reputation %d from %d source(s), priority %d.",
		ind.Type, ind.Value, ind.Reputation, len(ind.Sources), priority)
	if len(ind.Campaigns) > 0 {
		msg += " Campaigns: " + strings.Join(ind.Campaigns, ", ") + "."
	}
	return msg
}

var _ notification.Service = (*NotificationDispatcher)(nil)
