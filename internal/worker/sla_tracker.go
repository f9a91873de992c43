package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// escalationReason is recorded on tickets that miss their deadline
const escalationReason = "SLA deadline missed"

// Escalator delivers the supervisory notification for an escalated ticket
type Escalator interface {
	DispatchEscalation(ctx context.Context, t *ticket.Ticket) error
}

// TickResult summarizes one tracker pass
type TickResult struct {
	Escalated int `json:"escalated"`
	Notified  int `json:"notified"`
	Failed    int `json:"failed"`
}

// SLATracker escalates tickets whose SLA deadline passed without resolution.
// It is the only writer of a ticket's escalation fields.
type SLATracker struct {
	repo      ticket.Repository
	escalator Escalator
	spec      string
	logger    *logger.Logger
	now       func() time.Time

	scheduler *cron.Cron
	tickMu    sync.Mutex
}

// NewSLATracker creates a tracker that runs on the given cron spec
// (for example "@every 1m").
func NewSLATracker(repo ticket.Repository, escalator Escalator, spec string, log *logger.Logger) (*SLATracker, error) {
	if spec == "" {
		spec = "@every 1m"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid SLA tracker schedule: %w", err)
	}
	return &SLATracker{
		repo:      repo,
		escalator: escalator,
		spec:      spec,
		logger:    log.WithComponent("sla-tracker"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start runs the tracker on its schedule until ctx is cancelled
func (t *SLATracker) Start(ctx context.Context) error {
	t.scheduler = cron.New()
	if _, err := t.scheduler.AddFunc(t.spec, func() {
		if _, err := t.Tick(ctx); err != nil {
			t.logger.ErrorWithErr(err, "SLA tracker tick failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule SLA tracker: %w", err)
	}

	t.logger.WithFields(map[string]interface{}{"schedule": t.spec}).Info("Starting SLA tracker")
	t.scheduler.Start()

	<-ctx.Done()
	<-t.scheduler.Stop().Done()
	t.logger.Info("SLA tracker stopped")
	return nil
}

// Tick escalates every overdue ticket once, then delivers escalation
// notifications that are still outstanding, including ones that failed on an
// earlier tick.
func (t *SLATracker) Tick(ctx context.Context) (TickResult, error) {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	var result TickResult
	now := t.now()

	active, err := t.repo.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list active tickets: %w", err)
	}

	for _, tk := range active {
		if !tk.Overdue(now) {
			continue
		}
		ok, err := t.repo.MarkEscalated(ctx, tk.ID, now, escalationReason)
		if err != nil {
			t.logger.WithFields(map[string]interface{}{"ticket_id": tk.ID}).ErrorWithErr(err, "Failed to escalate ticket")
			continue
		}
		if !ok {
			// resolved or escalated concurrently
			continue
		}
		result.Escalated++
		metrics.RecordEscalation("escalated")
		t.logger.WithFields(map[string]interface{}{
			"ticket_id":    tk.ID,
			"priority":     tk.Priority,
			"sla_deadline": tk.SLADeadline,
		}).Warn("Ticket escalated")
	}

	pending, err := t.repo.ListUnnotifiedEscalations(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list pending escalations: %w", err)
	}

	for _, tk := range pending {
		log := t.logger.WithFields(map[string]interface{}{"ticket_id": tk.ID})
		if err := t.escalator.DispatchEscalation(ctx, tk); err != nil {
			result.Failed++
			metrics.RecordEscalation("failed")
			log.ErrorWithErr(err, "Escalation delivery failed, will retry")
			continue
		}
		if err := t.repo.MarkEscalationNotified(ctx, tk.ID); err != nil {
			result.Failed++
			log.ErrorWithErr(err, "Failed to record escalation delivery")
			continue
		}
		result.Notified++
		metrics.RecordEscalation("notified")
	}

	if result.Escalated+result.Notified+result.Failed > 0 {
		t.logger.WithFields(map[string]interface{}{
			"escalated": result.Escalated,
			"notified":  result.Notified,
			"failed":    result.Failed,
		}).Info("SLA tracker pass completed")
	}
	return result, nil
}
