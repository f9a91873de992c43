package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
)

func newTestNotification(indicatorID string, kind notification.Kind) *notification.ThreatNotification {
	return &notification.ThreatNotification{
		Kind:           kind,
		IndicatorID:    indicatorID,
		IndicatorKey:   "ip:1.2.3.4",
		Title:          "Malicious ip 1.2.3.4",
		Severity:       notification.SeverityCritical,
		Category:       "ioc",
		Priority:       1,
		Reputation:     -7,
		Sources:        []string{"src-a", "src-b"},
		ActionRequired: true,
	}
}

func TestNotificationRepository_OpenUniqueness(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewNotificationRepository(db)
	ctx := context.Background()

	first := newTestNotification("ind-1", notification.KindThreat)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := newTestNotification("ind-1", notification.KindThreat)
	if err := repo.Create(ctx, dup); !apperrors.HasCode(err, apperrors.ErrCodeConflict) {
		t.Errorf("Create() duplicate open error = %v, want CONFLICT", err)
	}

	// escalations are not subject to the open-threat index
	if err := repo.Create(ctx, newTestNotification("ind-1", notification.KindEscalation)); err != nil {
		t.Errorf("Create() escalation error = %v", err)
	}

	open, err := repo.FindOpenByIndicator(ctx, "ind-1")
	if err != nil || open == nil || open.ID != first.ID {
		t.Fatalf("FindOpenByIndicator() = %v, %v; want %s", open, err, first.ID)
	}
	if open.Status != notification.StatusPending || len(open.Sources) != 2 {
		t.Errorf("FindOpenByIndicator() = %+v", open)
	}

	at := time.Now().UTC()
	open.AcknowledgedBy = "analyst"
	open.AcknowledgedAt = &at
	if err := repo.Acknowledge(ctx, open); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	none, err := repo.FindOpenByIndicator(ctx, "ind-1")
	if err != nil || none != nil {
		t.Errorf("FindOpenByIndicator() after ack = %v, %v; want nil", none, err)
	}

	// a new crossing after acknowledgment is allowed
	if err := repo.Create(ctx, newTestNotification("ind-1", notification.KindThreat)); err != nil {
		t.Errorf("Create() after ack error = %v", err)
	}
}

func TestNotificationRepository_StatusAndList(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewNotificationRepository(db)
	ctx := context.Background()

	a := newTestNotification("ind-1", notification.KindThreat)
	b := newTestNotification("ind-2", notification.KindThreat)
	b.Severity = notification.SeverityHigh
	for _, n := range []*notification.ThreatNotification{a, b} {
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if err := repo.UpdateStatus(ctx, a.ID, notification.StatusDispatched); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.AttachTicket(ctx, a.ID, "tkt-1"); err != nil {
		t.Fatalf("AttachTicket() error = %v", err)
	}
	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != notification.StatusDispatched || got.TicketID != "tkt-1" {
		t.Errorf("GetByID() = status %s ticket %q", got.Status, got.TicketID)
	}

	if err := repo.UpdateStatus(ctx, "missing", notification.StatusDispatched); !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("UpdateStatus() missing error = %v", err)
	}

	tests := []struct {
		name   string
		filter notification.Filter
		want   int64
	}{
		{"all", notification.Filter{}, 2},
		{"by severity", notification.Filter{Severity: notification.SeverityHigh}, 1},
		{"by indicator", notification.Filter{IndicatorID: "ind-1"}, 1},
		{"by kind", notification.Filter{Kind: notification.KindEscalation}, 0},
		{"unacknowledged", notification.Filter{UnacknowledgedOnly: true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := repo.List(ctx, tt.filter, 10, 0)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if total != tt.want || int64(len(list)) != tt.want {
				t.Errorf("List() = %d/%d, want %d", len(list), total, tt.want)
			}
		})
	}
}
