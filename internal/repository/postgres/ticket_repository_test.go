package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
)

func newTestTicket(deadline time.Time) *ticket.Ticket {
	return &ticket.Ticket{
		NotificationID: "ntf-1",
		IndicatorID:    "ind-1",
		Title:          "Malicious ip 1.2.3.4",
		Category:       "ioc",
		Priority:       1,
		SLADeadline:    deadline,
	}
}

func TestTicketRepository_CreateAndUpdate(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewTicketRepository(db)
	ctx := context.Background()

	deadline := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tk := newTestTicket(deadline)
	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != ticket.StatusOpen || !got.SLADeadline.Equal(deadline) || got.EscalatedAt != nil {
		t.Errorf("GetByID() = %+v", got)
	}

	status := ticket.StatusInProgress
	responded := deadline.Add(-time.Hour)
	if err := repo.Update(ctx, tk.ID, ticket.Changes{Status: &status, FirstResponseAt: &responded}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, tk.ID)
	if got.Status != ticket.StatusInProgress || got.FirstResponseAt == nil || !got.FirstResponseAt.Equal(responded) {
		t.Errorf("Update() not applied: %+v", got)
	}
	if !got.SLADeadline.Equal(deadline) {
		t.Errorf("Update() changed the deadline: %v", got.SLADeadline)
	}

	if err := repo.Update(ctx, "missing", ticket.Changes{Status: &status}); !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("Update() missing error = %v", err)
	}
}

func TestTicketRepository_MarkEscalatedOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewTicketRepository(db)
	ctx := context.Background()

	tk := newTestTicket(time.Now().UTC().Add(-time.Minute))
	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActive() = %v, %v", active, err)
	}

	var wg sync.WaitGroup
	results := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkEscalated(ctx, tk.ID, time.Now().UTC(), "sla breached")
			if err != nil {
				t.Errorf("MarkEscalated() error = %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	transitions := 0
	for ok := range results {
		if ok {
			transitions++
		}
	}
	if transitions != 1 {
		t.Errorf("MarkEscalated() transitioned %d times, want 1", transitions)
	}

	active, _ = repo.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("ListActive() after escalation = %d, want 0", len(active))
	}

	pending, err := repo.ListUnnotifiedEscalations(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListUnnotifiedEscalations() = %v, %v", pending, err)
	}
	if err := repo.MarkEscalationNotified(ctx, tk.ID); err != nil {
		t.Fatalf("MarkEscalationNotified() error = %v", err)
	}
	pending, _ = repo.ListUnnotifiedEscalations(ctx)
	if len(pending) != 0 {
		t.Errorf("ListUnnotifiedEscalations() after notify = %d, want 0", len(pending))
	}
}

func TestTicketRepository_MarkEscalatedSkipsTerminal(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewTicketRepository(db)
	ctx := context.Background()

	tk := newTestTicket(time.Now().UTC().Add(-time.Hour))
	tk.Status = ticket.StatusResolved
	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ok, err := repo.MarkEscalated(ctx, tk.ID, time.Now().UTC(), "sla breached")
	if err != nil || ok {
		t.Errorf("MarkEscalated() on resolved ticket = %v, %v; want false, nil", ok, err)
	}
}

func TestTicketRepository_List(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewTicketRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, newTestTicket(time.Now().UTC().Add(time.Hour))); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, total, err := repo.List(ctx, ticket.Filter{Status: ticket.StatusOpen}, 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 || len(list) != 2 {
		t.Errorf("List() = %d of %d, want 2 of 3", len(list), total)
	}

	escalated := true
	_, total, _ = repo.List(ctx, ticket.Filter{Escalated: &escalated}, 10, 0)
	if total != 0 {
		t.Errorf("List(escalated) total = %d, want 0", total)
	}
}
