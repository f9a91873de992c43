package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

// MockSourceRepository is an in-memory source.Repository
type MockSourceRepository struct {
	mu                sync.Mutex
	Sources           map[string]*source.Source
	NextID            int
	CreateError       error
	GetError          error
	UpdateHealthError error
}

func NewMockSourceRepository() *MockSourceRepository {
	return &MockSourceRepository{
		Sources: make(map[string]*source.Source),
		NextID:  1,
	}
}

func (m *MockSourceRepository) Create(ctx context.Context, s *source.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return m.CreateError
	}
	for _, existing := range m.Sources {
		if existing.Name == s.Name {
			return apperrors.Conflict(fmt.Sprintf("source %q already exists", s.Name))
		}
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("src-%d", m.NextID)
		m.NextID++
	}
	if s.Health == "" {
		s.Health = source.HealthHealthy
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.Sources[s.ID] = &cp
	return nil
}

func (m *MockSourceRepository) GetByID(ctx context.Context, id string) (*source.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	s, ok := m.Sources[id]
	if !ok {
		return nil, apperrors.NotFound("source")
	}
	cp := *s
	return &cp, nil
}

func (m *MockSourceRepository) GetByName(ctx context.Context, name string) (*source.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sources {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("source")
}

func (m *MockSourceRepository) List(ctx context.Context, filter source.Filter) ([]*source.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*source.Source
	for _, s := range m.Sources {
		if filter.EnabledOnly && !s.Enabled {
			continue
		}
		if filter.Provider != "" && s.Provider != filter.Provider {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockSourceRepository) Update(ctx context.Context, s *source.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Sources[s.ID]
	if !ok {
		return apperrors.NotFound("source")
	}
	cp := *s
	cp.Health = existing.Health
	cp.FailureCount = existing.FailureCount
	cp.LastError = existing.LastError
	cp.LastSuccessAt = existing.LastSuccessAt
	cp.UpdatedAt = time.Now().UTC()
	m.Sources[s.ID] = &cp
	return nil
}

func (m *MockSourceRepository) UpdateHealth(ctx context.Context, id string, update source.HealthUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateHealthError != nil {
		return m.UpdateHealthError
	}
	s, ok := m.Sources[id]
	if !ok {
		return apperrors.NotFound("source")
	}
	s.Health = update.Health
	s.FailureCount = update.FailureCount
	s.LastError = update.LastError
	if update.LastSuccessAt != nil {
		t := *update.LastSuccessAt
		s.LastSuccessAt = &t
	}
	return nil
}

func (m *MockSourceRepository) RecordFailure(ctx context.Context, id string, reason string, threshold int) (source.HealthUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateHealthError != nil {
		return source.HealthUpdate{}, m.UpdateHealthError
	}
	s, ok := m.Sources[id]
	if !ok {
		return source.HealthUpdate{}, apperrors.NotFound("source")
	}
	s.FailureCount++
	s.LastError = reason
	if s.Health == source.HealthFailed || s.FailureCount >= threshold {
		s.Health = source.HealthFailed
	} else {
		s.Health = source.HealthDegraded
	}
	return source.HealthUpdate{Health: s.Health, FailureCount: s.FailureCount, LastError: s.LastError}, nil
}

func (m *MockSourceRepository) RecordSuccess(ctx context.Context, id string, at time.Time) (source.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateHealthError != nil {
		return "", m.UpdateHealthError
	}
	s, ok := m.Sources[id]
	if !ok {
		return "", apperrors.NotFound("source")
	}
	if s.Health == source.HealthFailed {
		return s.Health, nil
	}
	s.Health = source.HealthHealthy
	s.FailureCount = 0
	s.LastError = ""
	t := at
	s.LastSuccessAt = &t
	return s.Health, nil
}

// MockIndicatorRepository is an in-memory indicator.Repository. Stored values
// are deep copies so tests observe only what Upsert wrote.
type MockIndicatorRepository struct {
	mu          sync.Mutex
	Indicators  map[indicator.Key]*indicator.Indicator
	NextID      int
	UpsertError error
	Upserts     int
}

func NewMockIndicatorRepository() *MockIndicatorRepository {
	return &MockIndicatorRepository{
		Indicators: make(map[indicator.Key]*indicator.Indicator),
		NextID:     1,
	}
}

func (m *MockIndicatorRepository) GetByKey(ctx context.Context, key indicator.Key) (*indicator.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ind, ok := m.Indicators[key]
	if !ok {
		return nil, nil
	}
	return copyIndicator(ind), nil
}

func (m *MockIndicatorRepository) GetByID(ctx context.Context, id string) (*indicator.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ind := range m.Indicators {
		if ind.ID == id {
			return copyIndicator(ind), nil
		}
	}
	return nil, apperrors.NotFound("indicator")
}

func (m *MockIndicatorRepository) Upsert(ctx context.Context, ind *indicator.Indicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertError != nil {
		return m.UpsertError
	}
	if existing, ok := m.Indicators[ind.Key()]; ok {
		ind.ID = existing.ID
		ind.CreatedAt = existing.CreatedAt
	} else {
		if ind.ID == "" {
			ind.ID = fmt.Sprintf("ind-%d", m.NextID)
			m.NextID++
		}
		ind.CreatedAt = time.Now().UTC()
	}
	ind.UpdatedAt = time.Now().UTC()
	m.Indicators[ind.Key()] = copyIndicator(ind)
	m.Upserts++
	return nil
}

func (m *MockIndicatorRepository) List(ctx context.Context, filter indicator.Filter, limit, offset int) ([]*indicator.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*indicator.Indicator
	for _, ind := range m.Indicators {
		if filter.Type != "" && ind.Type != filter.Type {
			continue
		}
		if filter.MaxReputation != nil && ind.Reputation > *filter.MaxReputation {
			continue
		}
		out = append(out, copyIndicator(ind))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockIndicatorRepository) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Indicators)), nil
}

func copyIndicator(ind *indicator.Indicator) *indicator.Indicator {
	cp := *ind
	cp.Sources = append([]string(nil), ind.Sources...)
	cp.Campaigns = append([]string(nil), ind.Campaigns...)
	cp.Tags = append([]string(nil), ind.Tags...)
	if ind.Sightings != nil {
		cp.Sightings = make(map[string]indicator.Sighting, len(ind.Sightings))
		for k, v := range ind.Sightings {
			cp.Sightings[k] = v
		}
	}
	return &cp
}

// MockPulseRepository is an in-memory indicator.PulseRepository
type MockPulseRepository struct {
	mu     sync.Mutex
	Pulses map[string]*indicator.Pulse
}

func NewMockPulseRepository() *MockPulseRepository {
	return &MockPulseRepository{Pulses: make(map[string]*indicator.Pulse)}
}

func (m *MockPulseRepository) Upsert(ctx context.Context, p *indicator.Pulse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.SourceID + "/" + p.ExternalID
	if existing, ok := m.Pulses[key]; ok {
		p.ID = existing.ID
	} else if p.ID == "" {
		p.ID = fmt.Sprintf("pulse-%d", len(m.Pulses)+1)
	}
	cp := *p
	m.Pulses[key] = &cp
	return nil
}

func (m *MockPulseRepository) ListBySource(ctx context.Context, sourceID string, limit int) ([]*indicator.Pulse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*indicator.Pulse
	for _, p := range m.Pulses {
		if p.SourceID == sourceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MockNotificationRepository is an in-memory notification.Repository
type MockNotificationRepository struct {
	mu            sync.Mutex
	Notifications map[string]*notification.ThreatNotification
	NextID        int
	CreateError   error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		Notifications: make(map[string]*notification.ThreatNotification),
		NextID:        1,
	}
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *notification.ThreatNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return m.CreateError
	}
	if n.Kind == notification.KindThreat {
		for _, existing := range m.Notifications {
			if existing.IndicatorID == n.IndicatorID && existing.Kind == notification.KindThreat && !existing.Acknowledged {
				return apperrors.Conflict("an open notification already exists for indicator " + n.IndicatorID)
			}
		}
	}
	if n.ID == "" {
		n.ID = fmt.Sprintf("ntf-%d", m.NextID)
		m.NextID++
	}
	if n.Status == "" {
		n.Status = notification.StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.UpdatedAt = n.CreatedAt
	cp := *n
	m.Notifications[n.ID] = &cp
	return nil
}

func (m *MockNotificationRepository) GetByID(ctx context.Context, id string) (*notification.ThreatNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.Notifications[id]
	if !ok {
		return nil, apperrors.NotFound("notification")
	}
	cp := *n
	return &cp, nil
}

func (m *MockNotificationRepository) FindOpenByIndicator(ctx context.Context, indicatorID string) (*notification.ThreatNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.Notifications {
		if n.IndicatorID == indicatorID && n.Kind == notification.KindThreat && !n.Acknowledged {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockNotificationRepository) UpdateStatus(ctx context.Context, id string, status notification.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.Notifications[id]
	if !ok {
		return apperrors.NotFound("notification")
	}
	n.Status = status
	return nil
}

func (m *MockNotificationRepository) AttachTicket(ctx context.Context, id string, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.Notifications[id]
	if !ok {
		return apperrors.NotFound("notification")
	}
	n.TicketID = ticketID
	return nil
}

func (m *MockNotificationRepository) Acknowledge(ctx context.Context, n *notification.ThreatNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.Notifications[n.ID]
	if !ok {
		return apperrors.NotFound("notification")
	}
	stored.Acknowledged = true
	stored.Read = true
	stored.Status = notification.StatusAcknowledged
	stored.AcknowledgedBy = n.AcknowledgedBy
	stored.AcknowledgedAt = n.AcknowledgedAt
	n.Acknowledged = true
	n.Read = true
	n.Status = notification.StatusAcknowledged
	return nil
}

func (m *MockNotificationRepository) List(ctx context.Context, filter notification.Filter, limit, offset int) ([]*notification.ThreatNotification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.ThreatNotification
	for _, n := range m.Notifications {
		if filter.Kind != "" && n.Kind != filter.Kind {
			continue
		}
		if filter.IndicatorID != "" && n.IndicatorID != filter.IndicatorID {
			continue
		}
		if filter.Severity != "" && n.Severity != filter.Severity {
			continue
		}
		if filter.UnacknowledgedOnly && n.Acknowledged {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

// CountByKind returns how many notifications of a kind are stored
func (m *MockNotificationRepository) CountByKind(kind notification.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.Notifications {
		if n.Kind == kind {
			count++
		}
	}
	return count
}

// MockTicketRepository is an in-memory ticket.Repository that honors the
// escalation guard.
type MockTicketRepository struct {
	mu          sync.Mutex
	Tickets     map[string]*ticket.Ticket
	NextID      int
	CreateError error
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{
		Tickets: make(map[string]*ticket.Ticket),
		NextID:  1,
	}
}

func (m *MockTicketRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return m.CreateError
	}
	if t.ID == "" {
		t.ID = fmt.Sprintf("tkt-%d", m.NextID)
		m.NextID++
	}
	if t.Status == "" {
		t.Status = ticket.StatusOpen
	}
	cp := *t
	m.Tickets[t.ID] = &cp
	return nil
}

func (m *MockTicketRepository) GetByID(ctx context.Context, id string) (*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickets[id]
	if !ok {
		return nil, apperrors.NotFound("ticket")
	}
	cp := *t
	return &cp, nil
}

func (m *MockTicketRepository) Update(ctx context.Context, id string, changes ticket.Changes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickets[id]
	if !ok {
		return apperrors.NotFound("ticket")
	}
	if changes.Status != nil {
		t.Status = *changes.Status
	}
	if changes.Priority != nil {
		t.Priority = *changes.Priority
	}
	if changes.SLADeadline != nil {
		t.SLADeadline = *changes.SLADeadline
	}
	if changes.FirstResponseAt != nil {
		ts := *changes.FirstResponseAt
		t.FirstResponseAt = &ts
	}
	return nil
}

func (m *MockTicketRepository) List(ctx context.Context, filter ticket.Filter, limit, offset int) ([]*ticket.Ticket, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ticket.Ticket
	for _, t := range m.Tickets {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Escalated != nil && t.Escalated != *filter.Escalated {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *MockTicketRepository) ListActive(ctx context.Context) ([]*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ticket.Ticket
	for _, t := range m.Tickets {
		if !t.Status.IsTerminal() && t.EscalatedAt == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLADeadline.Before(out[j].SLADeadline) })
	return out, nil
}

func (m *MockTicketRepository) MarkEscalated(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickets[id]
	if !ok || t.EscalatedAt != nil || t.Status.IsTerminal() {
		return false, nil
	}
	ts := at
	t.Escalated = true
	t.EscalatedAt = &ts
	t.EscalationReason = reason
	return true, nil
}

func (m *MockTicketRepository) ListUnnotifiedEscalations(ctx context.Context) ([]*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ticket.Ticket
	for _, t := range m.Tickets {
		if t.Escalated && !t.EscalationNotified {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockTicketRepository) MarkEscalationNotified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickets[id]
	if !ok {
		return apperrors.NotFound("ticket")
	}
	t.EscalationNotified = true
	return nil
}

// MockSink records pushed notifications and can be told to fail
type MockSink struct {
	mu        sync.Mutex
	SinkName  string
	Pushed    []*notification.ThreatNotification
	PushError error
}

func NewMockSink(name string) *MockSink {
	return &MockSink{SinkName: name}
}

func (m *MockSink) Name() string {
	return m.SinkName
}

func (m *MockSink) Push(ctx context.Context, n *notification.ThreatNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushError != nil {
		return m.PushError
	}
	cp := *n
	m.Pushed = append(m.Pushed, &cp)
	return nil
}

// Count returns the number of successful pushes
func (m *MockSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Pushed)
}

// SetError changes the error returned by later pushes
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PushError = err
}
