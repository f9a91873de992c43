package services

import (
	"context"
	"sync"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/feeds"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
)

var testEpoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// pipeline wires the pipeline components over in-memory repositories
type pipeline struct {
	indicators    *testutil.MockIndicatorRepository
	pulses        *testutil.MockPulseRepository
	notifications *testutil.MockNotificationRepository
	tickets       *testutil.MockTicketRepository
	sink          *testutil.MockSink
	supervisors   *testutil.MockSink
	engine        *CorrelationEngine
	scorer        *PriorityScorer
	ticketService *TicketService
	dispatcher    *NotificationDispatcher
}

func newPipeline(now time.Time) *pipeline {
	cfg := config.DefaultIntel()
	log := testLogger()

	p := &pipeline{
		indicators:    testutil.NewMockIndicatorRepository(),
		pulses:        testutil.NewMockPulseRepository(),
		notifications: testutil.NewMockNotificationRepository(),
		tickets:       testutil.NewMockTicketRepository(),
		sink:          testutil.NewMockSink("ui"),
		supervisors:   testutil.NewMockSink("supervisors"),
	}
	p.engine = NewCorrelationEngine(p.indicators, p.pulses, cfg.StrongReputation, log)
	p.engine.now = fixedClock(now)
	p.scorer = NewPriorityScorer(cfg)
	p.ticketService = NewTicketService(p.tickets, cfg.SLA, log)
	p.ticketService.now = fixedClock(now)
	p.dispatcher = NewNotificationDispatcher(p.notifications, p.ticketService, p.scorer, p.sink, p.supervisors, DispatcherConfigFrom(cfg), log)
	p.dispatcher.now = fixedClock(now)
	return p
}

func testSource(id string, weight float64) *source.Source {
	return &source.Source{
		ID:           id,
		Name:         id,
		Provider:     "fake",
		FeedType:     source.FeedTypeIOC,
		PollInterval: 5 * time.Minute,
		TrustWeight:  weight,
		Enabled:      true,
		Health:       source.HealthHealthy,
	}
}

func ipObservation(value string, reputation int, seen time.Time) indicator.Observation {
	return indicator.Observation{
		Type:       indicator.TypeIP,
		Value:      value,
		Reputation: reputation,
		Category:   indicator.CategoryIOC,
		FirstSeen:  seen,
		LastSeen:   seen,
	}
}

// fakeAdapter serves canned records and normalizes them with a function
type fakeAdapter struct {
	mu        sync.Mutex
	name      string
	records   []feeds.RawRecord
	fetchErr  error
	details   map[string]feeds.RawRecord
	normalize func(feeds.RawRecord) (feeds.Normalized, error)
	fetches   int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchLatest(ctx context.Context, limit int) ([]feeds.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.records, nil
}

func (f *fakeAdapter) SearchByQuery(ctx context.Context, query string) ([]feeds.RawRecord, error) {
	return f.records, nil
}

func (f *fakeAdapter) GetDetails(ctx context.Context, value string, kind indicator.Type) (feeds.RawRecord, error) {
	rec, ok := f.details[value]
	if !ok {
		return feeds.RawRecord{}, feeds.ErrNotFound
	}
	return rec, nil
}

func (f *fakeAdapter) Normalize(raw feeds.RawRecord) (feeds.Normalized, error) {
	return f.normalize(raw)
}

type staticAdapters map[string]feeds.Adapter

func (s staticAdapters) For(src *source.Source) (feeds.Adapter, error) {
	a, ok := s[src.ID]
	if !ok {
		return nil, feeds.ErrNotFound
	}
	return a, nil
}
