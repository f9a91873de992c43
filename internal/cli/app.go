package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/feeds"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/repository/postgres"
	"github.com/pratik-mahalle/threatwatch/internal/services"
	"github.com/pratik-mahalle/threatwatch/internal/sink"
	"github.com/pratik-mahalle/threatwatch/internal/worker"
	"github.com/pratik-mahalle/threatwatch/migrations"
)

// app is the wired pipeline shared by every command that touches the store
type app struct {
	cfg *config.Config
	log *logger.Logger
	db  *sql.DB

	sources    *postgres.SourceRepository
	indicators *postgres.IndicatorRepository
	pulses     *postgres.PulseRepository
	tickets    *postgres.TicketRepository

	feeds      *feeds.Registry
	registry   *services.SourceService
	scorer     *services.PriorityScorer
	ticketSvc  *services.TicketService
	dispatcher *services.NotificationDispatcher
	ingestion  *services.IngestionService
	scheduler  *worker.PollScheduler
	sinks      *sink.Chains
}

// openApp connects to the database, applies pending migrations and wires the
// services. Callers must call close.
func openApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := postgres.New(cfg.Database)
	if err != nil {
		return nil, err
	}
	if _, err := postgres.RunMigrations(db, migrations.GetFS()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	chains, err := sink.Build(ctx, cfg.Sinks, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up notification sinks: %w", err)
	}

	a := &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		sources:    postgres.NewSourceRepository(db),
		indicators: postgres.NewIndicatorRepository(db),
		pulses:     postgres.NewPulseRepository(db),
		tickets:    postgres.NewTicketRepository(db),
		sinks:      chains,
	}

	a.feeds = feeds.NewRegistry(feeds.OptionsFromConfig(cfg.Feeds, log))
	a.registry = services.NewSourceService(a.sources, cfg.Intel.FailureThreshold, log)
	a.scorer = services.NewPriorityScorer(cfg.Intel)
	a.ticketSvc = services.NewTicketService(a.tickets, cfg.Intel.SLA, log)
	a.dispatcher = services.NewNotificationDispatcher(
		postgres.NewNotificationRepository(db),
		a.ticketSvc,
		a.scorer,
		chains.Analyst,
		chains.Supervisors,
		services.DispatcherConfigFrom(cfg.Intel),
		log,
	)
	engine := services.NewCorrelationEngine(a.indicators, a.pulses, cfg.Intel.StrongReputation, log)
	a.ingestion = services.NewIngestionService(a.feeds, engine, a.dispatcher, cfg.Intel.FetchLimit, log)
	a.scheduler = worker.NewPollScheduler(a.registry, a.ingestion, worker.SchedulerConfigFrom(cfg.Intel), log)

	return a, nil
}

func (a *app) newSLATracker() (*worker.SLATracker, error) {
	return worker.NewSLATracker(a.tickets, a.dispatcher, a.cfg.Intel.SLATrackerSpec, a.log)
}

func (a *app) close() {
	if err := a.sinks.Close(); err != nil {
		a.log.WarnWithErr(err, "Failed to close sinks")
	}
	if err := a.db.Close(); err != nil {
		a.log.WarnWithErr(err, "Failed to close database")
	}
}
