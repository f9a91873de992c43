package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/threatwatch/internal/api/handlers"
	"github.com/pratik-mahalle/threatwatch/internal/api/middleware"
	"github.com/pratik-mahalle/threatwatch/internal/api/router"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
)

func newServeCmd() *cobra.Command {
	var (
		noScheduler bool
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, poll scheduler and SLA tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if err := loadConfiguredSources(ctx, a); err != nil {
				return err
			}
			if watch && viper.ConfigFileUsed() != "" {
				var reloadMu sync.Mutex
				viper.OnConfigChange(func(e fsnotify.Event) {
					reloadMu.Lock()
					defer reloadMu.Unlock()
					if err := loadConfiguredSources(ctx, a); err != nil {
						log.WithFields(map[string]interface{}{"file": e.Name}).ErrorWithErr(err, "Failed to reload sources")
					}
				})
				viper.WatchConfig()
			}

			tracker, err := a.newSLATracker()
			if err != nil {
				return err
			}

			limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
			val := validator.New()
			h := router.New(cfg.Server, log, limiter, &router.Handlers{
				Health:       handlers.NewHealthHandler(a.db, a.scheduler, log),
				Source:       handlers.NewSourceHandler(a.registry, a.scheduler, a.ingestion, a.feeds, a.scorer, log, val),
				Indicator:    handlers.NewIndicatorHandler(a.indicators, a.pulses, a.scorer, log),
				Notification: handlers.NewNotificationHandler(a.dispatcher, log, val),
				Ticket:       handlers.NewTicketHandler(a.ticketSvc, log, val),
			})

			srv := &http.Server{
				Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
				Handler:      h,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  2 * cfg.Server.ReadTimeout,
			}

			var wg sync.WaitGroup
			run := func(name string, fn func(context.Context) error) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := fn(ctx); err != nil {
						log.WithFields(map[string]interface{}{"component": name}).ErrorWithErr(err, "Background component stopped")
						stop()
					}
				}()
			}

			run("rate-limiter", func(ctx context.Context) error {
				limiter.Run(ctx, time.Minute)
				return nil
			})
			if !noScheduler {
				run("poll-scheduler", a.scheduler.Start)
			}
			run("sla-tracker", tracker.Start)

			serveErr := make(chan error, 1)
			go func() {
				log.WithFields(map[string]interface{}{"addr": srv.Addr}).Info("Starting API server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err = <-serveErr:
				stop()
			}

			log.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.ErrorWithErr(serr, "Server shutdown failed")
			}
			wg.Wait()
			log.Info("Stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without polling sources")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-apply the config file's sources list when the file changes")
	return cmd
}

// loadConfiguredSources registers or updates the sources listed in the config
// file. The scheduler picks new ones up on its next refresh.
func loadConfiguredSources(ctx context.Context, a *app) error {
	var specs []sourceSpec
	if err := viper.UnmarshalKey("sources", &specs); err != nil {
		return fmt.Errorf("invalid sources in config file: %w", err)
	}
	if len(specs) == 0 {
		return nil
	}
	res, err := applySources(ctx, a, specs)
	if err != nil {
		return err
	}
	a.log.WithFields(map[string]interface{}{
		"created":   res.Created,
		"updated":   res.Updated,
		"unchanged": res.Unchanged,
	}).Info("Sources loaded from config file")
	return nil
}
