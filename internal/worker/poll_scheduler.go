package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/services"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// maxPoolSize bounds the default worker pool
const maxPoolSize = 8

// Poller runs one source's fetch-to-dispatch pipeline
type Poller interface {
	Poll(ctx context.Context, src *source.Source) (services.PollResult, error)
}

// SchedulerConfig tunes the poll scheduler
type SchedulerConfig struct {
	// PoolSize of 0 means min(number of sources, 8)
	PoolSize        int
	PollTimeout     time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RefreshInterval time.Duration
}

// SchedulerConfigFrom extracts scheduler settings from the intel configuration
func SchedulerConfigFrom(cfg config.IntelConfig) SchedulerConfig {
	return SchedulerConfig{
		PoolSize:        cfg.WorkerPoolSize,
		PollTimeout:     cfg.PollTimeout,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		RefreshInterval: cfg.RefreshInterval,
	}
}

// PollScheduler polls every schedulable source on its interval with a bounded
// worker pool fed from a queue ordered by next due time.
type PollScheduler struct {
	registry source.Service
	poller   Poller
	cfg      SchedulerConfig
	backoff  Backoff
	logger   *logger.Logger
	now      func() time.Time

	mu        sync.Mutex
	queue     dueQueue
	scheduled map[string]bool // queued or in flight
	attempts  map[string]int  // consecutive failed polls, for backoff
	wake      chan struct{}
}

// NewPollScheduler creates a poll scheduler
func NewPollScheduler(registry source.Service, poller Poller, cfg SchedulerConfig, log *logger.Logger) *PollScheduler {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 30 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	return &PollScheduler{
		registry:  registry,
		poller:    poller,
		cfg:       cfg,
		backoff:   Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		logger:    log.WithComponent("scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
		scheduled: make(map[string]bool),
		attempts:  make(map[string]int),
		wake:      make(chan struct{}, 1),
	}
}

// Start loads the schedulable sources and polls them until ctx is cancelled.
// On cancellation in-flight polls finish their batch and are not re-enqueued;
// Start returns once every worker has exited.
func (s *PollScheduler) Start(ctx context.Context) error {
	sources, err := s.registry.List(ctx, true)
	if err != nil {
		return err
	}
	s.enqueueNew(sources)

	jobs := make(chan string)
	var wg sync.WaitGroup
	workers := 0
	// grow runs on the dispatch goroutine only
	grow := func() {
		want := s.poolSize()
		if want <= workers {
			return
		}
		for ; workers < want; workers++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for id := range jobs {
					s.runScheduled(ctx, id)
				}
			}()
		}
		s.logger.WithFields(map[string]interface{}{"workers": workers}).Debug("Worker pool resized")
	}
	grow()

	s.logger.WithFields(map[string]interface{}{
		"sources": len(sources),
		"workers": workers,
	}).Info("Starting poll scheduler")

	s.dispatch(ctx, jobs, grow)
	close(jobs)
	wg.Wait()

	s.logger.Info("Poll scheduler stopped")
	return nil
}

// poolSize is the configured size, or one worker per scheduled source up to
// maxPoolSize. The pool grows as sources are added and never shrinks.
func (s *PollScheduler) poolSize() int {
	if s.cfg.PoolSize > 0 {
		return s.cfg.PoolSize
	}
	s.mu.Lock()
	n := len(s.scheduled)
	s.mu.Unlock()
	return max(min(n, maxPoolSize), 1)
}

// dispatch hands due sources to workers until ctx is cancelled
func (s *PollScheduler) dispatch(ctx context.Context, jobs chan<- string, grow func()) {
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()

	for {
		s.mu.Lock()
		item, due := s.queue.popDue(s.now())
		wait := time.Duration(-1)
		if !due {
			if next, ok := s.queue.peek(); ok {
				wait = next.due.Sub(s.now())
			}
		}
		metrics.SetQueueDepth(s.queue.Len())
		s.mu.Unlock()

		if due {
			grow()
			select {
			case jobs <- item.sourceID:
			case <-ctx.Done():
				return
			}
			continue
		}

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
		case <-fire:
		case <-s.wake:
		case <-refresh.C:
			s.refresh(ctx)
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// refresh picks up sources registered or re-enabled since the last look
func (s *PollScheduler) refresh(ctx context.Context) {
	sources, err := s.registry.List(ctx, true)
	if err != nil {
		s.logger.WarnWithErr(err, "Failed to refresh sources")
		return
	}
	s.enqueueNew(sources)
}

func (s *PollScheduler) enqueueNew(sources []*source.Source) {
	now := s.now()
	added := 0

	s.mu.Lock()
	for _, src := range sources {
		if !src.Schedulable() || s.scheduled[src.ID] {
			continue
		}
		s.scheduled[src.ID] = true
		s.queue.schedule(src.ID, now)
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		s.signal()
	}
}

func (s *PollScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// runScheduled polls one queued source and re-enqueues it unless it became
// unschedulable or the scheduler is shutting down.
func (s *PollScheduler) runScheduled(ctx context.Context, id string) {
	src, err := s.registry.Get(ctx, id)
	if err != nil || !src.Schedulable() {
		if err != nil && ctx.Err() == nil {
			s.logger.WithFields(map[string]interface{}{"source_id": id}).WarnWithErr(err, "Dropping source from schedule")
		}
		s.unschedule(id)
		return
	}

	out := s.RunSource(ctx, src)

	if ctx.Err() != nil || !out.Keep {
		s.unschedule(id)
		return
	}

	s.mu.Lock()
	s.queue.schedule(id, out.Next)
	s.mu.Unlock()
	s.signal()
}

func (s *PollScheduler) unschedule(id string) {
	s.mu.Lock()
	delete(s.scheduled, id)
	delete(s.attempts, id)
	s.mu.Unlock()
}

// Outcome is the result of one scheduled poll
type Outcome struct {
	Result services.PollResult
	Err    error
	// Next is when the source is due again; Keep is false once it has failed
	Next time.Time
	Keep bool
}

// RunSource polls src once and records the outcome on the registry. The poll
// is bounded by the per-call timeout but not by ctx, so a shutdown lets the
// current batch finish.
func (s *PollScheduler) RunSource(ctx context.Context, src *source.Source) Outcome {
	log := s.logger.WithFields(map[string]interface{}{
		"source_id": src.ID,
		"source":    src.Name,
	})

	pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PollTimeout)
	started := time.Now()
	result, err := s.poller.Poll(pollCtx, src)
	cancel()
	elapsed := time.Since(started)

	// health writes must land even when shutting down
	bg := context.WithoutCancel(ctx)
	now := s.now()

	if err == nil {
		metrics.RecordPoll(src.Name, "success", elapsed)
		if err := s.registry.MarkHealthy(bg, src.ID); err != nil {
			log.WarnWithErr(err, "Failed to record healthy poll")
		}
		s.resetAttempts(src.ID)
		log.WithFields(map[string]interface{}{
			"created":       result.Created,
			"updated":       result.Updated,
			"notifications": result.Notifications,
			"duration_ms":   elapsed.Milliseconds(),
		}).Debug("Source polled")
		return Outcome{Result: result, Next: now.Add(src.PollInterval), Keep: true}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		err = apperrors.SourceUnavailable(src.Name, err)
	}

	if retryAfter, ok := apperrors.RetryAfterOf(err); ok {
		metrics.RecordPoll(src.Name, "rate_limited", elapsed)
		log.WithFields(map[string]interface{}{"retry_after": retryAfter.String()}).Warn("Source rate limited")
		return Outcome{Result: result, Err: err, Next: now.Add(retryAfter), Keep: true}
	}

	metrics.RecordPoll(src.Name, "failure", elapsed)
	health, markErr := s.registry.MarkFailed(bg, src.ID, err.Error())
	if markErr != nil {
		log.WarnWithErr(markErr, "Failed to record failed poll")
	}
	if health == source.HealthFailed {
		log.ErrorWithErr(err, "Source failed, removing from schedule")
		return Outcome{Result: result, Err: err}
	}

	attempt := s.nextAttempt(src.ID)
	delay := s.backoff.Next(attempt)
	log.WithFields(map[string]interface{}{
		"attempt": attempt,
		"backoff": delay.String(),
		"health":  health,
	}).WarnWithErr(err, "Source poll failed")
	return Outcome{Result: result, Err: err, Next: now.Add(delay), Keep: true}
}

func (s *PollScheduler) nextAttempt(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id]++
	return s.attempts[id]
}

func (s *PollScheduler) resetAttempts(id string) {
	s.mu.Lock()
	delete(s.attempts, id)
	s.mu.Unlock()
}

// QueueDepth returns the number of sources waiting for their next poll
func (s *PollScheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
