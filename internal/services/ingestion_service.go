package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/feeds"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// AdapterProvider resolves the feed adapter for a source
type AdapterProvider interface {
	For(src *source.Source) (feeds.Adapter, error)
}

// PollResult summarizes one fetch-to-dispatch run for a source
type PollResult struct {
	SourceID      string `json:"source_id"`
	Records       int    `json:"records"`
	Observations  int    `json:"observations"`
	Created       int    `json:"created"`
	Updated       int    `json:"updated"`
	Skipped       int    `json:"skipped"`
	Pulses        int    `json:"pulses"`
	Notifications int    `json:"notifications"`
}

// IngestionService runs the per-source pipeline: fetch, normalize, correlate,
// score and dispatch. It holds no per-source state, so workers may call it
// concurrently for different sources.
type IngestionService struct {
	adapters   AdapterProvider
	engine     *CorrelationEngine
	dispatcher *NotificationDispatcher
	fetchLimit int
	logger     *logger.Logger
}

// NewIngestionService creates the pipeline
func NewIngestionService(adapters AdapterProvider, engine *CorrelationEngine, dispatcher *NotificationDispatcher, fetchLimit int, log *logger.Logger) *IngestionService {
	if fetchLimit <= 0 {
		fetchLimit = 500
	}
	return &IngestionService{
		adapters:   adapters,
		engine:     engine,
		dispatcher: dispatcher,
		fetchLimit: fetchLimit,
		logger:     log.WithComponent("ingestion"),
	}
}

// Poll fetches the latest records from src and drives them through the
// pipeline. Fetch errors are returned unchanged (SourceUnavailable or
// RateLimited); a PersistenceError means the cycle failed part way.
func (s *IngestionService) Poll(ctx context.Context, src *source.Source) (PollResult, error) {
	result := PollResult{SourceID: src.ID}

	adapter, err := s.adapters.For(src)
	if err != nil {
		return result, apperrors.SourceUnavailable(src.Name, err)
	}

	records, err := adapter.FetchLatest(ctx, s.fetchLimit)
	if err != nil {
		return result, err
	}
	result.Records = len(records)

	if err := s.process(ctx, src, adapter, records, &result); err != nil {
		return result, err
	}

	s.logger.WithFields(map[string]interface{}{
		"source":        src.Name,
		"records":       result.Records,
		"created":       result.Created,
		"updated":       result.Updated,
		"skipped":       result.Skipped,
		"notifications": result.Notifications,
	}).Info("Poll completed")

	return result, nil
}

// Lookup asks src about a single observable and ingests the answer. It returns
// feeds.ErrNotFound when the source has no record.
func (s *IngestionService) Lookup(ctx context.Context, src *source.Source, kind indicator.Type, value string) (*indicator.Indicator, error) {
	adapter, err := s.adapters.For(src)
	if err != nil {
		return nil, apperrors.SourceUnavailable(src.Name, err)
	}

	raw, err := adapter.GetDetails(ctx, value, kind)
	if err != nil {
		return nil, err
	}

	var result PollResult
	if err := s.process(ctx, src, adapter, []feeds.RawRecord{raw}, &result); err != nil {
		return nil, err
	}

	key, err := indicator.NewKey(kind, value)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	ind, err := s.engine.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, apperrors.Persistence("failed to read indicator", err)
	}
	if ind == nil {
		return nil, feeds.ErrNotFound
	}
	return ind, nil
}

// Search runs a free-text query against src and returns the normalized
// observations without storing them.
func (s *IngestionService) Search(ctx context.Context, src *source.Source, query string) ([]indicator.Observation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.BadRequest("query is required")
	}
	adapter, err := s.adapters.For(src)
	if err != nil {
		return nil, apperrors.SourceUnavailable(src.Name, err)
	}
	records, err := adapter.SearchByQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var out []indicator.Observation
	for _, raw := range records {
		norm, err := adapter.Normalize(raw)
		if err != nil {
			continue
		}
		out = append(out, norm.Observations...)
	}
	return out, nil
}

func (s *IngestionService) process(ctx context.Context, src *source.Source, adapter feeds.Adapter, records []feeds.RawRecord, result *PollResult) error {
	// latest merged state per indicator, in first-touched order
	touched := make(map[string]*indicator.Indicator)
	var order []string

	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return apperrors.SourceUnavailable(src.Name, err)
		}

		norm, err := adapter.Normalize(raw)
		if err != nil {
			result.Skipped++
			metrics.RecordSkippedRecord(src.Name)
			s.logger.WithFields(map[string]interface{}{
				"source":      src.Name,
				"external_id": raw.ExternalID,
			}).WarnWithErr(err, "Skipping malformed record")
			continue
		}
		for _, skipErr := range norm.Skipped {
			result.Skipped++
			metrics.RecordSkippedRecord(src.Name)
			s.logger.WithFields(map[string]interface{}{
				"source":      src.Name,
				"external_id": raw.ExternalID,
			}).Debug(skipErr.Error())
		}

		if norm.Pulse != nil {
			if err := s.engine.RecordPulse(ctx, norm.Pulse); err != nil {
				return err
			}
			result.Pulses++
		}

		batch := make([]indicator.Observation, 0, len(norm.Observations))
		for _, obs := range norm.Observations {
			if obs.LastSeen.IsZero() {
				obs.LastSeen = raw.FetchedAt
			}
			if obs.FirstSeen.IsZero() {
				obs.FirstSeen = obs.LastSeen
			}
			batch = append(batch, obs)
		}
		result.Observations += len(batch)

		merged, skipped, err := s.engine.Ingest(ctx, src, batch)
		result.Skipped += skipped
		if err != nil {
			return err
		}
		for _, m := range merged {
			switch {
			case m.Created:
				result.Created++
			case m.Changed:
				result.Updated++
			}
			if _, seen := touched[m.Indicator.ID]; !seen {
				order = append(order, m.Indicator.ID)
			}
			touched[m.Indicator.ID] = m.Indicator
		}
	}

	for _, id := range order {
		n, err := s.dispatcher.Evaluate(ctx, touched[id])
		if err != nil {
			return fmt.Errorf("dispatch for %s: %w", touched[id].Key(), err)
		}
		if n != nil {
			result.Notifications++
		}
	}
	return nil
}
