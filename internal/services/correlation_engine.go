package services

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

// categoryRank orders categories from most to least urgent when sources disagree
var categoryRank = map[string]int{
	indicator.CategoryCampaign:      5,
	indicator.CategoryMalware:       4,
	indicator.CategoryVulnerability: 3,
	indicator.CategoryIOC:           2,
	indicator.CategoryReputation:    1,
}

// MergeResult describes what one merge did to the stored indicator
type MergeResult struct {
	Indicator *indicator.Indicator
	Created   bool
	Changed   bool
}

// CorrelationEngine is the only writer of indicator merge fields. Each source
// keeps one sighting per indicator; everything else on the record is derived
// from the sightings, which makes merges idempotent and order-independent.
type CorrelationEngine struct {
	repo             indicator.Repository
	pulses           indicator.PulseRepository
	strongReputation int
	locks            keyedLock
	logger           *logger.Logger
	now              func() time.Time
}

// NewCorrelationEngine creates a correlation engine. strongReputation is the
// magnitude at which opposite-sign opinions count as a sharp disagreement.
func NewCorrelationEngine(repo indicator.Repository, pulses indicator.PulseRepository, strongReputation int, log *logger.Logger) *CorrelationEngine {
	if strongReputation <= 0 {
		strongReputation = 5
	}
	return &CorrelationEngine{
		repo:             repo,
		pulses:           pulses,
		strongReputation: strongReputation,
		logger:           log.WithComponent("correlation"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Ingest merges a batch from one source in the order received. A
// NormalizationError on one observation skips it; any other error aborts.
func (e *CorrelationEngine) Ingest(ctx context.Context, src *source.Source, batch []indicator.Observation) ([]MergeResult, int, error) {
	results := make([]MergeResult, 0, len(batch))
	skipped := 0
	for _, obs := range batch {
		res, err := e.Merge(ctx, src, obs)
		if apperrors.HasCode(err, apperrors.ErrCodeNormalization) {
			skipped++
			metrics.RecordSkippedRecord(src.Name)
			e.logger.WithFields(map[string]interface{}{
				"source": src.Name,
				"type":   obs.Type,
				"value":  obs.Value,
			}).WarnWithErr(err, "Skipping observation")
			continue
		}
		if err != nil {
			return results, skipped, err
		}
		results = append(results, res)
	}
	return results, skipped, nil
}

// Merge folds one observation from src into the indicator stored under its key
func (e *CorrelationEngine) Merge(ctx context.Context, src *source.Source, obs indicator.Observation) (MergeResult, error) {
	key, err := indicator.NewKey(obs.Type, obs.Value)
	if err != nil {
		return MergeResult{}, apperrors.Normalization("invalid observation", err)
	}

	unlock := e.locks.Lock(key.String())
	defer unlock()

	existing, err := e.repo.GetByKey(ctx, key)
	if err != nil {
		return MergeResult{}, apperrors.Persistence("failed to load indicator "+key.String(), err)
	}

	merged := e.apply(existing, key, src, obs)
	if existing != nil && sameMergeState(existing, merged) {
		return MergeResult{Indicator: existing}, nil
	}

	if err := e.repo.Upsert(ctx, merged); err != nil {
		return MergeResult{}, apperrors.Persistence("failed to store indicator "+key.String(), err)
	}

	created := existing == nil
	metrics.RecordIndicator(string(key.Type), created)
	e.logger.WithFields(map[string]interface{}{
		"indicator":  key.String(),
		"source":     src.Name,
		"reputation": merged.Reputation,
		"sources":    len(merged.Sources),
		"created":    created,
	}).Debug("Indicator merged")

	return MergeResult{Indicator: merged, Created: created, Changed: true}, nil
}

// RecordPulse stores a campaign grouping for display
func (e *CorrelationEngine) RecordPulse(ctx context.Context, p *indicator.Pulse) error {
	if e.pulses == nil || p == nil {
		return nil
	}
	if err := e.pulses.Upsert(ctx, p); err != nil {
		return apperrors.Persistence("failed to store pulse "+p.ExternalID, err)
	}
	return nil
}

// apply returns a new record with obs folded in; existing is not modified
func (e *CorrelationEngine) apply(existing *indicator.Indicator, key indicator.Key, src *source.Source, obs indicator.Observation) *indicator.Indicator {
	var out indicator.Indicator
	if existing != nil {
		out = *existing
	} else {
		out = indicator.Indicator{Type: key.Type, Value: key.Value, RawValue: obs.Value}
	}

	sightings := make(map[string]indicator.Sighting, len(out.Sightings)+1)
	for id, s := range out.Sightings {
		sightings[id] = s
	}

	first, last := obs.FirstSeen, obs.LastSeen
	if last.IsZero() {
		last = e.now()
	}
	if first.IsZero() || first.After(last) {
		first = last
	}

	next := indicator.Sighting{
		SourceID:   src.ID,
		Reputation: obs.Reputation,
		Weight:     src.Weight(),
		Category:   obs.Category,
		FirstSeen:  first.UTC(),
		LastSeen:   last.UTC(),
	}
	if prev, ok := sightings[src.ID]; ok {
		next = mergeSighting(prev, next)
	}
	sightings[src.ID] = next
	out.Sightings = sightings

	out.Sources = make([]string, 0, len(sightings))
	out.FirstSeen, out.LastSeen = time.Time{}, time.Time{}
	for id, s := range sightings {
		out.Sources = append(out.Sources, id)
		if out.FirstSeen.IsZero() || s.FirstSeen.Before(out.FirstSeen) {
			out.FirstSeen = s.FirstSeen
		}
		if s.LastSeen.After(out.LastSeen) {
			out.LastSeen = s.LastSeen
		}
	}
	sort.Strings(out.Sources)

	var campaigns []string
	if obs.Campaign != "" {
		campaigns = []string{obs.Campaign}
	}
	out.Campaigns = indicator.MergeStrings(out.Campaigns, campaigns)
	out.Tags = indicator.MergeStrings(out.Tags, obs.Tags)
	out.Reputation = AggregateReputation(sightings, e.strongReputation)
	out.Category = resolveCategory(sightings, out.Campaigns)
	return &out
}

// mergeSighting keeps the newer opinion and widens the seen window. Equal
// timestamps resolve to the more malicious reading so the result does not
// depend on arrival order.
func mergeSighting(prev, next indicator.Sighting) indicator.Sighting {
	out := prev
	switch {
	case next.LastSeen.After(prev.LastSeen):
		out.Reputation, out.Category = next.Reputation, next.Category
	case next.LastSeen.Equal(prev.LastSeen):
		if next.Reputation < prev.Reputation {
			out.Reputation = next.Reputation
		}
		if categoryRank[next.Category] > categoryRank[prev.Category] {
			out.Category = next.Category
		}
	}
	out.Weight = next.Weight
	if next.FirstSeen.Before(out.FirstSeen) {
		out.FirstSeen = next.FirstSeen
	}
	if next.LastSeen.After(out.LastSeen) {
		out.LastSeen = next.LastSeen
	}
	return out
}

// AggregateReputation is the floor of the trust-weighted mean of per-source
// reputations. When one source is strongly malicious and another strongly
// benign the most malicious score wins.
func AggregateReputation(sightings map[string]indicator.Sighting, strong int) int {
	if len(sightings) == 0 {
		return 0
	}

	minRep, maxRep := math.MaxInt, math.MinInt
	var sum, weights float64
	for _, s := range sightings {
		w := s.Weight
		if w <= 0 {
			w = source.DefaultTrustWeight
		}
		sum += w * float64(s.Reputation)
		weights += w
		minRep = min(minRep, s.Reputation)
		maxRep = max(maxRep, s.Reputation)
	}

	if minRep <= -strong && maxRep >= strong {
		return minRep
	}
	return int(math.Floor(sum/weights + 1e-9))
}

func resolveCategory(sightings map[string]indicator.Sighting, campaigns []string) string {
	if len(campaigns) > 0 {
		return indicator.CategoryCampaign
	}
	best := ""
	for _, s := range sightings {
		if best == "" || categoryRank[s.Category] > categoryRank[best] {
			best = s.Category
		}
	}
	if best == "" {
		return indicator.CategoryIOC
	}
	return best
}

func sameMergeState(a, b *indicator.Indicator) bool {
	return a.Reputation == b.Reputation &&
		a.Category == b.Category &&
		a.FirstSeen.Equal(b.FirstSeen) &&
		a.LastSeen.Equal(b.LastSeen) &&
		equalStrings(a.Sources, b.Sources) &&
		equalStrings(a.Campaigns, b.Campaigns) &&
		equalStrings(a.Tags, b.Tags) &&
		equalSightings(a.Sightings, b.Sightings)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalSightings(a, b map[string]indicator.Sighting) bool {
	if len(a) != len(b) {
		return false
	}
	for id, x := range a {
		y, ok := b[id]
		if !ok || x.Reputation != y.Reputation || x.Weight != y.Weight || x.Category != y.Category ||
			!x.FirstSeen.Equal(y.FirstSeen) || !x.LastSeen.Equal(y.LastSeen) {
			return false
		}
	}
	return true
}
