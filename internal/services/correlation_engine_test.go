package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

func TestCorrelationEngine_WorkedExample(t *testing.T) {
	p := newPipeline(testEpoch)
	ctx := context.Background()
	a := testSource("src-a", 1.0)
	b := testSource("src-b", 2.0)

	_, err := p.engine.Merge(ctx, a, ipObservation("1.2.3.4", -5, testEpoch))
	require.NoError(t, err)
	res, err := p.engine.Merge(ctx, b, ipObservation("1.2.3.4", -8, testEpoch.Add(2*time.Minute)))
	require.NoError(t, err)

	count, _ := p.indicators.Count(ctx)
	assert.EqualValues(t, 1, count)

	ind := res.Indicator
	assert.Equal(t, []string{"src-a", "src-b"}, ind.Sources)
	assert.Equal(t, -7, ind.Reputation)
	assert.Equal(t, testEpoch, ind.FirstSeen)
	assert.Equal(t, testEpoch.Add(2*time.Minute), ind.LastSeen)
	assert.Equal(t, 1, p.scorer.Score(ind))
}

func TestCorrelationEngine_Idempotent(t *testing.T) {
	p := newPipeline(testEpoch)
	ctx := context.Background()
	src := testSource("src-a", 1.0)
	batch := []indicator.Observation{
		ipObservation("1.2.3.4", -5, testEpoch),
		{Type: indicator.TypeDomain, Value: "Evil.Example.com", Reputation: -3, Category: indicator.CategoryMalware,
			FirstSeen: testEpoch, LastSeen: testEpoch, Tags: []string{"loader"}, Campaign: "wave"},
	}

	_, _, err := p.engine.Ingest(ctx, src, batch)
	require.NoError(t, err)
	before := snapshot(t, p)
	upserts := p.indicators.Upserts

	results, _, err := p.engine.Ingest(ctx, src, batch)
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.Created)
		assert.False(t, r.Changed)
	}
	assert.Equal(t, upserts, p.indicators.Upserts, "unchanged merges are not written")
	assert.Equal(t, before, snapshot(t, p))
}

func TestCorrelationEngine_OrderIndependent(t *testing.T) {
	type sighting struct {
		src *source.Source
		obs indicator.Observation
	}
	a := testSource("src-a", 1.0)
	b := testSource("src-b", 2.0)
	c := testSource("src-c", 0.5)
	all := []sighting{
		{a, ipObservation("10.0.0.1", -5, testEpoch)},
		{b, ipObservation("10.0.0.1", -8, testEpoch.Add(time.Minute))},
		{a, ipObservation("10.0.0.1", -2, testEpoch.Add(time.Hour))},
		{c, ipObservation("10.0.0.1", 3, testEpoch.Add(-time.Hour))},
		{b, ipObservation("10.0.0.1", -9, testEpoch.Add(time.Minute))},
	}
	all[1].obs.Tags = []string{"c2"}
	all[3].obs.Campaign = "scan"

	run := func(order []int) indicator.Indicator {
		p := newPipeline(testEpoch)
		for _, i := range order {
			_, err := p.engine.Merge(context.Background(), all[i].src, all[i].obs)
			require.NoError(t, err)
		}
		ind, err := p.indicators.GetByKey(context.Background(), indicator.Key{Type: indicator.TypeIP, Value: "10.0.0.1"})
		require.NoError(t, err)
		out := *ind
		out.ID, out.RawValue = "", ""
		out.CreatedAt, out.UpdatedAt = time.Time{}, time.Time{}
		return out
	}

	forward := run([]int{0, 1, 2, 3, 4})
	assert.Equal(t, forward, run([]int{4, 3, 2, 1, 0}))
	assert.Equal(t, forward, run([]int{2, 4, 0, 3, 1}))
	assert.Equal(t, []string{"src-a", "src-b", "src-c"}, forward.Sources)
	assert.Equal(t, indicator.CategoryCampaign, forward.Category)
}

func TestCorrelationEngine_DedupCanonicalForms(t *testing.T) {
	p := newPipeline(testEpoch)
	ctx := context.Background()
	src := testSource("src-a", 1.0)

	spellings := []indicator.Observation{
		{Type: indicator.TypeDomain, Value: "EXAMPLE.com", Reputation: -4, LastSeen: testEpoch},
		{Type: indicator.TypeDomain, Value: "example.com", Reputation: -4, LastSeen: testEpoch},
		{Type: indicator.TypeDomain, Value: "https://example.com/", Reputation: -4, LastSeen: testEpoch},
		{Type: indicator.TypeURL, Value: "HTTP://Example.com/a", Reputation: -4, LastSeen: testEpoch},
		{Type: indicator.TypeURL, Value: "example.com/a", Reputation: -4, LastSeen: testEpoch},
	}
	_, _, err := p.engine.Ingest(ctx, src, spellings)
	require.NoError(t, err)

	count, _ := p.indicators.Count(ctx)
	assert.EqualValues(t, 2, count, "one domain and one url record")
}

func TestCorrelationEngine_TieBreakTowardMalicious(t *testing.T) {
	tests := []struct {
		name      string
		sightings map[string]indicator.Sighting
		want      int
	}{
		{"weighted mean", map[string]indicator.Sighting{
			"a": {Reputation: -5, Weight: 1}, "b": {Reputation: -8, Weight: 2}}, -7},
		{"floor biases malicious", map[string]indicator.Sighting{
			"a": {Reputation: -5, Weight: 1}, "b": {Reputation: -6, Weight: 1}}, -6},
		{"sharp disagreement takes min", map[string]indicator.Sighting{
			"a": {Reputation: 9, Weight: 3}, "b": {Reputation: -6, Weight: 1}}, -6},
		{"mild disagreement averages", map[string]indicator.Sighting{
			"a": {Reputation: 4, Weight: 1}, "b": {Reputation: -6, Weight: 1}}, -1},
		{"zero weight counts as default", map[string]indicator.Sighting{
			"a": {Reputation: -4, Weight: 0}}, -4},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateReputation(tt.sightings, 5))
		})
	}
}

func TestCorrelationEngine_SkipsInvalidObservation(t *testing.T) {
	p := newPipeline(testEpoch)
	src := testSource("src-a", 1.0)

	results, skipped, err := p.engine.Ingest(context.Background(), src, []indicator.Observation{
		ipObservation("999.1.1.1", -5, testEpoch),
		ipObservation("1.1.1.1", -5, testEpoch),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, results, 1)
}

func TestCorrelationEngine_PersistenceError(t *testing.T) {
	p := newPipeline(testEpoch)
	p.indicators.UpsertError = fmt.Errorf("disk full")

	_, _, err := p.engine.Ingest(context.Background(), testSource("src-a", 1), []indicator.Observation{
		ipObservation("1.1.1.1", -5, testEpoch),
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
}

func TestCorrelationEngine_ConcurrentSourcesNoLostUpdates(t *testing.T) {
	p := newPipeline(testEpoch)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := testSource(fmt.Sprintf("src-%02d", i), 1)
			_, err := p.engine.Merge(ctx, src, ipObservation("203.0.113.5", -6, testEpoch))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ind, err := p.indicators.GetByKey(ctx, indicator.Key{Type: indicator.TypeIP, Value: "203.0.113.5"})
	require.NoError(t, err)
	assert.Len(t, ind.Sources, 20)
	assert.Len(t, ind.Sightings, 20)
}

func TestCorrelationEngine_CampaignCategory(t *testing.T) {
	p := newPipeline(testEpoch)
	obs := ipObservation("1.2.3.4", -5, testEpoch)
	obs.Campaign = "Emotet wave"

	res, err := p.engine.Merge(context.Background(), testSource("src-a", 1), obs)
	require.NoError(t, err)
	assert.Equal(t, indicator.CategoryCampaign, res.Indicator.Category)
	assert.Equal(t, []string{"Emotet wave"}, res.Indicator.Campaigns)
}

func snapshot(t *testing.T, p *pipeline) map[indicator.Key]indicator.Indicator {
	t.Helper()
	list, err := p.indicators.List(context.Background(), indicator.Filter{}, 0, 0)
	require.NoError(t, err)
	out := make(map[indicator.Key]indicator.Indicator, len(list))
	for _, ind := range list {
		cp := *ind
		cp.UpdatedAt = time.Time{}
		out[ind.Key()] = cp
	}
	return out
}
