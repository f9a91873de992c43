package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
)

func TestIndicatorRepository_Upsert(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewIndicatorRepository(db)
	ctx := context.Background()

	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ind := &indicator.Indicator{
		Type:       indicator.TypeIP,
		Value:      "1.2.3.4",
		RawValue:   "1.2.3.4",
		FirstSeen:  seen,
		LastSeen:   seen,
		Sources:    []string{"src-a"},
		Reputation: -5,
		Category:   indicator.CategoryIOC,
		Sightings: map[string]indicator.Sighting{
			"src-a": {SourceID: "src-a", Reputation: -5, Weight: 1, FirstSeen: seen, LastSeen: seen},
		},
	}
	if err := repo.Upsert(ctx, ind); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	firstID := ind.ID

	// same key under a fresh struct must update the existing row
	later := seen.Add(2 * time.Minute)
	merged := &indicator.Indicator{
		Type:       indicator.TypeIP,
		Value:      "1.2.3.4",
		RawValue:   "1.2.3.4",
		FirstSeen:  seen,
		LastSeen:   later,
		Sources:    []string{"src-a", "src-b"},
		Reputation: -7,
		Category:   indicator.CategoryIOC,
		Campaigns:  []string{"Emotet wave"},
		Sightings: map[string]indicator.Sighting{
			"src-a": {SourceID: "src-a", Reputation: -5, Weight: 1, FirstSeen: seen, LastSeen: seen},
			"src-b": {SourceID: "src-b", Reputation: -8, Weight: 2, FirstSeen: later, LastSeen: later},
		},
	}
	if err := repo.Upsert(ctx, merged); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if merged.ID != firstID {
		t.Errorf("Upsert() ID = %s, want existing %s", merged.ID, firstID)
	}

	count, err := repo.Count(ctx)
	if err != nil || count != 1 {
		t.Fatalf("Count() = %d, %v; want 1", count, err)
	}

	got, err := repo.GetByKey(ctx, indicator.Key{Type: indicator.TypeIP, Value: "1.2.3.4"})
	if err != nil || got == nil {
		t.Fatalf("GetByKey() = %v, %v", got, err)
	}
	if got.Reputation != -7 || !got.LastSeen.Equal(later) || len(got.Sources) != 2 {
		t.Errorf("GetByKey() = rep %d last %v sources %v", got.Reputation, got.LastSeen, got.Sources)
	}
	if s := got.Sightings["src-b"]; s.Weight != 2 || !s.LastSeen.Equal(later) {
		t.Errorf("sighting src-b = %+v", s)
	}
	if len(got.Campaigns) != 1 || got.Campaigns[0] != "Emotet wave" {
		t.Errorf("Campaigns = %v", got.Campaigns)
	}

	missing, err := repo.GetByKey(ctx, indicator.Key{Type: indicator.TypeIP, Value: "9.9.9.9"})
	if err != nil || missing != nil {
		t.Errorf("GetByKey() missing = %v, %v; want nil, nil", missing, err)
	}
}

func TestIndicatorRepository_List(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewIndicatorRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	fixtures := []*indicator.Indicator{
		{Type: indicator.TypeIP, Value: "1.2.3.4", Reputation: -8, Sources: []string{"src-a"}},
		{Type: indicator.TypeDomain, Value: "evil.example.com", Reputation: -3, Sources: []string{"src-b"}},
		{Type: indicator.TypeIP, Value: "5.6.7.8", Reputation: 2, Sources: []string{"src-a", "src-b"}},
	}
	for i, ind := range fixtures {
		ind.FirstSeen = now
		ind.LastSeen = now.Add(time.Duration(i) * time.Minute)
		if err := repo.Upsert(ctx, ind); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	maxRep := -1
	tests := []struct {
		name   string
		filter indicator.Filter
		want   int
	}{
		{"all", indicator.Filter{}, 3},
		{"by type", indicator.Filter{Type: indicator.TypeIP}, 2},
		{"malicious only", indicator.Filter{MaxReputation: &maxRep}, 2},
		{"by source", indicator.Filter{SourceID: "src-b"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter, 10, 0)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() = %d indicators, want %d", len(got), tt.want)
			}
		})
	}

	page, err := repo.List(ctx, indicator.Filter{}, 1, 0)
	if err != nil || len(page) != 1 || page[0].Value != "5.6.7.8" {
		t.Errorf("List() first page = %v, %v; want most recently seen", page, err)
	}
}

func TestPulseRepository_Upsert(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	sources := NewSourceRepository(db)
	ctx := context.Background()
	src := newTestSource("otx")
	if err := sources.Create(ctx, src); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	repo := NewPulseRepository(db)
	p := &indicator.Pulse{SourceID: src.ID, ExternalID: "abc", Name: "Wave 1", IndicatorKeys: []string{"ip:1.2.3.4"}}
	if err := repo.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	again := &indicator.Pulse{SourceID: src.ID, ExternalID: "abc", Name: "Wave 1 (updated)", IndicatorKeys: []string{"ip:1.2.3.4", "domain:x.example"}}
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("Upsert() ID = %s, want %s", again.ID, p.ID)
	}

	list, err := repo.ListBySource(ctx, src.ID, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListBySource() = %v, %v", list, err)
	}
	if list[0].Name != "Wave 1 (updated)" || len(list[0].IndicatorKeys) != 2 {
		t.Errorf("ListBySource() = %+v", list[0])
	}
}
