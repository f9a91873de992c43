package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
)

func TestPriorityScorer_Score(t *testing.T) {
	scorer := NewPriorityScorer(config.DefaultIntel())

	tests := []struct {
		name string
		ind  *indicator.Indicator
		want int
	}{
		{"two sources at -7", &indicator.Indicator{Reputation: -7, Sources: []string{"a", "b"}, Category: indicator.CategoryIOC}, 1},
		{"single source at -7", &indicator.Indicator{Reputation: -7, Sources: []string{"a"}, Category: indicator.CategoryIOC}, 2},
		{"medium", &indicator.Indicator{Reputation: -3, Sources: []string{"a"}, Category: indicator.CategoryIOC}, 3},
		{"benign", &indicator.Indicator{Reputation: 6, Sources: []string{"a", "b"}, Category: indicator.CategoryIOC}, 4},
		{"neutral", &indicator.Indicator{Reputation: 0, Sources: []string{"a"}}, 4},
		{"campaign weight lifts", &indicator.Indicator{Reputation: -6, Sources: []string{"a"}, Category: indicator.CategoryCampaign}, 1},
		{"unknown category uses weight 1", &indicator.Indicator{Reputation: -5, Sources: []string{"a"}, Category: "other"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scorer.Score(tt.ind); got != tt.want {
				t.Errorf("Score() = %v, want %v (value %.2f)", got, tt.want, scorer.Value(tt.ind))
			}
		})
	}
}

func TestPriorityScorer_CorroborationCapped(t *testing.T) {
	scorer := NewPriorityScorer(config.DefaultIntel())

	many := make([]string, 20)
	for i := range many {
		many[i] = string(rune('a' + i))
	}
	ind := &indicator.Indicator{Reputation: -2, Sources: many, Category: indicator.CategoryIOC}
	assert.InDelta(t, 4.0, scorer.Value(ind), 1e-9)
}

func TestPriorityScorer_Monotonic(t *testing.T) {
	scorer := NewPriorityScorer(config.DefaultIntel())

	for _, cat := range []string{indicator.CategoryIOC, indicator.CategoryMalware, indicator.CategoryReputation} {
		prev := 5
		for rep := 10; rep >= -10; rep-- {
			p := scorer.Score(&indicator.Indicator{Reputation: rep, Sources: []string{"a"}, Category: cat})
			assert.LessOrEqual(t, p, prev, "more malicious never lowers urgency (%s, rep %d)", cat, rep)
			prev = p
		}

		prev = 5
		sources := []string{}
		for n := 1; n <= 8; n++ {
			sources = append(sources, string(rune('a'+n)))
			p := scorer.Score(&indicator.Indicator{Reputation: -4, Sources: sources, Category: cat})
			assert.LessOrEqual(t, p, prev, "more sources never lowers urgency (%s, %d sources)", cat, n)
			prev = p
		}
	}
}
