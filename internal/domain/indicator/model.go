package indicator

import (
	"sort"
	"time"
)

// Type is the kind of observable an indicator describes
type Type string

const (
	TypeIP     Type = "ip"
	TypeDomain Type = "domain"
	TypeURL    Type = "url"
	TypeHash   Type = "hash"
	TypeCVE    Type = "cve"
)

// IsValid checks if the indicator type is supported
func (t Type) IsValid() bool {
	switch t {
	case TypeIP, TypeDomain, TypeURL, TypeHash, TypeCVE:
		return true
	default:
		return false
	}
}

// Category values used for scoring weights
const (
	CategoryIOC           = "ioc"
	CategoryMalware       = "malware"
	CategoryVulnerability = "vulnerability"
	CategoryReputation    = "reputation"
	CategoryCampaign      = "campaign"
)

// Indicator is the single correlated record for one (type, canonical value) pair
type Indicator struct {
	ID         string              `json:"id"`
	Type       Type                `json:"type"`
	Value      string              `json:"value"`
	RawValue   string              `json:"raw_value"`
	FirstSeen  time.Time           `json:"first_seen"`
	LastSeen   time.Time           `json:"last_seen"`
	Sources    []string            `json:"sources"`
	Reputation int                 `json:"reputation"`
	Category   string              `json:"category"`
	Campaigns  []string            `json:"campaigns,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
	Sightings  map[string]Sighting `json:"sightings"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Key returns the dedup key of the indicator
func (i *Indicator) Key() Key {
	return Key{Type: i.Type, Value: i.Value}
}

// Sighting is one source's latest opinion about an indicator
type Sighting struct {
	SourceID   string    `json:"source_id"`
	Reputation int       `json:"reputation"`
	Weight     float64   `json:"weight"`
	Category   string    `json:"category"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Observation is an adapter's normalized view of one observable
type Observation struct {
	Type       Type
	Value      string
	Reputation int // negative = malicious-leaning
	Category   string
	FirstSeen  time.Time
	LastSeen   time.Time
	Tags       []string
	Campaign   string
}

// Pulse is a named campaign grouping, used for display only
type Pulse struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	ExternalID    string    `json:"external_id"`
	Name          string    `json:"name"`
	Author        string    `json:"author,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	IndicatorKeys []string  `json:"indicator_keys"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Filter contains indicator listing options
type Filter struct {
	Type          Type
	MaxReputation *int
	SourceID      string
}

// MergeStrings returns the sorted union of a and b without duplicates or empties
func MergeStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
