package source

import "time"

// Source is a configured external threat-intelligence feed
type Source struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Provider       string        `json:"provider"` // adapter key: otx, blocklist
	Endpoint       string        `json:"endpoint"`
	CredentialRef  string        `json:"credential_ref,omitempty"`
	FeedType       FeedType      `json:"feed_type"`
	PollInterval   time.Duration `json:"poll_interval"`
	TrustWeight    float64       `json:"trust_weight"`
	Enabled        bool          `json:"enabled"`
	Health         Health        `json:"health"`
	LastSuccessAt  *time.Time    `json:"last_success_at,omitempty"`
	FailureCount   int           `json:"consecutive_failures"`
	LastError      string        `json:"last_error,omitempty"`
	DisabledReason string        `json:"disabled_reason,omitempty"`

	// Options carries adapter-specific settings such as a blocklist's fixed reputation
	Options   map[string]string `json:"options,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FeedType classifies what a source publishes
type FeedType string

const (
	FeedTypeIOC           FeedType = "ioc"
	FeedTypeMalware       FeedType = "malware"
	FeedTypeVulnerability FeedType = "vulnerability"
	FeedTypeReputation    FeedType = "reputation"
)

// IsValid checks if the feed type is known
func (f FeedType) IsValid() bool {
	switch f {
	case FeedTypeIOC, FeedTypeMalware, FeedTypeVulnerability, FeedTypeReputation:
		return true
	default:
		return false
	}
}

// Health is the scheduler's view of a source
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthFailed   Health = "failed"
)

// DefaultTrustWeight applies when a source is registered without one
const DefaultTrustWeight = 1.0

// Schedulable reports whether the poll scheduler may run this source
func (s *Source) Schedulable() bool {
	return s.Enabled && s.Health != HealthFailed
}

// Weight returns the trust weight, falling back to the default for unset values
func (s *Source) Weight() float64 {
	if s.TrustWeight <= 0 {
		return DefaultTrustWeight
	}
	return s.TrustWeight
}

// Filter contains source listing options
type Filter struct {
	EnabledOnly bool
	Provider    string
}

// Settings is a partial configuration change; nil fields are left as they are
type Settings struct {
	PollInterval  *time.Duration
	TrustWeight   *float64
	Endpoint      *string
	CredentialRef *string
	// Options replaces the stored options when non-nil
	Options map[string]string
}

// Empty reports whether the change touches nothing
func (s Settings) Empty() bool {
	return s.PollInterval == nil && s.TrustWeight == nil && s.Endpoint == nil &&
		s.CredentialRef == nil && s.Options == nil
}

// HealthUpdate is the subset of fields the scheduler writes
type HealthUpdate struct {
	Health        Health
	FailureCount  int
	LastError     string
	LastSuccessAt *time.Time
}
