package dto

import (
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
)

// CreateSourceRequest registers a feed
type CreateSourceRequest struct {
	Name          string            `json:"name" validate:"required,max=100"`
	Provider      string            `json:"provider" validate:"required"`
	Endpoint      string            `json:"endpoint" validate:"required,url"`
	CredentialRef string            `json:"credential_ref,omitempty" validate:"omitempty,max=200"`
	FeedType      string            `json:"feed_type" validate:"required,feed_type"`
	PollInterval  string            `json:"poll_interval" validate:"required,duration"`
	TrustWeight   float64           `json:"trust_weight,omitempty" validate:"gte=0"`
	Enabled       *bool             `json:"enabled,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

// ToSource converts the request; PollInterval must already be validated
func (r CreateSourceRequest) ToSource() *source.Source {
	interval, _ := time.ParseDuration(r.PollInterval)
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &source.Source{
		Name:          r.Name,
		Provider:      r.Provider,
		Endpoint:      r.Endpoint,
		CredentialRef: r.CredentialRef,
		FeedType:      source.FeedType(r.FeedType),
		PollInterval:  interval,
		TrustWeight:   r.TrustWeight,
		Enabled:       enabled,
		Options:       r.Options,
	}
}

// UpdateSourceRequest changes source settings; omitted fields are unchanged
type UpdateSourceRequest struct {
	PollInterval  *string           `json:"poll_interval,omitempty" validate:"omitempty,duration"`
	TrustWeight   *float64          `json:"trust_weight,omitempty" validate:"omitempty,gt=0"`
	Endpoint      *string           `json:"endpoint,omitempty" validate:"omitempty,url"`
	CredentialRef *string           `json:"credential_ref,omitempty" validate:"omitempty,max=200"`
	Options       map[string]string `json:"options,omitempty"`
}

// Settings converts the request into a registry change
func (r UpdateSourceRequest) Settings() source.Settings {
	return source.Settings{
		PollInterval:  r.Interval(),
		TrustWeight:   r.TrustWeight,
		Endpoint:      r.Endpoint,
		CredentialRef: r.CredentialRef,
		Options:       r.Options,
	}
}

// Interval returns the parsed poll interval, or nil when not sent
func (r UpdateSourceRequest) Interval() *time.Duration {
	if r.PollInterval == nil {
		return nil
	}
	d, _ := time.ParseDuration(*r.PollInterval)
	return &d
}

// DisableSourceRequest carries the operator's reason
type DisableSourceRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// SourceDTO is the API view of a source. Credentials are never echoed.
type SourceDTO struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Provider            string            `json:"provider"`
	Endpoint            string            `json:"endpoint"`
	HasCredential       bool              `json:"has_credential"`
	FeedType            string            `json:"feed_type"`
	PollInterval        string            `json:"poll_interval"`
	TrustWeight         float64           `json:"trust_weight"`
	Enabled             bool              `json:"enabled"`
	Health              string            `json:"health"`
	LastSuccessAt       *time.Time        `json:"last_success_at,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastError           string            `json:"last_error,omitempty"`
	DisabledReason      string            `json:"disabled_reason,omitempty"`
	Options             map[string]string `json:"options,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// FromSource builds the API view of s
func FromSource(s *source.Source) SourceDTO {
	return SourceDTO{
		ID:                  s.ID,
		Name:                s.Name,
		Provider:            s.Provider,
		Endpoint:            s.Endpoint,
		HasCredential:       s.CredentialRef != "",
		FeedType:            string(s.FeedType),
		PollInterval:        s.PollInterval.String(),
		TrustWeight:         s.TrustWeight,
		Enabled:             s.Enabled,
		Health:              string(s.Health),
		LastSuccessAt:       s.LastSuccessAt,
		ConsecutiveFailures: s.FailureCount,
		LastError:           s.LastError,
		DisabledReason:      s.DisabledReason,
		Options:             s.Options,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

// PollResponse reports a manual poll
type PollResponse struct {
	SourceID      string    `json:"source_id"`
	Records       int       `json:"records"`
	Created       int       `json:"created"`
	Updated       int       `json:"updated"`
	Skipped       int       `json:"skipped"`
	Notifications int       `json:"notifications"`
	Error         string    `json:"error,omitempty"`
	NextPoll      time.Time `json:"next_poll,omitempty"`
	Scheduled     bool      `json:"scheduled"`
}
