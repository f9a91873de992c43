package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// SourceService handles source registry calls
type SourceService struct {
	client *Client
}

// CreateSourceRequest registers a feed
type CreateSourceRequest struct {
	Name          string            `json:"name"`
	Provider      string            `json:"provider"`
	Endpoint      string            `json:"endpoint"`
	CredentialRef string            `json:"credential_ref,omitempty"`
	FeedType      string            `json:"feed_type"`
	PollInterval  string            `json:"poll_interval"` // Go duration, e.g. "30m"
	TrustWeight   float64           `json:"trust_weight,omitempty"`
	Enabled       *bool             `json:"enabled,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

// UpdateSourceRequest changes source settings; nil fields are unchanged
type UpdateSourceRequest struct {
	PollInterval  *string           `json:"poll_interval,omitempty"`
	TrustWeight   *float64          `json:"trust_weight,omitempty"`
	Endpoint      *string           `json:"endpoint,omitempty"`
	CredentialRef *string           `json:"credential_ref,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

func sourcePath(id string, parts ...string) string {
	p := "/api/v1/sources/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// List retrieves registered sources
func (s *SourceService) List(ctx context.Context, enabledOnly bool) ([]Source, error) {
	var query url.Values
	if enabledOnly {
		query = url.Values{"enabled": {strconv.FormatBool(true)}}
	}
	var sources []Source
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/sources", query, nil, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// Get retrieves a source by ID
func (s *SourceService) Get(ctx context.Context, id string) (*Source, error) {
	var src Source
	if err := s.client.doRequest(ctx, http.MethodGet, sourcePath(id), nil, nil, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Create registers a new source
func (s *SourceService) Create(ctx context.Context, req *CreateSourceRequest) (*Source, error) {
	var src Source
	if err := s.client.doRequest(ctx, http.MethodPost, "/api/v1/sources", nil, req, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Update changes a source's schedule, weight or connection settings
func (s *SourceService) Update(ctx context.Context, id string, req *UpdateSourceRequest) (*Source, error) {
	var src Source
	if err := s.client.doRequest(ctx, http.MethodPatch, sourcePath(id), nil, req, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Disable stops polling a source
func (s *SourceService) Disable(ctx context.Context, id, reason string) (*Source, error) {
	var src Source
	body := map[string]string{"reason": reason}
	if err := s.client.doRequest(ctx, http.MethodPost, sourcePath(id, "disable"), nil, body, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Enable re-enables a source and resets its health
func (s *SourceService) Enable(ctx context.Context, id string) (*Source, error) {
	var src Source
	if err := s.client.doRequest(ctx, http.MethodPost, sourcePath(id, "enable"), nil, nil, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Poll runs the source out of schedule. When the poll itself fails the
// returned result is still populated alongside the error.
func (s *SourceService) Poll(ctx context.Context, id string) (*PollResult, error) {
	var res PollResult
	err := s.client.doRequest(ctx, http.MethodPost, sourcePath(id, "poll"), nil, nil, &res)
	if err != nil && res.SourceID == "" {
		return nil, err
	}
	return &res, err
}

// Lookup asks the source about one observable; the server stores the answer
func (s *SourceService) Lookup(ctx context.Context, id, kind, value string) (*Indicator, error) {
	var ind Indicator
	body := map[string]string{"type": kind, "value": value}
	if err := s.client.doRequest(ctx, http.MethodPost, sourcePath(id, "lookup"), nil, body, &ind); err != nil {
		return nil, err
	}
	return &ind, nil
}

// Search runs a free-text query against the source without storing hits
func (s *SourceService) Search(ctx context.Context, id, query string) ([]Observation, error) {
	var hits []Observation
	if err := s.client.doRequest(ctx, http.MethodGet, sourcePath(id, "search"), url.Values{"q": {query}}, nil, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// Pulses lists the campaign groupings a source has reported
func (s *SourceService) Pulses(ctx context.Context, id string) ([]Pulse, error) {
	var pulses []Pulse
	if err := s.client.doRequest(ctx, http.MethodGet, sourcePath(id, "pulses"), nil, nil, &pulses); err != nil {
		return nil, err
	}
	return pulses, nil
}
