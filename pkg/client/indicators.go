package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// IndicatorService handles indicator store calls
type IndicatorService struct {
	client *Client
}

// IndicatorListOptions contains options for listing indicators
type IndicatorListOptions struct {
	ListOptions
	Type          string
	SourceID      string
	MaxReputation *int
}

// List retrieves correlated indicators, most recently seen first
func (s *IndicatorService) List(ctx context.Context, opts *IndicatorListOptions) (*Page[Indicator], error) {
	query := url.Values{}
	if opts != nil {
		query = listQuery(opts.ListOptions)
		if opts.Type != "" {
			query.Set("type", opts.Type)
		}
		if opts.SourceID != "" {
			query.Set("source_id", opts.SourceID)
		}
		if opts.MaxReputation != nil {
			query.Set("max_reputation", strconv.Itoa(*opts.MaxReputation))
		}
	}

	var page Page[Indicator]
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/indicators", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get retrieves the indicator for a (type, value) pair. The server
// canonicalizes the value, so any spelling of the same observable matches.
func (s *IndicatorService) Get(ctx context.Context, kind, value string) (*Indicator, error) {
	var ind Indicator
	path := "/api/v1/indicators/" + url.PathEscape(kind) + "/" + url.PathEscape(value)
	if err := s.client.doRequest(ctx, http.MethodGet, path, nil, nil, &ind); err != nil {
		return nil, err
	}
	return &ind, nil
}
