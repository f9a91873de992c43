package client

import (
	"context"
	"net/http"
	"net/url"
)

// NotificationService handles notification calls
type NotificationService struct {
	client *Client
}

// NotificationListOptions contains options for listing notifications
type NotificationListOptions struct {
	ListOptions
	Kind               string // threat, escalation
	Severity           string
	IndicatorID        string
	UnacknowledgedOnly bool
}

// List retrieves notifications, newest first
func (s *NotificationService) List(ctx context.Context, opts *NotificationListOptions) (*Page[Notification], error) {
	query := url.Values{}
	if opts != nil {
		query = listQuery(opts.ListOptions)
		if opts.Kind != "" {
			query.Set("kind", opts.Kind)
		}
		if opts.Severity != "" {
			query.Set("severity", opts.Severity)
		}
		if opts.IndicatorID != "" {
			query.Set("indicator_id", opts.IndicatorID)
		}
		if opts.UnacknowledgedOnly {
			query.Set("unacknowledged", "true")
		}
	}

	var page Page[Notification]
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/notifications", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get retrieves a notification by ID
func (s *NotificationService) Get(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/notifications/"+url.PathEscape(id), nil, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Acknowledge marks a notification handled. An empty by falls back to the
// client's configured actor.
func (s *NotificationService) Acknowledge(ctx context.Context, id, by string) (*Notification, error) {
	var n Notification
	body := map[string]string{}
	if by != "" {
		body["by"] = by
	}
	path := "/api/v1/notifications/" + url.PathEscape(id) + "/acknowledge"
	if err := s.client.doRequest(ctx, http.MethodPost, path, nil, body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
