package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// TicketService handles ticket calls
type TicketService struct {
	client *Client
}

// TicketListOptions contains options for listing tickets
type TicketListOptions struct {
	ListOptions
	Status    string
	Escalated *bool
}

// List retrieves tickets
func (s *TicketService) List(ctx context.Context, opts *TicketListOptions) (*Page[Ticket], error) {
	query := url.Values{}
	if opts != nil {
		query = listQuery(opts.ListOptions)
		if opts.Status != "" {
			query.Set("status", opts.Status)
		}
		if opts.Escalated != nil {
			query.Set("escalated", strconv.FormatBool(*opts.Escalated))
		}
	}

	var page Page[Ticket]
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/tickets", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get retrieves a ticket by ID
func (s *TicketService) Get(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/tickets/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus moves a ticket through its workflow
func (s *TicketService) UpdateStatus(ctx context.Context, id, status string) (*Ticket, error) {
	var t Ticket
	path := "/api/v1/tickets/" + url.PathEscape(id) + "/status"
	if err := s.client.doRequest(ctx, http.MethodPatch, path, nil, map[string]string{"status": status}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Reprioritize changes a ticket's priority; the server recomputes its deadline
func (s *TicketService) Reprioritize(ctx context.Context, id string, priority int) (*Ticket, error) {
	var t Ticket
	path := "/api/v1/tickets/" + url.PathEscape(id) + "/reprioritize"
	if err := s.client.doRequest(ctx, http.MethodPost, path, nil, map[string]int{"priority": priority}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
