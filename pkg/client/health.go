package client

import (
	"context"
	"net/http"
)

// Health calls the liveness probe
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Ready calls the readiness probe, which checks the database
func (c *Client) Ready(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.doRequest(ctx, http.MethodGet, "/readyz", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
