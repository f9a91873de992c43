package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/threatwatch/internal/api/handlers"
	"github.com/pratik-mahalle/threatwatch/internal/api/middleware"
	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
	"github.com/pratik-mahalle/threatwatch/internal/services"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
)

func newTestRouter(t *testing.T, server config.ServerConfig, limiter *middleware.RateLimiter) http.Handler {
	t.Helper()
	log := logger.Nop()
	val := validator.New()
	intel := config.DefaultIntel()
	scorer := services.NewPriorityScorer(intel)

	db := testutil.NewTestDB(t)
	t.Cleanup(func() { testutil.CleanupDB(db) })

	registry := services.NewSourceService(testutil.NewMockSourceRepository(), 3, log)
	tickets := services.NewTicketService(testutil.NewMockTicketRepository(), intel.SLA, log)
	dispatcher := services.NewNotificationDispatcher(
		testutil.NewMockNotificationRepository(), tickets, scorer,
		testutil.NewMockSink("ui"), testutil.NewMockSink("supervisors"),
		services.DispatcherConfigFrom(intel), log,
	)

	return New(server, log, limiter, &Handlers{
		Health:       handlers.NewHealthHandler(db, nil, log),
		Source:       handlers.NewSourceHandler(registry, nil, nil, nil, scorer, log, val),
		Indicator:    handlers.NewIndicatorHandler(testutil.NewMockIndicatorRepository(), testutil.NewMockPulseRepository(), scorer, log),
		Notification: handlers.NewNotificationHandler(dispatcher, log, val),
		Ticket:       handlers.NewTicketHandler(tickets, log, val),
	})
}

func get(h http.Handler, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_PublicProbes(t *testing.T) {
	h := newTestRouter(t, config.ServerConfig{AllowedOrigin: "https://soc.example", APIToken: "s3cret"}, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := get(h, path)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader), path)
	}
}

func TestRouter_APIRequiresToken(t *testing.T) {
	h := newTestRouter(t, config.ServerConfig{AllowedOrigin: "https://soc.example", APIToken: "s3cret"}, nil)

	rr := get(h, "/api/v1/sources")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = get(h, "/api/v1/sources", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = get(h, "/api/v1/tickets", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = get(h, "/api/v1/notifications", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = get(h, "/api/v1/indicators/ip/1.2.3.4", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newTestRouter(t, config.ServerConfig{AllowedOrigin: "https://soc.example"}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tickets", nil)
	req.Header.Set("Origin", "https://soc.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://soc.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/tickets", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimitsAPIOnly(t *testing.T) {
	h := newTestRouter(t, config.ServerConfig{}, middleware.NewRateLimiter(0.001, 1))

	assert.Equal(t, http.StatusOK, get(h, "/api/v1/tickets").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/api/v1/tickets").Code)
	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code, "probes are not rate limited")
}
