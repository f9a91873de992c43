package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	"github.com/pratik-mahalle/threatwatch/internal/feeds"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
	"github.com/pratik-mahalle/threatwatch/internal/services"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
	"github.com/pratik-mahalle/threatwatch/internal/worker"
)

type fakeRunner struct {
	out   worker.Outcome
	calls int
}

func (f *fakeRunner) RunSource(ctx context.Context, src *source.Source) worker.Outcome {
	f.calls++
	out := f.out
	out.Result.SourceID = src.ID
	return out
}

type fakeIntel struct {
	found *indicator.Indicator
	hits  []indicator.Observation
	err   error
}

func (f *fakeIntel) Lookup(ctx context.Context, src *source.Source, kind indicator.Type, value string) (*indicator.Indicator, error) {
	return f.found, f.err
}

func (f *fakeIntel) Search(ctx context.Context, src *source.Source, query string) ([]indicator.Observation, error) {
	return f.hits, f.err
}

type apiFixture struct {
	sources       *testutil.MockSourceRepository
	registry      *services.SourceService
	indicators    *testutil.MockIndicatorRepository
	notifications *testutil.MockNotificationRepository
	tickets       *services.TicketService
	runner        *fakeRunner
	intel         *fakeIntel
	mux           http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	val := validator.New()
	cfg := config.DefaultIntel()
	scorer := services.NewPriorityScorer(cfg)

	f := &apiFixture{
		sources:       testutil.NewMockSourceRepository(),
		indicators:    testutil.NewMockIndicatorRepository(),
		notifications: testutil.NewMockNotificationRepository(),
		runner:        &fakeRunner{},
		intel:         &fakeIntel{},
	}
	f.registry = services.NewSourceService(f.sources, 3, log)
	f.tickets = services.NewTicketService(testutil.NewMockTicketRepository(), cfg.SLA, log)
	dispatcher := services.NewNotificationDispatcher(
		f.notifications, f.tickets, scorer,
		testutil.NewMockSink("ui"), testutil.NewMockSink("supervisors"),
		services.DispatcherConfigFrom(cfg), log,
	)

	src := NewSourceHandler(f.registry, f.runner, f.intel, feeds.NewRegistry(feeds.Options{}), scorer, log, val)
	ind := NewIndicatorHandler(f.indicators, testutil.NewMockPulseRepository(), scorer, log)
	ntf := NewNotificationHandler(dispatcher, log, val)
	tkt := NewTicketHandler(f.tickets, log, val)

	r := chi.NewRouter()
	r.Get("/sources", src.List)
	r.Post("/sources", src.Create)
	r.Get("/sources/{id}", src.Get)
	r.Patch("/sources/{id}", src.Update)
	r.Post("/sources/{id}/disable", src.Disable)
	r.Post("/sources/{id}/enable", src.Enable)
	r.Post("/sources/{id}/poll", src.Poll)
	r.Post("/sources/{id}/lookup", src.Lookup)
	r.Get("/sources/{id}/search", src.Search)
	r.Get("/indicators", ind.List)
	r.Get("/indicators/{type}/*", ind.Get)
	r.Get("/notifications", ntf.List)
	r.Post("/notifications/{id}/acknowledge", ntf.Acknowledge)
	r.Get("/tickets", tkt.List)
	r.Patch("/tickets/{id}/status", tkt.UpdateStatus)
	r.Post("/tickets/{id}/reprioritize", tkt.Reprioritize)
	f.mux = r
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func (f *apiFixture) addSource(t *testing.T, name string) *source.Source {
	t.Helper()
	src := &source.Source{
		Name:         name,
		Provider:     feeds.ProviderBlocklist,
		Endpoint:     "https://lists.example/" + name,
		FeedType:     source.FeedTypeIOC,
		PollInterval: 10 * time.Minute,
		Enabled:      true,
	}
	_, err := f.registry.Register(context.Background(), src)
	require.NoError(t, err)
	return src
}

func TestSourceHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]interface{}
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "valid source",
			body: map[string]interface{}{
				"name": "abuse-ch", "provider": "blocklist", "endpoint": "https://feodo.example/ips.txt",
				"feed_type": "ioc", "poll_interval": "15m", "trust_weight": 1.5,
				"credential_ref": "ABUSE_KEY",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unknown feed type",
			body: map[string]interface{}{
				"name": "x", "provider": "blocklist", "endpoint": "https://x.example",
				"feed_type": "rumours", "poll_interval": "15m",
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apperrors.ErrCodeValidation,
		},
		{
			name: "unparseable interval",
			body: map[string]interface{}{
				"name": "x", "provider": "blocklist", "endpoint": "https://x.example",
				"feed_type": "ioc", "poll_interval": "often",
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apperrors.ErrCodeValidation,
		},
		{
			name: "interval below minimum",
			body: map[string]interface{}{
				"name": "x", "provider": "blocklist", "endpoint": "https://x.example",
				"feed_type": "ioc", "poll_interval": "5s",
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apperrors.ErrCodeBadRequest,
		},
		{
			name: "unknown provider",
			body: map[string]interface{}{
				"name": "x", "provider": "carrier-pigeon", "endpoint": "https://x.example",
				"feed_type": "ioc", "poll_interval": "15m",
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apperrors.ErrCodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rr, env := f.do(t, http.MethodPost, "/sources", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, env.Error.Code)
				return
			}

			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(env.Data, &got))
			assert.NotEmpty(t, got["id"])
			assert.Equal(t, "15m0s", got["poll_interval"])
			assert.Equal(t, "healthy", got["health"])
			assert.Equal(t, true, got["has_credential"])
			assert.NotContains(t, got, "credential_ref")
			assert.Len(t, f.sources.Sources, 1)
		})
	}
}

func TestSourceHandler_DisableEnable(t *testing.T) {
	f := newAPIFixture(t)
	src := f.addSource(t, "feodo")

	rr, env := f.do(t, http.MethodPost, "/sources/"+src.ID+"/disable", map[string]string{"reason": "too noisy"})
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, false, got["enabled"])
	assert.Equal(t, "too noisy", got["disabled_reason"])

	rr, _ = f.do(t, http.MethodGet, "/sources?enabled=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = f.do(t, http.MethodPost, "/sources/"+src.ID+"/poll", nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "disabled sources are not polled")
	assert.Zero(t, f.runner.calls)

	rr, env = f.do(t, http.MethodPost, "/sources/"+src.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, true, got["enabled"])

	rr, env = f.do(t, http.MethodPost, "/sources/missing/disable", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperrors.ErrCodeNotFound, env.Error.Code)
}

func TestSourceHandler_Update(t *testing.T) {
	f := newAPIFixture(t)
	src := f.addSource(t, "feodo")

	rr, env := f.do(t, http.MethodPatch, "/sources/"+src.ID, map[string]interface{}{"poll_interval": "1h", "trust_weight": 2})
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "1h0m0s", got["poll_interval"])
	assert.Equal(t, 2.0, got["trust_weight"])

	rr, _ = f.do(t, http.MethodPatch, "/sources/"+src.ID, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = f.do(t, http.MethodPatch, "/sources/"+src.ID, map[string]interface{}{"trust_weight": 0.0})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperrors.ErrCodeBadRequest, env.Error.Code)

	rr, env = f.do(t, http.MethodPatch, "/sources/"+src.ID, map[string]interface{}{
		"endpoint": "https://mirror.example/list.txt",
		"options":  map[string]string{"reputation": "-3"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	got = nil
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "https://mirror.example/list.txt", got["endpoint"])
	assert.Equal(t, "1h0m0s", got["poll_interval"], "omitted fields are unchanged")

	rr, _ = f.do(t, http.MethodPatch, "/sources/"+src.ID, map[string]interface{}{"endpoint": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSourceHandler_Poll(t *testing.T) {
	f := newAPIFixture(t)
	src := f.addSource(t, "feodo")
	next := time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC)

	f.runner.out = worker.Outcome{
		Result: services.PollResult{Records: 3, Created: 2, Updated: 1, Notifications: 1},
		Next:   next,
		Keep:   true,
	}
	rr, env := f.do(t, http.MethodPost, "/sources/"+src.ID+"/poll", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 2.0, got["created"])
	assert.Equal(t, 1.0, got["notifications"])
	assert.Equal(t, true, got["scheduled"])

	f.runner.out = worker.Outcome{Err: apperrors.SourceUnavailable("feodo", errors.New("connection refused"))}
	rr, env = f.do(t, http.MethodPost, "/sources/"+src.ID+"/poll", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.False(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Contains(t, got["error"], "connection refused")
	assert.Equal(t, false, got["scheduled"])
}

func TestSourceHandler_LookupAndSearch(t *testing.T) {
	f := newAPIFixture(t)
	src := f.addSource(t, "otx")

	f.intel.found = &indicator.Indicator{
		ID: "ind-1", Type: indicator.TypeIP, Value: "1.2.3.4",
		Sources: []string{"src-a", "src-b"}, Reputation: -7, Category: indicator.CategoryIOC,
	}
	rr, env := f.do(t, http.MethodPost, "/sources/"+src.ID+"/lookup", map[string]string{"type": "ip", "value": "1.2.3.4"})
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 8.75, got["score"])
	assert.Equal(t, 1.0, got["priority"])

	rr, env = f.do(t, http.MethodPost, "/sources/"+src.ID+"/lookup", map[string]string{"type": "mac", "value": "aa"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperrors.ErrCodeValidation, env.Error.Code)

	f.intel.found, f.intel.err = nil, feeds.ErrNotFound
	rr, _ = f.do(t, http.MethodPost, "/sources/"+src.ID+"/lookup", map[string]string{"type": "ip", "value": "9.9.9.9"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	f.intel.err = apperrors.RateLimited("otx", time.Minute)
	rr, _ = f.do(t, http.MethodGet, "/sources/"+src.ID+"/search?q=emotet", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	f.intel.err = nil
	f.intel.hits = []indicator.Observation{{Type: indicator.TypeDomain, Value: "evil.example", Reputation: -6, Category: "malware"}}
	rr, env = f.do(t, http.MethodGet, "/sources/"+src.ID+"/search?q=emotet", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var hits []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "evil.example", hits[0]["value"])

	rr, _ = f.do(t, http.MethodGet, "/sources/"+src.ID+"/search", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIndicatorHandler_Get(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.indicators.Upsert(ctx, &indicator.Indicator{
		Type: indicator.TypeDomain, Value: "evil.example", Sources: []string{"src-a"},
		Reputation: -5, Category: indicator.CategoryIOC,
	}))
	require.NoError(t, f.indicators.Upsert(ctx, &indicator.Indicator{
		Type: indicator.TypeURL, Value: "evil.example/dl/payload.exe", Sources: []string{"src-a"},
		Reputation: -2, Category: indicator.CategoryMalware,
	}))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedValue  string
	}{
		{"canonical domain", "/indicators/domain/evil.example", http.StatusOK, "evil.example"},
		{"uppercase with trailing dot", "/indicators/domain/EVIL.Example.", http.StatusOK, "evil.example"},
		{"url with path", "/indicators/url/http://evil.example/dl/payload.exe", http.StatusOK, "evil.example/dl/payload.exe"},
		{"unknown value", "/indicators/domain/benign.example", http.StatusNotFound, ""},
		{"invalid value", "/indicators/ip/not-an-ip", http.StatusBadRequest, ""},
		{"unknown type", "/indicators/mac/aa:bb", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := f.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.expectedValue == "" {
				return
			}
			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(env.Data, &got))
			assert.Equal(t, tt.expectedValue, got["value"])
		})
	}
}

func TestIndicatorHandler_List(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for _, v := range []string{"1.1.1.1", "2.2.2.2"} {
		require.NoError(t, f.indicators.Upsert(ctx, &indicator.Indicator{
			Type: indicator.TypeIP, Value: v, Sources: []string{"src-a"}, Reputation: -3, Category: "ioc",
		}))
	}

	rr, env := f.do(t, http.MethodGet, "/indicators?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Data       []map[string]interface{} `json:"data"`
		TotalItems int64                    `json:"total_items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(2), page.TotalItems)
	assert.Equal(t, 3.0, page.Data[0]["priority"])

	rr, _ = f.do(t, http.MethodGet, "/indicators?max_reputation=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = f.do(t, http.MethodGet, "/indicators?type=mac", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotificationHandler_Acknowledge(t *testing.T) {
	f := newAPIFixture(t)
	n := &notification.ThreatNotification{
		Kind: notification.KindThreat, IndicatorID: "ind-1", Title: "critical ip",
		Severity: notification.SeverityCritical, Priority: 1, Status: notification.StatusDispatched,
	}
	require.NoError(t, f.notifications.Create(context.Background(), n))

	rr, _ := f.do(t, http.MethodPost, "/notifications/"+n.ID+"/acknowledge", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "someone must own the acknowledgment")

	rr, env := f.do(t, http.MethodPost, "/notifications/"+n.ID+"/acknowledge", nil, "X-Actor", "analyst-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, true, got["acknowledged"])
	assert.Equal(t, "analyst-1", got["acknowledged_by"])

	rr, env = f.do(t, http.MethodPost, "/notifications/"+n.ID+"/acknowledge", map[string]string{"by": "analyst-2"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "analyst-1", got["acknowledged_by"], "acknowledging twice keeps the first owner")

	rr, _ = f.do(t, http.MethodPost, "/notifications/ntf-404/acknowledge", map[string]string{"by": "analyst-1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, env = f.do(t, http.MethodGet, "/notifications?unacknowledged=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Data)
}

func TestTicketHandler_Workflow(t *testing.T) {
	f := newAPIFixture(t)
	tk, err := f.tickets.Open(context.Background(), &ticket.Ticket{Title: "critical ip 1.2.3.4", Priority: 3})
	require.NoError(t, err)
	created := tk.CreatedAt

	rr, env := f.do(t, http.MethodPatch, "/tickets/"+tk.ID+"/status", map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Status          string     `json:"status"`
		Priority        int        `json:"priority"`
		SLADeadline     time.Time  `json:"sla_deadline"`
		FirstResponseAt *time.Time `json:"first_response_at"`
		Overdue         bool       `json:"overdue"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "in_progress", got.Status)
	assert.NotNil(t, got.FirstResponseAt)
	assert.False(t, got.Overdue)

	rr, env = f.do(t, http.MethodPatch, "/tickets/"+tk.ID+"/status", map[string]string{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperrors.ErrCodeValidation, env.Error.Code)

	rr, env = f.do(t, http.MethodPost, "/tickets/"+tk.ID+"/reprioritize", map[string]int{"priority": 1})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 1, got.Priority)
	assert.True(t, created.Add(2*time.Hour).Equal(got.SLADeadline), "deadline counts from creation")

	rr, _ = f.do(t, http.MethodPost, "/tickets/"+tk.ID+"/reprioritize", map[string]int{"priority": 9})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = f.do(t, http.MethodGet, "/tickets?escalated=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = f.do(t, http.MethodGet, "/tickets?status=in_progress&escalated=false", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDecodeAndValidate_RejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t)
	rr, env := f.do(t, http.MethodPost, "/sources", map[string]interface{}{"name": "x", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperrors.ErrCodeBadRequest, env.Error.Code)
}

type staticQueue int

func (q staticQueue) QueueDepth() int { return int(q) }

func TestHealthHandler(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)
	h := NewHealthHandler(db, staticQueue(3), logger.Nop())

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"poll_queue_depth":3`)

	closed, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	h = NewHealthHandler(closed, nil, logger.Nop())
	rr = httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
