package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/testutil"
)

func TestSourceService_Register(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	service := NewSourceService(repo, 5, testLogger())

	tests := []struct {
		name    string
		source  *source.Source
		wantErr bool
	}{
		{
			name:   "register otx feed",
			source: &source.Source{Name: "otx", Provider: "otx", FeedType: source.FeedTypeIOC, PollInterval: 10 * time.Minute, Enabled: true},
		},
		{
			name:    "duplicate name",
			source:  &source.Source{Name: "otx", Provider: "otx", FeedType: source.FeedTypeIOC, PollInterval: 10 * time.Minute},
			wantErr: true,
		},
		{
			name:    "missing name",
			source:  &source.Source{Provider: "otx", FeedType: source.FeedTypeIOC, PollInterval: 10 * time.Minute},
			wantErr: true,
		},
		{
			name:    "unknown feed type",
			source:  &source.Source{Name: "x", Provider: "otx", FeedType: "spam", PollInterval: 10 * time.Minute},
			wantErr: true,
		},
		{
			name:    "interval too short",
			source:  &source.Source{Name: "y", Provider: "otx", FeedType: source.FeedTypeIOC, PollInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "negative weight",
			source:  &source.Source{Name: "z", Provider: "otx", FeedType: source.FeedTypeIOC, PollInterval: time.Hour, TrustWeight: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := service.Register(context.Background(), tt.source)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				assert.NotEmpty(t, id)
				assert.Equal(t, source.DefaultTrustWeight, tt.source.TrustWeight)
				assert.Equal(t, source.HealthHealthy, tt.source.Health)
			}
		})
	}
}

func registerTestSource(t *testing.T, service *SourceService, name string) string {
	t.Helper()
	id, err := service.Register(context.Background(), &source.Source{
		Name: name, Provider: "blocklist", FeedType: source.FeedTypeReputation, PollInterval: time.Hour, Enabled: true,
	})
	require.NoError(t, err)
	return id
}

func TestSourceService_CircuitBreaker(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	service := NewSourceService(repo, 3, testLogger())
	ctx := context.Background()
	id := registerTestSource(t, service, "abuse")

	wantHealth := []source.Health{source.HealthDegraded, source.HealthDegraded, source.HealthFailed, source.HealthFailed}
	for i, want := range wantHealth {
		got, err := service.MarkFailed(ctx, id, "connection refused")
		require.NoError(t, err)
		assert.Equal(t, want, got, "after failure %d", i+1)
	}

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, source.HealthFailed, stored.Health)
	assert.Equal(t, 4, stored.FailureCount)
	assert.Equal(t, "connection refused", stored.LastError)
	assert.False(t, stored.Schedulable())

	// a straggling success does not revive a tripped source
	require.NoError(t, service.MarkHealthy(ctx, id))
	stored, _ = repo.GetByID(ctx, id)
	assert.Equal(t, source.HealthFailed, stored.Health)

	require.NoError(t, service.Enable(ctx, id))
	stored, _ = repo.GetByID(ctx, id)
	assert.Equal(t, source.HealthHealthy, stored.Health)
	assert.Zero(t, stored.FailureCount)
	assert.True(t, stored.Schedulable())
}

func TestSourceService_MarkHealthyResets(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	service := NewSourceService(repo, 5, testLogger())
	ctx := context.Background()
	id := registerTestSource(t, service, "abuse")

	_, err := service.MarkFailed(ctx, id, "timeout")
	require.NoError(t, err)
	require.NoError(t, service.MarkHealthy(ctx, id))

	stored, _ := repo.GetByID(ctx, id)
	assert.Equal(t, source.HealthHealthy, stored.Health)
	assert.Zero(t, stored.FailureCount)
	require.NotNil(t, stored.LastSuccessAt)
}

func TestSourceService_ConcurrentFailures(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	service := NewSourceService(repo, 5, testLogger())
	ctx := context.Background()
	id := registerTestSource(t, service, "abuse")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = service.MarkFailed(ctx, id, "boom")
		}()
	}
	wg.Wait()

	stored, _ := repo.GetByID(ctx, id)
	assert.Equal(t, 50, stored.FailureCount)
	assert.Equal(t, source.HealthFailed, stored.Health)
}

func TestSourceService_CountsFromStoredHealth(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	ctx := context.Background()
	src := &source.Source{Name: "abuse", Provider: "blocklist", FeedType: source.FeedTypeIOC, PollInterval: time.Hour, Enabled: true}
	require.NoError(t, repo.Create(ctx, src))
	require.NoError(t, repo.UpdateHealth(ctx, src.ID, source.HealthUpdate{Health: source.HealthDegraded, FailureCount: 4}))

	// a restarted registry continues counting from the stored value
	service := NewSourceService(repo, 5, testLogger())
	health, err := service.MarkFailed(ctx, src.ID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, source.HealthFailed, health)
}

func TestSourceService_SharedStoreAcrossProcesses(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	ctx := context.Background()
	server := NewSourceService(repo, 5, testLogger())
	operator := NewSourceService(repo, 5, testLogger())
	id := registerTestSource(t, server, "abuse")

	for i := 0; i < 5; i++ {
		_, err := server.MarkFailed(ctx, id, "connection refused")
		require.NoError(t, err)
	}
	stored, _ := repo.GetByID(ctx, id)
	require.Equal(t, source.HealthFailed, stored.Health)

	// re-enabled from another process, e.g. the CLI
	require.NoError(t, operator.Enable(ctx, id))

	require.NoError(t, server.MarkHealthy(ctx, id))
	stored, _ = repo.GetByID(ctx, id)
	assert.Equal(t, source.HealthHealthy, stored.Health)
	require.NotNil(t, stored.LastSuccessAt, "the success is recorded after the re-enable")

	health, err := server.MarkFailed(ctx, id, "timeout")
	require.NoError(t, err)
	assert.Equal(t, source.HealthDegraded, health, "one failure after re-enable does not trip the breaker")
	stored, _ = repo.GetByID(ctx, id)
	assert.Equal(t, 1, stored.FailureCount)

	// the operator's view reflects the server's writes too
	for i := 0; i < 4; i++ {
		health, err = operator.MarkFailed(ctx, id, "timeout")
		require.NoError(t, err)
	}
	assert.Equal(t, source.HealthFailed, health)
}

func TestSourceService_HealthWriteErrors(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	service := NewSourceService(repo, 5, testLogger())
	ctx := context.Background()
	id := registerTestSource(t, service, "abuse")

	repo.UpdateHealthError = errors.New("db down")
	_, err := service.MarkFailed(ctx, id, "timeout")
	assert.Error(t, err)
	assert.Error(t, service.MarkHealthy(ctx, id))

	repo.UpdateHealthError = nil
	_, err = service.MarkFailed(ctx, "missing", "timeout")
	assert.Error(t, err)
}

func TestSourceService_DisableAndSettings(t *testing.T) {
	repo := testutil.NewMockSourceRepository()
	service := NewSourceService(repo, 5, testLogger())
	ctx := context.Background()
	id := registerTestSource(t, service, "abuse")

	require.NoError(t, service.Disable(ctx, id, "licence expired"))
	enabled, err := service.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := service.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "licence expired", all[0].DisabledReason)

	interval := 30 * time.Minute
	weight := 2.5
	endpoint := " https://mirror.example/list.txt "
	credential := "env:ABUSE_TOKEN"
	updated, err := service.UpdateSettings(ctx, id, source.Settings{
		PollInterval:  &interval,
		TrustWeight:   &weight,
		Endpoint:      &endpoint,
		CredentialRef: &credential,
		Options:       map[string]string{"reputation": "-4"},
	})
	require.NoError(t, err)
	assert.Equal(t, interval, updated.PollInterval)
	assert.Equal(t, weight, updated.TrustWeight)
	assert.Equal(t, "https://mirror.example/list.txt", updated.Endpoint)
	assert.Equal(t, credential, updated.CredentialRef)
	assert.Equal(t, "-4", updated.Options["reputation"])

	bad := time.Second
	_, err = service.UpdateSettings(ctx, id, source.Settings{PollInterval: &bad})
	assert.Error(t, err)
	blank := "  "
	_, err = service.UpdateSettings(ctx, id, source.Settings{Endpoint: &blank})
	assert.Error(t, err)
	_, err = service.UpdateSettings(ctx, id, source.Settings{})
	assert.Error(t, err)

	repo.GetError = errors.New("db down")
	_, err = service.Get(ctx, id)
	assert.Error(t, err)
}
