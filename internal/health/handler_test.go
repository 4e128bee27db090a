package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/bookcast/internal/storage"
)

func healthy(context.Context) (Status, error) { return StatusHealthy, nil }

func TestRunChecks(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   Status
	}{
		{
			name:   "no checks",
			checks: nil,
			want:   StatusHealthy,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"a": healthy,
				"b": healthy,
			},
			want: StatusHealthy,
		},
		{
			name: "degraded wins over healthy",
			checks: map[string]CheckFunc{
				"a": healthy,
				"b": DegradedOnError(func() error { return errors.New("slow") }),
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			checks: map[string]CheckFunc{
				"b": DegradedOnError(func() error { return errors.New("slow") }),
				"c": PingCheck(func(context.Context) error { return errors.New("down") }),
			},
			want: StatusUnhealthy,
		},
		{
			name: "error with healthy status counts as unhealthy",
			checks: map[string]CheckFunc{
				"a": func(context.Context) (Status, error) { return StatusHealthy, errors.New("boom") },
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler("test")
			for name, check := range tt.checks {
				h.Register(name, check)
			}

			resp := h.RunChecks(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			assert.Equal(t, "test", resp.Version)
		})
	}
}

func TestHandlers(t *testing.T) {
	h := NewHandler("1.2.3")
	h.Register("history", PingCheck(func(context.Context) error { return errors.New("db closed") }))
	h.Register("providers", ProvidersCheck(func() []string { return []string{"stub"} }))
	assert.Equal(t, []string{"history", "providers"}, h.Names())

	t.Run("live", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})

	t.Run("ready", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusUnhealthy, resp.Status)
		assert.Equal(t, "db closed", resp.Checks["history"].Error)
		assert.Equal(t, StatusHealthy, resp.Checks["providers"].Status)
	})

	t.Run("full", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestStorageCheck(t *testing.T) {
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)
	defer adapter.Close()

	status, err := StorageCheck(adapter)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)

	keys, err := adapter.List(context.Background(), sentinelPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys, "sentinel object should be removed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err = StorageCheck(adapter)(ctx)
	assert.Error(t, err)
	assert.Equal(t, StatusUnhealthy, status)
}

func TestProvidersCheck(t *testing.T) {
	status, err := ProvidersCheck(func() []string { return nil })(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusUnhealthy, status)
}
