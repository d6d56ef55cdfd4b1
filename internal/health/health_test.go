package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routeguard/routeguard/internal/store"
)

// ============================================================
// Checker Tests
// ============================================================

func TestHealth(t *testing.T) {
	c := NewChecker("1.2.3")

	resp := c.Health()
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}

func TestReadinessAllHealthy(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("a", func(ctx context.Context) error { return nil })
	c.RegisterCheck("b", func(ctx context.Context) error { return nil })

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["a"].Status)
}

func TestReadinessFailingCheck(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	c.RegisterCheck("broken", func(ctx context.Context) error { return errors.New("backend down") })

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusUnhealthy, resp.Checks["broken"].Status)
	assert.Contains(t, resp.Checks["broken"].Message, "backend down")
	assert.Equal(t, StatusHealthy, resp.Checks["ok"].Status)
}

func TestReadinessCheckTimeout(t *testing.T) {
	c := NewChecker("test", WithCheckTimeout(10*time.Millisecond))
	c.RegisterCheck("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestDraining(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("a", func(ctx context.Context) error { return nil })

	c.SetDraining(true)
	assert.Equal(t, StatusDraining, c.Health().Status)
	assert.Equal(t, StatusDraining, c.Readiness(context.Background()).Status)

	c.SetDraining(false)
	assert.Equal(t, StatusHealthy, c.Health().Status)
}

// ============================================================
// Handler Tests
// ============================================================

func TestHealthHandler(t *testing.T) {
	c := NewChecker("test")

	w := httptest.NewRecorder()
	c.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestReadinessHandlerStatusCodes(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("a", func(ctx context.Context) error { return nil })

	w := httptest.NewRecorder()
	c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	c.RegisterCheck("broken", func(ctx context.Context) error { return errors.New("down") })
	w = httptest.NewRecorder()
	c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ============================================================
// Store Check Tests
// ============================================================

func TestStoreCheck(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	require.NoError(t, StoreCheck(s)(context.Background()))
}

func TestStoreCheckCancelledContext(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, StoreCheck(s)(ctx))
}
