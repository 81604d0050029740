package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string { return m.name }

func (m *mockHealthCheck) Check(ctx context.Context) error { return m.err }

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)

	handler.HandleHealth(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))

	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name           string
		setupChecks    func(*HealthHandler)
		expectedStatus int
		checkStatus    func(*testing.T, *HealthStatus)
	}{
		{
			name:           "no checks registered",
			setupChecks:    func(h *HealthHandler) {},
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status *HealthStatus) {
				assert.Equal(t, "healthy", status.Status)
			},
		},
		{
			name: "all checks pass",
			setupChecks: func(h *HealthHandler) {
				h.RegisterCheck(&mockHealthCheck{name: "postgres"})
				h.RegisterCheck(&mockHealthCheck{name: "redis"})
			},
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status *HealthStatus) {
				assert.Equal(t, "healthy", status.Status)
				assert.Len(t, status.Checks, 2)
				assert.Equal(t, "pass", status.Checks["postgres"].Status)
				assert.Equal(t, "pass", status.Checks["redis"].Status)
			},
		},
		{
			name: "one check fails",
			setupChecks: func(h *HealthHandler) {
				h.RegisterCheck(&mockHealthCheck{name: "postgres"})
				h.RegisterCheck(&mockHealthCheck{name: "redis", err: errors.New("connection refused")})
			},
			expectedStatus: http.StatusServiceUnavailable,
			checkStatus: func(t *testing.T, status *HealthStatus) {
				assert.Equal(t, "unhealthy", status.Status)
				assert.Len(t, status.Checks, 2)
				assert.Equal(t, "pass", status.Checks["postgres"].Status)
				assert.Equal(t, "fail", status.Checks["redis"].Status)
				assert.Equal(t, "connection refused", status.Checks["redis"].Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			tt.setupChecks(h)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/ready", nil)

			h.HandleReady(w, r)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			tt.checkStatus(t, &status)
		})
	}
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/version", nil)

	handler.HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestHealthHandler_ConcurrentReady(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	for i := 0; i < 10; i++ {
		handler.RegisterCheck(&mockHealthCheck{name: string(rune('a' + i))})
	}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/ready", nil)
			handler.HandleReady(w, r)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
