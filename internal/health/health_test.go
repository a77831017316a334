package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newMockDB(t *testing.T) (sqlmock.Sqlmock, *CheckerConfig) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, &CheckerConfig{DB: db, Version: "1.0.0", Timeout: time.Second}
}

func TestCheckIsAlwaysHealthy(t *testing.T) {
	checker := NewChecker(&CheckerConfig{Version: "1.0.0"})

	response := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "1.0.0", response.Version)
	assert.Empty(t, response.Components)
}

func TestDeepCheckHealthy(t *testing.T) {
	mock, cfg := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	cfg.Redis = pingerFunc(func(context.Context) error { return nil })

	response := NewChecker(cfg).DeepCheck(context.Background())

	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, StatusHealthy, response.Components["database"].Status)
	assert.Equal(t, StatusHealthy, response.Components["redis"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeepCheckDatabaseDown(t *testing.T) {
	mock, cfg := newMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	response := NewChecker(cfg).DeepCheck(context.Background())

	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.Equal(t, "database ping failed", response.Components["database"].Message)
}

func TestDeepCheckDegradedQuery(t *testing.T) {
	mock, cfg := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("boom"))

	response := NewChecker(cfg).DeepCheck(context.Background())

	assert.Equal(t, StatusDegraded, response.Status)
}

func TestDeepCheckRedisDown(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Redis: pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	})

	response := checker.DeepCheck(context.Background())

	assert.Equal(t, StatusUnhealthy, response.Status)
	_, hasDB := response.Components["database"]
	assert.False(t, hasDB, "memory store reports no database component")
}

func TestHandlers(t *testing.T) {
	down := NewHandler(NewChecker(&CheckerConfig{
		Version: "1.0.0",
		Redis:   pingerFunc(func(context.Context) error { return errors.New("down") }),
	}))

	tests := []struct {
		name   string
		target string
		serve  http.HandlerFunc
		want   int
		status Status
	}{
		{"liveness", "/health/live", down.LivenessHandler, http.StatusOK, StatusHealthy},
		{"readiness", "/health/ready", down.ReadinessHandler, http.StatusServiceUnavailable, StatusUnhealthy},
		{"health shallow", "/health", down.HealthHandler, http.StatusOK, StatusHealthy},
		{"health deep", "/health?deep=true", down.HealthHandler, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.serve(w, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, "1.0.0", body.Version)
		})
	}
}
