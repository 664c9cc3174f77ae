package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitoringService_CheckComponents(t *testing.T) {
	db := setupTestDB(t)
	mr, client := setupTestRedis(t)
	monitoring := NewMonitoringService(db, client, nil)

	health := monitoring.CheckComponents(context.Background())
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, StatusHealthy, health.Components["database"].Status)
	assert.Equal(t, StatusHealthy, health.Components["redis"].Status)

	mr.Close()
	health = monitoring.CheckComponents(context.Background())
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Equal(t, StatusDegraded, health.Components["redis"].Status)
}

func TestMonitoringService_DatabaseDown(t *testing.T) {
	db := setupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	monitoring := NewMonitoringService(db, nil, nil)
	health := monitoring.CheckComponents(context.Background())
	assert.Equal(t, StatusCritical, health.Status)
	assert.NotContains(t, health.Components, "redis")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health/detailed", monitoring.HandleDetailedHealth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMonitoringService_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newStack(t)
	s.metrics.Observe("kirvano", OutcomeProvisioned, 20*time.Millisecond)

	monitoring := NewMonitoringService(s.db, nil, s.registry)
	r := gin.New()
	r.GET("/health", monitoring.HandleHealthCheck)
	r.GET("/metrics", monitoring.HandleMetrics)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, StatusHealthy, health.Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `puzzle_webhooks_processed_total{outcome="provisioned",provider="kirvano"} 1`)
}
