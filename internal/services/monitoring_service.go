package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// HealthStatus represents the overall health of the system
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
}

// ComponentStatus represents the status of a system component
type ComponentStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
}

// MonitoringService serves health and metrics endpoints.
type MonitoringService struct {
	db        *gorm.DB
	redis     *redis.Client
	gatherer  prometheus.Gatherer
	startedAt time.Time

	mu         sync.RWMutex
	components map[string]ComponentStatus
}

// NewMonitoringService creates a monitoring service. redisClient may be nil.
func NewMonitoringService(db *gorm.DB, redisClient *redis.Client, gatherer prometheus.Gatherer) *MonitoringService {
	return &MonitoringService{
		db:         db,
		redis:      redisClient,
		gatherer:   gatherer,
		startedAt:  time.Now(),
		components: make(map[string]ComponentStatus),
	}
}

// CheckComponents pings the database and Redis and returns the overall
// health.
func (m *MonitoringService) CheckComponents(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m.updateComponent("database", m.checkDatabase(ctx))
	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			m.updateComponent("redis", ComponentStatus{Status: StatusDegraded, Message: err.Error()})
		} else {
			m.updateComponent("redis", ComponentStatus{Status: StatusHealthy, Message: "Redis is reachable"})
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	health := &HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startedAt).Round(time.Second).String(),
		Components: make(map[string]ComponentStatus, len(m.components)),
	}
	for name, component := range m.components {
		health.Components[name] = component
		if component.Status == StatusCritical {
			health.Status = StatusCritical
		} else if component.Status == StatusDegraded && health.Status == StatusHealthy {
			health.Status = StatusDegraded
		}
	}
	return health
}

func (m *MonitoringService) checkDatabase(ctx context.Context) ComponentStatus {
	sqlDB, err := m.db.DB()
	if err != nil {
		return ComponentStatus{Status: StatusCritical, Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{Status: StatusCritical, Message: err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy, Message: "Database is reachable"}
}

func (m *MonitoringService) updateComponent(name string, status ComponentStatus) {
	status.LastCheck = time.Now()
	m.mu.Lock()
	m.components[name] = status
	m.mu.Unlock()
}

// HandleHealthCheck handles the liveness endpoint
func (m *MonitoringService) HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startedAt).Round(time.Second).String(),
	})
}

// HandleDetailedHealth reports per-component health. Critical components
// answer 503.
func (m *MonitoringService) HandleDetailedHealth(c *gin.Context) {
	health := m.CheckComponents(c.Request.Context())

	statusCode := http.StatusOK
	if health.Status == StatusCritical {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// HandleMetrics exposes Prometheus metrics
func (m *MonitoringService) HandleMetrics(c *gin.Context) {
	promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}
