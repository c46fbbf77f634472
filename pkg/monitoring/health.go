package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// statusRank orders statuses from best to worst so the overall status is
// simply the worst individual check. Unknown strings rank as unhealthy.
func statusRank(status string) int {
	switch status {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthStatus is the aggregate payload served on /health.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthCheck probes one dependency.
type HealthCheck func() CheckResult

// HealthChecker runs a named set of dependency checks and aggregates them.
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck registers a check under the given name. Not safe to call after
// the handler starts serving.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs every registered check; the overall status is the worst
// individual result.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(hc.checks)),
	}

	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		if statusRank(result.Status) > statusRank(status.Status) {
			status.Status = result.Status
		}
	}

	return status
}

// Handler serves the aggregate health status, 503 when unhealthy.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// pingCheck wraps a dependency ping into a timed CheckResult.
func pingCheck(name string, ping func(context.Context) error) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("%s ping failed: %v", name, err),
			Latency: time.Since(start).String(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: name + " reachable",
		Latency: time.Since(start).String(),
	}
}

func nilClientResult(name string) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Message: name + " client is nil"}
}

// DatabaseHealthCheck reports Postgres connectivity.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	return func() CheckResult {
		if db == nil {
			return nilClientResult("database")
		}
		return pingCheck("database", db.PingContext)
	}
}

// KafkaProducerHealthCheck reports broker connectivity for a franz-go producer.
func KafkaProducerHealthCheck(client *kgo.Client) HealthCheck {
	return func() CheckResult {
		if client == nil {
			return nilClientResult("kafka")
		}
		return pingCheck("kafka", client.Ping)
	}
}

// RedisHealthCheck reports Redis connectivity.
func RedisHealthCheck(client goredis.UniversalClient) HealthCheck {
	return func() CheckResult {
		if client == nil {
			return nilClientResult("redis")
		}
		return pingCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
}

// ConfigurationHealthCheck fails when any of the given settings is empty.
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func() CheckResult {
		var missing []string
		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("missing required configuration: %v", missing),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "all required configuration present"}
	}
}
