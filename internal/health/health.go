// Package health provides HTTP health check endpoints for the
// optional CLI wrapper: overall readiness, and a pool ping check.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/joao-brasil/websqlite3/internal/config"
	"github.com/joao-brasil/websqlite3/internal/pool"
)

// Status represents the health of a single component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the health of a single checked component.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// HealthReport is the overall health report.
type HealthReport struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// Checker runs health checks against the connection pool.
type Checker struct {
	cfg  *config.Config
	pool *pool.Pool
}

// NewChecker creates a health checker bound to an already-running Pool.
func NewChecker(cfg *config.Config, p *pool.Pool) *Checker {
	return &Checker{cfg: cfg, pool: p}
}

// Check runs all component checks and returns the aggregate report.
func (c *Checker) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	comp := c.checkPool(ctx)
	report.Components = []ComponentHealth{comp}
	if comp.Status == StatusUnhealthy {
		report.Status = StatusUnhealthy
	}

	return report
}

// checkPool acquires and immediately releases a connection, the
// cheapest possible proof that the pool can still serve queries.
func (c *Checker) checkPool(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := c.pool.Acquire(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Name:    "pool",
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("acquire failed: %v", err),
			Latency: latency.String(),
		}
	}
	defer c.pool.Release(conn, true)

	if err := conn.DB().PingContext(ctx); err != nil {
		conn.MarkUnhealthy()
		return ComponentHealth{
			Name:    "pool",
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: latency.String(),
		}
	}

	return ComponentHealth{
		Name:    "pool",
		Status:  StatusHealthy,
		Message: "PONG",
		Latency: latency.String(),
	}
}

// ServeHTTP starts the health check HTTP server on cfg.Server.Port.
func (c *Checker) ServeHTTP(ctx context.Context) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	})

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", c.cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("[health] HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[health] HTTP server error: %v", err)
		}
	}()

	return server
}
