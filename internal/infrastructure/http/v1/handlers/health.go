// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"docchat/internal/infrastructure/storage/postgres"
)

// Probe is a dependency readiness can check.
type Probe interface {
	Name() string
	HealthCheck(ctx context.Context) bool
}

// HealthHandler provides liveness, readiness and info endpoints.
type HealthHandler struct {
	db       Probe
	stats    func() postgres.PoolStats
	services []Probe
	timeout  time.Duration
	version  string
}

// NewHealthHandler creates a health handler. The database is required for
// readiness; services only degrade it. stats may be nil.
func NewHealthHandler(db Probe, stats func() postgres.PoolStats, version string, services ...Probe) *HealthHandler {
	return &HealthHandler{
		db:       db,
		stats:    stats,
		services: services,
		timeout:  2 * time.Second,
		version:  version,
	}
}

// Live handles the liveness probe.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready checks the database and every external service concurrently.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	probes := append([]Probe{h.db}, h.services...)
	healthy := make([]bool, len(probes))

	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			healthy[i] = p.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]string, len(probes))
	status, code := "ok", http.StatusOK
	for i, p := range probes {
		if healthy[i] {
			checks[p.Name()] = "healthy"
			continue
		}
		checks[p.Name()] = "unhealthy"
		if i == 0 {
			status, code = "error", http.StatusServiceUnavailable
		} else if status == "ok" {
			status = "degraded"
		}
	}

	c.JSON(code, gin.H{"status": status, "checks": checks})
}

var startedAt = time.Now()

// Info returns application and pool information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "docchat",
		"version": h.version,
		"uptime":  time.Since(startedAt).Round(time.Second).String(),
	}
	if h.stats != nil {
		s := h.stats()
		body["database"] = gin.H{
			"total_conns":    s.TotalConns,
			"acquired_conns": s.AcquiredConns,
			"idle_conns":     s.IdleConns,
			"max_conns":      s.MaxConns,
		}
	}
	c.JSON(http.StatusOK, body)
}
