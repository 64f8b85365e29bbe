package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lantuyan/crawler-f1-sub000/pkg/config"
	"github.com/lantuyan/crawler-f1-sub000/pkg/retry"
	"github.com/lantuyan/crawler-f1-sub000/pkg/storage"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  string       `json:"duration,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components []ComponentHealth `json:"components"`
	Uptime     string            `json:"uptime"`
}

// HealthService defines the health check service interface
type HealthService interface {
	CheckHealth(ctx context.Context) HealthResponse
	CheckOutputFiles(ctx context.Context) ComponentHealth
	CheckDatabase(ctx context.Context) ComponentHealth
	CheckCrawlTarget(ctx context.Context) ComponentHealth
}

// healthService implements the HealthService interface
type healthService struct {
	db        *storage.DB
	breaker   *retry.CircuitBreaker
	cfg       config.Config
	client    *http.Client
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthService creates a new health service. db and breaker may be nil.
func NewHealthService(
	db *storage.DB,
	breaker *retry.CircuitBreaker,
	cfg config.Config,
	logger *zap.Logger,
	version string,
) HealthService {
	return &healthService{
		db:      db,
		breaker: breaker,
		cfg:     cfg,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth performs a comprehensive health check
func (h *healthService) CheckHealth(ctx context.Context) HealthResponse {
	start := time.Now()

	components := []ComponentHealth{}

	components = append(components, h.CheckOutputFiles(ctx))
	components = append(components, h.CheckDatabase(ctx))
	components = append(components, h.CheckCrawlTarget(ctx))

	if h.breaker != nil {
		components = append(components, h.checkBreaker())
	}

	overallStatus := h.determineOverallStatus(components)

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.version,
		Components: components,
		Uptime:     time.Since(h.startTime).String(),
	}

	duration := time.Since(start)
	h.logger.Info("Health check completed",
		zap.String("status", string(overallStatus)),
		zap.Duration("duration", duration),
		zap.Int("components", len(components)))

	return response
}

// CheckOutputFiles checks that the output directory accepts writes. The CSV
// files are the primary store, so a read-only volume is fatal.
func (h *healthService) CheckOutputFiles(ctx context.Context) ComponentHealth {
	start := time.Now()

	component := ComponentHealth{
		Name:      "output_files",
		Timestamp: time.Now(),
	}

	if err := os.MkdirAll(h.cfg.OutputDir, 0o755); err != nil {
		component.Status = HealthStatusUnhealthy
		component.Message = fmt.Sprintf("output directory not creatable: %v", err)
		return component
	}

	probe, err := os.CreateTemp(h.cfg.OutputDir, ".healthcheck-*")
	if err != nil {
		component.Status = HealthStatusUnhealthy
		component.Message = fmt.Sprintf("output directory not writable: %v", err)
		h.logger.Error("Output directory health check failed", zap.Error(err))
		return component
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	component.Status = HealthStatusHealthy
	component.Message = fmt.Sprintf("Output directory %s is writable", filepath.Clean(h.cfg.OutputDir))
	component.Duration = time.Since(start).String()
	return component
}

// CheckDatabase checks the mirror database health
func (h *healthService) CheckDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	component := ComponentHealth{
		Name:      "database",
		Timestamp: time.Now(),
	}

	if h.db == nil {
		component.Status = HealthStatusHealthy
		component.Message = "Relational mirror disabled"
		return component
	}

	if err := h.db.Health(ctx); err != nil {
		component.Status = HealthStatusUnhealthy
		component.Message = err.Error()
		h.logger.Error("Database health check failed", zap.Error(err))
		return component
	}

	stats := h.db.GetStats()
	if stats.OpenConnections > stats.MaxOpenConnections*8/10 {
		component.Status = HealthStatusDegraded
		component.Message = "High connection usage"
	} else {
		component.Status = HealthStatusHealthy
		component.Message = "Database is healthy"
	}

	component.Duration = time.Since(start).String()
	return component
}

// CheckCrawlTarget probes the crawl target with a HEAD request. Failures
// degrade rather than kill health: the service itself still works, the
// target may simply be refusing probes.
func (h *healthService) CheckCrawlTarget(ctx context.Context) ComponentHealth {
	start := time.Now()

	component := ComponentHealth{
		Name:      "crawl_target",
		Timestamp: time.Now(),
	}

	if h.cfg.TargetBaseURL == "" {
		component.Status = HealthStatusDegraded
		component.Message = "No target base URL configured"
		return component
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.cfg.TargetBaseURL, nil)
	if err != nil {
		component.Status = HealthStatusDegraded
		component.Message = fmt.Sprintf("invalid target URL: %v", err)
		return component
	}

	resp, err := h.client.Do(req)
	if err != nil {
		component.Status = HealthStatusDegraded
		component.Message = fmt.Sprintf("target unreachable: %v", err)
		h.logger.Warn("Crawl target health probe failed", zap.Error(err))
		return component
	}
	resp.Body.Close()

	component.Status = HealthStatusHealthy
	component.Message = fmt.Sprintf("Target reachable, status %d", resp.StatusCode)
	component.Duration = time.Since(start).String()
	return component
}

// checkBreaker reports the site guard state as a component
func (h *healthService) checkBreaker() ComponentHealth {
	component := ComponentHealth{
		Name:      "site_guard",
		Timestamp: time.Now(),
	}

	state := h.breaker.State()
	switch state {
	case retry.StateOpen:
		component.Status = HealthStatusDegraded
		component.Message = "Site guard open, crawling paused"
	case retry.StateHalfOpen:
		component.Status = HealthStatusDegraded
		component.Message = "Site guard half-open, probing"
	default:
		component.Status = HealthStatusHealthy
		component.Message = "Site guard closed"
	}

	return component
}

// determineOverallStatus determines the overall health status based on component statuses
func (h *healthService) determineOverallStatus(components []ComponentHealth) HealthStatus {
	hasUnhealthy := false
	hasDegraded := false

	for _, component := range components {
		switch component.Status {
		case HealthStatusUnhealthy:
			hasUnhealthy = true
		case HealthStatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return HealthStatusUnhealthy
	}
	if hasDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
