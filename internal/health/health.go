// Package health reports liveness/readiness for a running node: relay
// pool connectivity, conversation/session load, and process resource
// usage. Grounded on the teacher's internal/health/health.go, retargeted
// from "database + WebSocket relay" components to "relay pool +
// conversation runtime + client transport."
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/portal/internal/config"
)

const healthCheckTimeout = 5 * time.Second

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Components []*ComponentStatus     `json:"components"`
	Summary    map[string]interface{} `json:"summary"`
}

// AppInterface defines the App operations needed for health checks, kept
// narrow so this package never imports internal/app directly (avoiding an
// import cycle with anything app eventually wires health into).
type AppInterface interface {
	ActiveSessionCount() int
	ActiveConversationCount() int
	ConnectedRelayCount() int
	StartTime() time.Time
}

// HealthChecker performs comprehensive health checks
type HealthChecker struct {
	app       AppInterface
	cfg       *config.Config
	logger    *zap.Logger
	startTime time.Time
	version   string
	mu        sync.RWMutex
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(app AppInterface, cfg *config.Config, logger *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		app:       app,
		cfg:       cfg,
		logger:    logger.Named("health"),
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth performs a comprehensive health check
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	startTime := time.Now()
	components := make([]*ComponentStatus, 0)

	components = append(components, h.checkRelayPool())
	components = append(components, h.checkMemory())
	components = append(components, h.checkSessions())
	components = append(components, h.checkSystemResources())

	overallStatus := h.determineOverallStatus(components)
	uptime := time.Since(h.app.StartTime())

	response := &HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     h.formatUptime(uptime),
		Components: components,
		Summary: map[string]interface{}{
			"total_components":     len(components),
			"healthy_components":   h.countComponentsByStatus(components, StatusHealthy),
			"degraded_components":  h.countComponentsByStatus(components, StatusDegraded),
			"unhealthy_components": h.countComponentsByStatus(components, StatusUnhealthy),
			"check_duration_ms":    time.Since(startTime).Milliseconds(),
		},
	}

	return response
}

// checkRelayPool checks how many of the configured relays the pool
// currently holds an open connection to.
func (h *HealthChecker) checkRelayPool() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "relay_pool",
		Details: make(map[string]interface{}),
	}

	connected := h.app.ConnectedRelayCount()
	configured := len(h.cfg.Nostr.Relays)
	status.Details["connected_relays"] = connected
	status.Details["configured_relays"] = configured

	if configured == 0 {
		status.Status = StatusUnhealthy
		status.Message = "no relays configured"
		return status
	}

	ratio := float64(connected) / float64(configured)
	status.Details["connection_ratio"] = ratio

	switch {
	case connected == 0:
		status.Status = StatusUnhealthy
		status.Message = "no relay connections established"
	case ratio < 0.5:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("connected to %d/%d configured relays", connected, configured)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("connected to %d/%d configured relays", connected, configured)
	}

	return status
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := &ComponentStatus{
		Name:    "memory",
		Details: make(map[string]interface{}),
	}

	allocMB := float64(m.Alloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024
	heapMB := float64(m.HeapAlloc) / 1024 / 1024

	status.Details["alloc_mb"] = allocMB
	status.Details["sys_mb"] = sysMB
	status.Details["heap_mb"] = heapMB
	status.Details["num_gc"] = m.NumGC
	status.Details["gc_cpu_fraction"] = m.GCCPUFraction

	const (
		memoryWarningMB  = 500
		memoryCriticalMB = 1000
	)

	if allocMB > memoryCriticalMB {
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High memory usage: %.1f MB", allocMB)
	} else if allocMB > memoryWarningMB {
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated memory usage: %.1f MB", allocMB)
	} else {
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Memory usage normal: %.1f MB", allocMB)
	}

	return status
}

// checkSessions checks client session and conversation load against the
// configured caps.
func (h *HealthChecker) checkSessions() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "sessions",
		Details: make(map[string]interface{}),
	}

	sessionCount := h.app.ActiveSessionCount()
	conversationCount := h.app.ActiveConversationCount()
	status.Details["active_sessions"] = sessionCount
	status.Details["active_conversations"] = conversationCount

	maxSessions := h.cfg.Transport.MaxSessions
	if maxSessions == 0 {
		maxSessions = 1
	}
	sessionUtilization := float64(sessionCount) / float64(maxSessions) * 100
	status.Details["max_sessions"] = maxSessions
	status.Details["session_utilization_percent"] = sessionUtilization

	switch {
	case sessionUtilization > 95:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("Critical session utilization: %d/%d (%.1f%%)",
			sessionCount, maxSessions, sessionUtilization)
	case sessionUtilization > 90:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("High session utilization: %d/%d (%.1f%%)",
			sessionCount, maxSessions, sessionUtilization)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Session count normal: %d/%d (%.1f%%)",
			sessionCount, maxSessions, sessionUtilization)
	}

	return status
}

// checkSystemResources checks system-level resources
func (h *HealthChecker) checkSystemResources() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "system",
		Details: make(map[string]interface{}),
	}

	goroutineCount := runtime.NumGoroutine()
	status.Details["goroutines"] = goroutineCount
	status.Details["cpus"] = runtime.NumCPU()

	const (
		goroutineWarning  = 1000
		goroutineCritical = 5000
	)

	if goroutineCount > goroutineCritical {
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High goroutine count: %d", goroutineCount)
	} else if goroutineCount > goroutineWarning {
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated goroutine count: %d", goroutineCount)
	} else {
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("System resources normal: %d goroutines", goroutineCount)
	}

	return status
}

// determineOverallStatus determines the overall health status from components
func (h *HealthChecker) determineOverallStatus(components []*ComponentStatus) HealthStatus {
	unhealthyCount := 0
	degradedCount := 0

	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			unhealthyCount++
		case StatusDegraded:
			degradedCount++
		}
	}

	if unhealthyCount > 0 {
		return StatusUnhealthy
	}
	if degradedCount > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// countComponentsByStatus counts components with a specific status
func (h *HealthChecker) countComponentsByStatus(components []*ComponentStatus, status HealthStatus) int {
	count := 0
	for _, comp := range components {
		if comp.Status == status {
			count++
		}
	}
	return count
}

// formatUptime formats uptime duration as a human-readable string
func (h *HealthChecker) formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// HandleHealth is the HTTP handler for health checks
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	ready := r.URL.Query().Get("ready")

	healthResponse := h.CheckHealth(ctx)

	statusCode := http.StatusOK
	if ready == "1" {
		switch healthResponse.Status {
		case StatusHealthy, StatusDegraded:
			statusCode = http.StatusOK
		case StatusUnhealthy:
			statusCode = http.StatusServiceUnavailable
		}
	} else {
		switch healthResponse.Status {
		case StatusHealthy, StatusDegraded:
			statusCode = http.StatusOK
		case StatusUnhealthy:
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(healthResponse); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Health check completed",
		zap.String("status", string(healthResponse.Status)),
		zap.Int("status_code", statusCode),
		zap.String("client_ip", r.RemoteAddr),
		zap.Int64("duration_ms", healthResponse.Summary["check_duration_ms"].(int64)))
}
