package api

import (
	"net/http"
	"runtime"
	"time"

	"duo-chat/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports dependency status and live session counts
type HealthHandler struct {
	checker  *health.Checker
	sessions func() int
	version  string
	started  time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status     string                       `json:"status"`
	Timestamp  time.Time                    `json:"timestamp"`
	Version    string                       `json:"version"`
	Uptime     string                       `json:"uptime"`
	Components map[string]*health.Component `json:"components"`
	WebSocket  WebSocketHealth              `json:"websocket"`
	Memory     MemoryStats                  `json:"memory"`
}

type WebSocketHealth struct {
	ActiveConnections int `json:"active_connections"`
}

type MemoryStats struct {
	AllocMB  uint64 `json:"alloc_mb"`
	SysMB    uint64 `json:"sys_mb"`
	GCCycles uint32 `json:"gc_cycles"`
}

func NewHealthHandler(checker *health.Checker, sessions func() int, version string) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		sessions: sessions,
		version:  version,
		started:  time.Now(),
	}
}

// Health answers 200 while every critical component is up, 503 otherwise
func (h *HealthHandler) Health(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: h.checker.GetStatus(),
		WebSocket:  WebSocketHealth{ActiveConnections: h.sessions()},
		Memory: MemoryStats{
			AllocMB:  memStats.Alloc / 1024 / 1024,
			SysMB:    memStats.Sys / 1024 / 1024,
			GCCycles: memStats.NumGC,
		},
	}

	code := http.StatusOK
	if !h.checker.IsSystemHealthy() {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
