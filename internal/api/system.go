package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/mqtt"
)

// healthCheckTimeout bounds the database ping made by /system/status.
const healthCheckTimeout = 2 * time.Second

// MirrorStats reports the time-series mirror's write counters.
type MirrorStats interface {
	Stats() influxdb.Stats
}

// SystemStatus is the body of GET /system/status.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Database      DatabaseMetrics `json:"database"`
	MQTT          *mqtt.Status    `json:"mqtt,omitempty"`
	InfluxDB      *influxdb.Stats `json:"influxdb,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// DatabaseMetrics reports database health and connection pool statistics.
type DatabaseMetrics struct {
	Healthy         bool   `json:"healthy"`
	Error           string `json:"error,omitempty"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
}

// handleSystemStatus reports uptime, runtime, database and broker status.
// It always answers 200; consumers read the component fields.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		status.WebSocket.ConnectedClients = s.hub.ClientCount()
		status.WebSocket.DroppedEvents = s.hub.DroppedEvents()
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	status.Database.Healthy = true
	if err := s.db.HealthCheck(ctx); err != nil {
		status.Database.Healthy = false
		status.Database.Error = err.Error()
	}
	dbStats := s.db.Stats()
	status.Database.OpenConnections = dbStats.OpenConnections
	status.Database.InUse = dbStats.InUse
	status.Database.Idle = dbStats.Idle
	status.Database.WaitCount = dbStats.WaitCount

	if s.mqtt != nil {
		brokerStatus := s.mqtt.Status()
		status.MQTT = &brokerStatus
	}

	if s.mirror != nil {
		mirrorStats := s.mirror.Stats()
		status.InfluxDB = &mirrorStats
	}

	writeJSON(w, http.StatusOK, status)
}

// handleMQTTStatus returns the broker connection snapshot.
func (s *Server) handleMQTTStatus(w http.ResponseWriter, _ *http.Request) {
	if s.mqtt == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "broker connection not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.mqtt.Status())
}
