package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Relay         RelayMetrics     `json:"relay"`
	MQTT          ComponentMetrics `json:"mqtt"`
	InfluxDB      ComponentMetrics `json:"influxdb"`
	Database      DatabaseMetrics  `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains socket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// RelayMetrics contains broker statistics.
type RelayMetrics struct {
	relay.RegistryStats
	Activity map[string]uint64 `json:"activity,omitempty"`
}

// ComponentMetrics describes an optional outbound integration.
type ComponentMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	Enabled         bool  `json:"enabled"`
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, socket and relay metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Relay: RelayMetrics{
			RegistryStats: s.broker.Stats().RegistryStats,
		},
		MQTT: ComponentMetrics{
			Enabled:   s.mqtt != nil,
			Connected: s.mqtt.IsConnected(),
		},
		InfluxDB: ComponentMetrics{
			Enabled:   s.influx != nil,
			Connected: s.influx.IsConnected(),
		},
	}

	if s.counters != nil {
		metrics.Relay.Activity = s.counters.Snapshot()
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			Enabled:         true,
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
