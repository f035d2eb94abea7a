package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// DefaultSampleInterval is how often connection gauges are written.
const DefaultSampleInterval = 15 * time.Second

// MetricsWriter is the InfluxDB surface Metrics needs. *influxdb.Client
// satisfies it; its writes are already non-blocking.
type MetricsWriter interface {
	WriteActivity(relayID, kind, deviceID string, at time.Time)
	WriteConnectionCounts(relayID string, counts influxdb.ConnectionCounts, at time.Time)
}

// StatsSource reports current registry counts. *relay.Broker satisfies it.
type StatsSource interface {
	Stats() relay.BrokerStats
}

// Metrics writes one point per activity and samples connection gauges.
type Metrics struct {
	w       MetricsWriter
	relayID string
}

// NewMetrics creates a metrics observer tagged with relayID.
func NewMetrics(w MetricsWriter, relayID string) *Metrics {
	return &Metrics{w: w, relayID: relayID}
}

// Observe implements relay.Observer.
func (m *Metrics) Observe(a relay.Activity) {
	m.w.WriteActivity(m.relayID, string(a.Kind), a.DeviceID, a.At)
}

// Sample writes the current connection counts once.
func (m *Metrics) Sample(src StatsSource, at time.Time) {
	s := src.Stats()
	m.w.WriteConnectionCounts(m.relayID, influxdb.ConnectionCounts{
		Connections: s.Connections,
		Devices:     s.Devices,
		WebClients:  s.WebClients,
		Anonymous:   s.Anonymous,
	}, at)
}

// Run samples src every interval until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context, src StatsSource, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sample(src, now)
		}
	}
}
