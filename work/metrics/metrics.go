// Package metrics exposes the process's prometheus/client_golang
// collectors (spec §10's observability surface), served at /metrics by
// work/httpapi's promhttp.Handler. Grounded on the teacher's own
// work/metrics package (same promauto.NewGaugeVec/NewCounterVec shape),
// generalized here from the teacher's single "channel" label to the
// session/hub/provider/cache dimensions this architecture tracks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveSessions tracks the number of live client sessions, labeled by
// delivery mode ("reverse" or "redirect" never registers one, since
// redirect mode never opens a session.Session).
var ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "kptv_proxy_active_sessions",
	Help: "Number of active client sessions",
}, []string{"mode"})

// BytesTransferred counts bytes copied from upstream to a client, per
// delivery mode.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_proxy_bytes_transferred_total",
	Help: "Total bytes transferred to clients",
}, []string{"mode"})

// StreamErrors counts session-terminating errors, per mode.
var StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_proxy_stream_errors_total",
	Help: "Number of stream errors",
}, []string{"mode"})

// HubClients tracks the total number of clients attached across all live
// shared-stream hubs.
var HubClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_proxy_hub_clients",
	Help: "Number of clients attached to shared-stream hubs",
})

// HubCount tracks the number of live shared-stream hubs.
var HubCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_proxy_hub_count",
	Help: "Number of live shared-stream hubs",
})

// ProviderConnections tracks active upstream connections per source.
var ProviderConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "kptv_proxy_provider_connections",
	Help: "Active connections to a provider source",
}, []string{"source"})

// CacheHits and CacheMisses count work/rescache lookups.
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kptv_proxy_resource_cache_hits_total",
		Help: "Resource cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kptv_proxy_resource_cache_misses_total",
		Help: "Resource cache misses",
	})
)
