package hub

import (
	"fmt"
	"sync"

	"kptv-proxy/work/logger"
	"kptv-proxy/work/metrics"
)

// Manager is the process-wide hub registry (spec §3 "Shared-stream hub
// state" / §5 "Hub registry"). Lookup, attach, and detach are its only
// mutating operations; the registry lock is released before any upstream
// handle is dropped, per spec §4.9/§5's explicit ordering requirement, by
// keeping Manager's own mutex scope strictly smaller than Hub's internal
// run loop (Hub.Close never runs under Manager's lock).
type Manager struct {
	mu   sync.Mutex
	hubs map[string]*Hub
	log  *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewWithPrefix("INFO", "hub-registry")
	}
	return &Manager{hubs: make(map[string]*Hub), log: log}
}

// Key builds the (target, channel virtual id) registry key spec §3 names.
func Key(target string, virtualID uint64) string {
	return fmt.Sprintf("%s|%d", target, virtualID)
}

// AttachOrCreate returns the hub for key, creating it via newUpstream if
// none exists yet (spec §3 "Hub entries are created on first client
// attach"), then attaches clientID to it.
func (m *Manager) AttachOrCreate(key string, clientID string, queueDepth int, upstream Upstream, cfg Config) (*Hub, <-chan []byte) {
	m.mu.Lock()
	h, ok := m.hubs[key]
	if !ok {
		h = New(key, upstream, cfg, m.onHubIdle)
		m.hubs[key] = h
		m.log.Info("{hub/manager - AttachOrCreate} %s: created", key)
	}
	m.mu.Unlock()

	ch := h.Attach(clientID, queueDepth)
	m.refreshMetrics()
	return h, ch
}

// Lookup returns the hub for key without creating one.
func (m *Manager) Lookup(key string) (*Hub, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[key]
	return h, ok
}

// Detach removes clientID from key's hub, if present.
func (m *Manager) Detach(key, clientID string) {
	m.mu.Lock()
	h, ok := m.hubs[key]
	m.mu.Unlock()
	if ok {
		h.Detach(clientID)
	}
	m.refreshMetrics()
}

// onHubIdle is the linger-expiry callback a Hub invokes on itself, outside
// Manager's lock, once it has already closed its own upstream; this method
// only removes the registry entry, so Manager's critical section never
// overlaps with Hub.Close's upstream teardown.
func (m *Manager) onHubIdle(key string) {
	m.mu.Lock()
	delete(m.hubs, key)
	m.mu.Unlock()
	m.log.Info("{hub/manager - onHubIdle} %s: removed (linger expired)", key)
	m.refreshMetrics()
}

// refreshMetrics recomputes the hub count/client gauges. Called after every
// attach/detach/idle-removal rather than incrementally, since Hub's own
// client count is authoritative and cheap to resum across the (typically
// small) live hub set.
func (m *Manager) refreshMetrics() {
	m.mu.Lock()
	clients := 0
	for _, h := range m.hubs {
		clients += h.ClientCount()
	}
	count := len(m.hubs)
	m.mu.Unlock()
	metrics.HubCount.Set(float64(count))
	metrics.HubClients.Set(float64(clients))
}

// Count returns the number of live hubs, for the admin status endpoint.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}

// Snapshot returns a point-in-time view of hub keys and client counts, for
// the dashboard/admin API (spec §6 "dashboard endpoints for ... hubs").
func (m *Manager) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.hubs))
	for k, h := range m.hubs {
		out[k] = h.ClientCount()
	}
	return out
}
