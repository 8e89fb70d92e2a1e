// Package httpapi wires the proxy's built targets, users, provider clients,
// and stream infrastructure (C8-C11) into the HTTP surface spec §6 names:
// M3U/Xtream/EPG playlist endpoints, live/VOD/series stream endpoints, HLS
// manifest rewriting, and HDHomeRun device emulation. It is grounded on the
// teacher's main.go + admin_handlers.go composition (a mux.Router fed by
// package-level handler functions closing over a shared *proxy.Restreamer)
// but replaces the teacher's single monolithic Restreamer with the App type
// below, which bundles the new architecture's components instead.
package httpapi

import (
	"sync"
	"time"

	"kptv-proxy/work/config"
	"kptv-proxy/work/hls"
	"kptv-proxy/work/hub"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/ingest"
	"kptv-proxy/work/logger"
	"kptv-proxy/work/model"
	"kptv-proxy/work/pipeline"
	"kptv-proxy/work/providerclient"
	"kptv-proxy/work/registry"
	"kptv-proxy/work/rescache"
	"kptv-proxy/work/session"
)

// App is the composition root's shared state: every HTTP handler in this
// package is a method on *App (or a closure capturing one). Fields set once
// at startup are unexported via the constructor pattern below where they
// need synchronization; config.Watcher already carries its own atomic swap,
// so App.Config() simply delegates to it.
type App struct {
	Log      *logger.Logger
	Watcher  *config.Watcher
	Secret   identity.Secret
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline
	Hubs     *hub.Manager
	Kicks    *session.KickRegistry
	HLS      *hls.Resolver
	ResCache *rescache.Cache
	Fetcher  *ingest.Fetcher
	Clients  map[string]*providerclient.Client // by source name

	DeviceID string
	DeviceUDN string

	startedAt time.Time

	mu            sync.RWMutex
	targets       map[string]*model.Target
	users         map[string]*model.User
	usersByFP     map[uint64]*model.User // identity.Fingerprint(username) -> user, for token-path lookups
	providerConns map[string]*session.ConnCounter // by source name
	userConns     map[string]*session.ConnCounter // by username
	grace         map[string]*session.GraceController // by source name
}

// New builds an App with its concurrency-sensitive maps initialized.
// compose.Builder fills Clients on each BuildAll, and main.go runs the
// first BuildAll before serving any request.
func New(log *logger.Logger) *App {
	return &App{
		Log:           log,
		Clients:       make(map[string]*providerclient.Client),
		targets:       make(map[string]*model.Target),
		users:         make(map[string]*model.User),
		usersByFP:     make(map[uint64]*model.User),
		providerConns: make(map[string]*session.ConnCounter),
		userConns:     make(map[string]*session.ConnCounter),
		grace:         make(map[string]*session.GraceController),
		startedAt:     time.Now(),
	}
}

// Config returns the currently active configuration.
func (a *App) Config() *config.Config {
	return a.Watcher.Current()
}

// SetTargets atomically replaces the served target set (spec §9: swap by
// generation, never mutate in place).
func (a *App) SetTargets(targets map[string]*model.Target) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = targets
}

// Target looks up a built target by name.
func (a *App) Target(name string) (*model.Target, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.targets[name]
	return t, ok
}

// Targets returns a snapshot slice of all built targets, for the admin API.
func (a *App) Targets() []*model.Target {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*model.Target, 0, len(a.targets))
	for _, t := range a.targets {
		out = append(out, t)
	}
	return out
}

// SetUsers atomically replaces the served user set, rebuilding the
// fingerprint index UserByFingerprint reads (spec §4.1 stream tokens carry
// a fingerprint, not a username, so the reverse lookup must stay current).
func (a *App) SetUsers(users map[string]*model.User) {
	byFP := make(map[uint64]*model.User, len(users))
	for _, u := range users {
		byFP[identity.Fingerprint(u.Username)] = u
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = users
	a.usersByFP = byFP
}

// User looks up a proxy account by username.
func (a *App) User(username string) (*model.User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[username]
	return u, ok
}

// UserByFingerprint recovers the user a signed stream token's
// UserFingerprint field names, for the token-based /stream path which
// never carries a username in the clear.
func (a *App) UserByFingerprint(fp uint64) (*model.User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.usersByFP[fp]
	return u, ok
}

// UserConnCounter returns (creating if absent) the per-username connection
// counter sized to u.MaxConnections.
func (a *App) UserConnCounter(u *model.User) *session.ConnCounter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.userConns[u.Username]
	if !ok {
		c = session.NewConnCounter(u.MaxConnections)
		a.userConns[u.Username] = c
	}
	return c
}

// ProviderConnCounter returns (creating if absent) the per-source connection
// counter sized to the source's configured MaxConnections.
func (a *App) ProviderConnCounter(sourceName string, maxConns int) *session.ConnCounter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.providerConns[sourceName]
	if !ok {
		c = session.NewConnCounter(maxConns)
		a.providerConns[sourceName] = c
	}
	return c
}

// GraceFor returns (creating if absent) the per-source grace controller.
func (a *App) GraceFor(sourceName string) *session.GraceController {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.grace[sourceName]
	if !ok {
		cfg := a.Config().Global
		g = session.NewGraceController(cfg.GracePeriod(), cfg.GraceCooldown())
		a.grace[sourceName] = g
	}
	return g
}

// Uptime reports how long this process has been serving.
func (a *App) Uptime() time.Duration {
	return time.Since(a.startedAt)
}
