package hls

import (
	"sync"
	"time"
)

// Resolver maps a segment token's derived virtual id back to the resolved
// upstream URL it was minted for, since the signed token itself (spec
// §4.1) carries only a fingerprint of the URL, not the URL. Entries are
// populated by Rewrite's Signer callback and expire shortly after the
// manifest that produced them would reasonably have been consumed, per
// spec §4.1 "tokens for stream URLs may carry expiry."
type Resolver struct {
	mu      sync.Mutex
	entries map[uint64]resolverEntry
	ttl     time.Duration
}

type resolverEntry struct {
	url     string
	source  string // provider source name the resolved URL must be fetched through
	expires time.Time
}

func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Resolver{entries: make(map[uint64]resolverEntry), ttl: ttl}
}

// Put records resolvedURL and the provider source it belongs to under its
// derived virtual id, for later lookup by Resolve when the signed segment
// request arrives.
func (r *Resolver) Put(virtualID uint64, resolvedURL, source string, now time.Time) {
	r.mu.Lock()
	r.entries[virtualID] = resolverEntry{url: resolvedURL, source: source, expires: now.Add(r.ttl)}
	r.mu.Unlock()
}

// Resolve returns the URL and source previously registered under
// virtualID, if still within its TTL.
func (r *Resolver) Resolve(virtualID uint64, now time.Time) (url, source string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[virtualID]
	if !ok || now.After(e.expires) {
		delete(r.entries, virtualID)
		return "", "", false
	}
	return e.url, e.source, true
}

// Sweep removes expired entries; callers run it periodically to bound
// Resolver's memory for long-lived processes.
func (r *Resolver) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.entries {
		if now.After(e.expires) {
			delete(r.entries, k)
			n++
		}
	}
	return n
}
