// Package hub implements the shared-stream hub (C9): exactly one upstream
// socket per (target, channel) multiplexed to N attached clients through a
// burst buffer of recently-seen bytes plus a live broadcast to each
// client's bounded queue.
//
// Grounded on the teacher's work/buffer.RingBuffer (per-client read
// position into one shared byte ring) for the burst-buffer idea, and on
// work/restream.Restream's attach/detach/last-client-timer lifecycle
// (AddClient/RemoveClient/stopStream in work/restream/restream.go). The
// teacher multiplexes by re-reading its RingBuffer from each client's own
// goroutine (a pull model); this package uses a push model instead (each
// chunk is fanned out to every client's bounded channel as it arrives) so a
// slow client's queue fills and it is dropped without ever blocking the
// upstream reader, per spec §5 "the hub does not block on slow clients."
// Client registration uses puzpuzpuz/xsync/v3, matching the teacher's own
// choice of xsync.MapOf in work/proxy/stream.go for the same concurrent
// client-map shape.
package hub

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/logger"
)

// DefaultBurstBufferSize is the spec §3/§4.9 default: 12 MiB.
const DefaultBurstBufferSize = 12 * 1024 * 1024

// DefaultClientQueueDepth bounds the number of in-flight chunks a client can
// lag by before it is dropped. Chunks are at most one upstream read (the
// hub's 64 KiB read buffer), so this times a typical chunk size roughly
// matches one burst buffer.
const DefaultClientQueueDepth = 256

// DefaultLinger is how long a hub with zero attached clients stays up
// before it closes its upstream and is removed from the registry.
const DefaultLinger = 30 * time.Second

// Upstream abstracts the provider connection a hub reads from. Callers
// (the session/provider layer) supply an Open func returning a fresh
// io.ReadCloser each time the hub needs to (re)connect.
type Upstream func(ctx context.Context) (io.ReadCloser, error)

// ReconnectPolicy controls how a hub retries a dropped upstream. Mirrors
// spec §4.8's retry=true reconnect behavior, applied identically here
// (spec §4.9: "hub enters reconnect with the same policy as C8").
type ReconnectPolicy struct {
	MaxAttempts     int // 0 means retry indefinitely
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	BackoffFactor   float64
}

func (p ReconnectPolicy) delay(attempt int) time.Duration {
	if p.BackoffInitial <= 0 {
		return time.Second
	}
	d := p.BackoffInitial
	factor := p.BackoffFactor
	if factor <= 1 {
		factor = 2
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if p.BackoffMax > 0 && d > p.BackoffMax {
			return p.BackoffMax
		}
	}
	return d
}

// client is one attached fan-out target. Hubs never hold a reference back
// into session/handler state beyond this queue, per spec §9 "hubs never
// reference clients except through the queues."
type client struct {
	id     string
	queue  chan []byte
	closed atomic.Bool
}

func (c *client) drop() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.queue)
	}
}

// send attempts a non-blocking delivery. A full queue means the client is
// too slow to keep up with live upstream throughput; it is dropped rather
// than allowed to apply back-pressure to the hub (spec §5).
func (c *client) send(chunk []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.queue <- chunk:
		return true
	default:
		c.drop()
		return false
	}
}

// Hub multiplexes one upstream byte stream to every attached client.
type Hub struct {
	Key string // "target|virtual_id", the registry's map key

	upstream Upstream
	policy   ReconnectPolicy
	linger   time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	burst       [][]byte // ring of recent chunks, oldest first
	burstBytes  int
	burstLimit  int
	clients     *xsync.MapOf[string, *client]
	clientCount atomic.Int64

	running    atomic.Bool
	cancel     context.CancelFunc
	lingerTime *time.Timer
	onIdle     func(key string) // callback into the registry on linger expiry
}

// Config is the per-hub tuning a registry passes to New.
type Config struct {
	BurstBufferBytes int // 0 uses DefaultBurstBufferSize
	ClientQueueDepth int // 0 uses DefaultClientQueueDepth
	Linger           time.Duration
	Policy           ReconnectPolicy
	Log              *logger.Logger
}

func New(key string, upstream Upstream, cfg Config, onIdle func(string)) *Hub {
	burstLimit := cfg.BurstBufferBytes
	if burstLimit <= 0 {
		burstLimit = DefaultBurstBufferSize
	}
	linger := cfg.Linger
	if linger <= 0 {
		linger = DefaultLinger
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewWithPrefix("INFO", "hub")
	}
	h := &Hub{
		Key:        key,
		upstream:   upstream,
		policy:     cfg.Policy,
		linger:     linger,
		log:        log,
		burstLimit: burstLimit,
		clients:    xsync.NewMapOf[string, *client](),
		onIdle:     onIdle,
	}
	return h
}

// queueDepth resolves the configured per-client queue depth, defaulting
// when unset.
func queueDepth(cfg Config) int {
	if cfg.ClientQueueDepth <= 0 {
		return DefaultClientQueueDepth
	}
	return cfg.ClientQueueDepth
}

// Attach registers a new client and starts the hub's upstream reader if
// this is the first client. The returned channel receives a burst-buffer
// replay first (oldest retained chunk onward) followed by the live stream;
// spec §4.9/§8 property 3 guarantee the sequence is a contiguous suffix of
// the upstream beginning at or after the attach instant.
func (h *Hub) Attach(id string, queueDepth int) <-chan []byte {
	if queueDepth <= 0 {
		queueDepth = DefaultClientQueueDepth
	}
	c := &client{id: id, queue: make(chan []byte, queueDepth)}

	h.mu.Lock()
	if h.lingerTime != nil {
		h.lingerTime.Stop()
		h.lingerTime = nil
	}
	// Replay the retained burst buffer into the client's queue before it
	// is registered for live fan-out, so no chunk is skipped or duplicated.
	// Uses the same non-blocking send/drop path as live broadcast: burst
	// retention is bounded by bytes, not chunk count, so a queue shorter
	// than the burst's chunk count must not be allowed to block this
	// attach (and, since it runs under h.mu, every other client) forever.
	burst := make([][]byte, len(h.burst))
	copy(burst, h.burst)
	h.mu.Unlock()

	for _, chunk := range burst {
		if !c.send(chunk) {
			// Dropped during its own burst replay, before ever joining live
			// fan-out (spec §5's drop-don't-block applies to backlog replay
			// the same as to live broadcast). Still register it below so
			// the caller's eventual Detach has a matching entry to remove;
			// c.drop() is idempotent and the caller sees a closed channel.
			break
		}
	}

	h.clients.Store(id, c)
	h.clientCount.Add(1)

	if h.running.CompareAndSwap(false, true) {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.run(ctx)
	}
	return c.queue
}

// Detach removes a client. When the last client detaches, a linger timer
// starts; if no new client attaches before it fires, the upstream closes.
func (h *Hub) Detach(id string) {
	if c, ok := h.clients.LoadAndDelete(id); ok {
		c.drop()
	}
	if h.clientCount.Add(-1) > 0 {
		return
	}

	h.mu.Lock()
	h.lingerTime = time.AfterFunc(h.linger, func() {
		h.mu.Lock()
		empty := h.clientCount.Load() <= 0
		h.mu.Unlock()
		if empty {
			h.Close()
			if h.onIdle != nil {
				h.onIdle(h.Key)
			}
		}
	})
	h.mu.Unlock()
}

// ClientCount reports the number of currently attached clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// Close tears the hub's upstream connection down. Idempotent.
func (h *Hub) Close() {
	if h.running.CompareAndSwap(true, false) {
		if h.cancel != nil {
			h.cancel()
		}
	}
}

// run owns the upstream connection for the hub's lifetime: connect, read
// chunks, fan out, reconnect with backoff on drop, until ctx is cancelled
// or every client has detached. No bytes are emitted during a reconnect
// gap (spec §4.9).
func (h *Hub) run(ctx context.Context) {
	attempt := 0
	buf := make([]byte, 64*1024)

	for {
		if ctx.Err() != nil {
			return
		}
		if h.clientCount.Load() <= 0 {
			return
		}

		body, err := h.upstream(ctx)
		if err != nil {
			if !h.shouldRetry(attempt) {
				h.log.Error("{hub - run} %s: upstream connect failed permanently: %v", h.Key, err)
				return
			}
			h.sleep(ctx, attempt)
			attempt++
			continue
		}

		attempt = 0
		streamErr := h.pump(ctx, body, buf)
		body.Close()
		if streamErr == nil || ctx.Err() != nil {
			return
		}
		h.log.Warn("{hub - run} %s: upstream dropped: %v; reconnecting", h.Key, streamErr)
		if !h.shouldRetry(attempt) {
			return
		}
		h.sleep(ctx, attempt)
		attempt++
	}
}

func (h *Hub) shouldRetry(attempt int) bool {
	return h.policy.MaxAttempts <= 0 || attempt < h.policy.MaxAttempts
}

func (h *Hub) sleep(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(h.policy.delay(attempt)):
	}
}

// pump reads chunks from body until EOF/error/cancellation, broadcasting
// each to the burst buffer and every attached client.
func (h *Hub) pump(ctx context.Context, body io.Reader, buf []byte) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.broadcast(chunk)
		}
		if err != nil {
			if err == io.EOF {
				return apperr.New(apperr.UpstreamClosed, "upstream stream ended")
			}
			return err
		}
	}
}

// broadcast appends chunk to the burst ring (evicting oldest chunks to
// respect burstLimit) and delivers it to every attached client.
func (h *Hub) broadcast(chunk []byte) {
	h.mu.Lock()
	h.burst = append(h.burst, chunk)
	h.burstBytes += len(chunk)
	for h.burstBytes > h.burstLimit && len(h.burst) > 1 {
		h.burstBytes -= len(h.burst[0])
		h.burst = h.burst[1:]
	}
	h.mu.Unlock()

	h.clients.Range(func(id string, c *client) bool {
		c.send(chunk)
		return true
	})
}
