// Package session implements the stream session manager (C8): per-client
// admission (token, expiry, connection limits, grace period), reverse-mode
// buffering/throttling/retry, redirect mode, and fallback-asset
// substitution.
//
// Grounded on the teacher's work/proxy.HandleRestreamingClient for the
// admission-then-stream-until-disconnect shape (global semaphore check,
// generated client id, deferred cleanup, context-based disconnect
// detection) and its `{pkg/file - Func} message` log convention, adapted
// from "one global semaphore" to the per-user/per-provider accounting and
// grace-period grant spec §4.8 requires. Throttling uses go.uber.org/
// ratelimit, declared in the teacher's go.mod but never wired to anything;
// this package is that component's home.
package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"

	"github.com/valyala/bytebufferpool"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/buffer"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/logger"
	"kptv-proxy/work/metrics"
	"kptv-proxy/work/model"
	"kptv-proxy/work/providerclient"
)

// chunkPool hands out ChunkSize-capacity buffers for copyBuffered's FIFO,
// shared across every session since chunks never outlive one hand-off from
// producer to consumer goroutine.
var chunkPool = buffer.NewBufferPool(ChunkSize)

// State is one of the session lifecycle states spec §4.8 names.
type State int32

const (
	Admitting State = iota
	Streaming
	Draining
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Streaming:
		return "Streaming"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	default:
		return "Admitting"
	}
}

// FallbackAsset names one of the canned substitute streams spec §4.8 lists.
type FallbackAsset string

const (
	FallbackChannelUnavailable      FallbackAsset = "channel_unavailable.ts"
	FallbackUserConnectionsExhausted FallbackAsset = "user_connections_exhausted.ts"
	FallbackProviderConnectionsExhausted FallbackAsset = "provider_connections_exhausted.ts"
	FallbackUserAccountExpired      FallbackAsset = "user_account_expired.ts"
)

// DefaultGracePeriod and DefaultGraceCooldown are spec §4.8's defaults.
const (
	DefaultGracePeriod  = 300 * time.Millisecond
	DefaultGraceCooldown = 2 * time.Second
	DefaultKickSecs     = 90 * time.Second
)

// ChunkSize bounds each buffered unit in reverse-mode's FIFO (spec §4.8:
// "bounded FIFO of size chunks of <=8 KiB").
const ChunkSize = 8 * 1024

// BufferConfig is the per-user buffer.enabled/size knob (spec §4.8).
type BufferConfig struct {
	Enabled bool
	Size    int // number of ChunkSize-sized chunks
}

// ThrottleConfig paces average egress to at most RateBitsPerSec bits/s; the
// unit string parsing (KB/s, MiB/s, kbps, ...) lives in the config loader,
// which hands session a plain bits-per-second number.
type ThrottleConfig struct {
	RateBitsPerSec int64 // 0 disables throttling
}

// Admission is everything a session needs to decide whether to admit a
// client, in the order spec §4.8 lists: token MAC, user expiry, user
// max_connections, provider max_connections (subject to grace).
type Admission struct {
	Secret         identity.Secret
	Now            time.Time
	User           *model.User
	UserConns      *ConnCounter
	ProviderConns  *ConnCounter
	Grace          *GraceController
}

// ConnCounter is an atomic compare-and-increment-with-rollback admission
// counter, grounded on providerclient.Client.Reserve/Release's shape but
// reusable for the user-side max_connections check too.
type ConnCounter struct {
	max     int32
	current int32
}

func NewConnCounter(max int) *ConnCounter {
	return &ConnCounter{max: int32(max)}
}

// TryReserve claims a slot. ok is false (and no slot is held) if the
// counter is already at its cap. Over-cap grace grants are not decided
// here; callers track them via GraceController.
func (c *ConnCounter) TryReserve() (ok bool) {
	if c.max <= 0 {
		atomic.AddInt32(&c.current, 1)
		return true
	}
	if atomic.AddInt32(&c.current, 1) > c.max {
		atomic.AddInt32(&c.current, -1)
		return false
	}
	return true
}

func (c *ConnCounter) Release() {
	atomic.AddInt32(&c.current, -1)
}

func (c *ConnCounter) Current() int { return int(atomic.LoadInt32(&c.current)) }
func (c *ConnCounter) Max() int     { return int(c.max) }

// GraceController implements spec §4.8's grace period: one extra
// concurrent connection is allowed for GracePeriod after a limit-triggered
// admission failure, then no further grants for GraceCooldown.
type GraceController struct {
	mu           sync.Mutex
	GracePeriod  time.Duration
	GraceCooldown time.Duration
	grantedUntil time.Time // grant window end
	cooldownUntil time.Time
	active       bool
}

func NewGraceController(period, cooldown time.Duration) *GraceController {
	if period <= 0 {
		period = DefaultGracePeriod
	}
	if cooldown <= 0 {
		cooldown = DefaultGraceCooldown
	}
	return &GraceController{GracePeriod: period, GraceCooldown: cooldown}
}

// TryGrant attempts to open the one-extra-connection window. Returns false
// if a grant is already active or the post-grant cooldown hasn't elapsed.
func (g *GraceController) TryGrant(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active && now.Before(g.grantedUntil) {
		return false
	}
	if now.Before(g.cooldownUntil) {
		return false
	}
	g.active = true
	g.grantedUntil = now.Add(g.GracePeriod)
	g.cooldownUntil = g.grantedUntil.Add(g.GraceCooldown)
	return true
}

// Release ends an active grant (called once the over-cap connection drains).
func (g *GraceController) Release() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

// Admit runs the ordered admission checks of spec §4.8 and returns either
// nil (admitted, with counters reserved — caller must call Release via the
// returned Session.Close) or an *apperr.Error identifying which check
// failed, with its Kind selecting the fallback asset via Fallback().
func Admit(a Admission) (*GraceController, bool /* isGrace */, error) {
	if a.User.Expired(a.Now) {
		return nil, false, apperr.New(apperr.UserExpired, "user account expired")
	}

	if !a.UserConns.TryReserve() {
		return nil, false, apperr.New(apperr.UserLimitReached, "user max_connections exceeded")
	}

	if a.ProviderConns.TryReserve() {
		return nil, false, nil
	}

	if a.Grace != nil && a.Grace.TryGrant(a.Now) {
		return a.Grace, true, nil
	}
	a.UserConns.Release()
	return nil, false, apperr.New(apperr.ProviderLimitReached, "provider max_connections exceeded")
}

// Fallback maps an admission/streaming failure kind to the canned asset
// spec §4.8 substitutes, when one applies.
func Fallback(kind apperr.Kind) (FallbackAsset, bool) {
	switch kind {
	case apperr.UserExpired:
		return FallbackUserAccountExpired, true
	case apperr.UserLimitReached:
		return FallbackUserConnectionsExhausted, true
	case apperr.ProviderLimitReached:
		return FallbackProviderConnectionsExhausted, true
	case apperr.UpstreamClosed, apperr.UpstreamTimeout:
		return FallbackChannelUnavailable, true
	}
	return "", false
}

// Mode is the resolved streaming mode for one request (spec §3 User.proxy_mode).
type Mode int

const (
	ModeRedirect Mode = iota
	ModeReverse
)

func (m Mode) String() string {
	if m == ModeReverse {
		return "reverse"
	}
	return "redirect"
}

// Session is one client's live connection. It owns a cancellation context
// triggered by disconnect, kick, or sleep timer (spec §5).
type Session struct {
	ID       string
	Mode     Mode
	User     *model.User

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	started time.Time

	buffer   BufferConfig
	throttle ratelimit.Limiter

	providerConns *ConnCounter
	userConns     *ConnCounter
	grace         *GraceController
	isGraceConn   bool

	log *logger.Logger
}

// New constructs a Session in the Admitting state. Call Close exactly once
// regardless of outcome to release reserved connection slots.
func New(id string, mode Mode, user *model.User, buf BufferConfig, throttle ThrottleConfig, providerConns, userConns *ConnCounter, grace *GraceController, isGrace bool, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logger.NewWithPrefix("INFO", "session")
	}
	s := &Session{
		ID:            id,
		Mode:          mode,
		User:          user,
		ctx:           ctx,
		cancel:        cancel,
		started:       time.Now(),
		buffer:        buf,
		providerConns: providerConns,
		userConns:     userConns,
		grace:         grace,
		isGraceConn:   isGrace,
		log:           log,
	}
	if throttle.RateBitsPerSec > 0 {
		bytesPerSec := throttle.RateBitsPerSec / 8
		if bytesPerSec < 1 {
			bytesPerSec = 1
		}
		s.throttle = ratelimit.New(int(bytesPerSec))
	}
	s.state.Store(int32(Admitting))
	metrics.ActiveSessions.WithLabelValues(mode.String()).Inc()
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) Context() context.Context { return s.ctx }

// Kick cancels the session administratively (spec §4.8 "a session may be
// terminated administratively").
func (s *Session) Kick() {
	s.state.Store(int32(Draining))
	s.cancel()
}

// Close releases reserved connection slots and the grace grant (if any).
// Idempotent per the Closed state guard.
func (s *Session) Close() {
	prev := State(s.state.Swap(int32(Closed)))
	if prev == Closed {
		return
	}
	s.cancel()
	if s.isGraceConn && s.grace != nil {
		s.grace.Release()
	}
	if s.providerConns != nil {
		s.providerConns.Release()
	}
	if s.userConns != nil {
		s.userConns.Release()
	}
	metrics.ActiveSessions.WithLabelValues(s.Mode.String()).Dec()
	s.log.Debug("{session - Close} %s: closed after %v", s.ID, time.Since(s.started))
}

// Fail marks the session Failed, releasing the same resources Close would.
func (s *Session) Fail(err error) {
	s.log.Warn("{session - Fail} %s: %v", s.ID, err)
	metrics.StreamErrors.WithLabelValues(s.Mode.String()).Inc()
	s.Close()
	s.state.Store(int32(Failed))
}

// Stream copies from src to dst through the session's throttle and bounded
// buffer (when enabled), chunked to ChunkSize, stopping on ctx
// cancellation, src EOF, or a write error to dst. This is spec §4.8's
// reverse-mode byte path; redirect mode never calls Stream.
func (s *Session) Stream(src io.Reader, dst io.Writer) (int64, error) {
	s.state.Store(int32(Streaming))

	if !s.buffer.Enabled {
		return s.copyThrottled(src, dst)
	}
	return s.copyBuffered(src, dst)
}

func (s *Session) copyThrottled(src io.Reader, dst io.Writer) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		select {
		case <-s.ctx.Done():
			return total, s.ctx.Err()
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if s.throttle != nil {
				s.throttle.Take()
			}
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			metrics.BytesTransferred.WithLabelValues(s.Mode.String()).Add(float64(wn))
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

// copyBuffered inserts a bounded FIFO of buffer.Size chunks between src and
// dst so a momentarily slow client write doesn't block the upstream read,
// at the cost of buffer.Size*ChunkSize bytes of memory (spec §8 boundary).
func (s *Session) copyBuffered(src io.Reader, dst io.Writer) (int64, error) {
	size := s.buffer.Size
	if size <= 0 {
		size = 32
	}
	fifo := make(chan *bytebufferpool.ByteBuffer, size)
	errCh := make(chan error, 2)
	var total int64
	var totalMu sync.Mutex

	go func() {
		defer close(fifo)
		for {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			bb := chunkPool.Get()
			bb.B = bb.B[:ChunkSize]
			n, rerr := src.Read(bb.B)
			if n > 0 {
				bb.B = bb.B[:n]
				select {
				case fifo <- bb:
				case <-s.ctx.Done():
					return
				}
			} else {
				chunkPool.Put(bb)
			}
			if rerr != nil {
				if rerr != io.EOF {
					errCh <- rerr
				}
				return
			}
		}
	}()

	for {
		select {
		case bb, ok := <-fifo:
			if !ok {
				select {
				case err := <-errCh:
					return total, err
				default:
					return total, nil
				}
			}
			if s.throttle != nil {
				s.throttle.Take()
			}
			n, werr := dst.Write(bb.B)
			totalMu.Lock()
			total += int64(n)
			totalMu.Unlock()
			metrics.BytesTransferred.WithLabelValues(s.Mode.String()).Add(float64(n))
			chunkPool.Put(bb)
			if werr != nil {
				s.cancel()
				return total, werr
			}
		case <-s.ctx.Done():
			return total, s.ctx.Err()
		}
	}
}

// OpenUpstream opens the provider connection for this session's reverse
// stream through c, translating connection errors to apperr.
func OpenUpstream(ctx context.Context, c *providerclient.Client, url string) (io.ReadCloser, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, apperr.FromUpstreamStatus(resp.StatusCode)
	}
	return resp.Body, nil
}
