package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/model"
)

func TestConnCounterReserveRelease(t *testing.T) {
	c := NewConnCounter(2)
	assert.True(t, c.TryReserve())
	assert.True(t, c.TryReserve())
	assert.False(t, c.TryReserve())

	c.Release()
	assert.True(t, c.TryReserve())
	assert.Equal(t, 2, c.Current())
}

func TestConnCounterUnlimitedWhenZero(t *testing.T) {
	c := NewConnCounter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, c.TryReserve())
	}
}

func TestGraceControllerOneGrantThenCooldown(t *testing.T) {
	g := NewGraceController(50*time.Millisecond, 50*time.Millisecond)
	now := time.Now()

	assert.True(t, g.TryGrant(now))
	assert.False(t, g.TryGrant(now), "a second grant can't open while one is active")

	g.Release()
	assert.False(t, g.TryGrant(now), "cooldown hasn't elapsed yet")
	assert.True(t, g.TryGrant(now.Add(200*time.Millisecond)))
}

func TestAdmitReservesProviderSlotWhenAvailable(t *testing.T) {
	user := &model.User{Username: "u1", MaxConnections: 1}
	userConns := NewConnCounter(1)
	providerConns := NewConnCounter(1)

	gc, isGrace, err := Admit(Admission{Now: time.Now(), User: user, UserConns: userConns, ProviderConns: providerConns})
	require.NoError(t, err)
	assert.False(t, isGrace)
	assert.Nil(t, gc)
	assert.Equal(t, 1, userConns.Current())
	assert.Equal(t, 1, providerConns.Current())
}

func TestAdmitFallsBackToGraceWhenProviderFull(t *testing.T) {
	user := &model.User{Username: "u1"}
	userConns := NewConnCounter(0)
	providerConns := NewConnCounter(1)
	providerConns.TryReserve() // occupy the only slot
	grace := NewGraceController(time.Second, time.Second)

	gc, isGrace, err := Admit(Admission{Now: time.Now(), User: user, UserConns: userConns, ProviderConns: providerConns, Grace: grace})
	require.NoError(t, err)
	assert.True(t, isGrace)
	assert.Same(t, grace, gc)
}

func TestAdmitRejectsExpiredUser(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	user := &model.User{Username: "u1", ExpDate: &past}
	_, _, err := Admit(Admission{Now: time.Now(), User: user, UserConns: NewConnCounter(0), ProviderConns: NewConnCounter(0)})
	require.Error(t, err)
	assert.Equal(t, apperr.UserExpired, apperr.KindOf(err))
}

func TestAdmitRejectsWithoutLeakingUserSlotOnProviderDenied(t *testing.T) {
	user := &model.User{Username: "u1"}
	userConns := NewConnCounter(1)
	providerConns := NewConnCounter(1)
	providerConns.TryReserve()

	_, _, err := Admit(Admission{Now: time.Now(), User: user, UserConns: userConns, ProviderConns: providerConns})
	require.Error(t, err)
	assert.Equal(t, 0, userConns.Current(), "the user slot must be released when provider admission ultimately fails")
}

func TestFallbackMapsKnownKinds(t *testing.T) {
	asset, ok := Fallback(apperr.UserExpired)
	assert.True(t, ok)
	assert.Equal(t, FallbackUserAccountExpired, asset)

	_, ok = Fallback(apperr.NotFound)
	assert.False(t, ok)
}

func newTestSession(mode Mode, buf BufferConfig) *Session {
	return New("sess1", mode, &model.User{Username: "u1"}, buf, ThrottleConfig{}, NewConnCounter(0), NewConnCounter(0), nil, false, nil)
}

func TestStreamThrottledCopiesAllBytes(t *testing.T) {
	s := newTestSession(ModeReverse, BufferConfig{})
	defer s.Close()

	src := bytes.NewBufferString("the quick brown fox jumps over the lazy dog")
	var dst bytes.Buffer
	n, err := s.Stream(src, &dst)
	require.NoError(t, err)
	assert.EqualValues(t, dst.Len(), n)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", dst.String())
}

func TestStreamBufferedCopiesAllBytes(t *testing.T) {
	s := newTestSession(ModeReverse, BufferConfig{Enabled: true, Size: 4})
	defer s.Close()

	payload := bytes.Repeat([]byte("x"), ChunkSize*10+17)
	src := bytes.NewReader(payload)
	var dst bytes.Buffer
	n, err := s.Stream(src, &dst)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, payload, dst.Bytes())
}

func TestCloseIsIdempotentAndReleasesSlots(t *testing.T) {
	userConns := NewConnCounter(1)
	userConns.TryReserve()
	s := New("sess2", ModeReverse, &model.User{Username: "u1"}, BufferConfig{}, ThrottleConfig{}, NewConnCounter(0), userConns, nil, false, nil)

	s.Close()
	assert.Equal(t, 0, userConns.Current())
	s.Close() // must not double-release
	assert.Equal(t, 0, userConns.Current())
}

func TestKickCancelsContext(t *testing.T) {
	s := newTestSession(ModeReverse, BufferConfig{})
	defer s.Close()
	s.Kick()
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("expected context to be cancelled after Kick")
	}
	assert.Equal(t, Draining, s.State())
}
