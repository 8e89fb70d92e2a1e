package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kptv-proxy/work/identity"
	"kptv-proxy/work/model"
)

func TestSetTargetsAndLookup(t *testing.T) {
	app := New(nil)
	app.SetTargets(map[string]*model.Target{"t1": {Name: "t1"}})

	tgt, ok := app.Target("t1")
	assert.True(t, ok)
	assert.Equal(t, "t1", tgt.Name)

	_, ok = app.Target("missing")
	assert.False(t, ok)

	assert.Len(t, app.Targets(), 1)
}

func TestSetUsersBuildsFingerprintIndex(t *testing.T) {
	app := New(nil)
	u := &model.User{Username: "alice"}
	app.SetUsers(map[string]*model.User{"alice": u})

	got, ok := app.User("alice")
	assert.True(t, ok)
	assert.Same(t, u, got)

	byFP, ok := app.UserByFingerprint(identity.Fingerprint("alice"))
	assert.True(t, ok)
	assert.Same(t, u, byFP)

	_, ok = app.UserByFingerprint(identity.Fingerprint("bob"))
	assert.False(t, ok)
}

func TestUserConnCounterIsCreatedOnceAndReused(t *testing.T) {
	app := New(nil)
	u := &model.User{Username: "alice", MaxConnections: 3}

	c1 := app.UserConnCounter(u)
	c2 := app.UserConnCounter(u)
	assert.Same(t, c1, c2)

	assert.True(t, c1.TryReserve())
	assert.Equal(t, 1, c2.Current())
}

func TestProviderConnCounterIsCreatedOnceAndReused(t *testing.T) {
	app := New(nil)
	c1 := app.ProviderConnCounter("source-a", 2)
	c2 := app.ProviderConnCounter("source-a", 99) // maxConns ignored on reuse
	assert.Same(t, c1, c2)
}

func TestUptimeIsNonNegative(t *testing.T) {
	app := New(nil)
	assert.GreaterOrEqual(t, app.Uptime().Nanoseconds(), int64(0))
}
