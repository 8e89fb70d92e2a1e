package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kptv-proxy/work/apperr"
)

func TestVirtualIDStableAcrossCalls(t *testing.T) {
	a := VirtualID("input1", "stream42")
	b := VirtualID("input1", "stream42")
	assert.Equal(t, a, b, "virtual id must be a pure function of its inputs")
}

func TestVirtualIDDiffersByInput(t *testing.T) {
	a := VirtualID("input1", "stream42")
	b := VirtualID("input2", "stream42")
	assert.NotEqual(t, a, b)
}

func TestAliasVirtualIDDiffersFromOriginal(t *testing.T) {
	orig := VirtualID("input1", "stream42")
	alias := AliasVirtualID("input1", "stream42")
	assert.NotEqual(t, orig, alias)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s, perr := ParseSecret("0123456789abcdef0123456789abcdef")
	require.NoError(t, perr)

	p := Payload{
		Kind:            KindStream,
		Target:          "default",
		Cluster:         ClusterLive,
		VirtualID:       123456789,
		UserFingerprint: Fingerprint("alice"),
	}
	tok := Sign(s, p)

	got, err := Open(s, tok, time.Now())
	require.NoError(t, err)
	assert.Equal(t, p.Target, got.Target)
	assert.Equal(t, p.VirtualID, got.VirtualID)
	assert.Equal(t, p.Cluster, got.Cluster)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s1, _ := ParseSecret("0123456789abcdef0123456789abcdef")
	s2, _ := ParseSecret("fedcba9876543210fedcba9876543210")

	tok := Sign(s1, Payload{Kind: KindResource, Target: "t", VirtualID: 1})
	_, err := Open(s2, tok, time.Now())
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.TokenInvalid, e.Kind)
}

func TestExpiredTokenRejected(t *testing.T) {
	s, _ := ParseSecret("0123456789abcdef0123456789abcdef")
	past := time.Now().Add(-time.Hour)
	tok := Sign(s, Payload{Kind: KindStream, Target: "t", Expiry: past})
	_, err := Open(s, tok, time.Now())
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.TokenExpired, e.Kind)
}

func TestParseSecretRejectsWrongLength(t *testing.T) {
	_, err := ParseSecret("abcd")
	require.Error(t, err)
}
