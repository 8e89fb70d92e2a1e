package hls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/identity"
)

func signerRecording(calls *[]string) Signer {
	return func(resolved string) string {
		*calls = append(*calls, resolved)
		return "https://proxy.example/seg/" + resolved
	}
}

func TestRewritePassesThroughTagsAndComments(t *testing.T) {
	manifest := "#EXTM3U\n#EXT-X-VERSION:3\n# a comment\n\nsegment0.ts\n"
	var calls []string
	out, err := Rewrite("https://origin.example/live/chan/index.m3u8", []byte(manifest), signerRecording(&calls))
	require.NoError(t, err)

	lines := string(out)
	assert.Contains(t, lines, "#EXTM3U\n")
	assert.Contains(t, lines, "#EXT-X-VERSION:3\n")
	assert.Contains(t, lines, "# a comment\n")
	assert.Contains(t, lines, "https://proxy.example/seg/https://origin.example/live/chan/segment0.ts")
	require.Len(t, calls, 1)
}

func TestRewriteResolvesRelativeSegmentAgainstManifestURL(t *testing.T) {
	var calls []string
	_, err := Rewrite("https://origin.example/live/chan/index.m3u8", []byte("seg1.ts\n"), signerRecording(&calls))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "https://origin.example/live/chan/seg1.ts", calls[0])
}

func TestRewriteRewritesURIAttributeInPlace(t *testing.T) {
	line := `#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1234`
	var calls []string
	out, err := Rewrite("https://origin.example/live/chan/index.m3u8", []byte(line+"\n"), signerRecording(&calls))
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "https://origin.example/live/chan/key.bin", calls[0])
	assert.Contains(t, string(out), `METHOD=AES-128,URI="https://proxy.example/seg/https://origin.example/live/chan/key.bin",IV=0x1234`)
}

func TestSegmentTokenPayloadDerivesStableVirtualID(t *testing.T) {
	p1 := SegmentTokenPayload(identity.KindStream, "tgt", identity.ClusterLive, "https://o/a.ts", 99)
	p2 := SegmentTokenPayload(identity.KindStream, "tgt", identity.ClusterLive, "https://o/a.ts", 99)
	p3 := SegmentTokenPayload(identity.KindStream, "tgt", identity.ClusterLive, "https://o/b.ts", 99)

	assert.Equal(t, p1.VirtualID, p2.VirtualID, "the same resolved URL must derive the same virtual id")
	assert.NotEqual(t, p1.VirtualID, p3.VirtualID)
}

func TestResolverPutResolveRoundTrip(t *testing.T) {
	r := NewResolver(time.Minute)
	now := time.Now()
	r.Put(7, "https://origin.example/seg7.ts", "source-a", now)

	url, source, ok := r.Resolve(7, now)
	require.True(t, ok)
	assert.Equal(t, "https://origin.example/seg7.ts", url)
	assert.Equal(t, "source-a", source)
}

func TestResolverExpiresEntries(t *testing.T) {
	r := NewResolver(time.Minute)
	now := time.Now()
	r.Put(1, "https://origin.example/seg1.ts", "source-a", now)

	_, _, ok := r.Resolve(1, now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestResolverUnknownIDMisses(t *testing.T) {
	r := NewResolver(time.Minute)
	_, _, ok := r.Resolve(12345, time.Now())
	assert.False(t, ok)
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	r := NewResolver(time.Minute)
	now := time.Now()
	r.Put(1, "https://origin.example/a.ts", "s", now.Add(-2*time.Minute))
	r.Put(2, "https://origin.example/b.ts", "s", now)

	removed := r.Sweep(now)
	assert.Equal(t, 1, removed)

	_, _, ok := r.Resolve(2, now)
	assert.True(t, ok)
}
