package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolveMintsStableVirtualID(t *testing.T) {
	r := openTestRegistry(t)

	v1, err := r.Resolve("http://a/ch1", "prov-a", 1)
	require.NoError(t, err)
	v2, err := r.Resolve("http://a/ch1", "prov-a", 1)
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "resolving the same input/provider pair must return the same virtual id")

	v3, err := r.Resolve("http://a/ch2", "prov-a", 1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestSetAndGetChno(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Resolve("http://a/ch1", "prov-a", 1)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Chno("http://a/ch1", "prov-a"), "unassigned channel number defaults to zero")

	require.NoError(t, r.SetChno("http://a/ch1", "prov-a", 101))
	assert.Equal(t, 101, r.Chno("http://a/ch1", "prov-a"))
}

func TestChnoUnknownIdentityReturnsZero(t *testing.T) {
	r := openTestRegistry(t)
	assert.Equal(t, 0, r.Chno("http://missing", "prov-x"))
}

func TestPruneRetainsOneGenerationOfGrace(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Resolve("http://a/stale", "prov-a", 1)
	require.NoError(t, err)
	_, err = r.Resolve("http://a/fresh", "prov-a", 3)
	require.NoError(t, err)

	n, err := r.Prune(3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "only the entry older than run-1 should be pruned")

	assert.Equal(t, 0, r.Chno("http://a/stale", "prov-a"))
	_, err = r.Resolve("http://a/fresh", "prov-a", 3)
	require.NoError(t, err)
}

func TestNextRunIncrementsPerTarget(t *testing.T) {
	r := openTestRegistry(t)

	g1, err := r.NextRun("target-a")
	require.NoError(t, err)
	assert.EqualValues(t, 0, g1)

	g2, err := r.NextRun("target-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, g2)

	g3, err := r.NextRun("target-b")
	require.NoError(t, err)
	assert.EqualValues(t, 0, g3, "generations are scoped per target")
}

func TestCounterValueRoundTrip(t *testing.T) {
	r := openTestRegistry(t)

	_, ok := r.CounterValue("target-a", "episode")
	assert.False(t, ok)

	require.NoError(t, r.SetCounterValue("target-a", "episode", 7))
	v, ok := r.CounterValue("target-a", "episode")
	require.True(t, ok)
	assert.EqualValues(t, 7, v)

	require.NoError(t, r.SetCounterValue("target-a", "episode", 8))
	v, ok = r.CounterValue("target-a", "episode")
	require.True(t, ok)
	assert.EqualValues(t, 8, v)
}

func TestOpenCreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "registry.db")
	r, err := Open(path, nil)
	require.NoError(t, err)
	defer r.Close()
}
