package rescache

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, limit int64) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := New(Options{Dir: dir, SizeLimitBytes: limit})
	require.NoError(t, err)
	return c
}

func TestGetCoalescesConcurrentMisses(t *testing.T) {
	c := newTestCache(t, 1<<20)
	var calls atomic.Int64

	fn := func(ctx context.Context) (io.ReadCloser, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return io.NopCloser(strings.NewReader("logo-bytes")), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.Get(context.Background(), "http://example.com/logo.png", fn)
			require.NoError(t, err)
			assert.Equal(t, "logo-bytes", string(data))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent misses for the same url must coalesce into one fetch")
}

func TestGetCachesOnSecondCall(t *testing.T) {
	c := newTestCache(t, 1<<20)
	var calls atomic.Int64
	fn := func(ctx context.Context) (io.ReadCloser, error) {
		calls.Add(1)
		return io.NopCloser(strings.NewReader("x")), nil
	}

	_, err := c.Get(context.Background(), "http://example.com/a.png", fn)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "http://example.com/a.png", fn)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
}

func TestEvictionKeepsWithinSizeLimit(t *testing.T) {
	c := newTestCache(t, 15) // tiny limit forces eviction

	mk := func(body string) func(ctx context.Context) (io.ReadCloser, error) {
		return func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		}
	}

	_, err := c.Get(context.Background(), "u1", mk("0123456789")) // 10 bytes
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "u2", mk("0123456789")) // now 20, must evict u1
	require.NoError(t, err)

	_, total := c.Stats()
	assert.LessOrEqual(t, total, int64(15))
}

func TestDisabledCacheNeverPersists(t *testing.T) {
	c, err := New(Options{ResourceRewriteDisabled: true})
	require.NoError(t, err)

	var calls atomic.Int64
	fn := func(ctx context.Context) (io.ReadCloser, error) {
		calls.Add(1)
		return io.NopCloser(strings.NewReader("x")), nil
	}

	_, err = c.Get(context.Background(), "u", fn)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "u", fn)
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load(), "disabled cache must always miss through to the fetcher")
}
