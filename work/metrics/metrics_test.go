package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndGaugesAreUsable(t *testing.T) {
	ActiveSessions.WithLabelValues("reverse").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(ActiveSessions.WithLabelValues("reverse")))

	BytesTransferred.WithLabelValues("redirect").Add(512)
	assert.Equal(t, float64(512), testutil.ToFloat64(BytesTransferred.WithLabelValues("redirect")))

	StreamErrors.WithLabelValues("reverse").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(StreamErrors.WithLabelValues("reverse")))

	HubClients.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(HubClients))

	HubCount.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(HubCount))

	ProviderConnections.WithLabelValues("source-a").Set(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(ProviderConnections.WithLabelValues("source-a")))

	CacheHits.Inc()
	CacheMisses.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(CacheMisses))
}
