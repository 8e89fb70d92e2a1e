package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredReportsPastExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	u := &User{ExpDate: &past}
	assert.True(t, u.Expired(time.Now()))

	future := time.Now().Add(time.Hour)
	u.ExpDate = &future
	assert.False(t, u.Expired(time.Now()))

	u.ExpDate = nil
	assert.False(t, u.Expired(time.Now()))
}

func TestReverseModeForByProxyMode(t *testing.T) {
	redirect := &User{ProxyMode: ModeRedirect}
	assert.False(t, redirect.ReverseModeFor(Live))

	reverse := &User{ProxyMode: ModeReverse}
	assert.True(t, reverse.ReverseModeFor(Vod))

	subset := &User{ProxyMode: ModeReverseSubset, ReverseSubset: map[ItemType]bool{Live: true}}
	assert.True(t, subset.ReverseModeFor(Live))
	assert.False(t, subset.ReverseModeFor(Vod))
}

func TestDefaultOutputConfigSkipsDirectSourceByDefault(t *testing.T) {
	c := DefaultOutputConfig()
	assert.True(t, c.SkipLiveDirectSource)
	assert.True(t, c.SkipVideoDirectSource)
	assert.True(t, c.SkipSeriesDirectSource)
	assert.False(t, c.IgnoreLogo)
}

func TestClusterOfMirrorsItemTypeString(t *testing.T) {
	assert.Equal(t, "live", ClusterOf(Live))
	assert.Equal(t, "vod", ClusterOf(Vod))
	assert.Equal(t, "series", ClusterOf(Series))
}
