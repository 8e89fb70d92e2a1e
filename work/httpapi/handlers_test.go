package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kptv-proxy/work/identity"
	"kptv-proxy/work/model"
)

func TestClusterItemTypeMapsBack(t *testing.T) {
	assert.Equal(t, model.Live, clusterItemType(identity.ClusterLive))
	assert.Equal(t, model.Vod, clusterItemType(identity.ClusterVod))
	assert.Equal(t, model.Series, clusterItemType(identity.ClusterSeries))
}

func TestFindItemMatchesTypeAndVirtualID(t *testing.T) {
	t1 := &model.Target{Items: []*model.Item{
		{Type: model.Live, VirtualID: 1},
		{Type: model.Vod, VirtualID: 1},
		{Type: model.Live, VirtualID: 2},
	}}

	it, ok := findItem(t1, model.Live, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), it.VirtualID)

	_, ok = findItem(t1, model.Series, 1)
	assert.False(t, ok)
}

func TestContentTypeForExtension(t *testing.T) {
	assert.Equal(t, "application/vnd.apple.mpegurl", contentTypeFor("m3u8"))
	assert.Equal(t, "video/mp4", contentTypeFor("mp4"))
	assert.Equal(t, "video/mp2t", contentTypeFor("ts"))
}

func TestFilterTargetScopesItemsAndCategories(t *testing.T) {
	tgt := &model.Target{
		Name:       "t1",
		Categories: map[string]int{"News": 1, "Movies": 2},
		Items: []*model.Item{
			{Type: model.Live, Group: "News"},
			{Type: model.Vod, Group: "Movies"},
		},
	}

	live := filterTarget(tgt, model.Live)
	assert.Len(t, live.Items, 1)
	assert.Equal(t, map[string]int{"News": 1}, live.Categories)
}

func TestXMLEscapeEscapesReservedCharacters(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt; &quot;d&quot;", xmlEscape(`a & b <c> "d"`))
}

func TestBoundTargetPrefersUsersOwnTarget(t *testing.T) {
	app := New(nil)
	app.SetTargets(map[string]*model.Target{
		"alpha": {Name: "alpha"},
		"beta":  {Name: "beta"},
	})

	got, ok := app.boundTarget(&model.User{Target: "beta"})
	assert.True(t, ok)
	assert.Equal(t, "beta", got.Name)
}

func TestBoundTargetFallsBackToFirstByNameWhenNoUser(t *testing.T) {
	app := New(nil)
	app.SetTargets(map[string]*model.Target{
		"zeta":  {Name: "zeta"},
		"alpha": {Name: "alpha"},
	})

	got, ok := app.boundTarget(nil)
	assert.True(t, ok)
	assert.Equal(t, "alpha", got.Name)
}

func TestBoundTargetFailsWithNoTargets(t *testing.T) {
	app := New(nil)
	_, ok := app.boundTarget(nil)
	assert.False(t, ok)
}
