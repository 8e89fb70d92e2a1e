package output

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"kptv-proxy/work/model"
)

func TestWriteM3UHeaderAndExtinf(t *testing.T) {
	tgt := &model.Target{Items: []*model.Item{
		{Name: "News", EPGChannelID: "news.id", Logo: "http://logo", Group: "News", Chno: 5},
	}}
	user := &model.User{Username: "u"}
	buildURL := func(it *model.Item, u *model.User) string { return "http://proxy/stream/1" }

	var sb strings.Builder
	WriteM3U(&sb, tgt, user, M3UOptions{}, buildURL)

	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, `tvg-id="news.id"`)
	assert.Contains(t, out, `tvg-logo="http://logo"`)
	assert.Contains(t, out, `group-title="News"`)
	assert.Contains(t, out, `tvg-chno="5"`)
	assert.Contains(t, out, ",News\n")
	assert.Contains(t, out, "http://proxy/stream/1\n")
}

func TestWriteM3UOmitsEmptyAttributes(t *testing.T) {
	tgt := &model.Target{Items: []*model.Item{{Name: "Bare"}}}
	var sb strings.Builder
	WriteM3U(&sb, tgt, nil, M3UOptions{}, func(it *model.Item, u *model.User) string { return "u" })

	out := sb.String()
	assert.NotContains(t, out, "tvg-chno")
	assert.NotContains(t, out, "tvg-logo")
}

func TestWriteM3UQuoteEscaping(t *testing.T) {
	tgt := &model.Target{Items: []*model.Item{{Name: `Foo "Bar"`, Group: "g"}}}
	var sb strings.Builder
	WriteM3U(&sb, tgt, nil, M3UOptions{}, func(it *model.Item, u *model.User) string { return "u" })
	assert.Contains(t, sb.String(), `Foo 'Bar'`)
}

func TestResolveURLInsertsTypeSegmentWhenEnabled(t *testing.T) {
	it := &model.Item{Type: model.Live}
	buildURL := func(it *model.Item, u *model.User) string { return "http://proxy/abc123" }

	withoutType := resolveURL(it, nil, false, buildURL)
	assert.Equal(t, "http://proxy/abc123", withoutType)

	withType := resolveURL(it, nil, true, buildURL)
	assert.Equal(t, "http://proxy/live/abc123", withType)
}

func TestResolveURLUsesMovieSegmentForVod(t *testing.T) {
	it := &model.Item{Type: model.Vod}
	buildURL := func(it *model.Item, u *model.User) string { return "http://proxy/xyz" }
	assert.Equal(t, "http://proxy/movie/xyz", resolveURL(it, nil, true, buildURL))
}
