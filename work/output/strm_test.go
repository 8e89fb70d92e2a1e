package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/model"
)

func buildURLFixed(url string) URLBuilder {
	return func(it *model.Item, u *model.User) string { return url }
}

func TestWriteKodiStyleFlatWithDefaults(t *testing.T) {
	root := t.TempDir()
	tgt := &model.Target{Items: []*model.Item{
		{Name: "News", Group: "News"},
	}}

	n, err := Write(root, tgt, STRMOptions{Style: StyleKodi, Flat: true}, buildURLFixed("http://proxy/1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body, err := os.ReadFile(filepath.Join(root, "News.strm"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "#KODIPROP:inputstream=inputstream.ffmpegdirect")
	assert.Contains(t, string(body), "http://proxy/1")
}

func TestWritePlexStyleNestsSeriesUnderCaption(t *testing.T) {
	root := t.TempDir()
	tgt := &model.Target{Items: []*model.Item{
		{Name: "Show S1E1", Group: "Shows", Type: model.Series},
	}}

	n, err := Write(root, tgt, STRMOptions{Style: StylePlex}, buildURLFixed("http://proxy/s1e1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	path := filepath.Join(root, "Shows", "Show S1E1", "Show S1E1.strm")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteWithExplicitPropsOmitsKodiDefaults(t *testing.T) {
	root := t.TempDir()
	tgt := &model.Target{Items: []*model.Item{{Name: "X"}}}

	_, err := Write(root, tgt, STRMOptions{Style: StyleKodi, Flat: true, Props: "#CUSTOM:1"}, buildURLFixed("http://u"), nil)
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(root, "X.strm"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "#CUSTOM:1")
	assert.NotContains(t, string(body), "KODIPROP")
}

func TestWriteCleanupRemovesExistingRootFirst(t *testing.T) {
	root := t.TempDir()
	stalePath := filepath.Join(root, "stale.txt")
	require.NoError(t, os.WriteFile(stalePath, []byte("x"), 0o644))

	tgt := &model.Target{Items: []*model.Item{{Name: "New"}}}
	_, err := Write(root, tgt, STRMOptions{Flat: true, Cleanup: true}, buildURLFixed("http://u"), nil)
	require.NoError(t, err)

	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeReplacesIllegalCharsAndUnderscoresWhitespace(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitize("a/b:c", false))
	assert.Equal(t, "a_b", sanitize("a b", true))
}

func TestFileNameForAppendsQualityTag(t *testing.T) {
	it := &model.Item{Name: "Movie Title 1080p", Title: "Movie Title 1080p"}
	name := fileNameFor(it, STRMOptions{AddQualityToFilename: true})
	assert.Equal(t, "Movie Title 1080p", name, "quality already present in caption should not duplicate")
}
