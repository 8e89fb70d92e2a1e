package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseItemTypeFoldsMovieIntoVod(t *testing.T) {
	ty, ok := ParseItemType("movie")
	assert.True(t, ok)
	assert.Equal(t, Vod, ty)

	ty, ok = ParseItemType("series")
	assert.True(t, ok)
	assert.Equal(t, Series, ty)

	_, ok = ParseItemType("bogus")
	assert.False(t, ok)
}

func TestItemTypeString(t *testing.T) {
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "vod", Vod.String())
	assert.Equal(t, "series", Series.String())
}

func TestCaptionFallsBackToName(t *testing.T) {
	it := &Item{Name: "n"}
	assert.Equal(t, "n", it.Caption())

	it.Title = "t"
	assert.Equal(t, "t", it.Caption())
}

func TestFieldReadsKnownAndUnknownNames(t *testing.T) {
	it := &Item{Name: "n", Title: "t", Group: "g", Type: Vod}

	v, ok := it.Field("caption")
	assert.True(t, ok)
	assert.Equal(t, "t", v)

	v, ok = it.Field("type")
	assert.True(t, ok)
	assert.Equal(t, "vod", v)

	_, ok = it.Field("nonexistent")
	assert.False(t, ok)
}

func TestFieldChnoZeroIsBlank(t *testing.T) {
	it := &Item{Chno: 0}
	v, ok := it.Field("chno")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	it.Chno = 42
	v, ok = it.Field("chno")
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestSetFieldCaptionWritesBothTitleAndName(t *testing.T) {
	it := &Item{}
	assert.True(t, it.SetField("caption", "both"))
	assert.Equal(t, "both", it.Title)
	assert.Equal(t, "both", it.Name)
}

func TestSetFieldRejectsUnknownTarget(t *testing.T) {
	it := &Item{}
	assert.False(t, it.SetField("type", "vod"), "Type is immutable per ingest invariant")
}

func TestCloneIsIndependentCopy(t *testing.T) {
	it := &Item{Name: "orig"}
	c := it.Clone()
	c.Name = "changed"
	assert.Equal(t, "orig", it.Name)
	assert.Equal(t, "changed", c.Name)
}
