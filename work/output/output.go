// Package output implements the output assembler (C11): rendering one
// pipeline-built model.Target into the wire formats external clients
// speak — M3U playlists, Xtream Codes JSON, STRM library files, and
// HDHomeRun device endpoints.
//
// Grounded on the teacher's work/parser/xtremecodes.go JSON struct shapes
// (XCLiveStream/XCSeries/XCVODStream field names and json tags), generalized
// here from "shapes the teacher parses off an upstream Xtream panel" to
// "shapes this proxy itself emits" — the wire format is the same Xtream
// Codes v2 JSON contract in both directions.
package output

import (
	"strconv"

	"kptv-proxy/work/model"
)

// URLBuilder resolves the final URL embedded for one item, given the
// caller's proxy mode resolution. Implementations live in the session/
// identity layer (signed proxy URL for reverse/masked-redirect, bare
// provider URL otherwise); output never mints tokens itself.
type URLBuilder func(it *model.Item, user *model.User) string

// Category is one Xtream/STRM grouping, stable per target (spec §4.11,
// model.Target.Categories).
type Category struct {
	ID   int
	Name string
}

// CategoriesFor returns target's categories sorted by id, the order both
// the Xtream get_*_categories actions and STRM folder naming rely on.
func CategoriesFor(t *model.Target) []Category {
	out := make([]Category, 0, len(t.Categories))
	for name, id := range t.Categories {
		out = append(out, Category{ID: id, Name: name})
	}
	sortCategories(out)
	return out
}

func sortCategories(c []Category) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j-1].ID > c[j].ID; j-- {
			c[j-1], c[j] = c[j], c[j-1]
		}
	}
}

// ItemsByType returns target's items of the given type, in target order.
func ItemsByType(t *model.Target, typ model.ItemType) []*model.Item {
	out := make([]*model.Item, 0, len(t.Items))
	for _, it := range t.Items {
		if it.Type == typ {
			out = append(out, it)
		}
	}
	return out
}

// ItemsByCategory further filters ItemsByType's result to one Xtream
// category_id; an empty categoryID returns every item of the type.
func ItemsByCategory(t *model.Target, typ model.ItemType, categoryID string) []*model.Item {
	items := ItemsByType(t, typ)
	if categoryID == "" {
		return items
	}
	want, err := strconv.Atoi(categoryID)
	if err != nil {
		return nil
	}
	var groupName string
	found := false
	for name, id := range t.Categories {
		if id == want {
			groupName, found = name, true
			break
		}
	}
	if !found {
		return nil
	}
	out := items[:0:0]
	for _, it := range items {
		if it.Group == groupName {
			out = append(out, it)
		}
	}
	return out
}
