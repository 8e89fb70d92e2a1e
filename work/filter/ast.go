package filter

import "github.com/grafana/regexp"

// Node is a filter AST node. Evaluation is pure (spec §8 property 7): it
// depends only on the node and the item passed to Eval.
type Node interface {
	Eval(get func(field string) (string, bool)) bool
}

type notNode struct{ inner Node }

func (n *notNode) Eval(get func(string) (string, bool)) bool { return !n.inner.Eval(get) }

type andNode struct{ left, right Node }

func (n *andNode) Eval(get func(string) (string, bool)) bool {
	return n.left.Eval(get) && n.right.Eval(get)
}

type orNode struct{ left, right Node }

func (n *orNode) Eval(get func(string) (string, bool)) bool {
	return n.left.Eval(get) || n.right.Eval(get)
}

var fieldNames = map[string]string{
	"name":    "Name",
	"title":   "Title",
	"caption": "Caption",
	"group":   "Group",
	"url":     "Url",
	"input":   "Input",
}

type fieldCmpNode struct {
	field string
	re    *regexp.Regexp
}

func (n *fieldCmpNode) Eval(get func(string) (string, bool)) bool {
	v, ok := get(n.field)
	if !ok {
		return false
	}
	return n.re.MatchString(v)
}

type typeCmpNode struct {
	// normalized: "live", "vod", or "series" ("movie" folds into "vod" at parse time)
	want string
}

func (n *typeCmpNode) Eval(get func(string) (string, bool)) bool {
	v, ok := get("Type")
	if !ok {
		return false
	}
	return v == n.want
}
