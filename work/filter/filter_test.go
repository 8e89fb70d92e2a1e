package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/model"
)

func item(group, title string) *model.Item {
	return &model.Item{Group: group, Title: title, Name: title}
}

func TestScenarioS4(t *testing.T) {
	expr := `((Group ~ "^DE.*") AND (NOT Title ~ ".*Shopping.*")) OR (Group ~ "^AU.*")`
	c, err := Compile(expr, nil)
	require.NoError(t, err)

	assert.True(t, c.Eval(item("DE Sports", "News HD")))
	assert.False(t, c.Eval(item("DE Shop", "Big Shopping")))
	assert.True(t, c.Eval(item("AU 4K", "Anything")))
}

func TestOperatorPrecedence(t *testing.T) {
	// AND binds tighter than OR: "A AND B OR C" == "(A AND B) OR C"
	c, err := Compile(`Group ~ "^X" AND Title ~ "^Y" OR Group ~ "^Z"`, nil)
	require.NoError(t, err)

	assert.True(t, c.Eval(item("X1", "Y1")))
	assert.False(t, c.Eval(item("X1", "nope")))
	assert.True(t, c.Eval(item("Z1", "whatever")))
}

func TestNotUnary(t *testing.T) {
	c, err := Compile(`NOT Group ~ "^DE"`, nil)
	require.NoError(t, err)

	assert.False(t, c.Eval(item("DE Sports", "")))
	assert.True(t, c.Eval(item("FR Sports", "")))
}

func TestTypeComparisonWithMovieAlias(t *testing.T) {
	c, err := Compile(`Type = movie`, nil)
	require.NoError(t, err)

	it := item("", "")
	it.Type = model.Vod
	assert.True(t, c.Eval(it))

	it.Type = model.Live
	assert.False(t, c.Eval(it))
}

func TestUnknownTypeValueRejected(t *testing.T) {
	_, err := Compile(`Type = documentary`, nil)
	assert.Error(t, err)
}

func TestUnknownFieldRejected(t *testing.T) {
	_, err := Compile(`Bogus ~ "x"`, nil)
	assert.Error(t, err)
}

func TestTemplateExpansion(t *testing.T) {
	templates := map[string]string{
		"german": `Group ~ "^DE.*"`,
	}
	c, err := Compile(`!german! AND NOT Title ~ "Shopping"`, templates)
	require.NoError(t, err)

	assert.True(t, c.Eval(item("DE Sports", "News")))
	assert.False(t, c.Eval(item("DE Shop", "Shopping Hour")))
}

func TestTemplateExpansionNested(t *testing.T) {
	templates := map[string]string{
		"inner": `Group ~ "^DE.*"`,
		"outer": `!inner! OR Group ~ "^AU.*"`,
	}
	c, err := Compile(`!outer!`, templates)
	require.NoError(t, err)

	assert.True(t, c.Eval(item("DE X", "")))
	assert.True(t, c.Eval(item("AU X", "")))
	assert.False(t, c.Eval(item("FR X", "")))
}

func TestTemplateCycleDetected(t *testing.T) {
	templates := map[string]string{
		"a": `!b! OR Group ~ "^X"`,
		"b": `!a! OR Group ~ "^Y"`,
	}
	_, err := Compile(`!a!`, templates)
	assert.Error(t, err)
}

func TestUndefinedTemplateRejected(t *testing.T) {
	_, err := Compile(`!missing!`, map[string]string{})
	assert.Error(t, err)
}

func TestManagerCachesCompilation(t *testing.T) {
	m := NewManager()
	expr := `Group ~ "^DE"`

	c1, err := m.Get(expr, nil)
	require.NoError(t, err)
	c2, err := m.Get(expr, nil)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}

func TestManagerClearDropsCache(t *testing.T) {
	m := NewManager()
	expr := `Group ~ "^DE"`

	c1, err := m.Get(expr, nil)
	require.NoError(t, err)
	m.Clear()
	c2, err := m.Get(expr, nil)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
}
