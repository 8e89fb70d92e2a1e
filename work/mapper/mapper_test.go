package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/model"
)

func TestScenarioS5YearBucketing(t *testing.T) {
	script := `
year = @caption ~ "\((\d{4})\)"
year = number(year)
label = map year {
  ..2020 => "< 2020",
  _ => year
}
@group = concat("FR | MOVIES ", label)
`
	s, err := Compile(script, nil, false, nil)
	require.NoError(t, err)

	it1 := &model.Item{Group: "FR Movies", Title: "Master (2018)"}
	s.Run(it1, "p1")
	assert.Equal(t, "FR | MOVIES < 2020", it1.Group)

	it2 := &model.Item{Group: "FR Movies", Title: "Master (2021)"}
	s.Run(it2, "p2")
	assert.Equal(t, "FR | MOVIES 2021", it2.Group)
}

func TestFieldAssignment(t *testing.T) {
	s, err := Compile(`@title = uppercase(@title)`, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "news"}
	mutated, alias := s.Run(it, "p")
	assert.True(t, mutated)
	assert.Nil(t, alias)
	assert.Equal(t, "NEWS", it.Title)
}

func TestUnfiredRuleLeavesItemUnchanged(t *testing.T) {
	s, err := Compile(`x = @title ~ "nomatch"`, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "news"}
	mutated, _ := s.Run(it, "p")
	assert.False(t, mutated)
	assert.Equal(t, "news", it.Title)
}

func TestMatchBlockRequiresAllTruthy(t *testing.T) {
	script := `
a = @title ~ "news"
b = @group ~ "sport"
result = match {
  (a, b) => "both",
  a => "only-a",
  _ => "none"
}
@title = result
`
	s, err := Compile(script, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "news", Group: "entertainment"}
	s.Run(it, "p")
	assert.Equal(t, "only-a", it.Title)
}

func TestMapTextCaseWithAlternatives(t *testing.T) {
	script := `
@title = map @group {
  "DE"|"AT" => "German-speaking",
  _ => "Other"
}
`
	s, err := Compile(script, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Group: "AT"}
	s.Run(it, "p")
	assert.Equal(t, "German-speaking", it.Title)
}

func TestRegexNamedCapture(t *testing.T) {
	script := `res = @title ~ "(?P<y>\d{4})-(?P<m>\d{2})"
@title = res.y
`
	s, err := Compile(script, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "2021-05"}
	s.Run(it, "p")
	assert.Equal(t, "2021", it.Title)
}

func TestPadBuiltin(t *testing.T) {
	s, err := Compile(`@title = pad(@title, 5, "0", ">")`, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "7"}
	s.Run(it, "p")
	assert.Equal(t, "00007", it.Title)
}

func TestFormatBuiltin(t *testing.T) {
	s, err := Compile(`@title = format("[{}] {}", @group, @title)`, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Group: "DE", Title: "News"}
	s.Run(it, "p")
	assert.Equal(t, "[DE] News", it.Title)
}

func TestReplaceBuiltin(t *testing.T) {
	s, err := Compile(`@title = replace(@title, "HD", "UHD")`, nil, false, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "News HD"}
	s.Run(it, "p")
	assert.Equal(t, "News UHD", it.Title)
}

func TestTemplateBuiltin(t *testing.T) {
	templates := map[string]string{"greeting": "Hello"}
	s, err := Compile(`@title = template("greeting")`, templates, false, nil)
	require.NoError(t, err)

	it := &model.Item{}
	s.Run(it, "p")
	assert.Equal(t, "Hello", it.Title)
}

func TestCreateAliasEmitsClone(t *testing.T) {
	s, err := Compile(`@title = uppercase(@title)`, nil, true, nil)
	require.NoError(t, err)

	it := &model.Item{Title: "news", Input: "provider1"}
	mutated, alias := s.Run(it, "stream-42")
	require.True(t, mutated)
	require.NotNil(t, alias)
	assert.Equal(t, "NEWS", alias.Title)
	assert.NotEqual(t, it.VirtualID, alias.VirtualID)
}

func TestCounterAssignsSuffixInOrder(t *testing.T) {
	counter := NewCounter(CounterSpec{Initial: 1, Field: CounterTitle, Modifier: ModifierSuffix, Padding: 2})
	s, err := Compile(`@title = @title`, nil, false, []*Counter{counter})
	require.NoError(t, err)

	it1 := &model.Item{Title: "Channel"}
	it2 := &model.Item{Title: "Channel"}
	s.Run(it1, "p1")
	s.Run(it2, "p2")

	assert.Equal(t, "Channel01", it1.Title)
	assert.Equal(t, "Channel02", it2.Title)
}

func TestCounterChnoField(t *testing.T) {
	counter := NewCounter(CounterSpec{Initial: 100, Field: CounterChno})
	s, err := Compile(`@title = @title`, nil, false, []*Counter{counter})
	require.NoError(t, err)

	it := &model.Item{Title: "x"}
	s.Run(it, "p")
	assert.Equal(t, 100, it.Chno)
}
