package mapper

import (
	"sync"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/model"
)

// evalContext holds per-run mutable state for one script execution: bound
// variables, the item being mutated, the template table, and a trace sink
// for the `print` builtin (the original logs at trace level only).
type evalContext struct {
	vars      map[string]value
	item      *model.Item
	templates map[string]string
	traceFn   func(string)
}

// Script is a compiled mapper script, ready to run against items.
type Script struct {
	stmts       []expr
	templates   map[string]string
	createAlias bool
	counters    []*Counter
	src         string
}

// CounterField selects which item field a counter writes to.
type CounterField int

const (
	CounterTitle CounterField = iota
	CounterName
	CounterChno
)

// CounterModifier selects how the counter token combines with the field's
// existing value.
type CounterModifier int

const (
	ModifierAssign CounterModifier = iota
	ModifierSuffix
	ModifierPrefix
)

// CounterSpec configures one per-target counter (spec §4.4 "Counter").
type CounterSpec struct {
	Filter   func(*model.Item) bool
	Initial  int
	Field    CounterField
	Modifier CounterModifier
	Concat   string
	Padding  int
}

// Counter advances in item order within a target, scoped to itself; it is
// not reset between items, only between pipeline runs.
type Counter struct {
	spec    CounterSpec
	current int
	mu      sync.Mutex
}

func NewCounter(spec CounterSpec) *Counter {
	return &Counter{spec: spec, current: spec.Initial}
}

// Apply advances the counter and writes its token into the configured item
// field if the counter's filter matches (or is nil).
func (c *Counter) Apply(it *model.Item) {
	if c.spec.Filter != nil && !c.spec.Filter(it) {
		return
	}
	c.mu.Lock()
	n := c.current
	c.current++
	c.mu.Unlock()

	token := formatCounterToken(n, c.spec.Padding)
	if c.spec.Concat != "" {
		token = c.spec.Concat + token
	}

	switch c.spec.Field {
	case CounterChno:
		it.Chno = n
		return
	case CounterName:
		applyCounterToken(&it.Name, token, c.spec.Modifier)
	default:
		applyCounterToken(&it.Title, token, c.spec.Modifier)
	}
}

func applyCounterToken(field *string, token string, mod CounterModifier) {
	switch mod {
	case ModifierSuffix:
		*field = *field + token
	case ModifierPrefix:
		*field = token + *field
	default:
		*field = token
	}
}

func formatCounterToken(n, padding int) string {
	s := itoa(n)
	if padding <= len(s) {
		return s
	}
	zeros := padding - len(s)
	out := make([]byte, zeros+len(s))
	for i := 0; i < zeros; i++ {
		out[i] = '0'
	}
	copy(out[zeros:], s)
	return string(out)
}

// Compile parses a mapper script body. templates resolve the `template()`
// builtin. createAlias mirrors the mapping's own create_alias flag (spec
// §4.4): when true, Run emits a domain-separated clone alongside the
// original on a non-undefined result.
func Compile(src string, templates map[string]string, createAlias bool, counters []*Counter) (*Script, error) {
	stmts, err := Parse(src)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, "parse mapper script", err)
	}
	return &Script{stmts: stmts, templates: templates, createAlias: createAlias, counters: counters, src: src}, nil
}

// traceSink is overridable per-process; defaults to a no-op since the
// mapper's `print` builtin is trace-only diagnostics, not operator-facing
// output (spec §4.4).
var traceSink = func(string) {}

// SetTraceSink installs the function mapper scripts' print() builtin calls.
func SetTraceSink(fn func(string)) {
	if fn == nil {
		fn = func(string) {}
	}
	traceSink = fn
}

// Run executes the script against one item, mutating it in place. If the
// script's create_alias flag is set and the run produced any field
// assignment, Run also returns a cloned item with an alias virtual ID
// (domain-separated from the original, per spec §4.4); otherwise the second
// return value is nil. Items for which no rule fires are returned
// unchanged (spec §8 property 6).
func (s *Script) Run(it *model.Item, providerStreamID string) (mutated bool, alias *model.Item) {
	ctx := &evalContext{
		vars:      make(map[string]value),
		item:      it,
		templates: s.templates,
		traceFn:   traceSink,
	}

	before := *it
	for _, st := range s.stmts {
		st.eval(ctx)
	}
	for _, c := range s.counters {
		c.Apply(it)
	}
	mutated = before != *it

	if s.createAlias && mutated {
		clone := it.Clone()
		clone.VirtualID = identity.AliasVirtualID(it.Input, providerStreamID)
		return mutated, clone
	}
	return mutated, nil
}
