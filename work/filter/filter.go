package filter

import (
	"fmt"
	"regexp"
	"sync"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/model"
)

// templateRef matches !NAME! placeholders inside a filter expression.
var templateRef = regexp.MustCompile(`!([A-Za-z0-9_-]+)!`)

// ExpandTemplates recursively substitutes !NAME! references with the named
// template's own expression text, failing on a reference cycle (spec §4.3:
// "Templates !NAME! expand recursively; cycles fail at load time.").
func ExpandTemplates(src string, templates map[string]string) (string, error) {
	return expandTemplates(src, templates, map[string]bool{})
}

func expandTemplates(src string, templates map[string]string, seen map[string]bool) (string, error) {
	var expandErr error
	out := templateRef.ReplaceAllStringFunc(src, func(m string) string {
		if expandErr != nil {
			return m
		}
		name := templateRef.FindStringSubmatch(m)[1]
		if seen[name] {
			expandErr = fmt.Errorf("template cycle detected at %q", name)
			return m
		}
		body, ok := templates[name]
		if !ok {
			expandErr = fmt.Errorf("undefined template %q", name)
			return m
		}
		seen[name] = true
		expanded, err := expandTemplates(body, templates, seen)
		delete(seen, name)
		if err != nil {
			expandErr = err
			return m
		}
		return expanded
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// Compiled is a parsed, ready-to-evaluate filter expression.
type Compiled struct {
	root Node
	src  string
}

// Compile expands templates and parses a filter expression. Returns a
// ConfigInvalid apperr.Error on any grammar or template failure, so callers
// can fail target loading loudly per spec §7.
func Compile(src string, templates map[string]string) (*Compiled, error) {
	expanded, err := ExpandTemplates(src, templates)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, "expand filter template", err)
	}
	node, err := Parse(expanded)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigInvalid, "parse filter expression", err)
	}
	return &Compiled{root: node, src: expanded}, nil
}

// Eval evaluates the filter over one playlist item (spec §8 property 7: pure,
// depends only on the expression and the item).
func (c *Compiled) Eval(it *model.Item) bool {
	return c.root.Eval(it.Field)
}

func (c *Compiled) String() string { return c.src }

// Manager caches compiled filters by expression text, shared across all
// targets, so repeated pipeline runs don't re-parse unchanged expressions.
type Manager struct {
	mu    sync.RWMutex
	cache map[string]*Compiled
}

func NewManager() *Manager {
	return &Manager{cache: make(map[string]*Compiled)}
}

// Get compiles (or returns the cached compilation of) expr.
func (m *Manager) Get(expr string, templates map[string]string) (*Compiled, error) {
	m.mu.RLock()
	if c, ok := m.cache[expr]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	c, err := Compile(expr, templates)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[expr] = c
	m.mu.Unlock()
	return c, nil
}

// Clear drops all cached compilations, used when templates/config reload.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*Compiled)
}
