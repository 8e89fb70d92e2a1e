package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/config"
	"kptv-proxy/work/mapper"
	"kptv-proxy/work/pipeline"
)

// compileRename turns a config.RenameDef into a pipeline.RenameRule: its
// Match clause compiles through the same filter.Manager cache as ordinary
// filters (an empty match string means "all items"), and its Pattern/
// Replacement pair compiles to a regexp once, at build time, rather than
// per-item. def.Match may name a FilterDef or carry an inline C3 expression;
// filtersByName resolves the former.
func (b *Builder) compileRename(def config.RenameDef, filtersByName map[string]config.FilterDef) (pipeline.RenameRule, error) {
	rule := pipeline.RenameRule{Field: def.Field}
	if def.Match != "" {
		matchExpr := def.Match
		if filterDef, ok := filtersByName[def.Match]; ok {
			matchExpr = filterDef.Expr
		}
		compiled, err := b.filters.Get(matchExpr, nil)
		if err != nil {
			return rule, apperr.Wrap(apperr.ConfigInvalid, "compile rename match "+def.Name, err)
		}
		rule.Match = compiled
	}
	if def.Pattern != "" {
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return rule, apperr.Wrap(apperr.ConfigInvalid, "compile rename pattern "+def.Name, err)
		}
		rule.Pattern = pipeline.NewRenamePattern(re, def.Replacement)
	}
	return rule, nil
}

// compileMapper turns a config.MapperDef into a mapper.Script plus the
// mapper.Counter instances its CounterDefs describe, each counter's Filter
// scoped through the same filter cache. The counters are returned for
// pipeline.Build to apply once, after sorting; the script itself carries
// none.
func (b *Builder) compileMapper(def config.MapperDef) (*mapper.Script, []*mapper.Counter, error) {
	var counters []*mapper.Counter
	for _, cd := range def.Counters {
		spec := mapper.CounterSpec{
			Initial:  cd.Initial,
			Field:    parseCounterField(cd.Field),
			Modifier: parseCounterModifier(cd.Modifier),
			Concat:   cd.Concat,
			Padding:  cd.Padding,
		}
		if cd.Filter != "" {
			compiled, err := b.filters.Get(cd.Filter, def.Templates)
			if err != nil {
				return nil, nil, apperr.Wrap(apperr.ConfigInvalid, "compile counter filter", err)
			}
			spec.Filter = compiled.Eval
		}
		counters = append(counters, mapper.NewCounter(spec))
	}

	script, err := mapper.Compile(def.Script, def.Templates, def.CreateAlias, nil)
	if err != nil {
		return nil, nil, err
	}
	return script, counters, nil
}

func parseCounterField(s string) mapper.CounterField {
	switch s {
	case "name":
		return mapper.CounterName
	case "chno":
		return mapper.CounterChno
	default:
		return mapper.CounterTitle
	}
}

func parseCounterModifier(s string) mapper.CounterModifier {
	switch s {
	case "suffix":
		return mapper.ModifierSuffix
	case "prefix":
		return mapper.ModifierPrefix
	default:
		return mapper.ModifierAssign
	}
}

// hashPassword stores a sha256 digest rather than a bare plaintext
// comparison. No dedicated password-hashing library appears anywhere in the
// retrieved corpus (the teacher's admin auth, where it checks credentials at
// all, compares plaintext directly), so this stays on the standard library
// rather than introducing an unwired, ungrounded bcrypt/argon2 dependency —
// see DESIGN.md.
func hashPassword(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
