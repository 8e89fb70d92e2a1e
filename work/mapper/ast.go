package mapper

import "github.com/grafana/regexp"

// expr is one node of a compiled mapper script.
type expr interface {
	eval(ctx *evalContext) value
}

type nullExpr struct{}

func (nullExpr) eval(*evalContext) value { return undefinedValue() }

type identExpr struct{ name string }

func (e identExpr) eval(ctx *evalContext) value {
	if v, ok := ctx.vars[e.name]; ok {
		return v
	}
	return failValue("variable %q not found", e.name)
}

type fieldExpr struct{ name string }

func (e fieldExpr) eval(ctx *evalContext) value {
	if v, ok := ctx.item.Field(e.name); ok && v != "" {
		return strValue(v)
	}
	return undefinedValue()
}

type varAccessExpr struct{ name, field string }

func (e varAccessExpr) eval(ctx *evalContext) value {
	v, ok := ctx.vars[e.name]
	if !ok {
		return failValue("variable %q not found", e.name)
	}
	switch v.kind {
	case valUndefined:
		return undefinedValue()
	case valNamed:
		for _, p := range v.named {
			if p.Key == e.field {
				return strValue(p.Val)
			}
		}
		return failValue("variable %q has no field %q", e.name, e.field)
	case valAny, valFailure:
		return v
	default:
		return failValue("variable %q has no fields", e.name)
	}
}

type stringLit struct{ s string }

func (e stringLit) eval(*evalContext) value { return strValue(e.s) }

type numberLit struct{ n float64 }

func (e numberLit) eval(*evalContext) value { return numValue(e.n) }

// regexSource is either a field (`@name`) or a bound variable.
type regexExpr struct {
	fieldSource string // non-empty if the source is a field
	identSource string // non-empty if the source is a variable
	re          *regexp.Regexp
}

func (e regexExpr) eval(ctx *evalContext) value {
	var source string
	var ok bool
	if e.fieldSource != "" {
		source, ok = ctx.item.Field(e.fieldSource)
	} else {
		v, has := ctx.vars[e.identSource]
		if has && v.kind == valStr {
			source, ok = v.str, true
		}
	}
	if !ok {
		return undefinedValue()
	}

	var pairs []NamedPair
	matches := e.re.FindAllStringSubmatch(source, -1)
	for _, m := range matches {
		for i := 1; i < len(m); i++ {
			pairs = append(pairs, NamedPair{Key: itoa(i), Val: m[i]})
		}
		for _, name := range e.re.SubexpNames() {
			if name == "" {
				continue
			}
			pairs = append(pairs, NamedPair{Key: name, Val: m[e.re.SubexpIndex(name)]})
		}
	}
	switch len(pairs) {
	case 0:
		if len(matches) > 0 {
			return strValue(matches[0][0])
		}
		return undefinedValue()
	case 1:
		return strValue(pairs[0].Val)
	default:
		return namedValue(pairs)
	}
}

type assignTargetKind int

const (
	targetIdent assignTargetKind = iota
	targetField
)

type assignExpr struct {
	targetKind assignTargetKind
	targetName string
	value      expr
}

func (e assignExpr) eval(ctx *evalContext) value {
	v := e.value.eval(ctx)
	switch e.targetKind {
	case targetIdent:
		ctx.vars[e.targetName] = v
		return undefinedValue()
	default: // targetField
		if v.isError() {
			return failValue("failed to set field %s: %s", e.targetName, v.failMsg)
		}
		if v.kind == valUndefined || v.kind == valAny {
			return undefinedValue()
		}
		ctx.item.SetField(e.targetName, v.asText())
		return undefinedValue()
	}
}

type functionCall struct {
	name string
	args []expr
}

func (e functionCall) eval(ctx *evalContext) value {
	return callBuiltin(ctx, e.name, e.args)
}

type matchCaseKey struct {
	ident string // empty means wildcard "_"
	any   bool
}

type matchCase struct {
	keys []matchCaseKey
	body expr
}

type matchBlock struct{ cases []matchCase }

func (e matchBlock) eval(ctx *evalContext) value {
	for _, c := range e.cases {
		allTruthy := true
		for _, k := range c.keys {
			if k.any {
				continue
			}
			v, ok := ctx.vars[k.ident]
			if !ok || v.kind == valUndefined || v.kind == valFailure {
				allTruthy = false
				break
			}
		}
		if allTruthy {
			return c.body.eval(ctx)
		}
	}
	return undefinedValue()
}

type mapCaseKeyKind int

const (
	mapKeyText mapCaseKeyKind = iota
	mapKeyRangeFrom
	mapKeyRangeTo
	mapKeyRangeFull
	mapKeyRangeEq
	mapKeyAny
)

type mapCaseKey struct {
	kind   mapCaseKeyKind
	texts  []string // for mapKeyText (alternatives joined by '|')
	from   float64
	to     float64
}

type mapCase struct {
	keys []mapCaseKey
	body expr
}

type mapKeyRef struct {
	// exactly one of these is set
	field string
	ident string
	varAccessName, varAccessField string
}

type mapBlock struct {
	key   mapKeyRef
	cases []mapCase
}

func (e mapBlock) eval(ctx *evalContext) value {
	var keyVal value
	switch {
	case e.key.field != "":
		if v, ok := ctx.item.Field(e.key.field); ok {
			keyVal = strValue(v)
		} else {
			keyVal = undefinedValue()
		}
	case e.key.varAccessName != "":
		keyVal = varAccessExpr{name: e.key.varAccessName, field: e.key.varAccessField}.eval(ctx)
	default:
		v, ok := ctx.vars[e.key.ident]
		if !ok {
			return failValue("variable %q not found", e.key.ident)
		}
		keyVal = v
	}

	for _, c := range e.cases {
		for _, k := range c.keys {
			if mapCaseKeyMatches(k, keyVal) {
				return c.body.eval(ctx)
			}
		}
	}
	return undefinedValue()
}

func mapCaseKeyMatches(k mapCaseKey, keyVal value) bool {
	switch k.kind {
	case mapKeyAny:
		return true
	case mapKeyText:
		for _, t := range k.texts {
			if keyVal.matches(strValue(t)) {
				return true
			}
		}
		return false
	case mapKeyRangeFrom:
		ord, ok := keyVal.compare(numValue(k.from))
		return ok && ord >= 0
	case mapKeyRangeTo:
		ord, ok := keyVal.compare(numValue(k.to))
		return ok && ord <= 0
	case mapKeyRangeFull:
		ordFrom, ok1 := keyVal.compare(numValue(k.from))
		ordTo, ok2 := keyVal.compare(numValue(k.to))
		return ok1 && ok2 && ordFrom >= 0 && ordTo <= 0
	case mapKeyRangeEq:
		ord, ok := keyVal.compare(numValue(k.from))
		return ok && ord == 0
	default:
		return false
	}
}

type blockExpr struct{ exprs []expr }

func (e blockExpr) eval(ctx *evalContext) value {
	result := undefinedValue()
	for _, x := range e.exprs {
		result = x.eval(ctx)
	}
	return result
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
