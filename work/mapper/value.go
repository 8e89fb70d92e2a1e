package mapper

import (
	"fmt"
	"strconv"
)

type valueKind int

const (
	valUndefined valueKind = iota
	valStr
	valNum
	valNamed
	valAny
	valFailure
)

// NamedPair is one entry of a regex capture bundle (res.name / res.1 access).
type NamedPair struct {
	Key, Val string
}

// value is the mapper DSL's tagged runtime value, mirroring the original
// implementation's EvalResult: undefined, a string, a number, a capture
// bundle, a wildcard match, or a failure carrying a message.
type value struct {
	kind    valueKind
	str     string
	num     float64
	named   []NamedPair
	failMsg string
}

func undefinedValue() value            { return value{kind: valUndefined} }
func strValue(s string) value          { return value{kind: valStr, str: s} }
func numValue(n float64) value         { return value{kind: valNum, num: n} }
func namedValue(p []NamedPair) value   { return value{kind: valNamed, named: p} }
func anyValue() value                  { return value{kind: valAny} }
func failValue(msg string, a ...any) value {
	return value{kind: valFailure, failMsg: fmt.Sprintf(msg, a...)}
}

func (v value) isError() bool { return v.kind == valFailure }

// asText renders a value for field assignment / concat, matching the
// original's formatting of Number (trims a trailing ".0") and Named
// ("key: val, key: val").
func (v value) asText() string {
	switch v.kind {
	case valStr:
		return v.str
	case valNum:
		return formatNumber(v.num)
	case valNamed:
		out := ""
		for i, p := range v.named {
			out += p.Key + ": " + p.Val
			if i < len(v.named)-1 {
				out += ", "
			}
		}
		return out
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func toNumber(s string) value {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return failValue("invalid number: %s", s)
	}
	return numValue(n)
}

const numEpsilon = 1e-3

func compareNumbers(a, b float64) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d < numEpsilon {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func matchNumber(n float64, s string) bool {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return compareNumbers(n, v) == 0
}

// matches implements text case-key equality for map{} blocks.
func (v value) matches(other value) bool {
	if v.kind == valAny || other.kind == valAny {
		return true
	}
	switch {
	case v.kind == valStr && other.kind == valStr:
		return v.str == other.str
	case v.kind == valNum && other.kind == valStr:
		return matchNumber(v.num, other.str)
	case v.kind == valStr && other.kind == valNum:
		return matchNumber(other.num, v.str)
	case v.kind == valNum && other.kind == valNum:
		return compareNumbers(v.num, other.num) == 0
	case v.kind == valNamed && other.kind == valNamed:
		return namedEqual(v.named, other.named)
	default:
		return false
	}
}

func namedEqual(a, b []NamedPair) bool {
	if len(a) != len(b) {
		return false
	}
	am := map[string]string{}
	for _, p := range a {
		am[p.Key] = p.Val
	}
	bm := map[string]string{}
	for _, p := range b {
		bm[p.Key] = p.Val
	}
	if len(am) != len(bm) {
		return false
	}
	for k, v := range am {
		if bm[k] != v {
			return false
		}
	}
	return true
}

// compare implements ordering for map{} numeric ranges; ok is false when
// the two values aren't order-comparable.
func (v value) compare(other value) (ord int, ok bool) {
	switch {
	case v.kind == valAny || other.kind == valAny:
		return 0, true
	case v.kind == valStr && other.kind == valStr:
		switch {
		case v.str < other.str:
			return -1, true
		case v.str > other.str:
			return 1, true
		default:
			return 0, true
		}
	case v.kind == valNum && other.kind == valStr:
		n, err := strconv.ParseFloat(other.str, 64)
		if err != nil {
			return 0, false
		}
		return compareNumbers(v.num, n), true
	case v.kind == valStr && other.kind == valNum:
		n, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return 0, false
		}
		return -compareNumbers(other.num, n), true
	case v.kind == valNum && other.kind == valNum:
		return compareNumbers(v.num, other.num), true
	case v.kind == valNamed && other.kind == valNamed:
		if namedEqual(v.named, other.named) {
			return 0, true
		}
		return 0, false
	default:
		return 0, false
	}
}
