package mapper

import (
	"strconv"
	"strings"
)

// callBuiltin evaluates a builtin function call against its arguments,
// following the original implementation's argument-filtering rule:
// Undefined/Failure/AnyValue arguments are dropped before dispatch, and any
// error argument short-circuits the whole call.
func callBuiltin(ctx *evalContext, name string, argExprs []expr) value {
	args := make([]value, 0, len(argExprs))
	for _, a := range argExprs {
		v := a.eval(ctx)
		if v.isError() {
			return failValue("function %q failed: %s", name, v.failMsg)
		}
		args = append(args, v)
	}
	filtered := args[:0:0]
	for _, v := range args {
		if v.kind != valUndefined && v.kind != valFailure && v.kind != valAny {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		return undefinedValue()
	}

	switch name {
	case "concat":
		return strValue(strings.Join(concatParts(filtered), ""))
	case "uppercase":
		return strValue(strings.ToUpper(strings.Join(concatParts(filtered), " ")))
	case "lowercase":
		return strValue(strings.ToLower(strings.Join(concatParts(filtered), " ")))
	case "trim":
		parts := concatParts(filtered)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return strValue(strings.TrimSpace(strings.Join(parts, " ")))
	case "capitalize":
		parts := concatParts(filtered)
		for i := range parts {
			parts[i] = capitalize(parts[i])
		}
		return strValue(strings.Join(parts, " "))
	case "print":
		ctx.traceFn(strings.Join(concatParts(filtered), ""))
		return undefinedValue()
	case "number":
		if filtered[0].kind == valStr {
			return toNumber(filtered[0].str)
		}
		return filtered[0]
	case "first":
		v := filtered[0]
		if v.kind == valNamed {
			if len(v.named) == 0 {
				return undefinedValue()
			}
			return strValue(v.named[0].Val)
		}
		return v
	case "template":
		if filtered[0].kind != valStr && filtered[0].kind != valNamed {
			return undefinedValue()
		}
		body, ok := ctx.templates[firstText(filtered[0])]
		if !ok {
			return undefinedValue()
		}
		return strValue(body)
	case "replace":
		if len(filtered) < 3 {
			return filtered[0]
		}
		text := firstText(filtered[0])
		pattern := firstText(filtered[1])
		repl := firstText(filtered[2])
		return strValue(strings.ReplaceAll(text, pattern, repl))
	case "pad":
		return builtinPad(filtered)
	case "format":
		return builtinFormat(filtered)
	default:
		return failValue("unknown function %q", name)
	}
}

func concatParts(vals []value) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		switch v.kind {
		case valStr:
			out = append(out, v.str)
		case valNum:
			out = append(out, formatNumber(v.num))
		case valNamed:
			for i, p := range v.named {
				out = append(out, p.Key, ": ", p.Val)
				if i < len(v.named)-1 {
					out = append(out, ", ")
				}
			}
		}
	}
	return out
}

func firstText(v value) string {
	switch v.kind {
	case valStr:
		return v.str
	case valNum:
		return formatNumber(v.num)
	case valNamed:
		if len(v.named) > 0 {
			return v.named[0].Val
		}
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func builtinPad(args []value) value {
	if len(args) < 3 {
		return undefinedValue()
	}
	text := firstText(args[0])
	width := 0
	switch args[1].kind {
	case valNum:
		width = int(args[1].num)
	case valStr:
		width, _ = strconv.Atoi(args[1].str)
	}
	fill := firstText(args[2])
	fillChar := byte(' ')
	if len(fill) > 0 {
		fillChar = fill[0]
	}
	align := ""
	if len(args) > 3 {
		align = firstText(args[3])
	}
	if width <= len(text) {
		return strValue(text)
	}
	padLen := width - len(text)
	switch align {
	case "^":
		left := padLen / 2
		right := padLen - left
		return strValue(strings.Repeat(string(fillChar), left) + text + strings.Repeat(string(fillChar), right))
	case "<":
		return strValue(text + strings.Repeat(string(fillChar), padLen))
	default:
		return strValue(strings.Repeat(string(fillChar), padLen) + text)
	}
}

func builtinFormat(args []value) value {
	if len(args) == 0 {
		return undefinedValue()
	}
	fmtStr := firstText(args[0])
	rest := args[1:]
	var sb strings.Builder
	ai := 0
	runes := []rune(fmtStr)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '{' && i+1 < len(runes) && runes[i+1] == '}' {
			i++
			if ai < len(rest) {
				sb.WriteString(firstText(rest[ai]))
				ai++
			} else {
				sb.WriteString("{}")
			}
			continue
		}
		sb.WriteRune(runes[i])
	}
	return strValue(sb.String())
}
