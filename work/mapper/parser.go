package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

var knownFields = map[string]bool{
	"name": true, "title": true, "caption": true, "group": true, "id": true,
	"chno": true, "logo": true, "logo_small": true, "parent_code": true,
	"audio_track": true, "time_shift": true, "rec": true, "url": true,
	"epg_channel_id": true, "epg_id": true, "genre": true,
}

var knownFunctions = map[string]bool{
	"concat": true, "uppercase": true, "lowercase": true, "capitalize": true,
	"trim": true, "print": true, "number": true, "first": true,
	"template": true, "replace": true, "pad": true, "format": true,
}

type parser struct {
	lex *lexer
	tok token
}

// Parse compiles a mapper script into a sequence of top-level statements.
func Parse(src string) ([]expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var stmts []expr
	for {
		p.skipSeparators()
		if p.tok.kind == tokEOF {
			break
		}
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, e)
	}
	return stmts, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) skipSeparators() {
	for p.tok.kind == tokSemi {
		p.advance()
	}
}

func (p *parser) parseExpression() (expr, error) {
	switch p.tok.kind {
	case tokField:
		return p.parseFieldLed()
	case tokIdent:
		switch p.tok.text {
		case "match":
			return p.parseMatchBlock()
		case "map":
			return p.parseMapBlock()
		case "null":
			p.advance()
			return nullExpr{}, nil
		}
		return p.parseIdentLed()
	case tokString:
		s := p.tok.text
		p.advance()
		return stringLit{s: s}, nil
	case tokNumber:
		n, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", p.tok.text, p.tok.pos)
		}
		p.advance()
		return numberLit{n: n}, nil
	case tokLBrace:
		return p.parseBlock()
	default:
		return nil, fmt.Errorf("unexpected token %q at %d", p.tok.text, p.tok.pos)
	}
}

func (p *parser) parseBlock() (expr, error) {
	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	var exprs []expr
	for {
		p.skipSeparators()
		if p.tok.kind == tokRBrace {
			p.advance()
			break
		}
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return blockExpr{exprs: exprs}, nil
}

func (p *parser) parseFieldLed() (expr, error) {
	fieldName := strings.ToLower(p.tok.text)
	if !knownFields[fieldName] {
		return nil, fmt.Errorf("unknown field @%s at %d", p.tok.text, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch p.tok.kind {
	case tokEquals:
		p.advance()
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return assignExpr{targetKind: targetField, targetName: fieldName, value: val}, nil
	case tokTilde:
		p.advance()
		return p.parseRegexRHS(regexExpr{fieldSource: fieldName})
	default:
		return fieldExpr{name: fieldName}, nil
	}
}

func (p *parser) parseIdentLed() (expr, error) {
	name := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch p.tok.kind {
	case tokLParen:
		if !knownFunctions[name] {
			return nil, fmt.Errorf("unknown function %q", name)
		}
		return p.parseCallArgs(name)
	case tokEquals:
		p.advance()
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return assignExpr{targetKind: targetIdent, targetName: name, value: val}, nil
	case tokTilde:
		p.advance()
		return p.parseRegexRHS(regexExpr{identSource: name})
	case tokDot:
		p.advance()
		if p.tok.kind != tokIdent {
			return nil, fmt.Errorf("expected field name after '.' at %d", p.tok.pos)
		}
		field := p.tok.text
		p.advance()
		return varAccessExpr{name: name, field: field}, nil
	default:
		return identExpr{name: name}, nil
	}
}

func (p *parser) parseCallArgs(name string) (expr, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []expr
	if p.tok.kind != tokRParen {
		for {
			a, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.tok.kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("expected ')' at %d", p.tok.pos)
	}
	p.advance()
	if len(args) == 0 {
		return nil, fmt.Errorf("function %q needs at least one argument", name)
	}
	return functionCall{name: name, args: args}, nil
}

func (p *parser) parseRegexRHS(re regexExpr) (expr, error) {
	if p.tok.kind != tokString {
		return nil, fmt.Errorf("expected regex string literal at %d", p.tok.pos)
	}
	pattern := p.tok.text
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	re.re = compiled
	p.advance()
	return re, nil
}

func (p *parser) parseMatchBlock() (expr, error) {
	if err := p.advance(); err != nil { // consume 'match'
		return nil, err
	}
	if p.tok.kind != tokLBrace {
		return nil, fmt.Errorf("expected '{' after match at %d", p.tok.pos)
	}
	p.advance()
	p.skipNewlines()

	var cases []matchCase
	for p.tok.kind != tokRBrace {
		keys, err := p.parseMatchCaseKeys()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokFatArrow {
			return nil, fmt.Errorf("expected '=>' in match case at %d", p.tok.pos)
		}
		p.advance()
		body, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		cases = append(cases, matchCase{keys: keys, body: body})
		p.skipNewlines()
		if p.tok.kind == tokComma {
			p.advance()
			p.skipNewlines()
		}
	}
	p.advance() // consume '}'
	return matchBlock{cases: cases}, nil
}

func (p *parser) parseMatchCaseKeys() ([]matchCaseKey, error) {
	paren := p.tok.kind == tokLParen
	if paren {
		p.advance()
	}
	var keys []matchCaseKey
	for {
		if p.tok.kind == tokUnderscore {
			keys = append(keys, matchCaseKey{any: true})
			p.advance()
		} else if p.tok.kind == tokIdent {
			keys = append(keys, matchCaseKey{ident: p.tok.text})
			p.advance()
		} else {
			return nil, fmt.Errorf("expected match case key at %d", p.tok.pos)
		}
		if p.tok.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if paren {
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at %d", p.tok.pos)
		}
		p.advance()
	}
	return keys, nil
}

func (p *parser) parseMapBlock() (expr, error) {
	if err := p.advance(); err != nil { // consume 'map'
		return nil, err
	}
	var key mapKeyRef
	switch {
	case p.tok.kind == tokField:
		key.field = strings.ToLower(p.tok.text)
		if !knownFields[key.field] {
			return nil, fmt.Errorf("unknown field @%s at %d", p.tok.text, p.tok.pos)
		}
		p.advance()
	case p.tok.kind == tokIdent:
		name := p.tok.text
		p.advance()
		if p.tok.kind == tokDot {
			p.advance()
			if p.tok.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after '.' at %d", p.tok.pos)
			}
			key.varAccessName, key.varAccessField = name, p.tok.text
			p.advance()
		} else {
			key.ident = name
		}
	default:
		return nil, fmt.Errorf("expected map key at %d", p.tok.pos)
	}

	if p.tok.kind != tokLBrace {
		return nil, fmt.Errorf("expected '{' after map key at %d", p.tok.pos)
	}
	p.advance()
	p.skipNewlines()

	var cases []mapCase
	for p.tok.kind != tokRBrace {
		keys, err := p.parseMapCaseKeys()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokFatArrow {
			return nil, fmt.Errorf("expected '=>' in map case at %d", p.tok.pos)
		}
		p.advance()
		body, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		cases = append(cases, mapCase{keys: keys, body: body})
		p.skipNewlines()
		if p.tok.kind == tokComma {
			p.advance()
			p.skipNewlines()
		}
	}
	p.advance() // consume '}'
	return mapBlock{key: key, cases: cases}, nil
}

func (p *parser) parseMapCaseKeys() ([]mapCaseKey, error) {
	if p.tok.kind == tokUnderscore {
		p.advance()
		return []mapCaseKey{{kind: mapKeyAny}}, nil
	}
	if p.tok.kind == tokNumber || (p.tok.kind == tokDotDot) {
		return p.parseNumberRange()
	}
	if p.tok.kind == tokString {
		var texts []string
		for {
			texts = append(texts, p.tok.text)
			p.advance()
			if p.tok.kind == tokPipe {
				p.advance()
				continue
			}
			break
		}
		return []mapCaseKey{{kind: mapKeyText, texts: texts}}, nil
	}
	return nil, fmt.Errorf("expected map case key at %d", p.tok.pos)
}

func (p *parser) parseNumberRange() ([]mapCaseKey, error) {
	if p.tok.kind == tokDotDot {
		p.advance()
		if p.tok.kind != tokNumber {
			return nil, fmt.Errorf("expected number after '..' at %d", p.tok.pos)
		}
		to, _ := strconv.ParseFloat(p.tok.text, 64)
		p.advance()
		return []mapCaseKey{{kind: mapKeyRangeTo, to: to}}, nil
	}
	from, _ := strconv.ParseFloat(p.tok.text, 64)
	p.advance()
	if p.tok.kind == tokDotDot {
		p.advance()
		if p.tok.kind == tokNumber {
			to, _ := strconv.ParseFloat(p.tok.text, 64)
			p.advance()
			return []mapCaseKey{{kind: mapKeyRangeFull, from: from, to: to}}, nil
		}
		return []mapCaseKey{{kind: mapKeyRangeFrom, from: from}}, nil
	}
	return []mapCaseKey{{kind: mapKeyRangeEq, from: from}}, nil
}

func (p *parser) skipNewlines() {
	for p.tok.kind == tokSemi {
		p.advance()
	}
}
