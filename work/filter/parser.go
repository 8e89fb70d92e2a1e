package filter

import (
	"fmt"
	"strings"

	"github.com/grafana/regexp"
)

type parser struct {
	lex  *lexer
	tok  token
	peek *token
}

// Parse compiles a filter expression string into an evaluatable Node.
// Template references (!NAME!) must already be expanded by the caller
// (see ExpandTemplates) before Parse is called.
func Parse(src string) (Node, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing token %q at %d", p.tok.text, p.tok.pos)
	}
	return node, nil
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Node, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		return p.parseComparison()
	default:
		return nil, fmt.Errorf("unexpected token %q at %d", p.tok.text, p.tok.pos)
	}
}

func (p *parser) parseComparison() (Node, error) {
	ident := p.tok.text
	lower := strings.ToLower(ident)

	if lower == "type" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokEquals {
			return nil, fmt.Errorf("expected '=' after Type at %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokIdent {
			return nil, fmt.Errorf("expected type value at %d", p.tok.pos)
		}
		val := strings.ToLower(p.tok.text)
		if val == "movie" {
			val = "vod"
		}
		if val != "live" && val != "vod" && val != "series" {
			return nil, fmt.Errorf("unknown type value %q at %d", p.tok.text, p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &typeCmpNode{want: val}, nil
	}

	field, ok := fieldNames[lower]
	if !ok {
		return nil, fmt.Errorf("unknown field %q at %d", ident, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokTilde {
		return nil, fmt.Errorf("expected '~' after field %s at %d", field, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokString {
		return nil, fmt.Errorf("expected regex literal at %d", p.tok.pos)
	}
	pattern := p.tok.text
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &fieldCmpNode{field: field, re: re}, nil
}
