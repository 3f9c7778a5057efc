package restriction

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// allowedFieldPrefix is the only field namespace v0.1 conditions may
// reference (spec.md §4.2).
const allowedFieldPrefix = "capability.params."

type token struct {
	text   string
	line   int
	column int
}

// Parse compiles DSL source into a RestrictionAST. Source must be exactly
// one rule; Parse does not split multi-rule documents (callers parse one
// line/rule at a time, e.g. `restrict add-dsl`).
func Parse(source string) (*RestrictionAST, error) {
	toks := tokenize(source)
	if len(toks) == 0 {
		return nil, &ParseError{Line: 1, Column: 1, Message: "empty rule"}
	}

	p := &parser{toks: toks}
	return p.parseRule()
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) parseRule() (*RestrictionAST, error) {
	effectTok, ok := p.next()
	if !ok {
		return nil, &ParseError{Line: 1, Column: 1, Message: "expected 'allow' or 'deny'"}
	}

	var effect Effect
	switch effectTok.text {
	case "allow":
		effect = Allow
	case "deny":
		effect = Deny
	default:
		return nil, parseErr(effectTok, "expected 'allow' or 'deny', got %q", effectTok.text)
	}

	typeTok, ok := p.next()
	if !ok {
		return nil, parseErr(effectTok, "expected a capability type after %q", effectTok.text)
	}
	capType := taxonomy.CapabilityType(typeTok.text)
	if !taxonomy.IsKnown(capType) {
		return nil, parseErr(typeTok, "unknown capability type %q", typeTok.text)
	}

	ast := &RestrictionAST{Effect: effect, CapabilityType: capType}

	next, ok := p.peek()
	if !ok {
		return ast, nil
	}
	if next.text != "where" {
		return nil, parseErr(next, "expected 'where' or end of rule, got %q", next.text)
	}
	p.next()

	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		ast.Conditions = append(ast.Conditions, *cond)

		nt, ok := p.peek()
		if !ok {
			break
		}
		if nt.text != "and" {
			return nil, parseErr(nt, "expected 'and' or end of rule, got %q", nt.text)
		}
		p.next()
	}

	return ast, nil
}

func (p *parser) parseCondition() (*ConditionAST, error) {
	fieldTok, ok := p.next()
	if !ok {
		return nil, &ParseError{Line: 1, Column: 1, Message: "expected a field after 'where'/'and'"}
	}
	if !strings.HasPrefix(fieldTok.text, allowedFieldPrefix) || len(fieldTok.text) == len(allowedFieldPrefix) {
		return nil, parseErr(fieldTok, "field %q must start with %q and name a sub-field", fieldTok.text, allowedFieldPrefix)
	}

	opTok, ok := p.next()
	if !ok {
		return nil, parseErr(fieldTok, "expected an operator after field %q", fieldTok.text)
	}
	if opTok.text != string(MatchesOp) {
		return nil, parseErr(opTok, "unsupported operator %q, only 'matches' is supported", opTok.text)
	}

	valTok, ok := p.next()
	if !ok {
		return nil, parseErr(opTok, "expected a string literal after 'matches'")
	}
	lit, err := unquote(valTok)
	if err != nil {
		return nil, err
	}

	return &ConditionAST{Field: fieldTok.text, Op: MatchesOp, Value: lit}, nil
}

func unquote(t token) (string, error) {
	s := t.text
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", parseErr(t, "expected a quoted string literal, got %q", s)
	}
	return s[1 : len(s)-1], nil
}

func parseErr(t token, format string, args ...interface{}) *ParseError {
	return &ParseError{Line: t.line, Column: t.column, Message: fmt.Sprintf(format, args...)}
}

// tokenize splits source into whitespace-delimited words, treating a
// double-quoted literal (which may contain spaces) as a single token.
func tokenize(source string) []token {
	var toks []token
	line, col := 1, 1
	runes := []rune(source)

	advance := func(r rune) {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	i := 0
	for i < len(runes) {
		r := runes[i]
		if unicode.IsSpace(r) {
			advance(r)
			i++
			continue
		}
		startLine, startCol := line, col
		if r == '"' {
			var b strings.Builder
			b.WriteRune(r)
			advance(r)
			i++
			for i < len(runes) && runes[i] != '"' {
				b.WriteRune(runes[i])
				advance(runes[i])
				i++
			}
			if i < len(runes) {
				b.WriteRune(runes[i]) // closing quote
				advance(runes[i])
				i++
			}
			toks = append(toks, token{text: b.String(), line: startLine, column: startCol})
			continue
		}

		var b strings.Builder
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			b.WriteRune(runes[i])
			advance(runes[i])
			i++
		}
		toks = append(toks, token{text: b.String(), line: startLine, column: startCol})
	}
	return toks
}
