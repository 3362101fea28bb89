// Package query implements the read-only projection layer and boolean
// filter language of spec §4.7: the canned projections (all, available,
// blocked, strategic, closed) and a hand-written recursive-descent parser
// over state:/priority:/label:/assignee:/blocked: terms combined with
// AND/OR/NOT and parentheses. Grounded on the shape of the teacher's
// IssueFilter (a conjunctive filter struct over state/priority/label),
// generalized here into a full expression tree since the teacher has no
// boolean query language of its own.
package query

import (
	"fmt"
	"strings"

	"github.com/jitvcs/jit/internal/types"
)

// Context supplies the information Eval needs that isn't on the Issue
// itself: dependency state resolution (for blocked:) and the precheck
// predicate, mirroring internal/validation's resolve-closure idiom.
type Context struct {
	Resolve func(id string) (types.State, bool)
}

// IsReady reports whether issue currently satisfies I2 under ctx, the
// same predicate internal/validation.IsReady evaluates.
func (ctx Context) IsReady(issue *types.Issue) bool {
	for _, dep := range issue.Dependencies {
		st, ok := ctx.Resolve(dep)
		if !ok || (st != types.StateDone && st != types.StateArchived) {
			return false
		}
	}
	return len(issue.UnpassedGatesInPhase(types.PhasePrecheck)) == 0
}

// IsBlocked is the blocked: term's predicate: an issue is blocked if it
// is not terminal and does not currently satisfy I2.
func (ctx Context) IsBlocked(issue *types.Issue) bool {
	if issue.State.IsTerminal() {
		return false
	}
	return !ctx.IsReady(issue)
}

// Expr is a boolean predicate over a single Issue.
type Expr interface {
	Eval(issue *types.Issue, ctx Context) bool
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(issue *types.Issue, ctx Context) bool {
	return e.left.Eval(issue, ctx) && e.right.Eval(issue, ctx)
}

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(issue *types.Issue, ctx Context) bool {
	return e.left.Eval(issue, ctx) || e.right.Eval(issue, ctx)
}

type notExpr struct{ inner Expr }

func (e notExpr) Eval(issue *types.Issue, ctx Context) bool {
	return !e.inner.Eval(issue, ctx)
}

type termExpr struct {
	key   string
	value string
}

func (e termExpr) Eval(issue *types.Issue, ctx Context) bool {
	switch e.key {
	case "state":
		return strings.EqualFold(string(issue.State), e.value)
	case "priority":
		return strings.EqualFold(string(issue.Priority), e.value)
	case "assignee":
		return strings.EqualFold(issue.Assignee, e.value)
	case "label":
		return matchesLabelPattern(issue, e.value)
	case "blocked":
		want := strings.EqualFold(e.value, "true")
		return ctx.IsBlocked(issue) == want
	default:
		return false
	}
}

func matchesLabelPattern(issue *types.Issue, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		for _, l := range issue.Labels {
			if strings.HasPrefix(l, prefix) {
				return true
			}
		}
		return false
	}
	return issue.HasLabel(pattern)
}

// --- tokenizer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokTerm
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) []token {
	var toks []token
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		word := cur.String()
		switch strings.ToUpper(word) {
		case "AND":
			toks = append(toks, token{kind: tokAnd})
		case "OR":
			toks = append(toks, token{kind: tokOr})
		case "NOT":
			toks = append(toks, token{kind: tokNot})
		default:
			toks = append(toks, token{kind: tokTerm, text: word})
		}
		cur.Reset()
	}
	for _, r := range input {
		switch {
		case r == '(' || r == ')':
			flush()
			k := tokLParen
			if r == ')' {
				k = tokRParen
			}
			toks = append(toks, token{kind: k})
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	toks = append(toks, token{kind: tokEOF})
	return toks
}

// --- recursive-descent parser: NOT binds tighter than AND, AND tighter
// than OR, matching the precedence spec §4.7 names explicitly. ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// Parse compiles a filter expression string into an Expr.
func Parse(input string) (Expr, error) {
	p := &parser{toks: tokenize(input)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token after expression")
	}
	return expr, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().kind == tokNot {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.kind {
	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return inner, nil
	case tokTerm:
		p.advance()
		return parseTerm(tok.text)
	default:
		return nil, fmt.Errorf("unexpected token in filter expression")
	}
}

func parseTerm(text string) (Expr, error) {
	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		return nil, fmt.Errorf("malformed term %q: expected <key>:<value>", text)
	}
	key := strings.ToLower(text[:idx])
	value := text[idx+1:]
	switch key {
	case "state", "priority", "label", "assignee", "blocked":
		return termExpr{key: key, value: value}, nil
	default:
		return nil, fmt.Errorf("unknown filter key %q", key)
	}
}
