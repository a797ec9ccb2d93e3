package policy

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Env is the read-only view a condition evaluates against: call arguments,
// detected entity counts, and caller context.
type Env struct {
	Args     map[string]any
	Entities map[model.EntityKind]int
	Context  map[string]any
}

// Expr is a compiled condition. Eval never errors: a reference to a field
// absent from the call makes the enclosing comparison false, so a malformed
// or inapplicable condition simply does not match.
type Expr interface {
	Eval(env Env) bool
}

// Compile parses a condition expression. Supported forms:
//
//	args.amount > 500
//	entities.EMAIL > 0 and context.role != "admin"
//	args.region in ["eu", "us"] or not (args.dry_run == true)
//	args.path contains "/etc"
func Compile(src string) (Expr, error) {
	p := &parser{toks: lex(src)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, fmt.Errorf("unexpected %q at end of condition", p.peek().text)
	}
	return expr, nil
}

// --- lexer ---

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokEOF
)

type token struct {
	kind tokKind
	text string
}

func lex(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			toks = append(toks, token{tokString, src[i+1 : j]})
			i = j + 1
		case strings.ContainsRune("><=!", rune(c)):
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, src[i : i+2]})
				i += 2
			} else {
				toks = append(toks, token{tokOp, string(c)})
				i++
			}
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			toks = append(toks, token{tokOp, string(c)})
			i++
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) eof() bool { return p.peek().kind == tokEOF }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.kind == tokOp:
		op := p.next().text
		switch op {
		case ">", ">=", "<", "<=", "==", "!=":
		default:
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return cmpExpr{op: op, left: left, right: right}, nil

	case tok.kind == tokIdent && tok.text == "in":
		p.next()
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inExpr{left: left, list: list}, nil

	case tok.kind == tokIdent && tok.text == "contains":
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return containsExpr{left: left, right: right}, nil
	}

	return nil, fmt.Errorf("expected comparison after %v", left)
}

func (p *parser) parseList() ([]operand, error) {
	if p.peek().kind != tokLBracket {
		return nil, fmt.Errorf("expected list after 'in'")
	}
	p.next()
	var items []operand
	for {
		if p.peek().kind == tokRBracket {
			p.next()
			return items, nil
		}
		if len(items) > 0 {
			if p.peek().kind != tokComma {
				return nil, fmt.Errorf("expected comma in list")
			}
			p.next()
		}
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func (p *parser) parseOperand() (operand, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", tok.text)
		}
		return litOperand{n}, nil
	case tokString:
		return litOperand{tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return litOperand{true}, nil
		case "false":
			return litOperand{false}, nil
		}
		if !strings.Contains(tok.text, ".") {
			return nil, fmt.Errorf("unqualified field %q: use args.*, entities.* or context.*", tok.text)
		}
		return fieldOperand{path: tok.text}, nil
	default:
		return nil, fmt.Errorf("unexpected %q in condition", tok.text)
	}
}

// --- AST ---

type operand interface {
	resolve(env Env) (any, bool)
}

type litOperand struct{ v any }

func (l litOperand) resolve(Env) (any, bool) { return l.v, true }

type fieldOperand struct{ path string }

func (f fieldOperand) resolve(env Env) (any, bool) {
	scope, rest, _ := strings.Cut(f.path, ".")
	switch scope {
	case "args":
		v, ok := env.Args[rest]
		return v, ok
	case "context":
		v, ok := env.Context[rest]
		return v, ok
	case "entities":
		if rest == "total" {
			total := 0
			for _, n := range env.Entities {
				total += n
			}
			return total, true
		}
		// Unseen kinds count as zero rather than missing, so rules like
		// entities.EMAIL == 0 behave as written.
		return env.Entities[model.EntityKind(rest)], true
	}
	return nil, false
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(env Env) bool { return e.left.Eval(env) && e.right.Eval(env) }

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(env Env) bool { return e.left.Eval(env) || e.right.Eval(env) }

type notExpr struct{ inner Expr }

func (e notExpr) Eval(env Env) bool { return !e.inner.Eval(env) }

type cmpExpr struct {
	op          string
	left, right operand
}

func (e cmpExpr) Eval(env Env) bool {
	lv, lok := e.left.resolve(env)
	rv, rok := e.right.resolve(env)
	if !lok || !rok {
		return false
	}

	lf, lNum := toFloat(lv)
	rf, rNum := toFloat(rv)
	if lNum && rNum {
		switch e.op {
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		}
	}

	switch e.op {
	case "==":
		return looseEqual(lv, rv)
	case "!=":
		return !looseEqual(lv, rv)
	}
	// Ordering comparison on non-numeric values does not match.
	return false
}

type inExpr struct {
	left operand
	list []operand
}

func (e inExpr) Eval(env Env) bool {
	lv, ok := e.left.resolve(env)
	if !ok {
		return false
	}
	for _, item := range e.list {
		iv, ok := item.resolve(env)
		if ok && looseEqual(lv, iv) {
			return true
		}
	}
	return false
}

type containsExpr struct {
	left, right operand
}

func (e containsExpr) Eval(env Env) bool {
	lv, lok := e.left.resolve(env)
	rv, rok := e.right.resolve(env)
	if !lok || !rok {
		return false
	}
	return strings.Contains(asString(lv), asString(rv))
}

// toFloat coerces numeric types and numeric strings. Agent frameworks pass
// amounts as JSON numbers or decimal strings interchangeably.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return asString(a) == asString(b)
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
