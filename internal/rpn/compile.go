package rpn

import (
	"strconv"
	"strings"

	"github.com/selvadb/selva/internal/object"
	"github.com/selvadb/selva/internal/selvaerr"
)

// opKind distinguishes an operator token from an operand token in a
// compiled Program.
type opKind uint8

const (
	tokOperator opKind = iota
	tokRegDouble
	tokRegString
	tokRegSet
	tokLiteral
)

type token struct {
	kind opKind
	op   byte // valid when kind == tokOperator
	idx  int  // register or literal-bank index, for operand tokens
}

// Program is a compiled RPN expression: a flat token stream plus the
// literal bank compile-time literals were folded into (spec.md §4.7).
type Program struct {
	tokens   []token
	literals []Value
}

// validOperators is the single-letter operator alphabet from spec.md
// §4.7's table (arithmetic, comparison, logical, modal, field-access,
// node/edge utility, range/set).
var validOperators = map[byte]bool{}

func init() {
	for _, c := range "ABCDEFGHIJKLMNOPQ" {
		validOperators[byte(c)] = true
	}
	for _, c := range "abcdefghijkz" {
		validOperators[byte(c)] = true
	}
}

// Compile parses a space-separated postfix expression into a Program
// (spec.md §4.7). Numeric/string/set literals are folded into a
// per-expression literal bank at compile time.
func Compile(src string) (*Program, error) {
	p := &Program{}
	for _, tok := range strings.Fields(src) {
		if tok == "" {
			continue
		}
		t, err := p.compileToken(tok)
		if err != nil {
			return nil, err
		}
		p.tokens = append(p.tokens, t)
	}
	return p, nil
}

func (p *Program) compileToken(tok string) (token, error) {
	switch tok[0] {
	case '#':
		return p.compileNumLiteral(tok[1:])
	case '"':
		return p.compileStrLiteral(tok)
	case '{':
		return p.compileSetLiteral(tok)
	case '@':
		return p.compileRegRef(tok[1:], tokRegDouble)
	case '$':
		return p.compileRegRef(tok[1:], tokRegString)
	case '&':
		return p.compileRegRef(tok[1:], tokRegSet)
	default:
		if len(tok) == 1 && validOperators[tok[0]] {
			return token{kind: tokOperator, op: tok[0]}, nil
		}
		return token{}, selvaerr.New(selvaerr.RPNILLOPC, "illegal operator/operand token %q", tok)
	}
}

func (p *Program) compileRegRef(rest string, kind opKind) (token, error) {
	n, err := strconv.Atoi(rest)
	if err != nil {
		return token{}, selvaerr.New(selvaerr.RPNILLOPN, "bad register index in %q", rest)
	}
	return token{kind: kind, idx: n}, nil
}

func (p *Program) compileNumLiteral(rest string) (token, error) {
	d, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return token{}, selvaerr.New(selvaerr.RPNNAN, "operand is not a number: #%s", rest)
	}
	idx := len(p.literals)
	p.literals = append(p.literals, Double(d))
	return token{kind: tokLiteral, idx: idx}, nil
}

func (p *Program) compileStrLiteral(tok string) (token, error) {
	if len(tok) < 2 || tok[0] != '"' || tok[len(tok)-1] != '"' {
		return token{}, selvaerr.New(selvaerr.RPNILLOPN, "malformed string literal %q", tok)
	}
	s := tok[1 : len(tok)-1]
	idx := len(p.literals)
	p.literals = append(p.literals, Str(s))
	return token{kind: tokLiteral, idx: idx}, nil
}

func (p *Program) compileSetLiteral(tok string) (token, error) {
	if len(tok) < 2 || tok[0] != '{' || tok[len(tok)-1] != '}' {
		return token{}, selvaerr.New(selvaerr.RPNILLOPN, "malformed set literal %q", tok)
	}
	inner := tok[1 : len(tok)-1]
	set := object.NewSet(object.SetString)
	if inner != "" {
		for _, elem := range strings.Split(inner, ",") {
			elem = strings.TrimSpace(elem)
			if len(elem) >= 2 && elem[0] == '"' && elem[len(elem)-1] == '"' {
				elem = elem[1 : len(elem)-1]
			}
			set.AddString(elem)
		}
	}
	idx := len(p.literals)
	p.literals = append(p.literals, SetVal(set))
	return token{kind: tokLiteral, idx: idx}, nil
}
