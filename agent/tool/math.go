package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

const maxExpressionLen = 256

var (
	errEmptyExpression = errors.New("expression is empty")
	errTooLong         = errors.New("expression is too long")
)

// ExpressionResult is the JSON payload returned by evaluateExpression.
type ExpressionResult struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

func (r *Registry) evaluateExpression(_ context.Context, _ contractx.Scope, args map[string]any) contractx.CapabilityResult {
	expr := stringArg(args, "expression", "expr")
	v, err := Evaluate(expr)
	if err != nil {
		return contractx.Failed(err.Error())
	}
	raw, err := json.Marshal(ExpressionResult{Expression: expr, Result: v})
	if err != nil {
		return contractx.Failed(err.Error())
	}
	return contractx.Found(string(raw))
}

// Evaluate computes an arithmetic expression. It supports + - * / % ^,
// unary minus, parentheses, the constants pi and e, and the functions
// sqrt, abs, sin, cos, tan, log (base 10), ln and exp. ^ is right
// associative and binds tighter than unary minus.
func Evaluate(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errEmptyExpression
	}
	if len(expr) > maxExpressionLen {
		return 0, errTooLong
	}
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &exprParser{toks: toks}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func tokenize(s string) ([]token, error) {
	var out []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			text := string(rs[start:i])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", text, start)
			}
			out = append(out, token{kind: tokNum, text: text, num: n, pos: start})
		case unicode.IsLetter(c):
			start := i
			for i < len(rs) && unicode.IsLetter(rs[i]) {
				i++
			}
			out = append(out, token{kind: tokIdent, text: strings.ToLower(string(rs[start:i])), pos: start})
		case strings.ContainsRune("+-*/%^", c):
			out = append(out, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			return nil, fmt.Errorf("invalid character %q at %d", c, i)
		}
	}
	return append(out, token{kind: tokEOF, pos: len(rs)}), nil
}

var functions = map[string]func(float64) (float64, error){
	"sqrt": func(x float64) (float64, error) {
		if x < 0 {
			return 0, errors.New("sqrt of a negative number")
		}
		return math.Sqrt(x), nil
	},
	"abs": func(x float64) (float64, error) { return math.Abs(x), nil },
	"sin": func(x float64) (float64, error) { return math.Sin(x), nil },
	"cos": func(x float64) (float64, error) { return math.Cos(x), nil },
	"tan": func(x float64) (float64, error) { return math.Tan(x), nil },
	"exp": func(x float64) (float64, error) { return math.Exp(x), nil },
	"log": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, errors.New("log of a non-positive number")
		}
		return math.Log10(x), nil
	},
	"ln": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, errors.New("ln of a non-positive number")
		}
		return math.Log(x), nil
	},
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

type exprParser struct {
	toks []token
	i    int
}

func (p *exprParser) peek() token { return p.toks[p.i] }

func (p *exprParser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *exprParser) isOp(ops string) bool {
	t := p.peek()
	return t.kind == tokOp && strings.Contains(ops, t.text)
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for p.isOp("+-") {
		op := p.next().text
		right, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*/%") {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op.text {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, errors.New("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.isOp("+-") {
		op := p.next().text
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if !p.isOp("^") {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) parseAtom() (float64, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return t.num, nil
	case tokLParen:
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.next().kind != tokRParen {
			return 0, fmt.Errorf("missing ) for ( at %d", t.pos)
		}
		return v, nil
	case tokIdent:
		if c, ok := constants[t.text]; ok {
			return c, nil
		}
		fn, ok := functions[t.text]
		if !ok {
			return 0, fmt.Errorf("unknown name %q", t.text)
		}
		if p.peek().kind != tokLParen {
			return 0, fmt.Errorf("%s needs parentheses", t.text)
		}
		arg, err := p.parseAtom()
		if err != nil {
			return 0, err
		}
		return fn(arg)
	case tokEOF:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
}
