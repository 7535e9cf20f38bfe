package capabilities

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harun/nara/pkg/capability"
)

// Calculator evaluates arithmetic expressions. Only literals, the basic
// operators, a fixed set of math functions and the constants pi, e and
// tau are accepted; there is no variable binding and nothing to inject.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

func (c *Calculator) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "calculator",
		Version:     "1.0.0",
		Category:    "utility",
		Description: "Evaluates arithmetic expressions like '2 + 3 * 4', 'sqrt(16)' or 'round(pi * 100) / 100'",
		Actions: []capability.ActionSpec{
			{
				Name:        "eval",
				Description: "Evaluate a single arithmetic expression",
				Parameters: []capability.ParamSpec{
					{Name: "expression", Type: "string", Description: "Expression to evaluate", Required: true},
					{Name: "precision", Type: "integer", Description: "Round the result to this many decimal places"},
				},
			},
		},
	}
}

func (c *Calculator) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if action != "" && action != "eval" {
		return nil, fmt.Errorf("calculator does not support action %q", action)
	}

	expr, err := requireString(params, "expression")
	if err != nil {
		return nil, err
	}

	value, err := evalExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate %q: %w", expr, err)
	}

	if prec, ok := intParam(params, "precision"); ok {
		if prec < 0 || prec > 12 {
			return nil, fmt.Errorf("precision %d out of range 0..12", prec)
		}
		shift := math.Pow(10, float64(prec))
		value = math.Round(value*shift) / shift
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("result of %q is not a finite number", expr)
	}

	return map[string]any{
		"expression": expr,
		"result":     value,
		"text":       strconv.FormatFloat(value, 'f', -1, 64),
	}, nil
}

// evalExpression parses and evaluates in one pass. Grammar, loosest first:
//
//	expr  = term  { ("+"|"-") term }
//	term  = unary { ("*"|"/"|"%") unary }
//	unary = ("-"|"+") unary | power
//	power = atom [ "^" unary ]
//	atom  = number | name | name "(" expr {"," expr} ")" | "(" expr ")"
func evalExpression(input string) (float64, error) {
	p := &exprParser{src: input}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

var calcConstants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

var calcFunctions = map[string]func(args []float64) (float64, error){
	"abs":   unary1(math.Abs),
	"sqrt":  unary1(math.Sqrt),
	"round": unary1(math.Round),
	"floor": unary1(math.Floor),
	"ceil":  unary1(math.Ceil),
	"exp":   unary1(math.Exp),
	"log":   unary1(math.Log),
	"log10": unary1(math.Log10),
	"log2":  unary1(math.Log2),
	"sin":   unary1(math.Sin),
	"cos":   unary1(math.Cos),
	"tan":   unary1(math.Tan),
	"pow": func(args []float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow takes 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	},
	"min": variadic(math.Min),
	"max": variadic(math.Max),
}

func unary1(fn func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(args[0]), nil
	}
}

func variadic(fn func(float64, float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("expected at least 1 argument")
		}
		acc := args[0]
		for _, v := range args[1:] {
			acc = fn(acc, v)
		}
		return acc, nil
	}
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpace()
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	ch := p.peek()

	switch {
	case ch == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil

	case ch >= '0' && ch <= '9' || ch == '.':
		return p.parseNumber()

	case isIdentStart(ch):
		return p.parseName()

	case ch == 0:
		return 0, fmt.Errorf("unexpected end of expression")

	default:
		return 0, fmt.Errorf("unexpected %q at offset %d", ch, p.pos)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	// Exponent only when digits follow, so the constant "e" still works
	// right after a number in something like "2*e".
	if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
		next := p.pos + 1
		if next < len(p.src) && (p.src[next] == '+' || p.src[next] == '-') {
			next++
		}
		if next < len(p.src) && isDigit(p.src[next]) {
			p.pos = next
			for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
				p.pos++
			}
		}
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return v, nil
}

func (p *exprParser) parseName() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	name := strings.ToLower(p.src[start:p.pos])

	p.skipSpace()
	if p.peek() != '(' {
		if v, ok := calcConstants[name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown constant %q", name)
	}

	fn, ok := calcFunctions[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name)
	}

	p.pos++ // consume '('
	var args []float64
	p.skipSpace()
	if p.peek() != ')' {
		for {
			v, err := p.parseExpr()
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			p.skipSpace()
			if p.peek() != ',' {
				break
			}
			p.pos++
		}
	}
	p.skipSpace()
	if p.peek() != ')' {
		return 0, fmt.Errorf("missing closing parenthesis after %s(", name)
	}
	p.pos++

	return fn(args)
}

func (p *exprParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func isDigit(ch byte) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch byte) bool { return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' }
func isIdentPart(ch byte) bool  { return isIdentStart(ch) || isDigit(ch) }
