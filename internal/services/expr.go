package services

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Expression evaluation for skip logic, constraints and metric formulas.
// Expressions reference field values through {Label} or ${Label} tokens; both
// surface forms are accepted. A lone "=" is treated as equality so that
// non-programmer authors can write `{Status} = "Pregnant"`. Evaluation never
// propagates an error: a failed condition is false and a failed numeric
// expression is 0, with the failure reported through the optional warn hook.

// EvalWarnFunc receives expression failures out of band.
type EvalWarnFunc func(expr string, err error)

var (
	tokenPattern  = regexp.MustCompile(`\$?\{([^}]+)\}`)
	equalsPattern = regexp.MustCompile(`(^|[^!<>=])=([^=])`)
	allowedChars  = regexp.MustCompile(`^[0-9A-Za-z_"'\s\[\],.:;\-<>=!&|()+*/]*$`)
)

// EvaluateCondition evaluates expr as a boolean condition against bindings.
// Empty expressions and any evaluation failure yield false.
func EvaluateCondition(expr string, bindings map[string]any, warn EvalWarnFunc) bool {
	if strings.TrimSpace(expr) == "" {
		return false
	}
	v, err := Evaluate(expr, bindings)
	if err != nil {
		if warn != nil {
			warn(expr, err)
		}
		return false
	}
	return truthy(v)
}

// EvaluateNumber evaluates expr as a numeric expression against bindings.
// Empty expressions and failures yield 0; NaN results also collapse to 0.
func EvaluateNumber(expr string, bindings map[string]any, warn EvalWarnFunc) float64 {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	v, err := Evaluate(expr, bindings)
	if err != nil {
		if warn != nil {
			warn(expr, err)
		}
		return 0
	}
	n := toNumber(v)
	if math.IsNaN(n) {
		return 0
	}
	return n
}

// Evaluate substitutes bindings into expr and evaluates the result. It is the
// error-returning primitive beneath EvaluateCondition/EvaluateNumber.
func Evaluate(expr string, bindings map[string]any) (any, error) {
	src := substituteTokens(expr, bindings)
	src = equalsPattern.ReplaceAllString(src, "$1==$2")
	if !allowedChars.MatchString(src) {
		return nil, fmt.Errorf("expression contains disallowed characters")
	}
	toks, err := scanExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	return v, nil
}

// substituteTokens replaces every {Key}/${Key} occurrence with the JSON
// literal of the bound value. Unbound keys become null rather than failing.
func substituteTokens(expr string, bindings map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(expr, func(m string) string {
		sub := tokenPattern.FindStringSubmatch(m)
		key := strings.TrimSpace(sub[1])
		v, ok := bindings[key]
		if !ok || v == nil {
			return "null"
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	})
}

// ExtractFieldToken returns the first {Field} token key in expr, or "".
// Sum metrics use it to locate the field being accumulated.
func ExtractFieldToken(expr string) string {
	sub := tokenPattern.FindStringSubmatch(expr)
	if sub == nil {
		return ""
	}
	return strings.TrimSpace(sub[1])
}

// --- scanner ---

type tokKind int

const (
	tokNumber tokKind = iota
	tokString
	tokIdent
	tokOp
)

type exprToken struct {
	kind tokKind
	text string
	num  float64
}

func scanExpr(src string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", src[i:j])
			}
			toks = append(toks, exprToken{kind: tokNumber, text: src[i:j], num: n})
			i = j
		case c == '"' || c == '\'':
			s, j, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, exprToken{kind: tokString, text: s})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, exprToken{kind: tokIdent, text: src[i:j]})
			i = j
		default:
			for _, op := range [...]string{"&&", "||", "==", "!=", "<=", ">="} {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, exprToken{kind: tokOp, text: op})
					i += 2
					goto next
				}
			}
			switch c {
			case '<', '>', '!', '+', '-', '*', '/', '(', ')', '[', ']', ',':
				toks = append(toks, exprToken{kind: tokOp, text: string(c)})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q", c)
			}
		next:
		}
	}
	return toks, nil
}

func scanString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == '\\' && i+1 < len(src) {
			next := src[i+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'u':
				// JSON \uXXXX escapes from substituted string values.
				if i+5 < len(src) {
					if r, err := strconv.ParseUint(src[i+2:i+6], 16, 32); err == nil {
						b.WriteRune(rune(r))
						i += 6
						continue
					}
				}
				return "", 0, fmt.Errorf("bad unicode escape")
			default:
				b.WriteByte(next)
			}
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// --- parser / evaluator ---
// Precedence: || < && < comparison < additive < multiplicative < unary.
// Values are evaluated during the parse; short-circuit operators still parse
// the skipped operand so syntax errors surface regardless of operand values.

type exprParser struct {
	toks []exprToken
	pos  int
}

func (p *exprParser) peek() (exprToken, bool) {
	if p.pos < len(p.toks) {
		return p.toks[p.pos], true
	}
	return exprToken{}, false
}

func (p *exprParser) acceptOp(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			left = right
		}
	}
}

func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			left = right
		}
	}
}

func (p *exprParser) parseCmp() (any, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">")
		if !ok {
			return left, nil
		}
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		switch op {
		case "==":
			left = looseEqual(left, right)
		case "!=":
			left = !looseEqual(left, right)
		case "<":
			left = comparable2(left, right) && compare(left, right) < 0
		case "<=":
			left = comparable2(left, right) && compare(left, right) <= 0
		case ">":
			left = comparable2(left, right) && compare(left, right) > 0
		case ">=":
			left = comparable2(left, right) && compare(left, right) >= 0
		}
	}
}

func (p *exprParser) parseAdd() (any, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			if ls, lok := left.(string); lok {
				left = ls + toText(right)
			} else if rs, rok := right.(string); rok {
				left = toText(left) + rs
			} else {
				left = toNumber(left) + toNumber(right)
			}
		} else {
			left = toNumber(left) - toNumber(right)
		}
	}
}

func (p *exprParser) parseMul() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "*" {
			left = toNumber(left) * toNumber(right)
		} else {
			// Division by zero follows float semantics (Inf/NaN), never panics.
			left = toNumber(left) / toNumber(right)
		}
	}
}

func (p *exprParser) parseUnary() (any, error) {
	if _, ok := p.acceptOp("!"); ok {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	if _, ok := p.acceptOp("-"); ok {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return -toNumber(v), nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		return t.num, nil
	case tokString:
		p.pos++
		return t.text, nil
	case tokIdent:
		p.pos++
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "undefined":
			return nil, nil
		}
		return nil, fmt.Errorf("unknown identifier %q", t.text)
	case tokOp:
		switch t.text {
		case "(":
			p.pos++
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, ok := p.acceptOp(")"); !ok {
				return nil, fmt.Errorf("missing )")
			}
			return v, nil
		case "[":
			p.pos++
			var list []any
			if _, ok := p.acceptOp("]"); ok {
				return list, nil
			}
			for {
				v, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				list = append(list, v)
				if _, ok := p.acceptOp(","); ok {
					continue
				}
				if _, ok := p.acceptOp("]"); ok {
					return list, nil
				}
				return nil, fmt.Errorf("missing ] in list")
			}
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// --- value semantics ---

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	case []any:
		return true
	}
	return true
}

func toNumber(v any) float64 {
	switch t := v.(type) {
	case nil:
		return math.NaN()
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return n
	case []any:
		if len(t) == 1 {
			return toNumber(t[0])
		}
		return math.NaN()
	}
	return math.NaN()
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = toText(e)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// looseEqual compares across types the way expression authors expect:
// numbers by value, strings textually, and multi-choice arrays by their
// comma-joined text so `{Symptoms} = "Cough"` matches a single selection.
func looseEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if la, ok := a.([]any); ok {
		return looseEqualString(toText(la), b)
	}
	if lb, ok := b.([]any); ok {
		return looseEqualString(toText(lb), a)
	}
	switch ta := a.(type) {
	case string:
		return looseEqualString(ta, b)
	case float64:
		nb := toNumber(b)
		return !math.IsNaN(nb) && ta == nb
	case bool:
		return toNumber(a) == toNumber(b)
	}
	return false
}

func looseEqualString(s string, other any) bool {
	switch to := other.(type) {
	case string:
		return s == to
	case float64:
		ns := toNumber(s)
		return !math.IsNaN(ns) && ns == to
	case bool:
		return toNumber(s) == toNumber(other)
	}
	return false
}

// comparable2 reports whether an ordering comparison of a and b is meaningful:
// two strings compare lexically, anything else must both convert to numbers.
func comparable2(a, b any) bool {
	if _, ok := a.(string); ok {
		if _, ok := b.(string); ok {
			return true
		}
	}
	return !math.IsNaN(toNumber(a)) && !math.IsNaN(toNumber(b))
}

func compare(a, b any) int {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	na, nb := toNumber(a), toNumber(b)
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}
