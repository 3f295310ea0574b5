package formula

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/opensource-finance/tern/internal/domain"
)

type parser struct {
	expr   string
	tokens []token
	pos    int
	params Params
	fields map[string]struct{}
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.expr, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", kind, describe(t))
	}
	return t, nil
}

func describe(t token) string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%q", t.text)
}

// parseProgram: [ident '='] expr EOF
func (p *parser) parseProgram() (node, error) {
	if len(p.tokens) > 2 && p.tokens[0].kind == tokIdent && p.tokens[1].kind == tokAssign {
		p.pos = 2
	}
	if p.peek().kind == tokEOF {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", describe(t))
	}
	return n, nil
}

// parseExpr: term (('+'|'-') term)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokPlus && op != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// parseTerm: unary (('*'|'/'|'%') unary)*
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokStar && op != tokSlash && op != tokPercent {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch p.peek().kind {
	case tokMinus:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil
	case tokPlus:
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, _, err := apd.NewFromString(t.text)
		if err != nil {
			return nil, p.errorf(t, "malformed number %q", t.text)
		}
		return &numberNode{value: d}, nil

	case tokLParen:
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return n, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return p.bind(t)
	}
	return nil, p.errorf(t, "unexpected %s", describe(t))
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[strings.ToLower(name.text)]
	if !ok {
		return nil, p.errorf(name, "unknown function %q", name.text)
	}
	p.next() // '('

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, p.errorf(name, "%s: wrong number of arguments (%d)", fn.name, len(args))
	}
	return &callNode{fn: fn, args: args}, nil
}

// fieldAliases maps the short names used in contract sheets to coupon attributes.
var fieldAliases = map[string]string{
	"base":  domain.AttrRevenueBase,
	"fare":  domain.AttrRevenueBase,
	"yq":    domain.AttrRevenueYQ,
	"yr":    domain.AttrRevenueYR,
	"xt":    domain.AttrRevenueXT,
	"total": domain.AttrTotalRevenue,
}

// bind resolves an identifier to a tier parameter or a decimal coupon field.
func (p *parser) bind(t token) (node, error) {
	name := strings.ToLower(t.text)
	if v, ok := p.params[name]; ok {
		if v == nil {
			return nil, &FieldError{Expr: p.expr, Name: t.text}
		}
		return &numberNode{value: v}, nil
	}

	attr, ok := fieldAliases[name]
	if !ok {
		attr = name
	}
	if domain.CouponSchema[attr] != domain.FieldDecimal {
		return nil, &FieldError{Expr: p.expr, Name: t.text}
	}
	p.fields[attr] = struct{}{}
	return &fieldNode{attr: attr}, nil
}
