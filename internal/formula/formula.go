// Package formula compiles tier payout expressions into immutable trees that
// are evaluated per coupon with decimal arithmetic.
package formula

import (
	"errors"
	"sort"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/opensource-finance/tern/internal/domain"
)

// Precision is the number of significant digits used for intermediate results.
const Precision = 34

var arith = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(Precision)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// Params are named constants a formula may reference, such as the tier percent.
// A key mapped to nil is a known name with no value.
type Params map[string]*apd.Decimal

// TierParams returns the parameters bound for a tier with the given percent.
func TierParams(percent *apd.Decimal) Params {
	return Params{
		"tier_percent": percent,
		"slab_percent": percent,
	}
}

// Program is a compiled formula. It is safe for concurrent use.
type Program struct {
	source string
	root   node
	fields []string
}

// Compile parses expr and binds its identifiers against params and the coupon
// decimal fields.
func Compile(expr string, params Params) (*Program, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{
		expr:   expr,
		tokens: tokens,
		params: params,
		fields: make(map[string]struct{}),
	}
	root, err := p.parseProgram()
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(p.fields))
	for f := range p.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return &Program{source: strings.TrimSpace(expr), root: root, fields: fields}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string, params Params) *Program {
	p, err := Compile(expr, params)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the formula text.
func (p *Program) Source() string { return p.source }

// Fields returns the coupon attributes the formula reads, sorted.
func (p *Program) Fields() []string { return p.fields }

// Eval computes the formula for a coupon. Any failure is an *AbsentError.
func (p *Program) Eval(c *domain.Coupon) (*apd.Decimal, error) {
	v, err := p.root.eval(c)
	if err != nil {
		var ae *AbsentError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, absent(domain.AbsentArithmetic, err)
	}
	if v.Form != apd.Finite {
		return nil, absent(domain.AbsentArithmetic, nil)
	}
	return new(apd.Decimal).Set(v), nil
}

// Quantize rounds d half-up to the given number of decimal places.
func Quantize(d *apd.Decimal, places int) (*apd.Decimal, error) {
	res := new(apd.Decimal)
	if _, err := arith.Quantize(res, d, int32(-places)); err != nil {
		return nil, err
	}
	return res, nil
}

// AbsentReason returns the absent reason carried by err, or "" if err is not
// an absent payout.
func AbsentReason(err error) string {
	var ae *AbsentError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}
