package formula

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/opensource-finance/tern/internal/domain"
)

// node is an immutable expression tree element.
type node interface {
	eval(c *domain.Coupon) (*apd.Decimal, error)
}

type numberNode struct {
	value *apd.Decimal
}

func (n *numberNode) eval(*domain.Coupon) (*apd.Decimal, error) {
	return n.value, nil
}

// fieldNode reads a decimal coupon attribute.
type fieldNode struct {
	attr string
}

func (n *fieldNode) eval(c *domain.Coupon) (*apd.Decimal, error) {
	d, err := c.Decimal(n.attr)
	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, domain.ErrMissingAttribute):
		return nil, absent(domain.AbsentMissingField, err)
	default:
		return nil, absent(domain.AbsentNotNumeric, err)
	}
}

type unaryNode struct {
	operand node
}

func (n *unaryNode) eval(c *domain.Coupon) (*apd.Decimal, error) {
	v, err := n.operand.eval(c)
	if err != nil {
		return nil, err
	}
	return new(apd.Decimal).Neg(v), nil
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

func (n *binaryNode) eval(c *domain.Coupon) (*apd.Decimal, error) {
	l, err := n.left.eval(c)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(c)
	if err != nil {
		return nil, err
	}

	res := new(apd.Decimal)
	switch n.op {
	case tokPlus:
		_, err = arith.Add(res, l, r)
	case tokMinus:
		_, err = arith.Sub(res, l, r)
	case tokStar:
		_, err = arith.Mul(res, l, r)
	case tokSlash:
		if r.IsZero() {
			return nil, absent(domain.AbsentDivisionByZero, nil)
		}
		_, err = arith.Quo(res, l, r)
	case tokPercent:
		if r.IsZero() {
			return nil, absent(domain.AbsentDivisionByZero, nil)
		}
		_, err = arith.Rem(res, l, r)
	default:
		return nil, fmt.Errorf("unknown operator %v", n.op)
	}
	if err != nil {
		return nil, absent(domain.AbsentArithmetic, err)
	}
	return res, nil
}

type callNode struct {
	fn   *function
	args []node
}

func (n *callNode) eval(c *domain.Coupon) (*apd.Decimal, error) {
	vals := make([]*apd.Decimal, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(c)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	res, err := n.fn.apply(vals)
	if err != nil {
		var ae *AbsentError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, absent(domain.AbsentArithmetic, err)
	}
	return res, nil
}

// function is a named builtin with an arity range. maxArgs < 0 is variadic.
type function struct {
	name    string
	minArgs int
	maxArgs int
	apply   func(args []*apd.Decimal) (*apd.Decimal, error)
}

var hundred = apd.New(100, 0)

var functions = map[string]*function{
	"pct": {name: "pct", minArgs: 2, maxArgs: 2, apply: func(args []*apd.Decimal) (*apd.Decimal, error) {
		res := new(apd.Decimal)
		if _, err := arith.Mul(res, args[0], args[1]); err != nil {
			return nil, err
		}
		_, err := arith.Quo(res, res, hundred)
		return res, err
	}},
	"min": {name: "min", minArgs: 1, maxArgs: -1, apply: func(args []*apd.Decimal) (*apd.Decimal, error) {
		best := args[0]
		for _, a := range args[1:] {
			if a.Cmp(best) < 0 {
				best = a
			}
		}
		return best, nil
	}},
	"max": {name: "max", minArgs: 1, maxArgs: -1, apply: func(args []*apd.Decimal) (*apd.Decimal, error) {
		best := args[0]
		for _, a := range args[1:] {
			if a.Cmp(best) > 0 {
				best = a
			}
		}
		return best, nil
	}},
	"abs": {name: "abs", minArgs: 1, maxArgs: 1, apply: func(args []*apd.Decimal) (*apd.Decimal, error) {
		return new(apd.Decimal).Abs(args[0]), nil
	}},
	"round": {name: "round", minArgs: 1, maxArgs: 2, apply: func(args []*apd.Decimal) (*apd.Decimal, error) {
		places := int64(0)
		if len(args) == 2 {
			p, err := args[1].Int64()
			if err != nil || p < 0 || p > 10 {
				return nil, fmt.Errorf("round: invalid places %s", args[1])
			}
			places = p
		}
		return Quantize(args[0], int(places))
	}},
}
