package criteria

import (
	"strings"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

// Result is the ternary outcome of one criterion against one coupon.
type Result int

const (
	NoMatch Result = iota
	Match
	// NotApplicable means the coupon lacks the underlying attribute.
	NotApplicable
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case NotApplicable:
		return "not_applicable"
	default:
		return "no_match"
	}
}

// Evaluate tests a compiled criterion against a coupon.
func Evaluate(c *Compiled, coupon *domain.Coupon) Result {
	switch c.Criterion.Kind() {
	case KindBoolean:
		raw, ok := coupon.Get(c.Criterion.Attribute())
		if !ok {
			return NotApplicable
		}
		got, ok := domain.AsBool(raw)
		if !ok {
			return NoMatch
		}
		return resultOf(got == c.want)

	case KindSet:
		values, ok := setValues(c.Criterion, coupon)
		if !ok {
			return NotApplicable
		}
		for _, v := range values {
			if c.anyValue {
				return Match
			}
			if _, hit := c.set[v]; hit {
				return Match
			}
		}
		return NoMatch

	case KindPattern:
		values, ok := patternValues(c.Criterion, coupon)
		if !ok {
			return NotApplicable
		}
		for _, p := range c.patterns {
			for _, v := range values {
				if p.match(v) {
					return Match
				}
			}
		}
		return NoMatch

	case KindRange:
		d, present, ok := dateValue(c.Criterion, coupon)
		if !present {
			return NotApplicable
		}
		if !ok {
			return NoMatch
		}
		for _, r := range c.ranges {
			if r.contains(d) {
				return Match
			}
		}
		return NoMatch

	case KindLogic:
		s, ok := logicValue(c.Criterion, coupon)
		if !ok {
			return NotApplicable
		}
		return resultOf(c.logic.eval(s))

	default:
		return NoMatch
	}
}

// EvaluateSpec compiles and evaluates in one step.
func EvaluateSpec(name string, expected any, coupon *domain.Coupon) (Result, error) {
	c, err := Compile(name, expected)
	if err != nil {
		return NoMatch, err
	}
	return Evaluate(c, coupon), nil
}

func resultOf(b bool) Result {
	if b {
		return Match
	}
	return NoMatch
}

func stringAttr(coupon *domain.Coupon, attr string) (string, bool) {
	s, ok := coupon.String(attr)
	if !ok {
		return "", false
	}
	return s, true
}

func setValues(c Criterion, coupon *domain.Coupon) ([]string, bool) {
	if c == CityCodes {
		if s, ok := stringAttr(coupon, domain.AttrCityCodes); ok {
			return splitCodes(s), true
		}
		var codes []string
		for _, attr := range []string{domain.AttrOrigin, domain.AttrDestination} {
			if s, ok := stringAttr(coupon, attr); ok {
				codes = append(codes, normalize(s))
			}
		}
		return codes, len(codes) > 0
	}
	s, ok := stringAttr(coupon, c.Attribute())
	if !ok {
		return nil, false
	}
	return []string{setKey(c, normalize(s))}, true
}

func splitCodes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '|'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, normalize(f))
	}
	return out
}

func patternValues(c Criterion, coupon *domain.Coupon) ([]string, bool) {
	switch c {
	case Route:
		if s, ok := stringAttr(coupon, domain.AttrRoute); ok {
			return []string{normalize(s)}, true
		}
		return derivedRoute(coupon)

	case OnD:
		if s, ok := stringAttr(coupon, domain.AttrItinerary); ok {
			if pairs := itineraryPairs(s); len(pairs) > 0 {
				return pairs, true
			}
		}
		return derivedRoute(coupon)

	case FlightNos:
		s, ok := stringAttr(coupon, domain.AttrFlightNumber)
		if !ok {
			return nil, false
		}
		raw := normalize(s)
		values := []string{raw}
		if stripped := stripAirline(raw); stripped != raw {
			values = append(values, stripped)
		}
		return values, true

	default:
		s, ok := stringAttr(coupon, c.Attribute())
		if !ok {
			return nil, false
		}
		return []string{normalize(s)}, true
	}
}

func derivedRoute(coupon *domain.Coupon) ([]string, bool) {
	org, okOrg := stringAttr(coupon, domain.AttrOrigin)
	dst, okDst := stringAttr(coupon, domain.AttrDestination)
	if !okOrg || !okDst {
		return nil, false
	}
	return []string{normalize(org) + "-" + normalize(dst)}, true
}

// itineraryPairs turns "DOH-LHR-JFK" into ["DOH-LHR", "LHR-JFK"].
func itineraryPairs(s string) []string {
	points := strings.FieldsFunc(normalize(s), func(r rune) bool { return r == '-' || r == ' ' })
	if len(points) < 2 {
		return nil
	}
	pairs := make([]string, 0, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		pairs = append(pairs, points[i]+"-"+points[i+1])
	}
	return pairs
}

func dateValue(c Criterion, coupon *domain.Coupon) (t time.Time, present bool, ok bool) {
	raw, present := coupon.Get(c.Attribute())
	if !present {
		return time.Time{}, false, false
	}
	t, ok = domain.AsDate(raw)
	return t, true, ok
}

func logicValue(c Criterion, coupon *domain.Coupon) (string, bool) {
	if c == FareClassLogic {
		if s, ok := stringAttr(coupon, domain.AttrFareClass); ok {
			return strings.TrimSpace(s), true
		}
		s, ok := stringAttr(coupon, domain.AttrRBD)
		return strings.TrimSpace(s), ok
	}
	s, ok := stringAttr(coupon, c.Attribute())
	return strings.TrimSpace(s), ok
}
