package criteria

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

// Compiled is a criterion bound to a validated expected value. It is
// immutable and safe for concurrent use.
type Compiled struct {
	Criterion Criterion

	want     bool
	set      map[string]struct{}
	anyValue bool
	patterns []pattern
	ranges   []dateRange
	logic    logicNode
}

type pattern struct {
	text string
	glob bool
}

func (p pattern) match(s string) bool {
	if p.glob {
		return globMatch(p.text, s)
	}
	return p.text == s
}

type dateRange struct {
	from, to time.Time // zero means open
}

func (r dateRange) contains(t time.Time) bool {
	if !r.from.IsZero() && t.Before(r.from) {
		return false
	}
	if !r.to.IsZero() && t.After(r.to) {
		return false
	}
	return true
}

// wildcardValues match any present coupon value in a set criterion.
var wildcardValues = map[string]bool{"ALL": true, "ANY": true}

var flightNumberRe = regexp.MustCompile(`^([A-Z0-9]{2})\s*0*(\d+[A-Z]?)$`)

// Compile validates an expected-value spec against the criterion named by
// name. Unknown names and malformed specs yield a *SpecError; an empty list
// yields ErrEmptySpec.
func Compile(name string, expected any) (*Compiled, error) {
	c, ok := Lookup(name)
	if !ok {
		return nil, &SpecError{Criterion: name, Msg: "not in the supported catalog", Err: ErrUnknownCriterion}
	}
	if isEmptyList(expected) {
		return nil, ErrEmptySpec
	}

	out := &Compiled{Criterion: c}
	var err error
	switch c.Kind() {
	case KindBoolean:
		out.want, err = compileBool(c, expected)
	case KindSet:
		err = out.compileSet(c, expected)
	case KindPattern:
		out.patterns, err = compilePatterns(c, expected)
	case KindRange:
		out.ranges, err = compileRanges(c, expected)
	case KindLogic:
		out.logic, err = compileLogic(c, expected)
	default:
		err = specErrorf(c.Name(), "criterion has no comparison mode")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isEmptyList(v any) bool {
	switch tv := v.(type) {
	case []any:
		return len(tv) == 0
	case []string:
		return len(tv) == 0
	default:
		return false
	}
}

func compileBool(c Criterion, v any) (bool, error) {
	switch tv := v.(type) {
	case []any:
		if len(tv) == 1 {
			return compileBool(c, tv[0])
		}
	case string, bool, json.Number:
		if b, ok := domain.AsBool(tv); ok {
			return b, nil
		}
	}
	return false, specErrorf(c.Name(), "expected true or false, got %v", v)
}

func (out *Compiled) compileSet(c Criterion, v any) error {
	values, err := scalarList(c, v)
	if err != nil {
		return err
	}
	out.set = make(map[string]struct{}, len(values))
	for _, s := range values {
		s = normalize(s)
		if wildcardValues[s] {
			out.anyValue = true
			continue
		}
		out.set[setKey(c, s)] = struct{}{}
	}
	return nil
}

func compilePatterns(c Criterion, v any) ([]pattern, error) {
	values, err := scalarList(c, v)
	if err != nil {
		return nil, err
	}
	patterns := make([]pattern, 0, len(values))
	for _, s := range values {
		s = normalize(s)
		if s == "" {
			return nil, specErrorf(c.Name(), "empty pattern")
		}
		if hasMeta(s) {
			if err := validateGlob(s); err != nil {
				return nil, &SpecError{Criterion: c.Name(), Msg: fmt.Sprintf("pattern %q", s), Err: err}
			}
			patterns = append(patterns, pattern{text: s, glob: true})
			continue
		}
		if c == FlightNos {
			s = stripAirline(s)
		}
		patterns = append(patterns, pattern{text: s})
	}
	return patterns, nil
}

func compileRanges(c Criterion, v any) ([]dateRange, error) {
	switch tv := v.(type) {
	case map[string]any:
		r, err := compileRange(c, tv)
		if err != nil {
			return nil, err
		}
		return []dateRange{r}, nil
	case []any:
		ranges := make([]dateRange, 0, len(tv))
		for _, item := range tv {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, specErrorf(c.Name(), "range list entries must be objects")
			}
			r, err := compileRange(c, m)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, r)
		}
		return ranges, nil
	default:
		return nil, specErrorf(c.Name(), "expected {from, to} range, got %T", v)
	}
}

// compileRange reads one {from, to} object. start and end are aliases; giving
// a bound under both spellings is an error.
func compileRange(c Criterion, m map[string]any) (dateRange, error) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var r dateRange
	var fromKey, toKey string
	seen := false
	for _, key := range keys {
		raw := m[key]
		var target *time.Time
		var prev *string
		switch strings.ToLower(key) {
		case "from", "start":
			target, prev = &r.from, &fromKey
		case "to", "end":
			target, prev = &r.to, &toKey
		default:
			return r, specErrorf(c.Name(), "unsupported range operator %q", key)
		}
		if *prev != "" {
			return r, specErrorf(c.Name(), "range bound given twice as %q and %q", *prev, key)
		}
		*prev = key
		if raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return r, specErrorf(c.Name(), "range bound %q must be a YYYY-MM-DD string", key)
		}
		t, err := time.Parse(domain.DateLayout, strings.TrimSpace(s))
		if err != nil {
			return r, &SpecError{Criterion: c.Name(), Msg: fmt.Sprintf("range bound %q", key), Err: err}
		}
		*target = t
		seen = true
	}
	if !seen {
		return r, specErrorf(c.Name(), "range needs at least one bound")
	}
	if !r.from.IsZero() && !r.to.IsZero() && r.to.Before(r.from) {
		return r, specErrorf(c.Name(), "range ends before it starts")
	}
	return r, nil
}

// scalarList flattens a scalar or a list of scalars to strings.
func scalarList(c Criterion, v any) ([]string, error) {
	switch tv := v.(type) {
	case []string:
		return tv, nil
	case []any:
		out := make([]string, 0, len(tv))
		for _, item := range tv {
			s, err := scalarString(c, item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, err := scalarString(c, v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func scalarString(c Criterion, v any) (string, error) {
	switch tv := v.(type) {
	case string:
		return tv, nil
	case json.Number:
		return tv.String(), nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(tv), nil
	case bool:
		return strconv.FormatBool(tv), nil
	case map[string]any:
		return "", specErrorf(c.Name(), "operators are not supported for %s criteria", c.Kind())
	default:
		return "", specErrorf(c.Name(), "unsupported value type %T", v)
	}
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// iataDigits is the length of an agency code without its check digit.
const iataDigits = 7

// setKey reduces a normalized value to the form set members are compared in.
// IATA agency codes compare on their first seven characters with spaces
// removed, so "1234567 8" and "12345670" name the same agency.
func setKey(c Criterion, s string) string {
	if c != IATA {
		return s
	}
	s = strings.ReplaceAll(s, " ", "")
	if r := []rune(s); len(r) > iataDigits {
		s = string(r[:iataDigits])
	}
	return s
}

// stripAirline reduces "QR0123" to "123". Values without a designator
// prefix are returned with leading zeros trimmed.
func stripAirline(s string) string {
	if m := flightNumberRe.FindStringSubmatch(s); m != nil && strings.ContainsAny(m[1], "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return m[2]
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return s
	}
	return trimmed
}
