package criteria

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// logicNode is one node of a composite fare class/basis expression.
type logicNode interface {
	eval(value string) bool
}

type allNode []logicNode

func (n allNode) eval(v string) bool {
	for _, c := range n {
		if !c.eval(v) {
			return false
		}
	}
	return true
}

type anyNode []logicNode

func (n anyNode) eval(v string) bool {
	for _, c := range n {
		if c.eval(v) {
			return true
		}
	}
	return false
}

type notNode struct{ inner logicNode }

func (n notNode) eval(v string) bool { return !n.inner.eval(v) }

// predicateNode tests the uppercased value with fn.
type predicateNode func(upper string) bool

func (n predicateNode) eval(v string) bool { return n(normalize(v)) }

type regexNode struct{ re *regexp.Regexp }

func (n regexNode) eval(v string) bool { return n.re.MatchString(v) }

type celNode struct{ prg cel.Program }

func (n celNode) eval(v string) bool {
	out, _, err := n.prg.Eval(map[string]any{"value": v})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func logicEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("value", cel.StringType),
			ext.Strings(),
		)
	})
	return celEnv, celEnvErr
}

func compileLogic(c Criterion, v any) (logicNode, error) {
	if expr, ok := v.(string); ok {
		return compileCEL(c, expr)
	}
	return compileNode(c, v)
}

func compileCEL(c Criterion, expr string) (logicNode, error) {
	env, err := logicEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &SpecError{Criterion: c.Name(), Msg: "invalid expression", Err: issues.Err()}
	}
	if ast.OutputType() != cel.BoolType {
		return nil, specErrorf(c.Name(), "expression must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, &SpecError{Criterion: c.Name(), Msg: "failed to create program", Err: err}
	}
	return celNode{prg: prg}, nil
}

func compileNode(c Criterion, v any) (logicNode, error) {
	switch tv := v.(type) {
	case []any:
		return compileChildren(c, tv, func(n []logicNode) logicNode { return anyNode(n) })
	case map[string]any:
		if len(tv) == 0 {
			return nil, specErrorf(c.Name(), "empty logic node")
		}
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		nodes := make([]logicNode, 0, len(keys))
		for _, k := range keys {
			n, err := compileOperator(c, strings.ToLower(k), tv[k])
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		if len(nodes) == 1 {
			return nodes[0], nil
		}
		return allNode(nodes), nil
	default:
		return nil, specErrorf(c.Name(), "logic node must be an object, list or expression string, got %T", v)
	}
}

func compileChildren(c Criterion, items []any, wrap func([]logicNode) logicNode) (logicNode, error) {
	if len(items) == 0 {
		return nil, specErrorf(c.Name(), "logic group is empty")
	}
	nodes := make([]logicNode, 0, len(items))
	for _, item := range items {
		n, err := compileNode(c, item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return wrap(nodes), nil
}

func compileOperator(c Criterion, op string, arg any) (logicNode, error) {
	switch op {
	case "all", "and":
		items, ok := arg.([]any)
		if !ok {
			return nil, specErrorf(c.Name(), "%s expects a list", op)
		}
		return compileChildren(c, items, func(n []logicNode) logicNode { return allNode(n) })

	case "any", "or":
		items, ok := arg.([]any)
		if !ok {
			return nil, specErrorf(c.Name(), "%s expects a list", op)
		}
		return compileChildren(c, items, func(n []logicNode) logicNode { return anyNode(n) })

	case "not":
		inner, err := compileNode(c, arg)
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil

	case "equals", "in", "starts_with", "ends_with", "contains", "matches":
		values, err := scalarList(c, arg)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, specErrorf(c.Name(), "%s needs at least one value", op)
		}
		for i := range values {
			values[i] = normalize(values[i])
		}
		return stringPredicate(c, op, values)

	case "regex":
		s, ok := arg.(string)
		if !ok {
			return nil, specErrorf(c.Name(), "regex expects a string")
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, &SpecError{Criterion: c.Name(), Msg: "invalid regex", Err: err}
		}
		return regexNode{re: re}, nil

	case "length", "min_length", "max_length":
		n, err := intArg(c, op, arg)
		if err != nil {
			return nil, err
		}
		return predicateNode(func(v string) bool {
			l := len(v)
			switch op {
			case "min_length":
				return l >= n
			case "max_length":
				return l <= n
			default:
				return l == n
			}
		}), nil

	case "char_at":
		m, ok := arg.(map[string]any)
		if !ok {
			return nil, specErrorf(c.Name(), "char_at expects {index, in}")
		}
		idx, err := intArg(c, "char_at.index", m["index"])
		if err != nil {
			return nil, err
		}
		allowed, err := scalarList(c, m["in"])
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(allowed))
		for _, a := range allowed {
			set[normalize(a)] = true
		}
		return predicateNode(func(v string) bool {
			if idx < 0 || idx >= len(v) {
				return false
			}
			return set[v[idx:idx+1]]
		}), nil

	default:
		return nil, specErrorf(c.Name(), "unsupported operator %q", op)
	}
}

func stringPredicate(c Criterion, op string, values []string) (logicNode, error) {
	var test func(v, operand string) bool
	switch op {
	case "equals", "in":
		test = func(v, operand string) bool { return v == operand }
	case "starts_with":
		test = strings.HasPrefix
	case "ends_with":
		test = strings.HasSuffix
	case "contains":
		test = strings.Contains
	case "matches":
		for _, p := range values {
			if err := validateGlob(p); err != nil {
				return nil, &SpecError{Criterion: c.Name(), Msg: fmt.Sprintf("pattern %q", p), Err: err}
			}
		}
		test = func(v, p string) bool { return globMatch(p, v) }
	}
	return predicateNode(func(v string) bool {
		for _, operand := range values {
			if test(v, operand) {
				return true
			}
		}
		return false
	}), nil
}

func intArg(c Criterion, op string, v any) (int, error) {
	switch tv := v.(type) {
	case json.Number:
		n, err := strconv.Atoi(tv.String())
		if err == nil {
			return n, nil
		}
	case float64:
		if tv == float64(int(tv)) {
			return int(tv), nil
		}
	case int:
		return tv, nil
	}
	return 0, specErrorf(c.Name(), "%s expects an integer, got %v", op, v)
}
