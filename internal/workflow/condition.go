package workflow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/Knetic/govaluate"
)

// ExprPrefix marks a condition that is evaluated as a boolean expression
// instead of being compared as text.
const ExprPrefix = "expr:"

// conditionResult is the outcome of evaluating a step condition.
type conditionResult struct {
	run        bool
	resolved   string
	unresolved []string
	err        error
}

// evaluateCondition decides whether a step with the given condition runs.
//
// The condition is substituted first. An empty result or the text "false"
// (case-insensitive) skips the step, as does a single placeholder bound to
// a falsy value such as false, 0, nil or an empty collection. Any other text
// runs the step.
//
// A condition starting with ExprPrefix is evaluated with govaluate instead,
// with placeholders bound as parameters, so
// "expr: {{fetch.status}} == 'ok'" compares the raw value. An expression
// that cannot be evaluated runs the step and reports the error.
func evaluateCondition(cond string, vars, results map[string]any) conditionResult {
	if body, ok := strings.CutPrefix(strings.TrimSpace(cond), ExprPrefix); ok {
		return evaluateExpression(strings.TrimSpace(body), vars, results)
	}

	sub, unresolved := Substitute(cond, vars, results)
	return conditionResult{
		run:        truthy(sub),
		resolved:   render(sub),
		unresolved: unresolved,
	}
}

func evaluateExpression(expr string, vars, results map[string]any) conditionResult {
	sub, unresolved := Substitute(expr, vars, results)
	res := conditionResult{run: true, resolved: render(sub), unresolved: unresolved}
	if len(unresolved) > 0 {
		return res
	}

	v, err := evalExpression(expr, vars, results)
	if err != nil {
		res.err = err
		return res
	}
	res.run = truthy(v)
	return res
}

// evalExpression evaluates cond with govaluate. Placeholders become named
// parameters; bare identifiers are looked up as variables and must exist.
func evalExpression(cond string, vars, results map[string]any) (any, error) {
	params := make(map[string]any)
	n := 0
	expr := placeholderPattern.ReplaceAllStringFunc(cond, func(token string) string {
		inner := placeholderPattern.FindStringSubmatch(token)[1]
		name := fmt.Sprintf("wfparam%d", n)
		n++
		v, _ := resolveExpr(inner, vars, results)
		params[name] = normalize(v)
		return name
	})

	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, err
	}
	for _, name := range expression.Vars() {
		if _, ok := params[name]; ok {
			continue
		}
		v, ok := resolveExpr(name, vars, results)
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q", name)
		}
		params[name] = normalize(v)
	}
	return expression.Evaluate(params)
}

// normalize widens numbers to float64, which is what govaluate compares.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	}
	return v
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		t = strings.TrimSpace(t)
		return t != "" && !strings.EqualFold(t, "false")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
