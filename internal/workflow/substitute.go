package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// placeholderPattern matches {{ expr }} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Substitute replaces {{expr}} placeholders throughout value, descending
// into maps and slices. Each expr resolves against vars first, then as a
// stepId.field[.nested] path into results. Placeholders that cannot be
// resolved stay in place verbatim and are reported in the returned list.
//
// A string consisting of exactly one placeholder is replaced by the raw
// resolved value; placeholders embedded in longer strings are rendered as
// text.
func Substitute(value any, vars, results map[string]any) (any, []string) {
	s := substituter{vars: vars, results: results}
	out := s.value(value)
	return out, s.unresolved
}

// References lists the distinct placeholder expressions found in value.
func References(value any) []string {
	seen := make(map[string]bool)
	collectRefs(value, seen)
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func collectRefs(value any, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, m := range placeholderPattern.FindAllStringSubmatch(v, -1) {
			seen[m[1]] = true
		}
	case map[string]any:
		for _, val := range v {
			collectRefs(val, seen)
		}
	case []any:
		for _, val := range v {
			collectRefs(val, seen)
		}
	}
}

type substituter struct {
	vars       map[string]any
	results    map[string]any
	unresolved []string
}

func (s *substituter) value(value any) any {
	switch v := value.(type) {
	case string:
		return s.str(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = s.value(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = s.value(val)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = s.str(val)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = s.str(val)
		}
		return out
	default:
		return value
	}
}

func (s *substituter) str(in string) any {
	loc := placeholderPattern.FindStringSubmatchIndex(in)
	if loc == nil {
		return in
	}
	if loc[0] == 0 && loc[1] == len(in) {
		expr := in[loc[2]:loc[3]]
		if v, ok := s.resolve(expr); ok {
			return v
		}
		s.unresolved = append(s.unresolved, expr)
		return in
	}

	return placeholderPattern.ReplaceAllStringFunc(in, func(token string) string {
		expr := placeholderPattern.FindStringSubmatch(token)[1]
		v, ok := s.resolve(expr)
		if !ok {
			s.unresolved = append(s.unresolved, expr)
			return token
		}
		return render(v)
	})
}

func (s *substituter) resolve(expr string) (any, bool) {
	return resolveExpr(expr, s.vars, s.results)
}

// resolveExpr looks expr up as a variable, then as a path into a step
// result, then as a path into a variable.
func resolveExpr(expr string, vars, results map[string]any) (any, bool) {
	if expr == "" {
		return nil, false
	}
	if v, ok := vars[expr]; ok {
		return v, true
	}

	head, rest, nested := strings.Cut(expr, ".")
	if !nested {
		return nil, false
	}
	if root, ok := results[head]; ok {
		if v, ok := lookupPath(root, strings.Split(rest, ".")); ok {
			return v, true
		}
	}
	if root, ok := vars[head]; ok {
		return lookupPath(root, strings.Split(rest, "."))
	}
	return nil, false
}

// lookupPath walks map keys, slice indexes and struct fields.
func lookupPath(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		if seg == "" {
			return nil, false
		}
		next, ok := lookupField(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func lookupField(cur any, key string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}

	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Struct:
		return structField(rv, key)
	}
	return nil, false
}

func structField(rv reflect.Value, key string) (any, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == key || (tag == "" && strings.EqualFold(f.Name, key)) || f.Name == key {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// render formats a resolved value for embedding in a string.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
