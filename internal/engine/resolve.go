package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolveConfig substitutes "{{dotted.path}}" placeholders found anywhere
// in a node's config against variables and credentials, returning a new
// config map. It is a pure function — no hidden state, no reflection —
// per the Design Notes' remediation of the source's template-substitution
// mechanism.
//
// Lookup order for a placeholder "a.b.c": "credentials.<id>.<field>" when
// the path starts with "credentials", otherwise dotted traversal of
// variables. An unresolvable placeholder is left untouched so authoring
// mistakes are visible rather than silently dropped.
func ResolveConfig(config map[string]interface{}, variables map[string]interface{}, credentials map[string]map[string]interface{}) map[string]interface{} {
	scope := map[string]interface{}{
		"credentials": credentialsAsInterfaceMap(credentials),
	}
	for k, v := range variables {
		scope[k] = v
	}
	return resolveValue(config, scope).(map[string]interface{})
}

func credentialsAsInterfaceMap(credentials map[string]map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(credentials))
	for k, v := range credentials {
		out[k] = v
	}
	return out
}

func resolveValue(v interface{}, scope map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return resolveString(t, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = resolveValue(inner, scope)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = resolveValue(inner, scope)
		}
		return out
	default:
		return v
	}
}

// resolveString substitutes every "{{path}}" placeholder in s. A string
// that is *exactly* one placeholder resolves to the referenced value's
// native type (so `{{input.count}}` can yield a number); placeholders
// embedded in a larger string are stringified.
func resolveString(s string, scope map[string]interface{}) interface{} {
	const open, close = "{{", "}}"

	if strings.HasPrefix(s, open) && strings.HasSuffix(s, close) && strings.Count(s, open) == 1 {
		path := strings.TrimSpace(s[len(open) : len(s)-len(close)])
		if value, ok := lookupPath(path, scope); ok {
			return value
		}
		return s
	}

	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		j := strings.Index(rest[i:], close)
		if j < 0 {
			b.WriteString(rest[i:])
			break
		}
		path := strings.TrimSpace(rest[i+len(open) : i+j])
		if value, ok := lookupPath(path, scope); ok {
			b.WriteString(stringify(value))
		} else {
			b.WriteString(rest[i : i+j+len(close)])
		}
		rest = rest[i+j+len(close):]
	}
	return b.String()
}

func lookupPath(path string, scope map[string]interface{}) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = scope
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		next, ok := m[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
