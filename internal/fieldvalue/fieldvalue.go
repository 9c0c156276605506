// Package fieldvalue parses and serializes the multi-valued "responsible"
// field stored on cards. The upstream persists the value as a free-form
// string: usually a JSON array of member ids or names, sometimes a bare
// scalar, sometimes empty. Parsing is best effort and never fails.
package fieldvalue

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Parse extracts the list of responsible values from the raw field string.
// Empty and null-sentinel entries ("", "null", "undefined") are dropped; a
// string that is not valid JSON is treated as a single scalar value.
func Parse(raw *string) []string {
	if raw == nil {
		return []string{}
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return []string{}
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return filter([]string{trimmed})
	}

	switch v := decoded.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return filter(out)
	case nil:
		return []string{}
	default:
		return filter([]string{stringify(v)})
	}
}

// Serialize renders a value list back to the wire form the update mutation
// expects.
func Serialize(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		// a []string cannot fail to marshal; keep the degraded path anyway
		return "[]"
	}
	return string(b)
}

// Normalize lowercases a name and strips diacritical marks so that stored
// values and member names compare accent- and case-insensitively.
func Normalize(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	out, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		return lowered
	}
	return out
}

// Dedupe removes duplicate values preserving first-occurrence order.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// ids arrive as JSON numbers; render without a decimal point
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func filter(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || v == "null" || v == "undefined" {
			continue
		}
		out = append(out, v)
	}
	return out
}
