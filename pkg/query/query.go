// Package query handles the router boundary: query parameters are
// string-typed key/value pairs, so everything read from them needs
// explicit coercion, and everything written to them is serialized text.
package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/google/go-cmp/cmp"
)

// Router is the navigation boundary the list engine writes search state
// through. Replace swaps the current location's query string without
// pushing a history entry.
type Router interface {
	Replace(query url.Values)
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(query url.Values)

func (f RouterFunc) Replace(query url.Values) { f(query) }

// Int reads a radix-10 integer parameter, falling back to def when the
// key is absent or malformed.
func Int(values url.Values, key string, def int) int {
	raw := values.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return int(n)
}

// Bool reads a boolean parameter. Truthy strings are "true", "1", "yes"
// and "on"; anything else, including absence, is false.
func Bool(values url.Values, key string) bool {
	switch values.Get(key) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Clone returns a deep copy of values. A nil input stays nil.
func Clone(values url.Values) url.Values {
	if values == nil {
		return nil
	}
	out := make(url.Values, len(values))
	for key, list := range values {
		out[key] = append([]string(nil), list...)
	}
	return out
}

// Equal compares two parameter sets structurally, so values that
// round-trip to the same serialized form never count as a change.
func Equal(a, b url.Values) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return cmp.Equal(map[string][]string(a), map[string][]string(b))
}

// FromRawData serializes a form's raw data into query parameters. Every
// value is flattened to its string form; slices become repeated keys.
func FromRawData(data map[string]any) url.Values {
	values := make(url.Values, len(data))
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch v := data[key].(type) {
		case nil:
			values.Set(key, "")
		case []any:
			for _, item := range v {
				values.Add(key, stringify(item))
			}
		case []string:
			for _, item := range v {
				values.Add(key, item)
			}
		default:
			values.Set(key, stringify(v))
		}
	}
	return values
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
