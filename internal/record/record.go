// Package record defines the runtime data model: records are unordered
// field maps, decoded from JSON so each value already carries its runtime
// type tag the way encoding/json represents it (string, float64, bool,
// nil, []interface{}, map[string]interface{}).
package record

import (
	"fmt"
	"sort"
	"strconv"
)

// Record is an unordered mapping from field name to value. Fields may be
// absent; there is no schema.
type Record = map[string]interface{}

// Collection is an ordered sequence of records. Order is insertion order
// and must survive load/save cycles.
type Collection = []Record

// Clone returns a deep copy of a record so callers that mutate a result
// cannot poison a cache entry.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneCollection deep-copies every record in a collection, preserving
// order.
func CloneCollection(c Collection) Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = Clone(r)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return Clone(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// NameValid reports whether a collection name satisfies the structural
// invariants: non-empty, <=64 chars, [A-Za-z0-9_-]+, and not leading-dot.
func NameValid(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	if name[0] == '.' {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Stringify renders a value the way index keys and group keys do: null or
// missing becomes the literal string "null", everything else uses its
// natural textual form.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FieldNames returns a record's keys in sorted order, useful for
// deterministic iteration where the spec does not mandate map order.
func FieldNames(r Record) []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsNumeric reports whether v is a JSON-decoded numeric value.
func IsNumeric(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
