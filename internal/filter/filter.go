// Package filter implements the boolean/comparison predicate evaluator
// applied to records by queries and aggregation $match stages.
package filter

import (
	"fmt"

	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/record"
)

// Filter is a decoded JSON filter document: logical combinators
// ($and/$or/$not) at interior nodes, field predicates at leaves.
type Filter = map[string]interface{}

// Match reports whether r satisfies filter. A nil or empty filter matches
// everything.
func Match(r record.Record, f Filter) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}

	// A multi-key top-level object is implicit conjunction: every key
	// must independently match.
	for key, value := range f {
		ok, err := matchClause(r, key, value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(r record.Record, key string, value interface{}) (bool, error) {
	switch key {
	case "$and":
		subs, err := asFilterList(value)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(r, sub)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case "$or":
		subs, err := asFilterList(value)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(r, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case "$not":
		sub, ok := value.(Filter)
		if !ok {
			return false, errs.New(errs.KindValidation, "$not requires a filter object")
		}
		ok2, err := Match(r, sub)
		if err != nil {
			return false, err
		}
		return !ok2, nil

	default:
		return matchField(r, key, value)
	}
}

func matchField(r record.Record, field string, spec interface{}) (bool, error) {
	fieldValue, present := r[field]

	// {field: {op: arg, ...}} — operator object.
	if opMap, ok := spec.(map[string]interface{}); ok && isOperatorMap(opMap) {
		for op, arg := range opMap {
			ok, err := matchOperator(op, fieldValue, present, arg)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	// {field: scalar} — strict equality. Missing fields never equal
	// anything, including JSON null.
	if !present {
		return false, nil
	}
	return strictEqual(fieldValue, spec), nil
}

func isOperatorMap(m map[string]interface{}) bool {
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return len(m) > 0
}

func matchOperator(op string, fieldValue interface{}, present bool, arg interface{}) (bool, error) {
	switch op {
	case "$gt", "$lt", "$gte", "$lte":
		fv, ok1 := record.IsNumeric(fieldValue)
		av, ok2 := record.IsNumeric(arg)
		if !present || !ok1 || !ok2 {
			return false, nil
		}
		switch op {
		case "$gt":
			return fv > av, nil
		case "$lt":
			return fv < av, nil
		case "$gte":
			return fv >= av, nil
		default:
			return fv <= av, nil
		}

	case "$contains":
		if !present {
			return false, nil
		}
		switch v := fieldValue.(type) {
		case []interface{}:
			for _, e := range v {
				if strictEqual(e, arg) {
					return true, nil
				}
			}
			return false, nil
		case string:
			sub, ok := arg.(string)
			if !ok {
				return false, nil
			}
			return containsSubstring(v, sub), nil
		default:
			return false, nil
		}

	case "$in":
		if !present {
			return false, nil
		}
		list, ok := arg.([]interface{})
		if !ok {
			return false, errs.New(errs.KindValidation, "$in requires an array argument")
		}
		for _, e := range list {
			if strictEqual(fieldValue, e) {
				return true, nil
			}
		}
		return false, nil

	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, errs.New(errs.KindValidation, "$exists requires a boolean argument")
		}
		return present == want, nil

	default:
		return false, errs.New(errs.KindValidation, fmt.Sprintf("unknown filter operator %q", op))
	}
}

func containsSubstring(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// strictEqual compares two JSON-decoded values with no type coercion.
func strictEqual(a, b interface{}) bool {
	af, aIsNum := record.IsNumeric(a)
	bf, bIsNum := record.IsNumeric(b)
	if aIsNum && bIsNum {
		return af == bf
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !strictEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !strictEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFilterList(value interface{}) ([]Filter, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, errs.New(errs.KindValidation, "$and/$or require an array of filters")
	}
	out := make([]Filter, 0, len(list))
	for _, v := range list {
		f, ok := v.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.KindValidation, "$and/$or elements must be filter objects")
		}
		out = append(out, f)
	}
	return out, nil
}

// TopLevelFields returns the field names a filter directly references at
// its top level (recursing into $and/$or/$not), used to drive the cache's
// auto-indexing counters.
func TopLevelFields(f Filter) []string {
	var fields []string
	collectFields(f, &fields)
	return fields
}

func collectFields(f Filter, out *[]string) {
	for key, value := range f {
		switch key {
		case "$and", "$or":
			if list, ok := value.([]interface{}); ok {
				for _, v := range list {
					if sub, ok := v.(map[string]interface{}); ok {
						collectFields(sub, out)
					}
				}
			}
		case "$not":
			if sub, ok := value.(map[string]interface{}); ok {
				collectFields(sub, out)
			}
		default:
			*out = append(*out, key)
		}
	}
}
