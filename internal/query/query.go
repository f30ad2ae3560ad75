// Package query implements the read pipeline: filter, sort, skip, limit,
// and field projection, applied in that order over a collection.
package query

import (
	"sort"

	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/filter"
	"github.com/VochanecA/TextDBX/internal/record"
)

// SortKey is one sort criterion: a field name and a direction (+1
// ascending, -1 descending). Options.Sort is an ordered slice of them,
// applied in slice order, to keep multi-key order deterministic — Go maps
// have no stable iteration order.
type SortKey struct {
	Field     string
	Direction int
}

// Options configures a Run. A nil Filter matches everything, a nil Sort
// leaves filtered order unchanged, Skip/Limit of 0 are no-ops except that
// Limit == 0 with HasLimit == true retains nothing.
type Options struct {
	Filter     filter.Filter
	Sort       []SortKey
	Skip       int
	Limit      int
	HasLimit   bool
	Projection []string
}

// Run applies filter -> sort -> skip -> limit -> projection to records.
func Run(records record.Collection, opts Options) (record.Collection, error) {
	matched := make(record.Collection, 0, len(records))
	for _, r := range records {
		ok, err := filter.Match(r, opts.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, r)
		}
	}

	if len(opts.Sort) > 0 {
		sortRecords(matched, opts.Sort)
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = record.Collection{}
		} else {
			matched = matched[opts.Skip:]
		}
	}

	if opts.HasLimit {
		if opts.Limit < 0 {
			return nil, errs.New(errs.KindValidation, "limit must not be negative")
		}
		if opts.Limit < len(matched) {
			matched = matched[:opts.Limit]
		}
	}

	if len(opts.Projection) > 0 {
		matched = project(matched, opts.Projection)
	}

	return record.CloneCollection(matched), nil
}

func sortRecords(records record.Collection, keys []SortKey) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareValues(records[i][k.Field], records[j][k.Field])
			if cmp == 0 {
				continue
			}
			if k.Direction < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareValues orders null/absent before any present value on ascending
// direction (the caller flips for descending). Numbers compare
// numerically, strings lexically; mixed incomparable types are treated as
// equal.
func compareValues(a, b interface{}) int {
	aAbsent := a == nil
	bAbsent := b == nil
	if aAbsent && bAbsent {
		return 0
	}
	if aAbsent {
		return -1
	}
	if bAbsent {
		return 1
	}

	if af, ok1 := record.IsNumeric(a); ok1 {
		if bf, ok2 := record.IsNumeric(b); ok2 {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if as, ok1 := a.(string); ok1 {
		if bs, ok2 := b.(string); ok2 {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}

	return 0
}

func project(records record.Collection, fields []string) record.Collection {
	out := make(record.Collection, len(records))
	for i, r := range records {
		projected := make(record.Record, len(fields))
		for _, f := range fields {
			if v, ok := r[f]; ok {
				projected[f] = v
			}
		}
		out[i] = projected
	}
	return out
}
