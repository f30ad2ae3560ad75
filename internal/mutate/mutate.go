// Package mutate implements the pure in-memory mutation operations:
// insert, update (shallow merge), delete, and index construction. Callers
// are responsible for persisting the resulting collection.
package mutate

import (
	"strings"

	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/filter"
	"github.com/VochanecA/TextDBX/internal/record"
)

// Insert appends rec to records, returning the new collection. rec must
// be a record (object); callers should reject non-object payloads before
// calling this.
func Insert(records record.Collection, rec record.Record) record.Collection {
	out := make(record.Collection, len(records), len(records)+1)
	copy(out, records)
	return append(out, record.Clone(rec))
}

// Update shallow-merges changes into every record matching f, leaving
// unmentioned fields untouched. It returns the new collection and the
// count of records modified.
//
// changes keys naming a nested path (e.g. "meta.modified") are rejected
// rather than silently written as a literal flat key — a caller wanting to
// set a nested field must supply the whole nested object under its
// top-level key.
func Update(records record.Collection, f filter.Filter, changes record.Record) (record.Collection, int, error) {
	for k := range changes {
		if strings.Contains(k, ".") {
			return nil, 0, errs.New(errs.KindValidation, "update field \""+k+"\" is a dotted path, which is not supported")
		}
	}

	out := make(record.Collection, len(records))
	modified := 0
	for i, r := range records {
		ok, err := filter.Match(r, f)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			out[i] = r
			continue
		}
		merged := record.Clone(r)
		for k, v := range changes {
			merged[k] = v
		}
		out[i] = merged
		modified++
	}
	return out, modified, nil
}

// Delete retains only records that do not match f, returning the new
// collection and the count of records removed.
func Delete(records record.Collection, f filter.Filter) (record.Collection, int, error) {
	out := make(record.Collection, 0, len(records))
	removed := 0
	for _, r := range records {
		ok, err := filter.Match(r, f)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			removed++
			continue
		}
		out = append(out, r)
	}
	return out, removed, nil
}

// Index maps a field's stringified value to the positions of the records
// that carry that value, as of the collection state it was built from.
type Index map[string][]int

// BuildIndex streams records once, building an Index over field. Absent
// or null values index under the literal key "null".
func BuildIndex(records record.Collection, field string) Index {
	idx := make(Index)
	for pos, r := range records {
		key := record.Stringify(r[field])
		idx[key] = append(idx[key], pos)
	}
	return idx
}

// ValidateInsert rejects non-object payloads.
func ValidateInsert(v interface{}) (record.Record, error) {
	r, ok := v.(record.Record)
	if !ok {
		return nil, errs.New(errs.KindValidation, "insert requires a record object")
	}
	return r, nil
}
