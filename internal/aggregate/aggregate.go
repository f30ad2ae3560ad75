// Package aggregate implements the linear aggregation pipeline: $match,
// $group (with sum/avg/count/min/max accumulators), $sort, $skip, $limit.
package aggregate

import (
	"sort"
	"strings"

	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/query"
	"github.com/VochanecA/TextDBX/internal/record"
)

// Stage is one pipeline step: a single-key object naming the stage type.
type Stage = map[string]interface{}

// Run feeds records through each stage in order, each stage's output
// becoming the next stage's input.
func Run(records record.Collection, pipeline []Stage) (record.Collection, error) {
	current := records
	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, errs.New(errs.KindValidation, "each pipeline stage must have exactly one key")
		}
		for name, spec := range stage {
			next, err := runStage(current, name, spec)
			if err != nil {
				return nil, errs.Wrap(errs.KindValidation, "pipeline stage "+name, err)
			}
			current = next
		}
	}
	return current, nil
}

func runStage(records record.Collection, name string, spec interface{}) (record.Collection, error) {
	switch name {
	case "$match":
		f, ok := spec.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.KindValidation, "$match requires a filter object")
		}
		return query.Run(records, query.Options{Filter: f})

	case "$group":
		g, ok := spec.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.KindValidation, "$group requires an object")
		}
		return group(records, g)

	case "$sort":
		sortSpec, ok := spec.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.KindValidation, "$sort requires an object")
		}
		return query.Run(records, query.Options{Sort: sortKeysFrom(sortSpec)})

	case "$skip":
		n, ok := record.IsNumeric(spec)
		if !ok {
			return nil, errs.New(errs.KindValidation, "$skip requires a number")
		}
		return query.Run(records, query.Options{Skip: int(n)})

	case "$limit":
		n, ok := record.IsNumeric(spec)
		if !ok {
			return nil, errs.New(errs.KindValidation, "$limit requires a number")
		}
		return query.Run(records, query.Options{Limit: int(n), HasLimit: true})

	default:
		return nil, errs.New(errs.KindValidation, "unknown pipeline stage "+name)
	}
}

func sortKeysFrom(spec map[string]interface{}) []query.SortKey {
	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	keys := make([]query.SortKey, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if n, ok := record.IsNumeric(spec[f]); ok && n < 0 {
			dir = -1
		}
		keys = append(keys, query.SortKey{Field: f, Direction: dir})
	}
	return keys
}

type groupBucket struct {
	key     string
	records record.Collection
}

// group implements $group per the authoritative _id form: null for a
// single group, or an object mapping output key to a source field name.
// Shapes outside that form are rejected rather than silently coerced.
func group(records record.Collection, spec map[string]interface{}) (record.Collection, error) {
	idSpec, hasID := spec["_id"]
	if !hasID {
		return nil, errs.New(errs.KindValidation, "$group requires an _id")
	}

	var idFields []string // output-key -> source field, output keys sorted
	singleGroup := idSpec == nil
	if !singleGroup {
		idMap, ok := idSpec.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.KindValidation, "$group._id must be null or an object mapping output key to field name")
		}
		for outKey, fieldNameRaw := range idMap {
			fieldName, ok := fieldNameRaw.(string)
			if !ok {
				return nil, errs.New(errs.KindValidation, "$group._id values must be field name strings")
			}
			idFields = append(idFields, outKey+"\x00"+fieldName)
		}
		sort.Strings(idFields)
	}

	buckets := make(map[string]*groupBucket)
	var order []string

	for _, r := range records {
		key := "null"
		if !singleGroup {
			parts := make([]string, 0, len(idFields))
			for _, combo := range idFields {
				sep := strings.IndexByte(combo, 0)
				fieldName := combo[sep+1:]
				parts = append(parts, record.Stringify(r[fieldName]))
			}
			key = strings.Join(parts, "-")
		}

		b, ok := buckets[key]
		if !ok {
			b = &groupBucket{key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.records = append(b.records, r)
	}

	if singleGroup && len(buckets) == 0 {
		buckets["null"] = &groupBucket{key: "null"}
		order = append(order, "null")
	}

	out := make(record.Collection, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		outRec := record.Record{}
		if singleGroup {
			outRec["_id"] = nil
		} else {
			outRec["_id"] = b.key
		}

		for outKey, accSpec := range spec {
			if outKey == "_id" {
				continue
			}
			value, err := applyAccumulator(accSpec, b.records)
			if err != nil {
				return nil, err
			}
			outRec[outKey] = value
		}
		out = append(out, outRec)
	}
	return out, nil
}

func applyAccumulator(spec interface{}, records record.Collection) (interface{}, error) {
	accMap, ok := spec.(map[string]interface{})
	if !ok || len(accMap) != 1 {
		return nil, errs.New(errs.KindValidation, "group operator must be a single-key object")
	}

	for op, arg := range accMap {
		switch op {
		case "$sum":
			if fieldName, ok := arg.(string); ok {
				sum := 0.0
				for _, r := range records {
					if n, ok := record.IsNumeric(r[fieldName]); ok {
						sum += n
					}
				}
				return sum, nil
			}
			if n, ok := record.IsNumeric(arg); ok {
				return n * float64(len(records)), nil
			}
			return nil, errs.New(errs.KindValidation, "$sum requires a field name or numeric constant")

		case "$avg":
			fieldName, ok := arg.(string)
			if !ok {
				return nil, errs.New(errs.KindValidation, "$avg requires a field name")
			}
			if len(records) == 0 {
				return nil, nil
			}
			sum := 0.0
			for _, r := range records {
				if n, ok := record.IsNumeric(r[fieldName]); ok {
					sum += n
				}
			}
			return sum / float64(len(records)), nil

		case "$count":
			want, ok := arg.(bool)
			if !ok || !want {
				return nil, errs.New(errs.KindValidation, "$count requires the literal true")
			}
			return float64(len(records)), nil

		case "$min", "$max":
			fieldName, ok := arg.(string)
			if !ok {
				return nil, errs.New(errs.KindValidation, op+" requires a field name")
			}
			var extremum float64
			found := false
			for _, r := range records {
				n, ok := record.IsNumeric(r[fieldName])
				if !ok {
					continue
				}
				if !found {
					extremum = n
					found = true
					continue
				}
				if op == "$min" && n < extremum {
					extremum = n
				}
				if op == "$max" && n > extremum {
					extremum = n
				}
			}
			if !found {
				return nil, nil
			}
			return extremum, nil

		default:
			return nil, errs.New(errs.KindValidation, "unknown group operator "+op)
		}
	}
	return nil, nil
}
