// Package merge applies batches of partial updates onto keyed record
// collections. The engine is a pure function: it never mutates its inputs
// and performs no I/O. Anomalies that do not violate the schema (unmatched
// updates, duplicate base identifiers) come back as diagnostics alongside a
// best-effort result instead of aborting the run.
package merge

import (
	"github.com/pcollins/recmerge/internal/record"
)

// Diagnostic kinds.
const (
	KindUnmatchedUpdate     = "unmatched_update"
	KindDuplicateIdentifier = "duplicate_identifier"
	KindBadDate             = "bad_date"
)

// Diagnostic is a structured, non-fatal anomaly report.
type Diagnostic struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Position   int    `json:"position"` // index in the collection the anomaly was seen in
	Detail     string `json:"detail,omitempty"`
}

// Result is the outcome of one Merge call.
type Result struct {
	// Records has the same length and order as the base collection. Entries
	// are either the original record (untouched, returned as a copy) or a
	// merged record reflecting every update that targeted it, in update
	// order.
	Records []*record.Record

	// Diagnostics accumulates unmatched-update and duplicate-identifier
	// warnings in the order they were detected.
	Diagnostics []Diagnostic

	// Updated counts base records that had at least one update applied.
	Updated int
}

// Merge applies updates onto base, matching by keyField.
//
// The lookup keeps the FIRST occurrence of a duplicated base identifier;
// later occurrences are unreachable by updates and are each reported as a
// duplicate_identifier diagnostic. Field overwrite is shallow: nested
// objects and arrays in an update replace the base value wholesale, they
// are not merged recursively. The identifier field itself is never
// overwritten.
//
// A base or update record lacking keyField is a *record.SchemaError and
// aborts the call with a nil result.
func Merge(base, updates []*record.Record, keyField string) (*Result, error) {
	byID := make(map[string]int, len(base))
	res := &Result{Records: make([]*record.Record, len(base))}

	for i, rec := range base {
		id, ok := rec.Identifier(keyField)
		if !ok {
			return nil, &record.SchemaError{Collection: "base", Position: i, KeyField: keyField}
		}
		if _, seen := byID[id]; seen {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:       KindDuplicateIdentifier,
				Identifier: base[i].DisplayIdentifier(keyField),
				Position:   i,
			})
		} else {
			byID[id] = i
		}
		res.Records[i] = rec.Clone()
	}

	touched := make(map[int]bool)

	for i, upd := range updates {
		id, ok := upd.Identifier(keyField)
		if !ok {
			return nil, &record.SchemaError{Collection: "updates", Position: i, KeyField: keyField}
		}

		target, found := byID[id]
		if !found {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:       KindUnmatchedUpdate,
				Identifier: upd.DisplayIdentifier(keyField),
				Position:   i,
			})
			continue
		}

		applyUpdate(res.Records[target], upd, keyField)
		touched[target] = true
	}

	res.Updated = len(touched)
	return res, nil
}

// applyUpdate overwrites dst fields with every update field except the
// identifier, in the update's own field order.
func applyUpdate(dst, upd *record.Record, keyField string) {
	for _, f := range upd.Fields() {
		if f.Name == keyField {
			continue
		}
		dst.Set(f.Name, f.Value)
	}
}
