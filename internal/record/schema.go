package record

import "fmt"

// SchemaError reports a record that violates the merge contract: the
// identifier field is missing or an array element is not an object. It is
// fatal for the whole merge call; no partial result is produced.
type SchemaError struct {
	Collection string // "base" or "updates"
	Position   int    // zero-based index within the collection
	KeyField   string
	Reason     string
}

func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("record %d in %s: %s", e.Position, e.Collection, e.Reason)
	}
	return fmt.Sprintf("record %d in %s: missing identifier field %q", e.Position, e.Collection, e.KeyField)
}
