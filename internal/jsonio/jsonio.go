// Package jsonio reads and writes record collections as JSON array files.
// Writes are atomic: content goes to a temp file in the target directory
// which is then renamed over the destination, so a crash mid-write never
// corrupts previous output.
package jsonio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pcollins/recmerge/internal/record"
)

// ReadRecords parses path as a JSON array of objects.
func ReadRecords(path string) ([]*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jsonio: read %s: %w", path, err)
	}

	var records []*record.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("jsonio: parse %s: %w", path, err)
	}
	// A JSON null element decodes to a nil record without an error.
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("jsonio: parse %s: element %d is null, expected object", path, i)
		}
	}
	return records, nil
}

// WriteRecords writes records to path as a pretty-printed JSON array,
// preserving each record's field order.
func WriteRecords(path string, records []*record.Record) error {
	// Marshal to an empty array rather than null for nil input.
	if records == nil {
		records = []*record.Record{}
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("jsonio: marshal records: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("jsonio: indent output: %w", err)
	}
	buf.WriteByte('\n')

	return writeAtomic(path, buf.Bytes())
}

// writeAtomic writes data to a temp file next to path, fsyncs, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonio: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("jsonio: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("jsonio: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("jsonio: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("jsonio: rename temp file to %s: %w", path, err)
	}
	return nil
}
