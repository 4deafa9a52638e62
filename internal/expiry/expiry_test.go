package expiry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pcollins/recmerge/internal/merge"
	"github.com/pcollins/recmerge/internal/record"
)

func mustRecord(t *testing.T, src string) *record.Record {
	t.Helper()
	rec := record.New()
	if err := json.Unmarshal([]byte(src), rec); err != nil {
		t.Fatalf("Unmarshal %s: %v", src, err)
	}
	return rec
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		t.Fatalf("parse date %s: %v", s, err)
	}
	return d
}

func TestIsExpiringSoon(t *testing.T) {
	today := date(t, "2025-01-01")

	cases := []struct {
		expiry    string
		threshold int
		want      bool
	}{
		{"2025-01-15", 30, true},  // 14 days out
		{"2025-01-01", 30, true},  // expires today
		{"2025-01-31", 30, true},  // exactly at threshold
		{"2025-02-01", 30, false}, // one past threshold
		{"2024-12-31", 30, false}, // already expired
		{"2025-01-05", 3, false},
		{"2025-01-03", 3, true},
	}
	for _, tc := range cases {
		got, err := IsExpiringSoon(tc.expiry, today, tc.threshold)
		if err != nil {
			t.Fatalf("IsExpiringSoon(%s): %v", tc.expiry, err)
		}
		if got != tc.want {
			t.Errorf("IsExpiringSoon(%s, threshold %d) = %v, want %v", tc.expiry, tc.threshold, got, tc.want)
		}
	}
}

func TestIsExpiringSoonBadDate(t *testing.T) {
	if _, err := IsExpiringSoon("15/01/2025", date(t, "2025-01-01"), 30); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestRunMarksQualifyingContracts(t *testing.T) {
	contracts := []*record.Record{
		mustRecord(t, `{"id":"C001","status":"active","expiry_date":"2025-01-15"}`),
		mustRecord(t, `{"id":"C002","status":"active","expiry_date":"2025-06-01"}`),
		mustRecord(t, `{"id":"C003","status":"draft","expiry_date":"2025-01-02"}`),
		mustRecord(t, `{"id":"C004","status":"expired","expiry_date":"2024-01-01"}`),
	}

	res, _, err := Run(contracts, "id", date(t, "2025-01-01"), 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantStatus := []string{"expiring_soon", "active", "draft", "expired"}
	for i, want := range wantStatus {
		got, _ := res.Records[i].GetString("status")
		if got != want {
			t.Errorf("contract %d status = %q, want %q", i, got, want)
		}
	}
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
}

func TestRunPreservesOtherFields(t *testing.T) {
	contracts := []*record.Record{
		mustRecord(t, `{"id":"C001","client":"Acme","status":"active","expiry_date":"2025-01-10","value":1200.50}`),
	}

	res, _, err := Run(contracts, "id", date(t, "2025-01-01"), 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := res.Records[0]
	for field, want := range map[string]string{
		"client":      `"Acme"`,
		"expiry_date": `"2025-01-10"`,
		"value":       `1200.50`,
	} {
		got, _ := rec.Get(field)
		if string(got) != want {
			t.Errorf("%s = %s, want %s", field, got, want)
		}
	}
}

func TestRunBadDateDiagnostic(t *testing.T) {
	contracts := []*record.Record{
		mustRecord(t, `{"id":"C001","status":"active","expiry_date":"not-a-date"}`),
		mustRecord(t, `{"id":"C002","status":"active"}`),
		mustRecord(t, `{"id":"C003","status":"draft"}`),
	}

	res, _, err := Run(contracts, "id", date(t, "2025-01-01"), 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Updated != 0 {
		t.Errorf("Updated = %d, want 0", res.Updated)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("len(Diagnostics) = %d, want 2", len(res.Diagnostics))
	}
	for i, wantID := range []string{"C001", "C002"} {
		d := res.Diagnostics[i]
		if d.Kind != merge.KindBadDate || d.Identifier != wantID {
			t.Errorf("Diagnostics[%d] = %+v, want bad_date %s", i, d, wantID)
		}
	}
}

func TestRunUpdateCountWithDuplicateIdentifiers(t *testing.T) {
	// Two qualifying contracts share an identifier: two synthetic updates
	// are built, but both land on the first occurrence.
	contracts := []*record.Record{
		mustRecord(t, `{"id":"C001","status":"active","expiry_date":"2025-01-10"}`),
		mustRecord(t, `{"id":"C001","status":"active","expiry_date":"2025-01-20"}`),
	}

	res, updateCount, err := Run(contracts, "id", date(t, "2025-01-01"), 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if updateCount != 2 {
		t.Errorf("updateCount = %d, want 2", updateCount)
	}
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
}

func TestRunMissingIdentifier(t *testing.T) {
	contracts := []*record.Record{
		mustRecord(t, `{"status":"active","expiry_date":"2025-01-10"}`),
	}

	_, _, err := Run(contracts, "id", date(t, "2025-01-01"), 30)
	var schemaErr *record.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want *record.SchemaError", err)
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	contract := mustRecord(t, `{"id":"C001","status":"active","expiry_date":"2025-01-10"}`)
	snap, _ := json.Marshal(contract)

	res, _, err := Run([]*record.Record{contract}, "id", date(t, "2025-01-01"), 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := res.Records[0].GetString("status")
	if got != "expiring_soon" {
		t.Errorf("result status = %q, want expiring_soon", got)
	}

	after, _ := json.Marshal(contract)
	if string(after) != string(snap) {
		t.Errorf("input mutated: %s, want %s", after, snap)
	}
}
