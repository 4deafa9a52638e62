// Package expiry implements the date-gated contract status pass: active
// contracts expiring within a threshold get a synthetic status update, which
// the merge engine then applies like any other batch update.
package expiry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pcollins/recmerge/internal/merge"
	"github.com/pcollins/recmerge/internal/record"
)

// DateLayout is the ISO date format contracts carry in expiry_date.
const DateLayout = "2006-01-02"

// Field names on contract records.
const (
	statusField     = "status"
	expiryDateField = "expiry_date"

	statusActive       = "active"
	statusExpiringSoon = "expiring_soon"
)

// DefaultThresholdDays is the lookahead window when none is configured.
const DefaultThresholdDays = 30

// IsExpiringSoon reports whether a contract expiring on expiryDate (ISO
// YYYY-MM-DD) falls within thresholdDays of today, inclusive on both ends:
// a contract expiring today counts, one already expired does not.
func IsExpiringSoon(expiryDate string, today time.Time, thresholdDays int) (bool, error) {
	exp, err := time.Parse(DateLayout, expiryDate)
	if err != nil {
		return false, fmt.Errorf("expiry: parse date %q: %w", expiryDate, err)
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(exp.Sub(day).Hours() / 24)
	return days >= 0 && days <= thresholdDays, nil
}

// BuildUpdates scans contracts and produces one synthetic update
// {keyField, status: "expiring_soon"} per active contract whose expiry_date
// qualifies. Contracts whose status is not "active" are never considered,
// regardless of date. Contracts missing expiry_date or carrying an
// unparseable one yield a bad_date diagnostic and are skipped.
//
// Contracts missing keyField abort with a *record.SchemaError, matching the
// merge engine's contract for its base collection.
func BuildUpdates(contracts []*record.Record, keyField string, today time.Time, thresholdDays int) ([]*record.Record, []merge.Diagnostic, error) {
	var updates []*record.Record
	var diags []merge.Diagnostic

	for i, c := range contracts {
		idRaw, ok := c.Get(keyField)
		if !ok {
			return nil, nil, &record.SchemaError{Collection: "base", Position: i, KeyField: keyField}
		}

		status, _ := c.GetString(statusField)
		if status != statusActive {
			continue
		}

		date, ok := c.GetString(expiryDateField)
		if !ok {
			diags = append(diags, merge.Diagnostic{
				Kind:       merge.KindBadDate,
				Identifier: c.DisplayIdentifier(keyField),
				Position:   i,
				Detail:     "missing expiry_date",
			})
			continue
		}

		soon, err := IsExpiringSoon(date, today, thresholdDays)
		if err != nil {
			diags = append(diags, merge.Diagnostic{
				Kind:       merge.KindBadDate,
				Identifier: c.DisplayIdentifier(keyField),
				Position:   i,
				Detail:     err.Error(),
			})
			continue
		}
		if !soon {
			continue
		}

		upd := record.New()
		upd.Set(keyField, idRaw)
		upd.Set(statusField, json.RawMessage(`"`+statusExpiringSoon+`"`))
		updates = append(updates, upd)
	}

	return updates, diags, nil
}

// Run is the full contract pass: build synthetic updates and merge them
// back onto the contracts. Date diagnostics are prepended to the merge
// result's own diagnostics. updateCount is the number of synthetic updates
// built, which exceeds Result.Updated when contract identifiers repeat.
func Run(contracts []*record.Record, keyField string, today time.Time, thresholdDays int) (res *merge.Result, updateCount int, err error) {
	updates, diags, err := BuildUpdates(contracts, keyField, today, thresholdDays)
	if err != nil {
		return nil, 0, err
	}

	res, err = merge.Merge(contracts, updates, keyField)
	if err != nil {
		return nil, 0, err
	}
	res.Diagnostics = append(diags, res.Diagnostics...)
	return res, len(updates), nil
}
