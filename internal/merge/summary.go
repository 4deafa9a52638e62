package merge

import (
	"fmt"
	"strings"
)

// Summary aggregates a Result into the counts a run report needs.
type Summary struct {
	BaseCount   int
	UpdateCount int
	Updated     int
	Unmatched   []string // identifiers of updates with no base record
	Duplicates  []string // duplicated base identifiers
	BadDates    []string // expiry variant: identifiers with unparseable dates
}

// Summarize builds a Summary from a merge result and its input sizes.
func Summarize(res *Result, baseCount, updateCount int) Summary {
	s := Summary{
		BaseCount:   baseCount,
		UpdateCount: updateCount,
		Updated:     res.Updated,
	}
	for _, d := range res.Diagnostics {
		switch d.Kind {
		case KindUnmatchedUpdate:
			s.Unmatched = append(s.Unmatched, d.Identifier)
		case KindDuplicateIdentifier:
			s.Duplicates = append(s.Duplicates, d.Identifier)
		case KindBadDate:
			s.BadDates = append(s.BadDates, d.Identifier)
		}
	}
	return s
}

// String renders the human-readable run report printed after a merge.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "records: %d, updates: %d, updated: %d\n", s.BaseCount, s.UpdateCount, s.Updated)
	if len(s.Unmatched) > 0 {
		fmt.Fprintf(&b, "ignored updates (no matching record): %s\n", strings.Join(s.Unmatched, ", "))
	}
	if len(s.Duplicates) > 0 {
		fmt.Fprintf(&b, "duplicate identifiers in input: %s\n", strings.Join(s.Duplicates, ", "))
	}
	if len(s.BadDates) > 0 {
		fmt.Fprintf(&b, "records with invalid dates (skipped): %s\n", strings.Join(s.BadDates, ", "))
	}
	return b.String()
}
