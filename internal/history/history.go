package history

import "time"

// Outcome constants for Run.
const (
	OutcomeOK          = "ok"
	OutcomeSchemaError = "schema_error"
	OutcomeError       = "error"
)

// Command constants for Run.
const (
	CommandMerge  = "merge"
	CommandExpiry = "expiry"
	CommandBatch  = "batch" // HTTP batch apply
)

// Recorder records merge run history.
type Recorder interface {
	RecordRun(run Run) error
	Close() error
}

// Run represents one merge engine invocation: a CLI merge or expiry run,
// or an HTTP batch apply.
type Run struct {
	ID             int64
	Timestamp      time.Time
	Command        string // merge|expiry|batch
	Source         string // input file path or request ID
	KeyField       string
	BaseCount      int
	UpdateCount    int
	UpdatedCount   int
	UnmatchedCount int
	DuplicateCount int
	BadDateCount   int
	Outcome        string // ok|schema_error|error
	Detail         string // error text for non-ok outcomes
	DurationMs     int64
	Diagnostics    []RunDiagnostic
}

// RunDiagnostic represents one diagnostic within a run.
type RunDiagnostic struct {
	ID         int64
	RunID      int64
	Kind       string // unmatched_update|duplicate_identifier|bad_date
	Identifier string
	Position   int
	Detail     string
}

// RunStats holds aggregate statistics from the history database.
type RunStats struct {
	TotalRuns      int64
	CountByOutcome map[string]int64
	CountByCommand map[string]int64
	TotalUpdated   int64
	AvgDurationMs  float64
	OldestEntry    time.Time
	NewestEntry    time.Time
}
