package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcollins/recmerge/internal/config"
	"github.com/pcollins/recmerge/internal/expiry"
	"github.com/pcollins/recmerge/internal/history"
	"github.com/pcollins/recmerge/internal/jsonio"
	"github.com/pcollins/recmerge/internal/merge"
	"github.com/pcollins/recmerge/internal/pathutil"
	"github.com/pcollins/recmerge/internal/record"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Apply a batch of partial updates to a record file",
		Args:  cobra.NoArgs,
		RunE:  runMerge,
	}
	cmd.Flags().String("base", "", "path to the base record file (JSON array)")
	cmd.Flags().String("updates", "", "path to the updates file (JSON array)")
	cmd.Flags().String("out", "", "path to write the merged output")
	cmd.Flags().String("key", "", "identifier field name (default from config, then \"id\")")
	for _, f := range []string{"base", "updates", "out"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(fmt.Sprintf("mark --%s required: %v", f, err))
		}
	}
	return cmd
}

func runMerge(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "recmerge: config error: %v\n", err)
		return &exitError{code: exitFailure}
	}

	basePath := pathutil.ExpandTilde(mustString(cmd, "base"))
	updatesPath := pathutil.ExpandTilde(mustString(cmd, "updates"))
	outPath := pathutil.ExpandTilde(mustString(cmd, "out"))
	keyField := resolveKeyField(cmd, cfg)

	base, err := jsonio.ReadRecords(basePath)
	if err != nil {
		return err
	}
	updates, err := jsonio.ReadRecords(updatesPath)
	if err != nil {
		return err
	}

	recorder, cleanup := openRecorder(cfg, logger)
	defer cleanup()

	res, err := merge.Merge(base, updates, keyField)
	if err != nil {
		return failRun(recorder, logger, history.Run{
			Command:     history.CommandMerge,
			Source:      basePath,
			KeyField:    keyField,
			BaseCount:   len(base),
			UpdateCount: len(updates),
			DurationMs:  time.Since(start).Milliseconds(),
		}, err)
	}

	if err := jsonio.WriteRecords(outPath, res.Records); err != nil {
		return err
	}

	summary := merge.Summarize(res, len(base), len(updates))
	fmt.Print(summary.String())

	recordRun(recorder, logger, cfg, history.CommandMerge, basePath, keyField, res, summary, start)
	return nil
}

func newExpiryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expiry",
		Short: "Mark active contracts expiring within the threshold",
		Args:  cobra.NoArgs,
		RunE:  runExpiry,
	}
	cmd.Flags().String("contracts", "", "path to the contract file (JSON array)")
	cmd.Flags().String("out", "", "path to write updated contracts")
	cmd.Flags().String("key", "", "identifier field name (default from config, then \"id\")")
	cmd.Flags().Int("threshold", 0, "days ahead to treat as expiring soon (default from config, then 30)")
	cmd.Flags().String("today", "", "override today's date (YYYY-MM-DD), for reproducible runs")
	for _, f := range []string{"contracts", "out"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(fmt.Sprintf("mark --%s required: %v", f, err))
		}
	}
	return cmd
}

func runExpiry(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "recmerge: config error: %v\n", err)
		return &exitError{code: exitFailure}
	}

	contractsPath := pathutil.ExpandTilde(mustString(cmd, "contracts"))
	outPath := pathutil.ExpandTilde(mustString(cmd, "out"))
	keyField := resolveKeyField(cmd, cfg)

	threshold, err := cmd.Flags().GetInt("threshold")
	if err != nil {
		return fmt.Errorf("invalid --threshold: %w", err)
	}
	if threshold == 0 {
		threshold = cfg.EffectiveThresholdDays()
	}
	if threshold < 0 {
		return fmt.Errorf("threshold must not be negative: %d", threshold)
	}

	today := time.Now()
	if todayStr := mustString(cmd, "today"); todayStr != "" {
		today, err = time.Parse(expiry.DateLayout, todayStr)
		if err != nil {
			return fmt.Errorf("invalid --today %q: %w", todayStr, err)
		}
	}

	contracts, err := jsonio.ReadRecords(contractsPath)
	if err != nil {
		return err
	}

	recorder, cleanup := openRecorder(cfg, logger)
	defer cleanup()

	res, updateCount, err := expiry.Run(contracts, keyField, today, threshold)
	if err != nil {
		return failRun(recorder, logger, history.Run{
			Command:    history.CommandExpiry,
			Source:     contractsPath,
			KeyField:   keyField,
			BaseCount:  len(contracts),
			DurationMs: time.Since(start).Milliseconds(),
		}, err)
	}

	if err := jsonio.WriteRecords(outPath, res.Records); err != nil {
		return err
	}

	summary := merge.Summarize(res, len(contracts), updateCount)
	fmt.Printf("contracts marked expiring_soon: %d of %d\n", res.Updated, len(contracts))
	if len(summary.BadDates) > 0 {
		fmt.Printf("records with invalid dates (skipped): %d\n", len(summary.BadDates))
	}

	recordRun(recorder, logger, cfg, history.CommandExpiry, contractsPath, keyField, res, summary, start)
	return nil
}

// resolveKeyField picks the identifier field: --key flag, then config,
// then "id".
func resolveKeyField(cmd *cobra.Command, cfg config.Config) string {
	if key := mustString(cmd, "key"); key != "" {
		return key
	}
	return cfg.EffectiveKeyField()
}

// mustString reads a string flag that is known to exist.
func mustString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag --%s: %v", name, err))
	}
	return v
}

// openRecorder opens the history database when recording is enabled.
// Failures are logged and recording is skipped; a merge run never fails
// because its telemetry could not be written.
func openRecorder(cfg config.Config, logger *slog.Logger) (*history.SQLiteRecorder, func()) {
	if !cfg.HistoryEnabled() {
		return nil, func() {}
	}

	dbPath := history.DefaultDBPath()
	if cfg.History != nil && cfg.History.DBPath != "" {
		dbPath = pathutil.ExpandTilde(cfg.History.DBPath)
	}

	rec, err := history.Open(dbPath)
	if err != nil {
		logger.Warn("failed to open history db, continuing without recording", "err", err)
		return nil, func() {}
	}
	return rec, func() { _ = rec.Close() }
}

// failRun records a failed run and maps schema violations to exit code 2.
func failRun(recorder *history.SQLiteRecorder, logger *slog.Logger, run history.Run, err error) error {
	var schemaErr *record.SchemaError
	isSchema := errors.As(err, &schemaErr)

	if isSchema {
		run.Outcome = history.OutcomeSchemaError
	} else {
		run.Outcome = history.OutcomeError
	}
	run.Detail = err.Error()

	if recorder != nil {
		if recErr := recorder.RecordRun(run); recErr != nil {
			logger.Warn("record run failed", "err", recErr)
		}
	}

	fmt.Fprintf(os.Stderr, "recmerge: %v\n", err)
	if isSchema {
		return &exitError{code: exitSchema}
	}
	return &exitError{code: exitFailure}
}

// recordRun writes a successful run to the history database and triggers
// retention rotation when configured.
func recordRun(recorder *history.SQLiteRecorder, logger *slog.Logger, cfg config.Config, command, source, keyField string, res *merge.Result, summary merge.Summary, start time.Time) {
	if recorder == nil {
		return
	}

	run := history.Run{
		Command:        command,
		Source:         source,
		KeyField:       keyField,
		BaseCount:      summary.BaseCount,
		UpdateCount:    summary.UpdateCount,
		UpdatedCount:   summary.Updated,
		UnmatchedCount: len(summary.Unmatched),
		DuplicateCount: len(summary.Duplicates),
		BadDateCount:   len(summary.BadDates),
		Outcome:        history.OutcomeOK,
		DurationMs:     time.Since(start).Milliseconds(),
	}
	for _, d := range res.Diagnostics {
		run.Diagnostics = append(run.Diagnostics, history.RunDiagnostic{
			Kind:       d.Kind,
			Identifier: d.Identifier,
			Position:   d.Position,
			Detail:     d.Detail,
		})
	}

	if err := recorder.RecordRun(run); err != nil {
		logger.Warn("record run failed", "err", err)
	}

	if cfg.History != nil && cfg.History.Retention != "" {
		retention, err := parseDuration(cfg.History.Retention)
		if err != nil {
			logger.Warn("invalid history retention", "value", cfg.History.Retention, "err", err)
			return
		}
		dbDir := filepath.Dir(history.DefaultDBPath())
		if cfg.History.DBPath != "" {
			dbDir = filepath.Dir(pathutil.ExpandTilde(cfg.History.DBPath))
		}
		history.MaybeRotate(recorder.DB(), history.RotationConfig{
			Retention:   retention,
			ArchiveDir:  filepath.Join(dbDir, "archives"),
			ThrottleDir: dbDir,
		}, logger)
	}
}
