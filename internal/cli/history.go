package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcollins/recmerge/internal/history"
	_ "modernc.org/sqlite"
)

// resolveDBPath returns the history database path from the --db flag or the default.
func resolveDBPath(cmd *cobra.Command) string {
	dbPath, err := cmd.Flags().GetString("db")
	if err != nil || dbPath == "" {
		dbPath = history.DefaultDBPath()
	}
	return dbPath
}

// openHistoryDBReadOnly opens an existing history DB for read-only queries.
// Returns a clear error if the DB doesn't exist.
func openHistoryDBReadOnly(cmd *cobra.Command) (*sql.DB, error) {
	dbPath := resolveDBPath(cmd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("history database not found at %s (has a merge run recorded yet?)", dbPath)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db %q: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on history db %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect history db %q: %w", dbPath, err)
	}
	return db, nil
}

// openHistoryDBWrite opens (or creates) the history DB for write operations.
func openHistoryDBWrite(cmd *cobra.Command) (*sql.DB, func(), error) {
	dbPath := resolveDBPath(cmd)
	rec, err := history.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open history db: %w", err)
	}
	return rec.DB(), func() { _ = rec.Close() }, nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query past merge runs",
	}
	cmd.PersistentFlags().String("db", "", "path to history database (default: auto-detected)")
	cmd.AddCommand(
		newHistoryListCmd(),
		newHistoryTailCmd(),
		newHistoryShowCmd(),
		newHistoryPruneCmd(),
		newHistoryStatsCmd(),
		newHistoryDBPathCmd(),
		newHistoryArchivesCmd(),
	)
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge runs",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}
	cmd.Flags().Int("limit", 20, "maximum number of entries")
	cmd.Flags().Int("offset", 0, "skip N entries")
	cmd.Flags().String("command", "", "filter by command (merge|expiry|batch)")
	cmd.Flags().String("outcome", "", "filter by outcome (ok|schema_error|error)")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("invalid --limit: %w", err)
	}
	offset, err := cmd.Flags().GetInt("offset")
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}
	command, err := cmd.Flags().GetString("command")
	if err != nil {
		return fmt.Errorf("invalid --command: %w", err)
	}
	outcome, err := cmd.Flags().GetString("outcome")
	if err != nil {
		return fmt.Errorf("invalid --outcome: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := history.ListRuns(db, limit, offset, command, outcome)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if asJSON {
		return printJSON(runs)
	}
	printRunTable(runs)
	return nil
}

func newHistoryTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail [n]",
		Short: "Show the most recent merge runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistoryTail,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryTail(cmd *cobra.Command, args []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n := 10
	if len(args) == 1 {
		n, err = strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count %q", args[0])
		}
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := history.Tail(db, n)
	if err != nil {
		return fmt.Errorf("tail runs: %w", err)
	}

	if asJSON {
		return printJSON(runs)
	}
	printRunTable(runs)
	return nil
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show details of a merge run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	run, err := history.GetRun(db, id)
	if err != nil {
		return fmt.Errorf("get run %d: %w", id, err)
	}

	if asJSON {
		return printJSON(run)
	}

	fmt.Printf("Run #%d\n", run.ID)
	fmt.Printf("  Timestamp:  %s\n", run.Timestamp.Format(time.RFC3339))
	fmt.Printf("  Command:    %s\n", run.Command)
	if run.Source != "" {
		fmt.Printf("  Source:     %s\n", run.Source)
	}
	fmt.Printf("  Key Field:  %s\n", run.KeyField)
	fmt.Printf("  Records:    %d base, %d updates, %d updated\n", run.BaseCount, run.UpdateCount, run.UpdatedCount)
	fmt.Printf("  Outcome:    %s\n", run.Outcome)
	if run.Detail != "" {
		fmt.Printf("  Detail:     %s\n", run.Detail)
	}
	fmt.Printf("  Duration:   %dms\n", run.DurationMs)

	if len(run.Diagnostics) > 0 {
		fmt.Printf("\n  Diagnostics:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  KIND\tIDENTIFIER\tPOSITION\tDETAIL")
		for _, d := range run.Diagnostics {
			detail := d.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", d.Kind, d.Identifier, d.Position, detail)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush tabwriter: %w", err)
		}
	}

	return nil
}

func newHistoryPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old merge runs",
		Args:  cobra.NoArgs,
		RunE:  runHistoryPrune,
	}
	cmd.Flags().String("older-than", "", "delete runs older than duration (e.g., 7d, 24h, 30d)")
	if err := cmd.MarkFlagRequired("older-than"); err != nil {
		panic(fmt.Sprintf("mark --older-than required: %v", err))
	}
	return cmd
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	db, cleanup, err := openHistoryDBWrite(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	olderThanStr, err := cmd.Flags().GetString("older-than")
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}

	dur, err := parseDuration(olderThanStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", olderThanStr, err)
	}

	count, err := history.Prune(db, dur)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Printf("Pruned %d merge run(s).\n", count)
	return nil
}

func newHistoryStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show merge run statistics",
		Args:  cobra.NoArgs,
		RunE:  runHistoryStats,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryStats(cmd *cobra.Command, _ []string) error {
	db, err := openHistoryDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	stats, err := history.Stats(db)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	if asJSON {
		return printJSON(stats)
	}

	fmt.Printf("Total runs:      %d\n", stats.TotalRuns)
	fmt.Printf("Records updated: %d\n", stats.TotalUpdated)
	fmt.Printf("Avg duration:    %.1fms\n", stats.AvgDurationMs)

	if stats.TotalRuns > 0 {
		fmt.Printf("Oldest entry:    %s\n", stats.OldestEntry.Format(time.RFC3339))
		fmt.Printf("Newest entry:    %s\n", stats.NewestEntry.Format(time.RFC3339))
	}

	if len(stats.CountByOutcome) > 0 {
		fmt.Printf("\nBy outcome:\n")
		for outcome, count := range stats.CountByOutcome {
			fmt.Printf("  %-14s %d\n", outcome, count)
		}
	}
	if len(stats.CountByCommand) > 0 {
		fmt.Printf("\nBy command:\n")
		for command, count := range stats.CountByCommand {
			fmt.Printf("  %-14s %d\n", command, count)
		}
	}

	return nil
}

func newHistoryDBPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-path",
		Short: "Print the history database path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(history.DefaultDBPath())
		},
	}
}

func newHistoryArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List history archive files",
		Args:  cobra.NoArgs,
		RunE:  runHistoryArchives,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runHistoryArchives(cmd *cobra.Command, _ []string) error {
	dbPath := resolveDBPath(cmd)
	archiveDir := filepath.Join(filepath.Dir(dbPath), "archives")

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	archives, err := history.ListArchives(archiveDir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}

	if len(archives) == 0 {
		fmt.Println("No archives found.")
		return nil
	}

	if asJSON {
		return printJSON(archives)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tDATE")
	for _, a := range archives {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			a.Name,
			formatSize(a.Size),
			a.ModTime.Format(time.RFC3339),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush tabwriter: %w", err)
	}
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1fMB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1fKB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// printRunTable outputs merge runs in a tabwriter table.
func printRunTable(runs []history.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIMESTAMP\tCOMMAND\tSOURCE\tRECORDS\tUPDATED\tUNMATCHED\tDUPES\tOUTCOME\tDURATION")

	for _, r := range runs {
		source := r.Source
		if len(source) > 40 {
			source = "..." + source[len(source)-37:]
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%dms\n",
			r.ID,
			r.Timestamp.Format(time.RFC3339),
			r.Command,
			source,
			r.BaseCount,
			r.UpdatedCount,
			r.UnmatchedCount,
			r.DuplicateCount,
			r.Outcome,
			r.DurationMs,
		)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "recmerge: flush table: %v\n", err)
	}
}

// printJSON marshals v as indented JSON and writes to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// parseDuration parses a duration string supporting "Nd" (days) and "Nh" (hours) formats,
// in addition to Go's standard time.Duration formats.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Handle "Nd" (days) format.
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid days %q: %w", numStr, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	// Handle "Nh" (hours) format.
	if numStr, ok := strings.CutSuffix(s, "h"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			// Fall through to time.ParseDuration which handles "1h30m" etc.
			return time.ParseDuration(s)
		}
		return time.Duration(n) * time.Hour, nil
	}

	// Fall back to Go's standard duration parsing.
	return time.ParseDuration(s)
}
