package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pcollins/recmerge/internal/config"
	"github.com/pcollins/recmerge/internal/jsonio"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// Exit codes: 0 success, 1 operational failure, 2 schema violation.
const (
	exitFailure = 1
	exitSchema  = 2
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("RECMERGE_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recmerge",
		Short:         "Batch JSON record merge toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMergeCmd())
	root.AddCommand(newExpiryCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "recmerge: %v\n", err)
		return exitFailure
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recmerge %s (%s)\n", Version, Commit)
		},
	}
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate config and check record files parse",
		RunE:  runValidate,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "recmerge: config error: %v\n", err)
		return &exitError{code: exitFailure}
	}

	fmt.Printf("key_field: %s\n", cfg.EffectiveKeyField())
	fmt.Printf("expiry threshold: %d days\n", cfg.EffectiveThresholdDays())
	fmt.Printf("history enabled: %v\n", cfg.HistoryEnabled())

	hasIssues := false
	for _, path := range args {
		records, err := jsonio.ReadRecords(path)
		if err != nil {
			fmt.Printf("%s: PARSE ERROR: %v\n", path, err)
			hasIssues = true
			continue
		}

		missing := 0
		for _, r := range records {
			if _, ok := r.Get(cfg.EffectiveKeyField()); !ok {
				missing++
			}
		}
		status := "OK"
		if missing > 0 {
			status = fmt.Sprintf("MISSING %q in %d record(s)", cfg.EffectiveKeyField(), missing)
			hasIssues = true
		}
		fmt.Printf("%s: %d record(s) [%s]\n", path, len(records), status)
	}

	if hasIssues {
		return &exitError{code: exitFailure}
	}
	return nil
}
