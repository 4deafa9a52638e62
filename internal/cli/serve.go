package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pcollins/recmerge/internal/config"
	"github.com/pcollins/recmerge/internal/history"
	"github.com/pcollins/recmerge/internal/server"
	"github.com/pcollins/recmerge/internal/store"
)

// asRecorder converts the concrete recorder to the interface, keeping a
// nil pointer as a nil interface so the server's nil check holds.
func asRecorder(rec *history.SQLiteRecorder) history.Recorder {
	if rec == nil {
		return nil
	}
	return rec
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the user management and summarization HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default from config, then \":8080\")")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "recmerge: config error: %v\n", err)
		return &exitError{code: exitFailure}
	}

	addr := mustString(cmd, "addr")
	if addr == "" {
		addr = cfg.EffectiveServerAddr()
	}

	recorder, cleanup := openRecorder(cfg, logger)
	defer cleanup()

	srv := server.New(store.New(), asRecorder(recorder), logger, Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
