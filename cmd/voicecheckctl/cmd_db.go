package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sipuha/voicecheck/internal/config"
	"sipuha/voicecheck/internal/migrations"
	"sipuha/voicecheck/internal/observability"
)

func newDBCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Postgres schema migrations",
		Long: `Inspect and apply the embedded Postgres migrations. Requires DATABASE_URL;
the JSON file store has no schema.`,
	}
	cmd.AddCommand(newDBMigrateCmd(stdout), newDBStatusCmd(stdout))
	return cmd
}

func newDBMigrateCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeFn, err := openRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			applied, err := runner.Apply(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(stdout, "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(stdout, "applied %s\n", name)
			}
			return nil
		},
	}
}

func newDBStatusCmd(stdout io.Writer) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeFn, err := openRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			status, err := runner.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			return writeStatusTable(stdout, status)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func writeStatusTable(w io.Writer, status []migrations.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAPPLIED\tAT")
	for _, st := range status {
		at := "-"
		if !st.AppliedAt.IsZero() {
			at = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\n", st.Name, st.Applied, at)
	}
	return tw.Flush()
}

func openRunner() (*migrations.Runner, func(), error) {
	cfg, err := config.LoadAuth()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	runner, err := migrations.NewRunner(db, observability.NewLogger(cfg.LogLevel))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return runner, closeFn, nil
}

// migrate brings db up to the embedded schema before account commands run.
func migrate(ctx context.Context, db *sql.DB) error {
	runner, err := migrations.NewRunner(db, nil)
	if err != nil {
		return err
	}
	if _, err := runner.Apply(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
