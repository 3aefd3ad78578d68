// Команда migrate применяет и откатывает схему PostgreSQL сервиса госпитализаций.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/hms/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

// schemaMigrator операции мигратора, которые нужны CLI.
type schemaMigrator interface {
	Up(ctx context.Context, steps int) error
	Down(ctx context.Context, steps int) error
	Status(ctx context.Context) ([]postgres.MigrationState, error)
}

// openFunc открывает мигратор; возвращённая функция закрывает подключение.
type openFunc func(ctx context.Context, dsn string) (schemaMigrator, func() error, error)

func openPostgres(ctx context.Context, dsn string) (schemaMigrator, func() error, error) {
	store, err := postgres.Open(ctx, dsn, postgres.DefaultPoolConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return postgres.NewMigrator(store, log.WithField("component", "migrate-cli")), store.Close, nil
}

type options struct {
	dsn     string
	timeout time.Duration
	steps   int
}

func newRootCmd(open openFunc, out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply PostgreSQL schema migrations for the admission service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.dsn, "dsn", os.Getenv("HMS_POSTGRES_DSN"), "PostgreSQL DSN (or set HMS_POSTGRES_DSN)")
	pf.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall command timeout")
	root.SetOut(out)

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), open, opts, func(ctx context.Context, m schemaMigrator) error {
				if err := m.Up(ctx, opts.steps); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return printStatus(ctx, m, cmd.OutOrStdout())
			})
		},
	}
	up.Flags().IntVar(&opts.steps, "steps", 0, "number of migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), open, opts, func(ctx context.Context, m schemaMigrator) error {
				if err := m.Down(ctx, opts.steps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return printStatus(ctx, m, cmd.OutOrStdout())
			})
		},
	}
	down.Flags().IntVar(&opts.steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), open, opts, func(ctx context.Context, m schemaMigrator) error {
				return printStatus(ctx, m, cmd.OutOrStdout())
			})
		},
	}

	root.AddCommand(up, down, status)
	return root
}

func withMigrator(parent context.Context, open openFunc, opts *options, fn func(context.Context, schemaMigrator) error) error {
	dsn := strings.TrimSpace(opts.dsn)
	if dsn == "" {
		return errors.New("--dsn or HMS_POSTGRES_DSN is required")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.timeout)
	defer cancel()

	m, closeFn, err := open(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	return fn(ctx, m)
}

func printStatus(ctx context.Context, m schemaMigrator, out io.Writer) error {
	states, err := m.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED\tAPPLIED AT")
	for _, s := range states {
		appliedAt := "-"
		if s.Applied && !s.AppliedAt.IsZero() {
			appliedAt = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", s.Version, s.Name, s.Applied, appliedAt)
	}
	return tw.Flush()
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := newRootCmd(openPostgres, os.Stdout).Execute(); err != nil {
		log.WithError(err).Error("migrate failed")
		os.Exit(1)
	}
}
