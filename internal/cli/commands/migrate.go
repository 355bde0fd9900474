package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/crudgen/internal/app"
	"github.com/conduit-lang/crudgen/internal/cli/ui"
	"github.com/conduit-lang/crudgen/internal/config"
	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/migrate"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables of the manifest entities",
		Long: `Create one table per manifest entity and track what was applied in the
crudgen_migrations table.

Examples:
  crudgen migrate up
  crudgen migrate status
  crudgen migrate sql
  crudgen migrate down create_posts`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down <migration>",
		Short: "Roll back one applied migration",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and changed migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sql",
		Short: "Print the DDL without connecting",
		Args:  cobra.NoArgs,
		RunE:  runMigrateSQL,
	})

	return cmd
}

// plan resolves the project and its create-table migrations
func plan() (*config.Config, crud.Dialect, []*migrate.Migration, error) {
	cfg, defs, err := loadProject()
	if err != nil {
		return nil, 0, nil, err
	}
	dialect, err := crud.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, 0, nil, err
	}

	entities := make([]*schema.Entity, len(defs))
	for i, def := range defs {
		entities[i] = def.Entity
	}
	migrations, err := migrate.Plan(entities, dialect)
	if err != nil {
		return nil, 0, nil, err
	}
	return cfg, dialect, migrations, nil
}

// withRunner opens the database and hands a runner to fn
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *migrate.Runner, planned []*migrate.Migration) error) error {
	cfg, dialect, planned, err := plan()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func(db *sql.DB) { _ = db.Close() }(db)

	txManager, err := app.NewTxManager(db, cfg.Database)
	if err != nil {
		return err
	}
	return fn(ctx, migrate.NewRunner(db, dialect, txManager, logger), planned)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	return withRunner(cmd, func(ctx context.Context, r *migrate.Runner, planned []*migrate.Migration) error {
		names, err := r.Up(ctx, planned)
		for _, name := range names {
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Applied %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
		}
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	return withRunner(cmd, func(ctx context.Context, r *migrate.Runner, planned []*migrate.Migration) error {
		if err := r.Down(ctx, args[0]); err != nil {
			return err
		}
		color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "✓ Rolled back %s\n", args[0])
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	return withRunner(cmd, func(ctx context.Context, r *migrate.Runner, planned []*migrate.Migration) error {
		status, err := r.Status(ctx, planned)
		if err != nil {
			return err
		}

		pending := make(map[string]bool, len(status.Pending))
		for _, m := range status.Pending {
			pending[m.Name] = true
		}
		changed := make(map[string]bool, len(status.Changed))
		for _, m := range status.Changed {
			changed[m.Name] = true
		}

		table := ui.NewTable(cmd.OutOrStdout(), []string{"MIGRATION", "STATE"}, &ui.TableOptions{NoColor: noColor})
		for _, m := range planned {
			state := "applied"
			switch {
			case pending[m.Name]:
				state = "pending"
			case changed[m.Name]:
				state = "changed"
			}
			table.AddRow(m.Name, state)
		}
		table.Render()
		fmt.Fprintln(cmd.OutOrStdout(), status.Summary())
		return nil
	})
}

func runMigrateSQL(cmd *cobra.Command, args []string) error {
	_, _, planned, err := plan()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), migrate.Script(planned))
	return nil
}
