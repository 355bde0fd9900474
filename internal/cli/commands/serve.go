package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/crudgen/internal/app"
)

var (
	servePort     int
	serveInMemory bool
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generated endpoints",
		Long: `Serve the generated endpoints of every entity in the manifest.

The serve command will:
  1. Load crudgen.yaml and the entity manifest
  2. Connect to the database and the count cache
  3. Serve until interrupted, then drain in-flight requests

Examples:
  crudgen serve
  crudgen serve --config prod.yaml
  crudgen serve --port 9000
  crudgen serve --in-memory`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	cmd.Flags().BoolVar(&serveInMemory, "in-memory", false, "Serve from in-memory stores instead of the database")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, defs, err := loadProject()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, defs, logger, app.Options{InMemory: serveInMemory})
	if err != nil {
		return err
	}

	color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "Serving %d entities on %s\n", len(a.Resources), cfg.Server.Address())
	if serveInMemory {
		color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "In-memory mode: data is lost on exit")
	}

	return a.Run(ctx)
}
