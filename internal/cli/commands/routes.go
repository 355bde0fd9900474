package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/crudgen/internal/app"
	"github.com/conduit-lang/crudgen/internal/cli/ui"
	"github.com/conduit-lang/crudgen/internal/web/resource"
)

var routesJSON bool

// NewRoutesCommand creates the routes command
func NewRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the generated routes",
		Long: `List every route generated from the entity manifest with its
handler, pagination and sort defaults. No database connection is made.

Examples:
  crudgen routes
  crudgen routes --manifest entities.yaml --json`,
		Args: cobra.NoArgs,
		RunE: runRoutes,
	}

	cmd.Flags().BoolVar(&routesJSON, "json", false, "Print routes as JSON")

	return cmd
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, defs, err := loadProject()
	if err != nil {
		return err
	}
	cfg.Cache.Backend = "none"

	// Override handlers live in Go code; stand-ins let the table list them
	handlers := make(map[string]resource.Handler)
	for _, def := range defs {
		for _, o := range def.Options.Overrides {
			handlers[o.Handler] = unavailable
		}
	}

	a, err := app.New(context.Background(), cfg, defs, nil, app.Options{InMemory: true, Handlers: handlers})
	if err != nil {
		return err
	}
	defer a.Close()

	routes := a.Router.Routes()
	out := cmd.OutOrStdout()

	if routesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	}

	table := ui.NewTable(out, []string{"ENTITY", "VERB", "PATH", "METHOD", "HANDLER", "PAGINATION", "SORT"}, &ui.TableOptions{
		NoColor: noColor,
		CellColor: func(col int, cell string) *color.Color {
			if col == 1 {
				return ui.HTTPMethodColor(cell)
			}
			return nil
		},
	})
	for _, r := range routes {
		handler := "generated"
		if r.Override != "" {
			handler = r.Override
		}
		pagination := ""
		if r.PaginationType != "" {
			pagination = r.PaginationType + "/" + strconv.Itoa(r.NumberOfTake)
		}
		table.AddRow(r.Entity, r.HTTPMethod, r.Path, r.Method, handler, pagination, r.Sort)
	}
	table.Render()
	return nil
}

func unavailable(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return nil, errors.New("override handler is not linked into this binary")
}
