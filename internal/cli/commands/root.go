package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/crudgen/internal/config"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configPath   string
	manifestPath string
	noColor      bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crudgen",
		Short: "Generated CRUD endpoints for declared entities",
		Long: color.CyanString(`crudgen - CRUD endpoint generator

crudgen reads an entity manifest and serves read-one, read-many, create,
update, upsert, delete, recover and search endpoints for every entity,
with filtering, offset or cursor pagination and soft deletes.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./crudgen.yaml)")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "Entity manifest, overrides the manifest config key")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewRoutesCommand())
	rootCmd.AddCommand(NewMigrateCommand())

	return rootCmd
}

// loadProject reads the configuration and resolves the manifest it names
func loadProject() (*config.Config, []config.Definition, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if manifestPath != "" {
		cfg.Manifest = manifestPath
	}

	manifest, err := config.LoadManifest(cfg.Manifest)
	if err != nil {
		return nil, nil, err
	}
	defs, err := manifest.Definitions()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", cfg.Manifest, err)
	}
	return cfg, defs, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
