// Package cmd implements the kiss command line tool.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kiss"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion returns the version line.
func PrintVersion() string {
	return fmt.Sprintf("kiss v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command for the kiss tool
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kiss",
		Short: "kiss - inspect and build modules for the kiss container",
		Long: `kiss inspects class files and modules, compiles module manifests and
watches module directories the way a running container sees them.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().String("config-dir", ".", "Directory holding kiss.yaml or kiss.toml")
	cmd.PersistentFlags().String("log-level", "", "Container log level (debug, info, warn, error)")

	cmd.AddCommand(NewScanCommand())
	cmd.AddCommand(NewDumpCommand())
	cmd.AddCommand(NewCompileCommand())
	cmd.AddCommand(NewWatchCommand())

	return cmd
}

// loadConfig reads the container configuration named by the persistent
// flags.
func loadConfig(cmd *cobra.Command) (*kiss.Config, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return nil, err
	}
	cfg, err := kiss.LoadConfig(kiss.ConfigFeeders(dir)...)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newContainer creates a container without the configured modules; the
// commands load the modules they are given.
func newContainer(cmd *cobra.Command, opts ...kiss.Option) (*kiss.Container, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Modules = nil
	return kiss.New(append([]kiss.Option{kiss.WithConfig(cfg)}, opts...)...)
}
