package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/kiss"
)

// ModuleReport describes one scanned module.
type ModuleReport struct {
	Path       string   `yaml:"path"`
	Classes    []string `yaml:"classes"`
	Candidates []string `yaml:"candidates"`
	Providers  []string `yaml:"providers"`
}

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <module>...",
		Short: "Scan modules and list their classes and providers",
		Long: `Load each module into a fresh container and report what the scan found.

A module is a directory, a zip or jar archive, or an archive inside an
archive written as outer.zip!/lib/inner.jar. Providers are candidates whose
class links against the container's catalog.

Examples:
  kiss scan ./plugins
  kiss scan app.jar 'bundle.zip!/lib/extra.jar' --output yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScan,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text, yaml)")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if format != "text" && format != "yaml" {
		return fmt.Errorf("unknown output format %q", format)
	}
	c, err := newContainer(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	var reports []ModuleReport
	for _, path := range args {
		loader, err := c.LoadModule(cmd.Context(), path)
		if err != nil {
			return err
		}
		if loader == nil {
			return fmt.Errorf("module %s does not exist", path)
		}
		for _, m := range c.Modules() {
			if m.Loader() == loader {
				reports = append(reports, report(m))
			}
		}
	}
	if format == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(reports)
	}
	return printReports(cmd.OutOrStdout(), reports)
}

func report(m *kiss.Module) ModuleReport {
	r := ModuleReport{Path: m.Path(), Classes: m.Names(), Candidates: m.Candidates()}
	for _, p := range m.Providers() {
		r.Providers = append(r.Providers, p.Name())
	}
	return r
}

func printReports(w io.Writer, reports []ModuleReport) error {
	for _, r := range reports {
		if _, err := fmt.Fprintf(w, "module %s\n", r.Path); err != nil {
			return err
		}
		fmt.Fprintf(w, "  classes:    %d\n", len(r.Classes))
		for _, name := range r.Candidates {
			fmt.Fprintf(w, "  candidate:  %s\n", name)
		}
		for _, name := range r.Providers {
			fmt.Fprintf(w, "  provider:   %s\n", name)
		}
	}
	return nil
}
