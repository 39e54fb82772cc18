package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kiss/classfile"
)

// NewCompileCommand creates the compile command
func NewCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <manifest.yaml>",
		Short: "Write the class files declared by a module manifest",
		Long: `Compile a YAML manifest of class declarations into a module.

The output is a directory, or an archive when --output ends in .zip or .jar.

Example manifest:
  classes:
    - name: com.acme.English
      interfaces: [com.acme.Greeter]

Examples:
  kiss compile greeters.yaml --output ./plugins
  kiss compile greeters.yaml --output greeters.jar`,
		Args: cobra.ExactArgs(1),
		RunE: runCompile,
	}

	cmd.Flags().StringP("output", "o", "", "Output directory or archive")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("output")
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	m, err := classfile.ReadManifest(f)
	if err != nil {
		return err
	}

	switch filepath.Ext(out) {
	case ".zip", ".jar":
		err = writeArchive(out, m)
	default:
		err = m.WriteDir(out)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d classes to %s\n", len(m.Classes), out)
	return nil
}

func writeArchive(path string, m *classfile.Manifest) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := zip.NewWriter(f)
	for _, d := range m.Classes {
		data, err := d.Bytes()
		if err != nil {
			return err
		}
		entry, err := w.Create(d.FileName())
		if err != nil {
			return err
		}
		if _, err := entry.Write(data); err != nil {
			return err
		}
	}
	return w.Close()
}
