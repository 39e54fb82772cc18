package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kiss/classfile"
)

// NewDumpCommand creates the dump command
func NewDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file.class | archive!entry>",
		Short: "Print a readable listing of a class file",
		Long: `Print the header, annotations, fields and method code of a class file.

Examples:
  kiss dump plugins/com/acme/Greeter.class
  kiss dump 'app.jar!com/acme/Greeter.class'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readClass(args[0])
			if err != nil {
				return err
			}
			cf, err := classfile.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return classfile.Dump(cmd.OutOrStdout(), cf)
		},
	}
}

// readClass reads a class file from disk, or from an archive entry when
// path contains "!".
func readClass(path string) ([]byte, error) {
	archive, entry, nested := strings.Cut(path, "!")
	if !nested {
		return os.ReadFile(path)
	}
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	f, err := r.Open(strings.TrimPrefix(entry, "/"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
