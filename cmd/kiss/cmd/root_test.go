package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/kiss/cmd/kiss/cmd"
)

const manifest = `classes:
  - name: com.acme.English
    interfaces: [com.acme.Greeter]
  - name: com.acme.Plain
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cmd.NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(args, "--config-dir", t.TempDir()))
	err := root.Execute()
	return buf.String(), err
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greeters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "kiss inspects class files")
	for _, sub := range []string{"scan", "dump", "compile", "watch"} {
		assert.Contains(t, out, sub)
	}

	out, err = run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "kiss v")
}

func TestCompileAndScanDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	out, err := run(t, "compile", writeManifest(t), "--output", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 classes")
	assert.FileExists(t, filepath.Join(dir, "com", "acme", "English.class"))

	out, err = run(t, "scan", dir, "--output", "yaml")
	require.NoError(t, err)
	var reports []cmd.ModuleReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.ElementsMatch(t, []string{"com.acme.English", "com.acme.Plain"}, reports[0].Classes)
	assert.Equal(t, []string{"com.acme.English"}, reports[0].Candidates)
	assert.Empty(t, reports[0].Providers, "the interface is not available to the container")

	out, err = run(t, "scan", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "candidate:  com.acme.English")
}

func TestCompileArchiveAndDump(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "greeters.jar")
	_, err := run(t, "compile", writeManifest(t), "-o", jar)
	require.NoError(t, err)

	out, err := run(t, "dump", jar+"!com/acme/English.class")
	require.NoError(t, err)
	assert.Contains(t, out, "class com.acme.English")
	assert.Contains(t, out, "implements com.acme.Greeter")

	_, err = run(t, "dump", jar+"!com/acme/Missing.class")
	assert.Error(t, err)
}

func TestScanErrors(t *testing.T) {
	_, err := run(t, "scan", filepath.Join(t.TempDir(), "none"))
	assert.ErrorContains(t, err, "does not exist")

	_, err = run(t, "scan", t.TempDir(), "--output", "json")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = run(t, "compile", writeManifest(t))
	assert.Error(t, err, "--output is required")
}
