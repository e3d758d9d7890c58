package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, root, dir, content string) {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "module.yaml"), []byte(content), 0o644))
}

func TestValidateCommand(t *testing.T) {
	t.Run("clean_module_root_passes", func(t *testing.T) {
		root := t.TempDir()
		writeManifest(t, root, "alpha", "name: alpha\nversion: 1.0.0\n")
		writeManifest(t, root, "beta", "name: beta\nversion: 1.0.0\ndependencies: [alpha]\n")

		cmd := NewValidateCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"--root", root})

		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "1. alpha")
		assert.Contains(t, out.String(), "2. beta")
		assert.Contains(t, out.String(), "All 2 modules validate and resolve.")
	})

	t.Run("cycle_reported_as_excluded", func(t *testing.T) {
		root := t.TempDir()
		writeManifest(t, root, "x", "name: x\nversion: 1.0.0\ndependencies: [y]\n")
		writeManifest(t, root, "y", "name: y\nversion: 1.0.0\ndependencies: [x]\n")

		cmd := NewValidateCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--root", root})

		assert.Error(t, cmd.Execute())
		assert.Contains(t, out.String(), "EXCLUDED  x")
		assert.Contains(t, out.String(), "EXCLUDED  y")
	})

	t.Run("rejected_manifest_reported", func(t *testing.T) {
		root := t.TempDir()
		writeManifest(t, root, "good", "name: good\nversion: 1.0.0\n")
		writeManifest(t, root, "bad", "version: 1.0.0\n")

		cmd := NewValidateCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--root", root})

		assert.Error(t, cmd.Execute())
		assert.Contains(t, out.String(), "REJECTED")
	})
}

func TestGraphCommand(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "alpha", "name: alpha\nversion: 1.0.0\n")
	writeManifest(t, root, "beta", "name: beta\nversion: 1.0.0\ndependencies: [alpha]\n")

	cmd := NewGraphCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--root", root})

	require.NoError(t, cmd.Execute())
	dot := out.String()
	assert.Contains(t, dot, "digraph modules {")
	assert.Contains(t, dot, `"beta" -> "alpha";`)
}
