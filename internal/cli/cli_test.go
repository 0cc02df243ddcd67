package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/adapter"
	"github.com/quarrydb/quarry/internal/adapter/sqlite"
	"github.com/quarrydb/quarry/internal/config"
)

// writeConfig drops a sqlite config into a temp dir and returns the
// config path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	raw := `
backend: sqlite
uri: ` + filepath.Join(dir, "quarry.db") + `
classes:
  - name: Player
    fields:
      name: {}
      age: {}
  - name: Team
    fields:
      name: {}
`
	path := filepath.Join(dir, "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestMigrate_Text(t *testing.T) {
	path := writeConfig(t)
	out, _, err := runCommand(t, "migrate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite")
	assert.Contains(t, out, "Player")
	assert.Contains(t, out, "Team")
}

func TestMigrate_JSON(t *testing.T) {
	path := writeConfig(t)
	out, _, err := runCommand(t, "migrate", "-c", path, "--format", "json")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "sqlite", data["backend"])
	assert.ElementsMatch(t, []any{"Player", "Team"}, data["classes"])
}

func TestMigrate_Repeatable(t *testing.T) {
	path := writeConfig(t)
	_, _, err := runCommand(t, "migrate", "-c", path)
	require.NoError(t, err)
	_, _, err = runCommand(t, "migrate", "-c", path)
	require.NoError(t, err)
}

func TestMigrate_VerboseLogsToStderr(t *testing.T) {
	path := writeConfig(t)
	out, errOut, err := runCommand(t, "migrate", "-c", path, "-v", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, errOut, "ensuring class")
	assert.NotContains(t, out, "ensuring class")
}

func TestPing(t *testing.T) {
	path := writeConfig(t)
	out, _, err := runCommand(t, "ping", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok sqlite")
}

func TestClear_RequiresYes(t *testing.T) {
	path := writeConfig(t)
	_, _, err := runCommand(t, "clear", "-c", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestClear_WipesObjects(t *testing.T) {
	path := writeConfig(t)
	_, _, err := runCommand(t, "migrate", "-c", path)
	require.NoError(t, err)

	// Seed one object directly through the adapter.
	ctx := context.Background()
	cfg, err := config.Load(path)
	require.NoError(t, err)
	reg, err := cfg.Registry()
	require.NoError(t, err)
	ad, err := sqlite.Open(cfg.URI, reg)
	require.NoError(t, err)
	defer ad.Close(ctx)

	_, err = ad.CreateObject(ctx, adapter.CreateParams{
		Class: "Player", Data: map[string]any{"name": "A"},
	})
	require.NoError(t, err)

	out, _, err := runCommand(t, "clear", "-c", path, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared sqlite")

	n, err := ad.Count(ctx, adapter.CountParams{Class: "Player"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMissingConfig(t *testing.T) {
	_, _, err := runCommand(t, "ping", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidFormat(t *testing.T) {
	path := writeConfig(t)
	_, _, err := runCommand(t, "ping", "-c", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
