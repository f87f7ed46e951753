package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/litewatch/internal/database"
	"github.com/roach88/litewatch/internal/testutil"
	"github.com/roach88/litewatch/internal/value"
)

func TestQueryCommandText(t *testing.T) {
	path := seedDatabase(t)

	out, err := runCommand(t, &RootOptions{Format: "text"}, NewQueryCommand, path,
		"SELECT id, name FROM items ORDER BY id")
	require.NoError(t, err)
	assert.Contains(t, out, "'alice'")
	assert.Contains(t, out, "'bob'")
	assert.Contains(t, out, "(2 rows)")
}

func TestQueryCommandPositionalArgs(t *testing.T) {
	path := seedDatabase(t)

	out, err := runCommand(t, &RootOptions{Format: "text"}, NewQueryCommand, path,
		"SELECT name FROM items WHERE id = ?", "--arg", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "'bob'")
	assert.NotContains(t, out, "'alice'")
	assert.Contains(t, out, "(1 row)")
}

func TestQueryCommandNamedArgs(t *testing.T) {
	path := seedDatabase(t)

	// An unquoted value that is not a literal binds as text.
	out, err := runCommand(t, &RootOptions{Format: "json"}, NewQueryCommand, path,
		"SELECT id FROM items WHERE name = :name", "--named", "name=alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[{"id":1}]}`, out)
}

func TestQueryCommandWrites(t *testing.T) {
	path := seedDatabase(t)

	_, err := runCommand(t, &RootOptions{Format: "text"}, NewQueryCommand, path,
		"UPDATE items SET data = ? WHERE id = ?", "--arg", "X'CAFE'", "--arg", "1")
	require.NoError(t, err)

	out, err := runCommand(t, &RootOptions{Format: "json"}, NewQueryCommand, path,
		"SELECT data FROM items WHERE id = 1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[{"data":{"$blob":"yv4="}}]}`, out)
}

func TestQueryCommandErrors(t *testing.T) {
	path := seedDatabase(t)

	tests := []struct {
		name     string
		args     []string
		exitCode int
		want     string
	}{
		{
			name:     "prepare failure",
			args:     []string{path, "SELEC 1"},
			exitCode: ExitFailure,
			want:     "Error [PREPARE_FAILURE]",
		},
		{
			name:     "unknown parameter",
			args:     []string{path, "SELECT :a", "--named", "b=1"},
			exitCode: ExitFailure,
			want:     "Error [UNKNOWN_PARAMETER]",
		},
		{
			name:     "malformed named argument",
			args:     []string{path, "SELECT :a", "--named", "novalue"},
			exitCode: ExitCommandError,
			want:     "expected name=value",
		},
		{
			name:     "mixed arguments",
			args:     []string{path, "SELECT ?", "--arg", "1", "--named", "a=1"},
			exitCode: ExitCommandError,
			want:     "mutually exclusive",
		},
		{
			name:     "missing database",
			args:     []string{filepath.Join(t.TempDir(), "missing.db"), "SELECT 1"},
			exitCode: ExitCommandError,
			want:     "database not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, &RootOptions{Format: "text"}, NewQueryCommand, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestQueryCommandPathConflict(t *testing.T) {
	path := seedDatabase(t)
	opts := &RootOptions{Format: "json"}

	held, err := database.OpenFile(context.Background(), opts.registry(), path, database.Options{Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	defer held.Close(context.Background())

	out, err := runCommand(t, opts, NewQueryCommand, path, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PATH_CONFLICT", resp.Error.Code)
}

func TestQueryCommandReadOnly(t *testing.T) {
	path := seedDatabase(t)
	_, err := runCommand(t, &RootOptions{Format: "text"}, NewExecCommand, path, "PRAGMA journal_mode = DELETE")
	require.NoError(t, err)

	out, err := runCommand(t, &RootOptions{Format: "text", ReadOnly: true}, NewQueryCommand, path,
		"SELECT COUNT(*) AS n FROM items")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 row)")

	out, err = runCommand(t, &RootOptions{Format: "text", ReadOnly: true}, NewQueryCommand, path,
		"DELETE FROM items WHERE id = 1")
	require.Error(t, err)
	assert.Contains(t, out, "Error [")
}

func TestParseArgument(t *testing.T) {
	tests := []struct {
		raw  string
		want value.Value
	}{
		{"42", value.Integer(42)},
		{"1.5", value.Real(1.5)},
		{"'quoted'", value.Text("quoted")},
		{"X'00FF'", value.NewBlob([]byte{0x00, 0xFF})},
		{"NULL", value.Null{}},
		{"plain words", value.Text("plain words")},
		{"", value.Text("")},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseArgument(tt.raw))
		})
	}
}
