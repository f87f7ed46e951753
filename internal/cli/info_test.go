package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type infoResponse struct {
	Status string     `json:"status"`
	Data   InfoResult `json:"data"`
}

func TestInfoCommandJSON(t *testing.T) {
	path := seedDatabase(t)
	_, err := runCommand(t, &RootOptions{Format: "text"}, NewExecCommand, path,
		"CREATE TABLE _litewatch_schema (table_name TEXT PRIMARY KEY, version INTEGER NOT NULL);"+
			"INSERT INTO _litewatch_schema VALUES ('items', 3);"+
			"CREATE TABLE \"odd \"\"name\"\"\" (x);")
	require.NoError(t, err)

	out, err := runCommand(t, &RootOptions{Format: "json"}, NewInfoCommand, path)
	require.NoError(t, err)

	var resp infoResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	info := resp.Data
	assert.Equal(t, path, info.Path)
	assert.Positive(t, info.SizeBytes)
	assert.Positive(t, info.PageSize)
	assert.Positive(t, info.PageCount)
	assert.Equal(t, "wal", info.JournalMode)
	assert.Equal(t, []TableInfo{
		{Name: "items", Rows: 2, SchemaVersion: 3},
		{Name: `odd "name"`, Rows: 0},
	}, info.Tables)
}

func TestInfoCommandText(t *testing.T) {
	path := seedDatabase(t)

	out, err := runCommand(t, &RootOptions{Format: "text"}, NewInfoCommand, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Path:         "+path)
	assert.Contains(t, out, "Journal mode: wal")
	assert.Contains(t, out, "KiB")
	assert.Contains(t, out, "items")
}

func TestInfoCommandEmptyDatabaseReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	_, err := runCommand(t, &RootOptions{Format: "text"}, NewExecCommand, path, "PRAGMA journal_mode = DELETE")
	require.NoError(t, err)

	out, err := runCommand(t, &RootOptions{Format: "text", ReadOnly: true}, NewInfoCommand, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Journal mode: delete")
	assert.Contains(t, out, "No tables.")
}

func TestInfoCommandMissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	out, err := runCommand(t, &RootOptions{Format: "text"}, NewInfoCommand, path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "database not found")
	assert.NoFileExists(t, path)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"items"`, quoteIdentifier("items"))
	assert.Equal(t, `"a""b"`, quoteIdentifier(`a"b`))
}
