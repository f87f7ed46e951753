package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes a subcommand built by newCmd and returns its stdout.
func runCommand(t *testing.T, opts *RootOptions, newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedDatabase creates an items table with two rows in a fresh file.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	_, err := runCommand(t, &RootOptions{Format: "text"}, NewExecCommand, path,
		"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, data BLOB);"+
			"INSERT INTO items (id, name) VALUES (1, 'alice');"+
			"INSERT INTO items (id, name) VALUES (2, 'bob')")
	require.NoError(t, err)
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "litewatch", cmd.Use)
	assert.Contains(t, cmd.Long, "change notifications")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"exec", "query", "watch", "info", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	readOnlyFlag := cmd.PersistentFlags().Lookup("read-only")
	require.NotNil(t, readOnlyFlag)
	assert.Equal(t, "false", readOnlyFlag.DefValue)
}

func TestQueryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	queryCmd, _, err := cmd.Find([]string{"query"})
	require.NoError(t, err)

	require.NotNil(t, queryCmd.Flags().Lookup("arg"))
	require.NotNil(t, queryCmd.Flags().Lookup("named"))
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	for _, name := range []string{"golden", "update", "filter", "parallel"} {
		assert.NotNil(t, testCmd.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "info", "x.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCommandsReleaseTheirPath(t *testing.T) {
	path := seedDatabase(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"query", path, "SELECT COUNT(*) AS n FROM items"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "(1 row)")

	// The command closed its database, releasing the path.
	opts := &RootOptions{Format: "text"}
	_, err := runCommand(t, opts, NewInfoCommand, path)
	require.NoError(t, err)
	assert.False(t, opts.registry().IsOpen(path))
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
