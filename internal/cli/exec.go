package cli

import (
	"github.com/spf13/cobra"
)

// ExecResult is the JSON payload of a successful exec.
type ExecResult struct {
	Path string `json:"path"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <db> <sql>",
		Short: "Run SQL statements",
		Long: `Run one or more semicolon-separated SQL statements against a database.

The database file is created if it does not exist. Statements take no
arguments and produce no output; use query to read rows.

Examples:
  litewatch exec ./app.db "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"
  litewatch exec ./app.db "INSERT INTO items (name) VALUES ('a'); INSERT INTO items (name) VALUES ('b')"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runExec(opts *RootOptions, path, sqlText string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.ReadOnly {
		return f.Fail(ExitCommandError, "exec needs a writable database", errReadOnly)
	}

	db, err := openDatabase(cmd, opts, path, false, false)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open database", err)
	}
	defer closeDatabase(cmd, db)

	f.VerboseLog("Executing against %s", db.Path())
	if err := db.Execute(commandContext(cmd), sqlText); err != nil {
		return f.Fail(ExitFailure, "execution failed", err)
	}

	if f.Format == "json" {
		return f.Success(ExecResult{Path: db.Path()})
	}
	return f.Success("OK")
}
