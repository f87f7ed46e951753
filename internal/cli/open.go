package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/litewatch/internal/database"
)

// errReadOnly rejects writing commands under --read-only, where the
// database would panic on the first write.
var errReadOnly = errors.New("--read-only is set")

// openDatabase opens path with the global flags applied. Read-only opens
// and mustExist require the file to be present already, so a typo does not
// create an empty database.
func openDatabase(cmd *cobra.Command, opts *RootOptions, path string, legacy, mustExist bool) (*database.Database, error) {
	if opts.ReadOnly || mustExist {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database not found: %s", path)
		}
	}

	return database.OpenFile(commandContext(cmd), opts.registry(), path, database.Options{
		ReadOnly:                      opts.ReadOnly,
		DebugPrintEveryQuery:          opts.Verbose,
		DebugPrintEveryReportedChange: opts.Verbose,
		SendLegacyChangeNotifications: legacy,
		Logger:                        opts.newLogger(cmd.ErrOrStderr()),
	})
}

// closeDatabase closes db, reporting a failure on stderr.
func closeDatabase(cmd *cobra.Command, db *database.Database) {
	if err := db.Close(context.WithoutCancel(commandContext(cmd))); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error closing database: %v\n", err)
	}
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
