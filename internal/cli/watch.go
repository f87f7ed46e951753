package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/litewatch/internal/changes"
	"github.com/roach88/litewatch/internal/core"
	"github.com/roach88/litewatch/internal/value"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Rollback bool // roll the transaction back after running the script
}

// Notification is one change notification as printed by watch.
type Notification struct {
	Table      string   `json:"table"`
	WholeTable bool     `json:"whole_table"`
	Keys       []string `json:"keys,omitempty"` // SQL literals
}

// WatchResult is the JSON payload of watch.
type WatchResult struct {
	Committed     bool           `json:"committed"`
	Notifications []Notification `json:"notifications"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <db> <script.sql>",
		Short: "Run a SQL script and print the notifications it produces",
		Long: `Run a SQL script inside one transaction and print the table change
notifications it produced, one per table.

Plain SQL writes are reported against the whole table. Notifications are
produced even when the transaction rolls back.

Examples:
  litewatch watch ./app.db ./seed.sql
  litewatch watch ./app.db ./seed.sql --rollback
  litewatch watch ./app.db ./seed.sql --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Rollback, "rollback", false, "roll back after running the script")

	return cmd
}

func runWatch(opts *WatchOptions, path, scriptPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.ReadOnly {
		return f.Fail(ExitCommandError, "watch needs a writable database", errReadOnly)
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read script", err)
	}

	db, err := openDatabase(cmd, opts.RootOptions, path, true, false)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open database", err)
	}
	defer closeDatabase(cmd, db)

	// Receive concurrently so a script touching many tables cannot fill the
	// subscription buffer while Settle waits on delivery.
	sub := db.SubscribeAll()
	received := make(chan []Notification, 1)
	go func() {
		var out []Notification
		for c := range sub.C {
			out = append(out, notificationOf(c))
		}
		received <- out
	}()

	ctx := commandContext(cmd)
	committed, err := db.CancellableTransaction(ctx, func(ctx context.Context, tx *core.Core) (bool, error) {
		if err := tx.Execute(ctx, string(script)); err != nil {
			return false, err
		}
		return !opts.Rollback, nil
	})
	settleErr := db.Settle(ctx)
	sub.Cancel()
	notifications := <-received

	if err != nil {
		return f.Fail(ExitFailure, "script failed", err)
	}
	if settleErr != nil {
		return f.Fail(ExitFailure, "waiting for notifications", settleErr)
	}

	if f.Format == "json" {
		if notifications == nil {
			notifications = []Notification{}
		}
		return f.Success(WatchResult{Committed: committed, Notifications: notifications})
	}

	rows := make([][]string, len(notifications))
	for i, n := range notifications {
		keys := "(whole table)"
		if !n.WholeTable {
			keys = strings.Join(n.Keys, ", ")
		}
		rows[i] = []string{n.Table, keys}
	}
	if len(rows) > 0 {
		if err := f.Table([]string{"Table", "Keys"}, rows); err != nil {
			return err
		}
	}
	outcome := "committed"
	if !committed {
		outcome = "rolled back"
	}
	fmt.Fprintf(f.Writer, "%s, %d notification(s)\n", outcome, len(notifications))
	return nil
}

func notificationOf(c changes.Change) Notification {
	n := Notification{Table: c.Table, WholeTable: c.WholeTable}
	for _, k := range c.Keys {
		n.Keys = append(n.Keys, value.Literal(k))
	}
	return n
}
