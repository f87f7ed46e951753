package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/litewatch/internal/value"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Args  []string // positional arguments, in order
	Named []string // name=value pairs
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <db> <sql>",
		Short: "Run one statement and print its rows",
		Long: `Run a single SQL statement with bound arguments and print the rows it returns.

Argument values are SQL literals: 42, 1.5, 'text', X'CAFE' or NULL. Anything
that does not parse as a literal is bound as text.

Named arguments match :name, @name and $name parameters.

Examples:
  litewatch query ./app.db "SELECT * FROM items"
  litewatch query ./app.db "SELECT * FROM items WHERE id = ?" --arg 1
  litewatch query ./app.db "SELECT * FROM items WHERE name = :name" --named name=widget
  litewatch query ./app.db "SELECT * FROM items" --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "positional argument (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Named, "named", nil, "named argument as name=value (repeatable)")

	return cmd
}

func runQuery(opts *QueryOptions, path, sqlText string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if len(opts.Args) > 0 && len(opts.Named) > 0 {
		return f.Fail(ExitCommandError, "invalid arguments", fmt.Errorf("--arg and --named are mutually exclusive"))
	}
	positional := make([]any, len(opts.Args))
	for i, raw := range opts.Args {
		positional[i] = parseArgument(raw)
	}
	named := make(map[string]any, len(opts.Named))
	for _, pair := range opts.Named {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return f.Fail(ExitCommandError, "invalid arguments", fmt.Errorf("--named %q: expected name=value", pair))
		}
		named[name] = parseArgument(raw)
	}

	db, err := openDatabase(cmd, opts.RootOptions, path, false, true)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open database", err)
	}
	defer closeDatabase(cmd, db)

	ctx := commandContext(cmd)
	var rows []value.Row
	if len(named) > 0 {
		rows, err = db.QueryNamed(ctx, sqlText, named)
	} else {
		rows, err = db.Query(ctx, sqlText, positional...)
	}
	if err != nil {
		return f.Fail(ExitFailure, "query failed", err)
	}

	f.VerboseLog("%d row(s)", len(rows))
	return f.Rows(rows)
}

// parseArgument reads raw as a SQL literal, falling back to text.
func parseArgument(raw string) value.Value {
	if v, err := value.ParseLiteral(raw); err == nil {
		return v
	}
	return value.Text(raw)
}
