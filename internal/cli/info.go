package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/litewatch/internal/database"
	"github.com/roach88/litewatch/internal/value"
)

// TableInfo describes one user table.
type TableInfo struct {
	Name          string `json:"name"`
	Rows          int64  `json:"rows"`
	SchemaVersion int64  `json:"schema_version,omitempty"` // applied migration steps, if tracked
}

// InfoResult is the JSON payload of info.
type InfoResult struct {
	Path        string      `json:"path"`
	SizeBytes   int64       `json:"size_bytes"`
	PageSize    int64       `json:"page_size"`
	PageCount   int64       `json:"page_count"`
	FreePages   int64       `json:"free_pages"`
	JournalMode string      `json:"journal_mode"`
	Tables      []TableInfo `json:"tables"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <db>",
		Short: "Describe a database file",
		Long: `Print the size, page layout and journal mode of a database, and the row
count and migration version of every table.

Examples:
  litewatch info ./app.db
  litewatch info ./app.db --read-only --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runInfo(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	db, err := openDatabase(cmd, opts, path, false, true)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open database", err)
	}
	defer closeDatabase(cmd, db)

	info, err := collectInfo(commandContext(cmd), db)
	if err != nil {
		return f.Fail(ExitFailure, "failed to inspect database", err)
	}

	if f.Format == "json" {
		return f.Success(info)
	}

	w := f.Writer
	fmt.Fprintf(w, "Path:         %s\n", info.Path)
	fmt.Fprintf(w, "Size:         %s\n", humanize.IBytes(uint64(info.SizeBytes)))
	fmt.Fprintf(w, "Pages:        %s x %s (%s free)\n",
		humanize.Comma(info.PageCount), humanize.IBytes(uint64(info.PageSize)), humanize.Comma(info.FreePages))
	fmt.Fprintf(w, "Journal mode: %s\n", info.JournalMode)
	if len(info.Tables) == 0 {
		fmt.Fprintln(w, "No tables.")
		return nil
	}

	rows := make([][]string, len(info.Tables))
	for i, t := range info.Tables {
		version := "-"
		if t.SchemaVersion > 0 {
			version = strconv.FormatInt(t.SchemaVersion, 10)
		}
		rows[i] = []string{t.Name, humanize.Comma(t.Rows), version}
	}
	return f.Table([]string{"Table", "Rows", "Version"}, rows)
}

func collectInfo(ctx context.Context, db *database.Database) (*InfoResult, error) {
	info := &InfoResult{Path: db.Path(), Tables: []TableInfo{}}

	st, err := os.Stat(db.Path())
	if err != nil {
		return nil, err
	}
	info.SizeBytes = st.Size()

	for pragma, dst := range map[string]*int64{
		"page_size":      &info.PageSize,
		"page_count":     &info.PageCount,
		"freelist_count": &info.FreePages,
	} {
		if *dst, err = queryInt(ctx, db, "PRAGMA "+pragma); err != nil {
			return nil, err
		}
	}

	rows, err := db.Query(ctx, "PRAGMA journal_mode")
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		info.JournalMode, _ = value.String(rows[0].Values[0])
	}

	rows, err = db.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	versions := map[string]int64{}
	for _, row := range rows {
		name, _ := value.String(row.Values[0])
		if name == database.SchemaVersionsTable {
			if versions, err = schemaVersions(ctx, db); err != nil {
				return nil, err
			}
			continue
		}
		n, err := queryInt(ctx, db, "SELECT COUNT(*) FROM "+quoteIdentifier(name))
		if err != nil {
			return nil, err
		}
		info.Tables = append(info.Tables, TableInfo{Name: name, Rows: n})
	}
	for i := range info.Tables {
		info.Tables[i].SchemaVersion = versions[info.Tables[i].Name]
	}
	return info, nil
}

func schemaVersions(ctx context.Context, db *database.Database) (map[string]int64, error) {
	rows, err := db.Query(ctx, "SELECT table_name, version FROM "+database.SchemaVersionsTable)
	if err != nil {
		return nil, err
	}
	versions := make(map[string]int64, len(rows))
	for _, row := range rows {
		name, _ := value.String(row.Values[0])
		versions[name], _ = value.Int(row.Values[1])
	}
	return versions, nil
}

func queryInt(ctx context.Context, db *database.Database, sqlText string) (int64, error) {
	rows, err := db.Query(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return 0, fmt.Errorf("%s: no result", sqlText)
	}
	n, ok := value.Int(rows[0].Values[0])
	if !ok {
		return 0, fmt.Errorf("%s: not an integer: %s", sqlText, value.Literal(rows[0].Values[0]))
	}
	return n, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
