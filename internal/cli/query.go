package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factlog/internal/engine"
	"github.com/roach88/factlog/internal/ir"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	DB        string // SQLite database path
	NoHydrate bool   // return keys only
}

// QueryResult is the output of a query run.
type QueryResult struct {
	Query   string `json:"query"`
	QueryID string `json:"query_id"`
	Count   int    `json:"count"`
	Rows    []any  `json:"rows"`

	text []string
}

func (r QueryResult) String() string {
	var b strings.Builder
	for _, line := range r.text {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d rows (query %s, id %s)\n", r.Count, r.Query, r.QueryID)
	return b.String()
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <program.cue> <query-name>",
		Short: "Run a named query of a program",
		Long: `Load a program and run one of its named queries.

Each row maps the query's visible variables to their keys or, with
hydration on, to {"key": ..., "attrs": ...} objects.

Examples:
  factlog query family.cue grandparents
  factlog query family.cue grandparents --db facts.db --no-hydrate
  factlog query family.cue grandparents --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (overrides the configured store)")
	cmd.Flags().BoolVar(&opts.NoHydrate, "no-hydrate", false, "return keys without loading entities")

	return cmd
}

func runQuery(opts *QueryOptions, path, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	prog, err := loadProgram(f, path)
	if err != nil {
		return err
	}
	if err := namedQuery(f, prog, name); err != nil {
		return err
	}

	ctx := cmd.Context()
	eng, err := opts.openEngine(ctx, f, prog, opts.DB)
	if err != nil {
		return err
	}
	defer eng.Close()

	patterns, _ := prog.Query(name)
	rows, err := eng.Query(ctx, patterns, engine.WithHydrate(!opts.NoHydrate))
	if err != nil {
		return f.Fail(ExitFailure, queryErrorCode(err), err)
	}

	result := QueryResult{Query: name, QueryID: rows.QueryID(), Rows: []any{}}
	for row, err := range rows.All() {
		if err != nil {
			return f.Fail(ExitFailure, queryErrorCode(err), err)
		}
		obj := row.Object()
		result.Rows = append(result.Rows, ir.ToGo(obj))
		result.text = append(result.text, ir.MustCanonical(obj))
	}
	result.Count = len(result.Rows)
	f.VerboseLog("query %s returned %d rows", name, result.Count)
	return f.Success(result)
}
