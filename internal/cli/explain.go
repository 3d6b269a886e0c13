package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factlog/internal/engine"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/planner"
	"github.com/roach88/factlog/internal/querysql"
	"github.com/roach88/factlog/internal/store/sqlite"
	"github.com/roach88/factlog/internal/timing"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	DB   string
	Warm int  // warm-up runs before planning
	SQL  bool // also compile the query to one statement
}

// ExplainResult is a query plan plus the timing stats behind it.
type ExplainResult struct {
	Query  string                 `json:"query"`
	Plan   planner.Report         `json:"plan"`
	Timing map[string]timing.Stat `json:"timing,omitempty"`
	SQL    *SQLReport             `json:"sql,omitempty"`

	text string
}

// SQLReport is the single-statement form of a query. Unsupported is set
// instead of the statement when a step needs rules.
type SQLReport struct {
	Statement     string             `json:"statement,omitempty"`
	Args          []any              `json:"args,omitempty"`
	Columns       []string           `json:"columns,omitempty"`
	JoinVariables []string           `json:"join_variables,omitempty"`
	CrossRefs     int                `json:"cross_refs"`
	Estimate      *querysql.Estimate `json:"estimate,omitempty"`
	Rows          *int               `json:"rows,omitempty"` // set when run against SQLite
	Unsupported   string             `json:"unsupported,omitempty"`
}

func (r ExplainResult) String() string { return r.text }

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <program.cue> <query-name>",
		Short: "Show the execution plan of a named query",
		Long: `Plan a named query and print its steps in execution order with their
estimated costs and the variable dependencies between them.

With --warm N the query runs N times first; the plan then uses the
timings learned from those runs instead of static estimates.

With --sql a query over stored predicates only is also compiled to a
single SQL statement, with cross-variable constraints as EXISTS
subqueries, and the report estimates the statements it saves. Against a
SQLite store the statement is run and its row count reported.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (overrides the configured store)")
	cmd.Flags().IntVar(&opts.Warm, "warm", 0, "run the query this many times before planning")
	cmd.Flags().BoolVar(&opts.SQL, "sql", false, "compile the query to a single SQL statement")

	return cmd
}

func runExplain(opts *ExplainOptions, path, name string, cmd *cobra.Command) error {
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
	for i := range opts.Warm {
		rows, err := eng.Query(ctx, patterns, engine.WithHydrate(false))
		if err == nil {
			_, err = engine.Collect(rows)
		}
		if err != nil {
			return f.Fail(ExitFailure, queryErrorCode(err), err)
		}
		f.VerboseLog("warm-up run %d done", i+1)
	}

	plan, err := eng.Explain(ctx, patterns)
	if err != nil {
		return f.Fail(ExitFailure, queryErrorCode(err), err)
	}
	result := ExplainResult{Query: name, Plan: plan.Report(), text: plan.Explain()}
	if opts.Warm > 0 {
		result.Timing = eng.TimingStats()
	}
	if opts.SQL {
		report, err := singleStatement(ctx, eng, plan.Patterns())
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeQuery, err)
		}
		result.SQL = report
		result.text += report.text()
	}
	return f.Success(result)
}

func singleStatement(ctx context.Context, eng *engine.Engine, patterns []logic.Fact) (*SQLReport, error) {
	conj, err := querysql.NewSQLCompiler().CompileConjunction(patterns)
	if errors.Is(err, querysql.ErrInferredPattern) {
		return &SQLReport{Unsupported: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	est := conj.Estimate()
	report := &SQLReport{
		Statement:     conj.SQL,
		Args:          conj.Args,
		Columns:       conj.Columns,
		JoinVariables: conj.JoinVariables,
		CrossRefs:     conj.CrossRefs,
		Estimate:      &est,
	}
	if s, ok := eng.Backend().(*sqlite.Store); ok {
		bindings, _, err := s.QueryConjunction(ctx, patterns)
		if err != nil {
			return nil, err
		}
		n := len(bindings)
		report.Rows = &n
	}
	return report, nil
}

func (r *SQLReport) text() string {
	var b strings.Builder
	if r.Unsupported != "" {
		fmt.Fprintf(&b, "\nsql: not available (%s)\n", r.Unsupported)
		return b.String()
	}
	fmt.Fprintf(&b, "\nsql: %s\n", r.Statement)
	fmt.Fprintf(&b, "args: %v\n", r.Args)
	if len(r.JoinVariables) > 0 {
		fmt.Fprintf(&b, "join variables: %s\n", strings.Join(r.JoinVariables, ", "))
	}
	fmt.Fprintf(&b, "statements: %d step by step, %d as one (%.1f%% fewer)\n",
		r.Estimate.Stepwise, r.Estimate.Single, r.Estimate.Reduction)
	if r.Rows != nil {
		fmt.Fprintf(&b, "rows: %d\n", *r.Rows)
	}
	return b.String()
}
