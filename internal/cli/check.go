package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/rules"
)

// PredicateInfo describes one declared predicate.
type PredicateInfo struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind"`
	Slots []string `json:"slots"`
}

// CheckResult summarises a valid program.
type CheckResult struct {
	Program    string                 `json:"program"`
	Predicates []PredicateInfo        `json:"predicates"`
	Entities   int                    `json:"entities"`
	Facts      int                    `json:"facts"`
	Rules      []string               `json:"rules"`
	Queries    []string               `json:"queries"`
	Recursive  []rules.RecursiveGroup `json:"recursive,omitempty"`
}

func (r CheckResult) String() string {
	var b strings.Builder
	stored := 0
	for _, p := range r.Predicates {
		if p.Kind == "stored" {
			stored++
		}
	}
	fmt.Fprintf(&b, "program: %s\n", r.Program)
	fmt.Fprintf(&b, "predicates: %d (%d stored, %d inferred)\n", len(r.Predicates), stored, len(r.Predicates)-stored)
	fmt.Fprintf(&b, "entities: %d, facts: %d, rules: %d\n", r.Entities, r.Facts, len(r.Rules))
	for _, rule := range r.Rules {
		fmt.Fprintf(&b, "  %s\n", rule)
	}
	if len(r.Queries) > 0 {
		fmt.Fprintf(&b, "queries: %s\n", strings.Join(r.Queries, ", "))
	}
	for _, g := range r.Recursive {
		fmt.Fprintf(&b, "recursive: %s (%s)\n", strings.Join(g.Predicates, ", "), strings.Join(g.Path, " -> "))
	}
	b.WriteString("\u2713 program is valid\n")
	return b.String()
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <program.cue>",
		Short: "Compile a program and validate its rules",
		Long: `Compile a CUE program, load it into an in-memory engine and report its
predicates, rules, named queries and recursive predicate groups.

Exit codes:
  0 - Program is valid
  1 - Program does not compile or a rule is invalid
  2 - Command error (missing file, bad config)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	prog, err := loadProgram(f, path)
	if err != nil {
		return err
	}

	// Checking never touches a configured database.
	memOpts := *opts
	memOpts.cfg.Store.Driver = "memory"
	ctx := cmd.Context()
	eng, err := memOpts.openEngine(ctx, f, prog, "")
	if err != nil {
		return err
	}
	defer eng.Close()

	result := CheckResult{
		Program:   path,
		Entities:  len(prog.Entities),
		Facts:     len(prog.Facts),
		Queries:   prog.QueryNames(),
		Recursive: eng.Rules().Snapshot(ctx).Recursive(),
	}
	for _, p := range prog.Predicates {
		result.Predicates = append(result.Predicates, PredicateInfo{
			Name:  p.Name(),
			Kind:  logic.Kind(p),
			Slots: p.SlotTypes(),
		})
	}
	for _, r := range prog.Rules {
		result.Rules = append(result.Rules, r.String())
	}
	return f.Success(result)
}
