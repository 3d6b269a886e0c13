package planner

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/constraint"
)

// StepReport is the printable form of a step.
type StepReport struct {
	Index    int               `json:"index"`
	Pattern  string            `json:"pattern"`
	Kind     Kind              `json:"kind"`
	Key      string            `json:"key"`
	Cost     float64           `json:"cost"`
	Source   string            `json:"source"`
	Binds    []string          `json:"binds,omitempty"`
	Requires []string          `json:"requires,omitempty"`
	Where    map[string]string `json:"where,omitempty"`
}

// EdgeReport is the printable form of an edge.
type EdgeReport struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Var  string   `json:"var"`
	Kind EdgeKind `json:"kind"`
}

// Report is a plan in a form suitable for JSON output.
type Report struct {
	Steps []StepReport `json:"steps"`
	Edges []EdgeReport `json:"edges,omitempty"`
}

// Report renders the plan for humans and tools.
func (p *Plan) Report() Report {
	names := make(map[int]string, len(p.Steps))
	var r Report
	for _, s := range p.Steps {
		names[s.Index] = fmt.Sprintf("#%d %s", s.Index, s.Pattern.Name())
		sr := StepReport{
			Index:    s.Index,
			Pattern:  s.Pattern.String(),
			Kind:     s.Kind,
			Key:      s.Key,
			Cost:     s.Cost,
			Source:   string(s.Source),
			Binds:    s.Binds,
			Requires: s.Requires,
		}
		if len(s.Where) > 0 {
			sr.Where = make(map[string]string, len(s.Where))
			for name, c := range s.Where {
				sr.Where[name] = constraint.Signature(c)
			}
		}
		r.Steps = append(r.Steps, sr)
	}
	for _, e := range p.Edges {
		r.Edges = append(r.Edges, EdgeReport{From: names[e.From], To: names[e.To], Var: e.Var, Kind: e.Kind})
	}
	return r
}

// Explain returns a multi-line description of the plan in execution order.
func (p *Plan) Explain() string {
	r := p.Report()
	var b strings.Builder
	fmt.Fprintf(&b, "plan: %d steps\n", len(r.Steps))
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "%d. #%d %s\n", i+1, s.Index, s.Pattern)
		fmt.Fprintf(&b, "   kind=%s cost=%.6fs source=%s\n", s.Kind, s.Cost, s.Source)
		fmt.Fprintf(&b, "   key=%s\n", s.Key)
		if len(s.Binds) > 0 {
			fmt.Fprintf(&b, "   binds: %s\n", strings.Join(s.Binds, ", "))
		}
		if len(s.Requires) > 0 {
			fmt.Fprintf(&b, "   requires: %s\n", strings.Join(s.Requires, ", "))
		}
		vars := make([]string, 0, len(s.Where))
		for name := range s.Where {
			vars = append(vars, name)
		}
		slices.Sort(vars)
		for _, name := range vars {
			fmt.Fprintf(&b, "   where %s: %s\n", name, s.Where[name])
		}
	}
	if len(r.Edges) > 0 {
		b.WriteString("dependencies:\n")
		for _, e := range r.Edges {
			fmt.Fprintf(&b, "  %s -> %s %s %s\n", e.From, e.To, e.Kind, e.Var)
		}
	}
	return b.String()
}
