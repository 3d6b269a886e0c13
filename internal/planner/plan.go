package planner

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/timing"
)

// ErrEmptyQuery is returned when a query has no patterns.
var ErrEmptyQuery = errors.New("query has no patterns")

// Kind says which evaluator a step goes to.
type Kind string

const (
	KindStored   Kind = "stored"
	KindInferred Kind = "inferred"
)

// Step is one pattern of the plan.
type Step struct {
	// Index is the pattern's position in the query as written.
	Index int
	// Pattern is the pattern after constraint propagation.
	Pattern logic.Fact
	// Where holds the propagated constraint of each constrained variable.
	Where map[string]constraint.Constraint
	// Key is the normalised pattern key timings are recorded under.
	Key string
	// Cost is the estimated cost in seconds.
	Cost float64
	// Source says where Cost came from: cached, learned or static.
	Source timing.Source
	// Kind routes the step to the backend or the evaluator.
	Kind Kind
	// Binds lists the variables the step binds, in slot order.
	Binds []string
	// Requires lists the variables the step's cross-variable constraints
	// read, which an earlier step must bind.
	Requires []string
}

// EdgeKind labels a dependency edge.
type EdgeKind string

const (
	// EdgeShares joins two steps that bind the same variable.
	EdgeShares EdgeKind = "shares"
	// EdgeRequires orders a binder before a step that references its
	// variable inside a constraint.
	EdgeRequires EdgeKind = "requires"
)

// Edge connects two steps by their original indices.
type Edge struct {
	From int
	To   int
	Var  string
	Kind EdgeKind
}

// Plan is an ordered list of steps plus the dependency graph they were
// ordered by.
type Plan struct {
	Steps []Step
	Edges []Edge
}

// Patterns returns the step patterns in execution order.
func (p *Plan) Patterns() []logic.Fact {
	out := make([]logic.Fact, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Pattern
	}
	return out
}

// Estimator supplies learned costs. *timing.Store implements it.
type Estimator interface {
	Estimate(key string, fallback float64) timing.Estimate
}

// Planner builds plans. It holds no per-query state and is safe for
// concurrent use when its Estimator is.
type Planner struct {
	estimator   Estimator
	defaultCost float64
}

// Option configures a Planner.
type Option func(*Planner)

// WithDefaultCost sets the static cost of an unconstrained pattern.
func WithDefaultCost(seconds float64) Option {
	return func(p *Planner) {
		if seconds > 0 {
			p.defaultCost = seconds
		}
	}
}

// New creates a planner. A nil estimator plans with static costs only.
func New(estimator Estimator, opts ...Option) *Planner {
	p := &Planner{estimator: estimator, defaultCost: DefaultCost}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan propagates constraints across patterns, costs each step and orders
// the steps. Learned estimates always take precedence over the static
// heuristic once a pattern key has any recorded history.
func (p *Planner) Plan(patterns []logic.Fact) (*Plan, error) {
	if len(patterns) == 0 {
		return nil, ErrEmptyQuery
	}
	for i, f := range patterns {
		if _, err := logic.NewFact(f.Predicate, f.Terms...); err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
	}

	propagated := Propagate(patterns)
	steps := make([]Step, len(propagated))
	for i, f := range propagated {
		steps[i] = p.step(i, f)
	}

	plan := &Plan{Edges: dependencyEdges(steps)}
	for _, i := range order(steps) {
		plan.Steps = append(plan.Steps, steps[i])
	}
	return plan, nil
}

func (p *Planner) step(index int, f logic.Fact) Step {
	s := Step{
		Index:    index,
		Pattern:  f,
		Key:      PatternKey(f),
		Kind:     KindStored,
		Requires: f.References(),
	}
	if f.Inferred() {
		s.Kind = KindInferred
	}
	for _, v := range f.Variables() {
		s.Binds = append(s.Binds, v.Name)
		if v.Where != nil {
			if s.Where == nil {
				s.Where = make(map[string]constraint.Constraint)
			}
			s.Where[v.Name] = v.Where
		}
	}

	static := StaticCost(f, p.defaultCost)
	if p.estimator == nil {
		s.Cost, s.Source = static, timing.SourceStatic
		return s
	}
	est := p.estimator.Estimate(s.Key, static)
	s.Cost, s.Source = est.Cost, est.Source
	return s
}

// order is a topological sort driven by cost: among the steps whose
// references are bound, the cheapest goes next (ties by written order).
// When references form a cycle the cheapest remaining step breaks it.
func order(steps []Step) []int {
	binders := make(map[string]bool)
	for _, s := range steps {
		for _, name := range s.Binds {
			binders[name] = true
		}
	}
	have := make(map[string]bool)
	placed := make([]bool, len(steps))
	out := make([]int, 0, len(steps))

	cheaper := func(a, b int) bool {
		if steps[a].Cost != steps[b].Cost {
			return steps[a].Cost < steps[b].Cost
		}
		return steps[a].Index < steps[b].Index
	}

	for len(out) < len(steps) {
		best, fallback := -1, -1
		for i := range steps {
			if placed[i] {
				continue
			}
			if fallback < 0 || cheaper(i, fallback) {
				fallback = i
			}
			if !ready(steps[i].Requires, binders, have) {
				continue
			}
			if best < 0 || cheaper(i, best) {
				best = i
			}
		}
		if best < 0 {
			best = fallback
		}
		placed[best] = true
		out = append(out, best)
		for _, name := range steps[best].Binds {
			have[name] = true
		}
	}
	return out
}

func dependencyEdges(steps []Step) []Edge {
	var edges []Edge
	for i := range steps {
		for j := range steps {
			if i == j {
				continue
			}
			for _, name := range steps[j].Requires {
				if slices.Contains(steps[i].Binds, name) {
					edges = append(edges, Edge{From: i, To: j, Var: name, Kind: EdgeRequires})
				}
			}
			if j < i {
				continue
			}
			for _, name := range steps[i].Binds {
				if slices.Contains(steps[j].Binds, name) {
					edges = append(edges, Edge{From: i, To: j, Var: name, Kind: EdgeShares})
				}
			}
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		return cmp.Or(
			cmp.Compare(a.From, b.From),
			cmp.Compare(a.To, b.To),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Var, b.Var),
		)
	})
	return edges
}
