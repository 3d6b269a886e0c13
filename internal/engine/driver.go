package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/planner"
	"github.com/roach88/factlog/internal/store"
	"github.com/roach88/factlog/internal/timing"
)

// execution runs the steps of one plan. Stored steps go to the backend,
// inferred steps to the query's evaluator.
type execution struct {
	plan    *planner.Plan
	backend store.Backend
	ev      *evaluator
	timing  *timing.Store
	tel     *telemetry

	// binders maps a variable to the positions of the steps that bind it.
	binders  map[string][]int
	visiting map[int]bool
}

func newExecution(plan *planner.Plan, backend store.Backend, ev *evaluator, ts *timing.Store, tel *telemetry) *execution {
	x := &execution{
		plan:     plan,
		backend:  backend,
		ev:       ev,
		timing:   ts,
		tel:      tel,
		binders:  make(map[string][]int),
		visiting: make(map[int]bool),
	}
	for i, s := range plan.Steps {
		for _, name := range s.Binds {
			x.binders[name] = append(x.binders[name], i)
		}
	}
	return x
}

// fetch returns the tuples of step i under binding b.
func (x *execution) fetch(ctx context.Context, i int, b logic.Binding) ([]ir.List, error) {
	step := x.plan.Steps[i]
	pattern := logic.Bind(step.Pattern, b)

	x.visiting[i] = true
	refs, ok, err := x.references(ctx, i, pattern)
	delete(x.visiting, i)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	ctx, span := x.tel.startStepSpan(ctx, step)
	defer span.End()

	start := time.Now()
	var tuples []ir.List
	if step.Kind == planner.KindInferred {
		tuples, err = x.ev.Solve(ctx, resolveReferences(pattern, refs))
	} else {
		tuples, err = x.backend.Lookup(ctx, store.LookupRequest{Pattern: pattern, Refs: refs})
	}
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("step #%d %s: %w", step.Index, step.Pattern.Name(), err)
	}
	x.timing.Record(step.Key, elapsed)
	x.tel.recordStep(ctx, step, elapsed)
	span.SetAttributes(attribute.Int("factlog.tuples", len(tuples)))
	return tuples, nil
}

// references collects value sets for the variables pattern still refers to.
// They are only left open when the planner had to break a reference cycle;
// each is filled by running the step that binds it. ok is false when a
// reference has no usable binder, which makes the step empty.
func (x *execution) references(ctx context.Context, i int, pattern logic.Fact) (map[string][]ir.Value, bool, error) {
	var refs map[string][]ir.Value
	for _, t := range pattern.Terms {
		v, isVar := t.(logic.Variable)
		if !isVar {
			continue
		}
		for _, name := range constraint.Variables(v.Where) {
			if _, done := refs[name]; done {
				continue
			}
			binder := x.binderFor(name, i)
			if binder < 0 {
				return nil, false, nil
			}
			values, err := x.valuesOf(ctx, binder, name)
			if err != nil {
				return nil, false, err
			}
			if refs == nil {
				refs = make(map[string][]ir.Value)
			}
			refs[name] = values
		}
	}
	return refs, true, nil
}

func (x *execution) binderFor(name string, self int) int {
	for _, j := range x.binders[name] {
		if j != self && !x.visiting[j] {
			return j
		}
	}
	return -1
}

// valuesOf runs step j on its own and returns the distinct values it binds
// to name.
func (x *execution) valuesOf(ctx context.Context, j int, name string) ([]ir.Value, error) {
	tuples, err := x.fetch(ctx, j, logic.Binding{})
	if err != nil {
		return nil, err
	}
	pattern := x.plan.Steps[j].Pattern
	values := []ir.Value{}
	seen := make(map[string]bool)
	for _, tuple := range tuples {
		b, ok := logic.Unify(pattern, tuple, logic.Binding{})
		if !ok {
			continue
		}
		v := b[name]
		k := ir.MustCanonical(v)
		if !seen[k] {
			seen[k] = true
			values = append(values, v)
		}
	}
	return values, nil
}

// resolveReferences substitutes value sets into an inferred goal, so the
// evaluator sees existence filters instead of references.
func resolveReferences(f logic.Fact, refs map[string][]ir.Value) logic.Fact {
	if len(refs) == 0 {
		return f
	}
	lookup := func(name string) ([]ir.Value, bool) {
		vs, ok := refs[name]
		return vs, ok
	}
	terms := make([]logic.Term, len(f.Terms))
	for i, t := range f.Terms {
		v, ok := t.(logic.Variable)
		if ok && v.Where != nil {
			v.Where, _ = constraint.Resolve(v.Where, lookup)
			t = v
		}
		terms[i] = t
	}
	return f.WithTerms(terms)
}

// level is one depth of the depth-first join: a binding and the tuples of
// the next step under it.
type level struct {
	binding logic.Binding
	tuples  []ir.List
	pos     int
	loaded  bool
}

// cursor walks the plan depth first and yields complete bindings one at a
// time. Step i+1 is only fetched when step i produced a tuple.
type cursor struct {
	x      *execution
	levels []*level
}

func newCursor(x *execution) *cursor {
	return &cursor{x: x, levels: []*level{{binding: logic.Binding{}}}}
}

func (c *cursor) next(ctx context.Context) (logic.Binding, bool, error) {
	steps := c.x.plan.Steps
	for len(c.levels) > 0 {
		depth := len(c.levels) - 1
		lv := c.levels[depth]
		if depth == len(steps) {
			c.levels = c.levels[:depth]
			return lv.binding, true, nil
		}
		if !lv.loaded {
			tuples, err := c.x.fetch(ctx, depth, lv.binding)
			if err != nil {
				return nil, false, err
			}
			lv.tuples, lv.loaded = tuples, true
		}
		if lv.pos >= len(lv.tuples) {
			c.levels = c.levels[:depth]
			continue
		}
		tuple := lv.tuples[lv.pos]
		lv.pos++
		if nb, ok := logic.Unify(steps[depth].Pattern, tuple, lv.binding); ok {
			c.levels = append(c.levels, &level{binding: nb})
		}
	}
	return nil, false, nil
}
