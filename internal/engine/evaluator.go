package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/planner"
	"github.com/roach88/factlog/internal/rules"
	"github.com/roach88/factlog/internal/store"
	"github.com/roach88/factlog/internal/timing"
)

// conj is one instantiated rule alternative: its atoms in evaluation order,
// the binding the goal's keys give to head variables, and the renamed head
// terms answers are read from.
type conj struct {
	atoms []logic.Fact
	init  logic.Binding
	head  []logic.Term
}

// frame is the evaluation state of one goal on the work stack. Atoms are
// joined one at a time over the whole set of partial bindings, so a frame
// can stop in the middle of an atom when it needs a subgoal and pick up at
// the same binding once the subgoal's frame is done.
type frame struct {
	table   *table
	index   int
	low     int
	comp    *component
	repeats [][2]int

	conjs []conj
	alt   int
	step  int
	cur   []logic.Binding
	pos   int
	next  []logic.Binding

	startAdded int
}

// begin resets the join state for the current alternative.
func (f *frame) begin() {
	f.step, f.pos, f.next = 0, 0, nil
	f.cur = nil
	if f.alt < len(f.conjs) {
		f.cur = []logic.Binding{f.conjs[f.alt].init}
	}
}

// depend records that f used the answers of a goal whose frame is at stack
// position index and is not finished.
func (f *frame) depend(index int) {
	f.low = min(f.low, index)
	f.comp.recursive = true
}

// evaluator answers inferred goals for one query. Tables live as long as the
// evaluator, so repeated subgoals across steps and rows are computed once.
//
// Evaluation uses an explicit stack of frames. A goal met again while its
// frame is still on the stack contributes the answers found so far. The
// lowest such frame leads the cycle and re-runs its rules until a pass adds
// no answer anywhere, then marks every table of the cycle resolved.
//
// Storage lookups made for rule bodies are timed under their own pattern
// keys, so the timing store learns the leaves behind an inferred step too.
type evaluator struct {
	backend store.Backend
	rules   *rules.Snapshot
	timing  *timing.Store
	logger  *slog.Logger

	tables map[string]*table
	stack  []*frame
	pass   int
	added  int
	seq    int
	failed error
}

func newEvaluator(backend store.Backend, snapshot *rules.Snapshot, ts *timing.Store, logger *slog.Logger) *evaluator {
	return &evaluator{
		backend: backend,
		rules:   snapshot,
		timing:  ts,
		logger:  logger,
		tables:  make(map[string]*table),
	}
}

// Solve returns every tuple of goal's predicate derivable by the visible
// rules that matches goal. A goal with an unresolved cross-variable
// reference has no answers.
func (ev *evaluator) Solve(ctx context.Context, goal logic.Fact) ([]ir.List, error) {
	if ev.failed != nil {
		return nil, ev.failed
	}
	if hasReferences(goal) {
		return nil, nil
	}
	key := goalKey(goal)
	t, ok := ev.tables[key]
	if ok && t.state == stateResolved {
		return t.answers, nil
	}
	if !ok {
		t = newTable(key, goal)
		ev.tables[key] = t
	}
	if err := ev.push(ctx, t); err != nil {
		return nil, ev.fail(err)
	}
	if err := ev.run(ctx); err != nil {
		return nil, ev.fail(err)
	}
	return t.answers, nil
}

func (ev *evaluator) fail(err error) error {
	ev.failed = err
	ev.stack = nil
	return err
}

// Tables reports how many goal tables the query created.
func (ev *evaluator) Tables() int {
	return len(ev.tables)
}

func (ev *evaluator) push(ctx context.Context, t *table) error {
	name := t.goal.Name()
	visible := ev.rules.Rules(name)
	if len(visible) == 0 {
		return newUndefinedPredicateError(name)
	}
	conjs, err := ev.instantiate(ctx, t.goal, visible)
	if err != nil {
		return err
	}

	f := &frame{
		table:      t,
		index:      len(ev.stack),
		repeats:    repeatedSlots(t.goal),
		conjs:      conjs,
		startAdded: ev.added,
	}
	f.low = f.index
	f.comp = &component{owner: f}
	f.begin()

	t.state = stateExpanding
	t.frame = f
	t.comp = nil
	t.pass = ev.pass
	ev.stack = append(ev.stack, f)
	return nil
}

func (ev *evaluator) run(ctx context.Context) error {
	for len(ev.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := ev.stack[len(ev.stack)-1]
		if f.alt >= len(f.conjs) {
			ev.finish(f)
			continue
		}
		c := &f.conjs[f.alt]
		if f.step >= len(c.atoms) {
			for _, b := range f.cur {
				ev.answer(f, c, b)
			}
			f.alt++
			f.begin()
			continue
		}
		pushed, err := ev.advance(ctx, f, c.atoms[f.step])
		if err != nil {
			return err
		}
		if pushed {
			continue
		}
		f.cur, f.next, f.pos = f.next, nil, 0
		f.step++
	}
	return nil
}

// advance joins atom with every pending binding of f. It returns true when
// it pushed a subgoal frame; f then resumes at the same binding.
func (ev *evaluator) advance(ctx context.Context, f *frame, atom logic.Fact) (bool, error) {
	for ; f.pos < len(f.cur); f.pos++ {
		b := f.cur[f.pos]
		goal := logic.Bind(atom, b)

		var tuples []ir.List
		if goal.Inferred() {
			answers, pushed, err := ev.subgoal(ctx, f, goal)
			if err != nil || pushed {
				return pushed, err
			}
			tuples = answers
		} else {
			start := time.Now()
			found, err := ev.backend.Lookup(ctx, store.LookupRequest{Pattern: goal})
			if err != nil {
				return false, fmt.Errorf("lookup %s: %w", goal.Name(), err)
			}
			ev.timing.Record(planner.PatternKey(goal), time.Since(start))
			tuples = found
		}

		for _, tuple := range tuples {
			if nb, ok := logic.Unify(atom, tuple, b); ok {
				f.next = append(f.next, nb)
			}
		}
	}
	return false, nil
}

// subgoal returns the answers available for goal, or pushes a frame for it.
func (ev *evaluator) subgoal(ctx context.Context, f *frame, goal logic.Fact) ([]ir.List, bool, error) {
	if hasReferences(goal) {
		return nil, false, nil
	}
	key := goalKey(goal)
	t, ok := ev.tables[key]
	if !ok {
		t = newTable(key, goal)
		ev.tables[key] = t
	}

	switch t.state {
	case stateResolved:
		return t.answers, false, nil
	case stateExpanding:
		f.depend(t.frame.index)
		return t.answers, false, nil
	case stateCyclic:
		if t.pass == ev.pass {
			f.depend(t.comp.owner.index)
			return t.answers, false, nil
		}
	}
	// Pending, or left cyclic by an earlier pass: evaluate it again on top
	// of the answers it already has.
	return nil, true, ev.push(ctx, t)
}

func (ev *evaluator) answer(f *frame, c *conj, b logic.Binding) {
	tuple, ok := logic.Project(c.head, b)
	if !ok {
		return
	}
	for _, r := range f.repeats {
		if !ir.Equal(tuple[r[0]], tuple[r[1]]) {
			return
		}
	}
	if f.table.add(tuple) {
		ev.added++
	}
}

func (ev *evaluator) finish(f *frame) {
	ev.stack = ev.stack[:len(ev.stack)-1]
	t := f.table

	if f.low < f.index {
		t.state = stateCyclic
		t.frame = nil
		parent := ev.stack[len(ev.stack)-1]
		parent.low = min(parent.low, f.low)
		parent.comp.absorb(f.comp, t)
		t.comp = parent.comp
		return
	}

	if f.comp.recursive && ev.added != f.startAdded {
		ev.pass++
		t.pass = ev.pass
		f.startAdded = ev.added
		f.comp.recursive = false
		f.alt = 0
		f.begin()
		ev.stack = append(ev.stack, f)
		return
	}

	t.state = stateResolved
	t.frame = nil
	for _, m := range f.comp.members {
		m.state = stateResolved
		m.comp = nil
		m.frame = nil
	}
	if len(f.comp.members) > 0 {
		ev.logger.Debug("recursive goal resolved",
			"goal", t.key,
			"answers", len(t.answers),
			"tables", len(f.comp.members)+1)
	}
}

// instantiate prepares every alternative of every rule for goal.
//
// Rule variables are renamed apart per rule. Head variables take the goal's
// keys as their initial binding and inherit the goal's open-slot
// constraints, which are merged onto each body occurrence before
// propagation runs over the conjunction.
func (ev *evaluator) instantiate(ctx context.Context, goal logic.Fact, visible []logic.Rule) ([]conj, error) {
	var out []conj
	for _, r := range visible {
		ev.seq++
		rename := renamer(ev.seq)
		head := renameFact(r.Head, rename)

		init, inherited, ok, err := ev.unifyHead(ctx, goal, head)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		bound := make(map[string]bool, len(init))
		for name := range init {
			bound[name] = true
		}
		for _, alt := range logic.Alternatives(r.Body) {
			atoms := make([]logic.Fact, len(alt))
			for i, a := range alt {
				atoms[i] = inherit(renameFact(a, rename), inherited)
			}
			atoms = planner.Propagate(atoms)
			ordered := make([]logic.Fact, len(atoms))
			for i, j := range planner.DependencyOrder(atoms, bound) {
				ordered[i] = atoms[j]
			}
			out = append(out, conj{atoms: ordered, init: init, head: head.Terms})
		}
	}
	return out, nil
}

// unifyHead matches a renamed rule head against goal. It returns the
// initial binding of head variables, the constraints each head variable
// inherits, and false when the rule cannot produce answers for goal.
func (ev *evaluator) unifyHead(ctx context.Context, goal, head logic.Fact) (logic.Binding, map[string]constraint.Constraint, bool, error) {
	init := make(logic.Binding)
	extra := make(map[string][]constraint.Constraint)
	types := goal.Predicate.SlotTypes()

	for i, ht := range head.Terms {
		switch h := ht.(type) {
		case logic.Key:
			switch g := goal.Terms[i].(type) {
			case logic.Key:
				if !ir.Equal(h.Value, g.Value) {
					return nil, nil, false, nil
				}
			case logic.Variable:
				if g.Where == nil {
					continue
				}
				ok, err := ev.keyMatches(ctx, types[i], h.Value, g.Where)
				if err != nil || !ok {
					return nil, nil, false, err
				}
			}
		case logic.Variable:
			if h.Where != nil {
				extra[h.Name] = append(extra[h.Name], h.Where)
			}
			switch g := goal.Terms[i].(type) {
			case logic.Key:
				if prev, seen := init[h.Name]; seen && !ir.Equal(prev, g.Value) {
					return nil, nil, false, nil
				}
				init[h.Name] = g.Value
			case logic.Variable:
				if g.Where != nil {
					extra[h.Name] = append(extra[h.Name], g.Where)
				}
			}
		}
	}

	inherited := make(map[string]constraint.Constraint, len(extra))
	for name, cs := range extra {
		inherited[name] = constraint.Merge(cs...)
	}
	return init, inherited, true, nil
}

// keyMatches checks a constant head key against a goal constraint, using
// the key's entity attributes.
func (ev *evaluator) keyMatches(ctx context.Context, entityType string, key ir.Value, where constraint.Constraint) (bool, error) {
	if len(constraint.Variables(where)) > 0 {
		return false, nil
	}
	found, err := ev.backend.Hydrate(ctx, entityType, []ir.Value{key})
	if err != nil {
		return false, fmt.Errorf("check head key %v: %w", key, err)
	}
	var attrs ir.Object
	if e, ok := found[store.EntityKey(key)]; ok {
		attrs = e.Attrs
	}
	return constraint.Eval(where, key, attrs)
}

func renamer(n int) func(string) string {
	return func(name string) string {
		return fmt.Sprintf("%sr%d_%s", logic.HiddenPrefix, n, strings.TrimPrefix(name, logic.HiddenPrefix))
	}
}

func renameFact(f logic.Fact, rename func(string) string) logic.Fact {
	terms := make([]logic.Term, len(f.Terms))
	for i, t := range f.Terms {
		v, ok := t.(logic.Variable)
		if !ok {
			terms[i] = t
			continue
		}
		terms[i] = logic.Hidden(rename(v.Name), constraint.Rename(v.Where, rename))
	}
	return f.WithTerms(terms)
}

func inherit(f logic.Fact, inherited map[string]constraint.Constraint) logic.Fact {
	terms := make([]logic.Term, len(f.Terms))
	for i, t := range f.Terms {
		v, ok := t.(logic.Variable)
		if !ok || inherited[v.Name] == nil {
			terms[i] = t
			continue
		}
		v.Where = constraint.Merge(v.Where, inherited[v.Name])
		terms[i] = v
	}
	return f.WithTerms(terms)
}
