package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/roach88/factlog/internal/compiler"
	"github.com/roach88/factlog/internal/engine"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/rules"
	"github.com/roach88/factlog/internal/store"
	"github.com/roach88/factlog/internal/store/memstore"
	"github.com/roach88/factlog/internal/store/sqlite"
	"github.com/roach88/factlog/internal/testutil"
)

// ErrCodeCompile is the step error code of a scope fragment that does not
// compile.
const ErrCodeCompile = "COMPILE_ERROR"

// Harness runs the steps of one scenario against one engine.
type Harness struct {
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sends engine and harness logs to l. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a scenario on a fresh backend and returns the result.
//
// Failed expectations are reported in the result; the returned error is
// reserved for scenarios that cannot run at all: a program that does not
// compile or load, or a step naming an unknown query.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	prog, err := loadProgram(scenario)
	if err != nil {
		return nil, err
	}

	backend, cleanup, err := openBackend(scenario.Backend)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	eng, err := engine.New(backend,
		engine.WithLogger(o.logger),
		engine.WithQueryIDGenerator(testutil.NewFixedIDGenerator(scenario.QueryID)),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	defer eng.Close()

	if err := prog.Load(ctx, eng); err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}

	h := &Harness{engine: eng, logger: o.logger}
	result := NewResult()
	if err := h.runSteps(ctx, "", scenario.Steps, []*compiler.Program{prog}, result); err != nil {
		return nil, err
	}
	o.logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"steps", len(result.Trace),
	)
	return result, nil
}

func loadProgram(s *Scenario) (*compiler.Program, error) {
	if s.Program != "" {
		return compiler.LoadFile(s.Program)
	}
	prog, err := compiler.CompileSource(s.Name+".cue", []byte(s.Source))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return prog, nil
}

// openBackend opens the scenario backend. SQLite runs in a throwaway
// directory that cleanup removes.
func openBackend(kind string) (store.Backend, func(), error) {
	if kind != BackendSQLite {
		return memstore.New(), func() {}, nil
	}
	dir, err := os.MkdirTemp("", "factlog-scenario-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	s, err := sqlite.Open(filepath.Join(dir, "facts.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	return s, func() { os.RemoveAll(dir) }, nil
}

// runSteps executes steps in order. progs holds the programs in scope,
// innermost first: scope fragments, then the scenario program.
func (h *Harness) runSteps(ctx context.Context, prefix string, steps []Step, progs []*compiler.Program, result *Result) error {
	for i := range steps {
		st := &steps[i]
		id := strconv.Itoa(i + 1)
		if prefix != "" {
			id = prefix + "." + id
		}

		var err error
		switch st.Kind() {
		case KindStore:
			err = h.mutate(ctx, id, KindStore, st, result)
		case KindRetract:
			err = h.mutate(ctx, id, KindRetract, st, result)
		case KindQuery:
			err = h.query(ctx, id, st, progs, result)
		case KindScope:
			err = h.scope(ctx, id, st, progs, result)
		default:
			err = fmt.Errorf("step %s: no action", id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) mutate(ctx context.Context, id, kind string, st *Step, result *Result) error {
	raw := st.Store
	apply := h.engine.Store
	if kind == KindRetract {
		raw = st.Retract
		apply = h.engine.Retract
	}

	facts, err := h.facts(raw)
	if err == nil {
		err = apply(ctx, facts...)
	}
	h.record(result, id, st.ExpectError, err, TraceEvent{Step: id, Kind: kind, Count: len(raw)})
	return nil
}

// facts builds ground facts from [Predicate, key, key...] lists.
func (h *Harness) facts(raw [][]any) ([]logic.Fact, error) {
	facts := make([]logic.Fact, 0, len(raw))
	for _, f := range raw {
		name := f[0].(string)
		pred, ok := h.engine.Catalog().Lookup(name)
		if !ok {
			return nil, fmt.Errorf("predicate %s is not declared", name)
		}
		terms := make([]logic.Term, 0, len(f)-1)
		for _, arg := range f[1:] {
			v, err := ir.FromGo(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if !ir.IsKey(v) {
				return nil, fmt.Errorf("%s: %s is not a key", name, ir.MustCanonical(v))
			}
			terms = append(terms, logic.Key{Value: v})
		}
		fact, err := logic.NewFact(pred, terms...)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

func (h *Harness) query(ctx context.Context, id string, st *Step, progs []*compiler.Program, result *Result) error {
	patterns, ok := lookupQuery(progs, st.Query)
	if !ok {
		return fmt.Errorf("step %s: unknown query %q", id, st.Query)
	}

	ev := TraceEvent{Step: id, Kind: KindQuery, Query: st.Query}
	rows, err := h.engine.Query(ctx, patterns, engine.WithHydrate(st.Hydrate))
	var collected []engine.Row
	if err == nil {
		collected, err = engine.Collect(rows)
	}
	if err == nil {
		ev.QueryID = rows.QueryID()
		ev.Count = len(collected)
		ev.Rows = sortedObjects(collected)
	}
	h.record(result, id, st.ExpectError, err, ev)
	if err != nil {
		return nil
	}

	if st.Expect != nil {
		if aerr := assertRows(id, st.Expect, keyStrings(collected)); aerr != nil {
			result.AddError(aerr.Error())
		}
	}
	if st.ExpectCount != nil {
		if aerr := assertCount(id, *st.ExpectCount, len(collected)); aerr != nil {
			result.AddError(aerr.Error())
		}
	}
	return nil
}

// scope compiles the fragment against every program in scope, loads it in
// a fresh rule scope and runs the nested steps there.
func (h *Harness) scope(ctx context.Context, id string, st *Step, progs []*compiler.Program, result *Result) error {
	visible := &compiler.Program{}
	for _, p := range slices.Backward(progs) {
		visible.Predicates = append(visible.Predicates, p.Predicates...)
	}
	frag, err := visible.Extend("scope-"+id+".cue", []byte(st.Scope.Source))
	if err != nil {
		h.record(result, id, st.ExpectError, err, TraceEvent{Step: id, Kind: KindScope})
		return nil
	}

	var stepErr error
	err = h.engine.Rules().WithScope(ctx, func(ctx context.Context) error {
		if err := frag.Load(ctx, h.engine); err != nil {
			return err
		}
		h.record(result, id, st.ExpectError, nil, TraceEvent{Step: id, Kind: KindScope, Count: len(frag.Rules)})
		stepErr = h.runSteps(ctx, id, st.Scope.Steps, append([]*compiler.Program{frag}, progs...), result)
		return nil
	})
	if err != nil {
		h.record(result, id, st.ExpectError, err, TraceEvent{Step: id, Kind: KindScope})
	}
	return stepErr
}

// record appends the step event and checks the step error against the
// expected code.
func (h *Harness) record(result *Result, id, wantErr string, err error, ev TraceEvent) {
	if err != nil {
		ev.Error = errorCode(err)
		h.logger.Debug("step failed", "step", id, "error", err)
	}
	result.AddTrace(ev)
	if aerr := assertError(id, wantErr, err); aerr != nil {
		result.AddError(aerr.Error())
	}
}

func lookupQuery(progs []*compiler.Program, name string) ([]logic.Fact, bool) {
	for _, p := range progs {
		if q, ok := p.Query(name); ok {
			return q, true
		}
	}
	return nil, false
}

// errorCode maps a step error to a stable code for expectations and golden
// output.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case engine.ErrorCode(err) != "":
		return string(engine.ErrorCode(err))
	case rules.DefinitionErrorCode(err) != "":
		return string(rules.DefinitionErrorCode(err))
	case compiler.IsCompileError(err):
		return ErrCodeCompile
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELLED"
	default:
		return "ERROR"
	}
}

func sortedObjects(rows []engine.Row) []ir.Object {
	out := make([]ir.Object, len(rows))
	for i, r := range rows {
		out[i] = r.Object()
	}
	slices.SortFunc(out, func(a, b ir.Object) int {
		return cmp.Compare(ir.MustCanonical(a), ir.MustCanonical(b))
	})
	return out
}

func keyStrings(rows []engine.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = ir.MustCanonical(r.Keys.Object())
	}
	slices.Sort(out)
	return out
}
