package engine

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/planner"
	"github.com/roach88/factlog/internal/store"
)

// Row is one result of a query: the keys bound to the visible variables
// and, when hydration is on, the entities behind them. A key whose entity
// does not exist stays in Keys and is absent from Entities.
type Row struct {
	Keys     logic.Binding
	Entities map[string]store.Entity
}

// Key returns the key bound to a variable, or nil.
func (r Row) Key(name string) ir.Value {
	return r.Keys[name]
}

// Entity returns the hydrated entity bound to a variable.
func (r Row) Entity(name string) (store.Entity, bool) {
	e, ok := r.Entities[name]
	return e, ok
}

// Object renders the row as an ir.Object: each variable maps to its key,
// or to {"key": ..., "attrs": ...} when its entity was hydrated.
func (r Row) Object() ir.Object {
	out := make(ir.Object, len(r.Keys))
	for name, key := range r.Keys {
		if e, ok := r.Entities[name]; ok {
			out[name] = ir.Object{"key": key, "attrs": e.Attrs}
			continue
		}
		out[name] = key
	}
	return out
}

// Rows is the lazy result stream of a query. It is finite and cannot be
// restarted. Rows are distinct over the visible variables and come out in
// a deterministic order for a fixed store snapshot and plan.
//
// Without hydration each call to Next does only the work needed for the
// next row. With hydration the first Next materialises every row so that
// each entity type is loaded in a single batch.
//
// Rows is not safe for concurrent use.
type Rows struct {
	ctx     context.Context
	span    trace.Span
	id      string
	plan    *planner.Plan
	exec    *execution
	cursor  *cursor
	tel     *telemetry
	logger  *slog.Logger
	hydrate bool

	seen     map[string]bool
	buffered []Row
	bufPos   int
	ready    bool

	row    Row
	count  int
	err    error
	closed bool
}

// QueryID identifies the query in logs and spans.
func (r *Rows) QueryID() string { return r.id }

// Plan returns the plan the rows are produced by.
func (r *Rows) Plan() *planner.Plan { return r.plan }

// Next advances to the next row. It returns false when the stream is done
// or failed; check Err.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if r.hydrate {
		if !r.ready {
			if err := r.materialize(); err != nil {
				r.fail(err)
				return false
			}
		}
		if r.bufPos >= len(r.buffered) {
			r.Close()
			return false
		}
		r.row = r.buffered[r.bufPos]
		r.bufPos++
		r.count++
		return true
	}

	keys, ok, err := r.nextKeys()
	if err != nil {
		r.fail(err)
		return false
	}
	if !ok {
		r.Close()
		return false
	}
	r.row = Row{Keys: keys}
	r.count++
	return true
}

// nextKeys returns the next distinct visible binding.
func (r *Rows) nextKeys() (logic.Binding, bool, error) {
	for {
		b, ok, err := r.cursor.next(r.ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		visible := b.Visible()
		sig := visible.Signature()
		if r.seen[sig] {
			continue
		}
		r.seen[sig] = true
		return visible, true, nil
	}
}

// Row returns the current row.
func (r *Rows) Row() Row { return r.row }

// Err returns the error that stopped the stream, if any.
func (r *Rows) Err() error { return r.err }

// Close ends the stream. It is idempotent and always returns nil.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.tel.recordRows(r.ctx, r.count)
	r.span.SetAttributes(
		attribute.Int("factlog.rows", r.count),
		attribute.Int("factlog.tables", r.exec.ev.Tables()),
	)
	r.span.End()
	r.logger.Debug("query finished",
		"rows", r.count,
		"tables", r.exec.ev.Tables(),
		"error", r.err)
	return nil
}

// All iterates the remaining rows. A failure is yielded once, as the last
// element. The stream is closed when iteration stops.
func (r *Rows) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		defer r.Close()
		for r.Next() {
			if !yield(r.row, nil) {
				return
			}
		}
		if err := r.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}

// Collect drains rows into a slice.
func Collect(rows *Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		out = append(out, rows.Row())
	}
	return out, rows.Err()
}

func (r *Rows) fail(err error) {
	r.err = err
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.Close()
}

// materialize reads every row, then hydrates one batch per entity type.
func (r *Rows) materialize() error {
	r.ready = true
	var all []logic.Binding
	for {
		keys, ok, err := r.nextKeys()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		all = append(all, keys)
	}

	entities, err := r.hydrateAll(all)
	if err != nil {
		return err
	}
	types := variableTypes(r.plan)
	r.buffered = make([]Row, len(all))
	for i, keys := range all {
		row := Row{Keys: keys, Entities: make(map[string]store.Entity)}
		for name, key := range keys {
			if e, ok := entities[types[name]][store.EntityKey(key)]; ok {
				row.Entities[name] = e
			}
		}
		r.buffered[i] = row
	}
	return nil
}

// hydrateAll loads the entities behind every key of rows, concurrently
// across entity types with exactly one Hydrate call per type.
func (r *Rows) hydrateAll(rows []logic.Binding) (map[string]map[string]store.Entity, error) {
	types := variableTypes(r.plan)
	keysByType := make(map[string][]ir.Value)
	seen := make(map[string]map[string]bool)
	for _, row := range rows {
		for _, name := range sortedNames(row) {
			typ, ok := types[name]
			if !ok {
				continue
			}
			key := row[name]
			id := store.EntityKey(key)
			if seen[typ] == nil {
				seen[typ] = make(map[string]bool)
			}
			if seen[typ][id] {
				continue
			}
			seen[typ][id] = true
			keysByType[typ] = append(keysByType[typ], key)
		}
	}

	var (
		mu  sync.Mutex
		out = make(map[string]map[string]store.Entity, len(keysByType))
	)
	g, ctx := errgroup.WithContext(r.ctx)
	for typ, keys := range keysByType {
		g.Go(func() error {
			found, err := r.exec.backend.Hydrate(ctx, typ, keys)
			if err != nil {
				return err
			}
			mu.Lock()
			out[typ] = found
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.logger.Debug("rows hydrated", "rows", len(rows), "types", len(keysByType))
	return out, nil
}

// variableTypes maps each visible variable to the entity type of its first
// slot occurrence, in the order the query was written.
func variableTypes(plan *planner.Plan) map[string]string {
	steps := slices.Clone(plan.Steps)
	slices.SortFunc(steps, func(a, b planner.Step) int { return a.Index - b.Index })
	out := make(map[string]string)
	for _, s := range steps {
		types := s.Pattern.Predicate.SlotTypes()
		for i, t := range s.Pattern.Terms {
			v, ok := t.(logic.Variable)
			if !ok || v.Hidden {
				continue
			}
			if _, seen := out[v.Name]; !seen {
				out[v.Name] = types[i]
			}
		}
	}
	return out
}

func sortedNames(b logic.Binding) []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
