package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/planner"
	"github.com/roach88/factlog/internal/rules"
	"github.com/roach88/factlog/internal/store"
	"github.com/roach88/factlog/internal/timing"
)

// Engine answers queries over a storage backend using the rules in its
// registry.
//
// Thread-safety model:
//   - Query, Explain, Store, Retract: safe from any goroutine
//   - Rows: confined to the goroutine that reads them
//   - Rule scopes travel in the context, so concurrent queries only see
//     their own scoped rules plus the shared base rules
type Engine struct {
	backend  store.Backend
	catalog  *logic.Catalog
	registry *rules.Registry
	timing   *timing.Store
	planner  *planner.Planner
	logger   *slog.Logger
	ids      QueryIDGenerator
	tel      *telemetry

	defaultCost    float64
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimingStore shares a timing store, for example between engines over
// the same data.
func WithTimingStore(ts *timing.Store) Option {
	return func(e *Engine) { e.timing = ts }
}

// WithDefaultCost sets the static cost, in seconds, of a pattern with no
// bound slot and no constraint. Default: planner.DefaultCost.
func WithDefaultCost(seconds float64) Option {
	return func(e *Engine) { e.defaultCost = seconds }
}

// WithCatalog uses an existing predicate catalog.
func WithCatalog(c *logic.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithQueryIDGenerator sets the query id source. Default: UUIDv7Generator.
func WithQueryIDGenerator(g QueryIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithTracerProvider sets the tracer provider. Default: the otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Default: the otel global.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates an engine over backend.
func New(backend store.Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("engine: nil backend")
	}
	e := &Engine{
		backend:     backend,
		logger:      slog.Default(),
		ids:         UUIDv7Generator{},
		defaultCost: planner.DefaultCost,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		e.catalog, _ = logic.NewCatalog()
	}
	if e.timing == nil {
		e.timing = timing.NewDefault()
	}
	e.registry = rules.New(e.catalog, rules.WithLogger(e.logger))
	e.planner = planner.New(e.timing, planner.WithDefaultCost(e.defaultCost))
	e.tel = newTelemetry(e.tracerProvider, e.meterProvider)
	return e, nil
}

// Rules returns the rule registry. Use it to Define rules and to Enter
// scopes.
func (e *Engine) Rules() *rules.Registry { return e.registry }

// Catalog returns the predicate catalog.
func (e *Engine) Catalog() *logic.Catalog { return e.catalog }

// Timing returns the adaptive timing store.
func (e *Engine) Timing() *timing.Store { return e.timing }

// Backend returns the storage backend.
func (e *Engine) Backend() store.Backend { return e.backend }

// Define registers a rule. See rules.Registry.Define.
func (e *Engine) Define(ctx context.Context, head logic.Fact, body logic.Body) error {
	return e.registry.Define(ctx, head, body)
}

// Declare adds predicates to the catalog and creates relations for the
// stored ones.
func (e *Engine) Declare(ctx context.Context, preds ...logic.Predicate) error {
	if err := e.catalog.Declare(preds...); err != nil {
		return err
	}
	for _, p := range preds {
		sp, ok := p.(*logic.StoredPredicate)
		if !ok {
			continue
		}
		if err := e.backend.Declare(ctx, sp); err != nil {
			return fmt.Errorf("declare %s: %w", sp.Name(), err)
		}
	}
	return nil
}

// Store persists ground facts of stored predicates. Facts are grouped by
// predicate and storing an existing fact is a no-op. Nothing is stored when
// any fact is not storable.
func (e *Engine) Store(ctx context.Context, facts ...logic.Fact) error {
	if err := e.checkStorable(facts); err != nil {
		return err
	}
	if err := e.backend.Store(ctx, facts...); err != nil {
		return fmt.Errorf("store facts: %w", err)
	}
	e.logger.Debug("facts stored", "count", len(facts))
	return nil
}

// Retract removes ground facts. Missing facts are ignored.
func (e *Engine) Retract(ctx context.Context, facts ...logic.Fact) error {
	if err := e.checkStorable(facts); err != nil {
		return err
	}
	if err := e.backend.Retract(ctx, facts...); err != nil {
		return fmt.Errorf("retract facts: %w", err)
	}
	e.logger.Debug("facts retracted", "count", len(facts))
	return nil
}

func (e *Engine) checkStorable(facts []logic.Fact) error {
	var preds []logic.Predicate
	seen := make(map[string]bool)
	for _, f := range facts {
		name := ""
		if f.Predicate != nil {
			name = f.Name()
		}
		if _, err := store.Ground(f); err != nil {
			if errors.Is(err, store.ErrNotStorable) {
				return newNotStorableError(name, err)
			}
			return fmt.Errorf("invalid fact: %w", err)
		}
		if !seen[name] {
			seen[name] = true
			preds = append(preds, f.Predicate)
		}
	}
	return e.catalog.Declare(preds...)
}

// PutEntities inserts or replaces entities in the backend.
func (e *Engine) PutEntities(ctx context.Context, entities ...store.Entity) error {
	if err := e.backend.PutEntities(ctx, entities...); err != nil {
		return fmt.Errorf("put entities: %w", err)
	}
	return nil
}

// Explain plans patterns without running them.
func (e *Engine) Explain(_ context.Context, patterns []logic.Fact) (*planner.Plan, error) {
	return e.planner.Plan(patterns)
}

// TimingStats returns the timing aggregates per pattern key.
func (e *Engine) TimingStats() map[string]timing.Stat {
	return e.timing.Stats()
}

// QueryOption configures a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	hydrate  bool
	observer func(*planner.Plan)
}

// WithHydrate turns entity hydration on or off. Default: on.
func WithHydrate(on bool) QueryOption {
	return func(o *queryOptions) { o.hydrate = on }
}

// WithPlanObserver receives the plan before the first row is produced.
func WithPlanObserver(fn func(*planner.Plan)) QueryOption {
	return func(o *queryOptions) { o.observer = fn }
}

// Query plans patterns and returns the lazy row stream. The rules visible
// through ctx when Query is called are used for the whole stream.
//
// A pattern whose predicate is backed by nothing fails here with
// ErrUndefinedPredicate: a stored predicate that was never declared or
// stored into, or an inferred predicate with no visible rule. An inferred
// predicate without rules deeper in the rules surfaces through Rows.Err.
func (e *Engine) Query(ctx context.Context, patterns []logic.Fact, opts ...QueryOption) (*Rows, error) {
	o := queryOptions{hydrate: true}
	for _, opt := range opts {
		opt(&o)
	}

	id := e.ids.Generate()
	plan, err := e.planner.Plan(patterns)
	if err != nil {
		return nil, fmt.Errorf("plan query %s: %w", id, err)
	}

	snapshot := e.registry.Snapshot(ctx)
	for _, s := range plan.Steps {
		defined := e.catalog.Declared(s.Pattern.Predicate)
		if s.Kind == planner.KindInferred {
			defined = len(snapshot.Rules(s.Pattern.Name())) > 0
		}
		if !defined {
			re := newUndefinedPredicateError(s.Pattern.Name())
			re.QueryID = id
			return nil, re
		}
	}
	if o.observer != nil {
		o.observer(plan)
	}

	logger := e.logger.With("query_id", id)
	logger.Debug("query planned", "steps", len(plan.Steps), "hydrate", o.hydrate)

	ctx, span := e.tel.startQuerySpan(ctx, id, len(patterns))
	ev := newEvaluator(e.backend, snapshot, e.timing, logger)
	x := newExecution(plan, e.backend, ev, e.timing, e.tel)
	return &Rows{
		ctx:     ctx,
		span:    span,
		id:      id,
		plan:    plan,
		exec:    x,
		cursor:  newCursor(x),
		tel:     e.tel,
		logger:  logger,
		hydrate: o.hydrate,
		seen:    make(map[string]bool),
	}, nil
}

// Close closes the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}
