package rules

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/factlog/internal/logic"
)

// frame is an immutable set of rules keyed by head predicate name.
// Adding a rule produces a new frame; readers holding the old one are
// unaffected.
type frame struct {
	rules map[string][]logic.Rule
	count int
}

var emptyFrame = &frame{rules: map[string][]logic.Rule{}}

func (f *frame) with(r logic.Rule) *frame {
	next := &frame{rules: make(map[string][]logic.Rule, len(f.rules)+1), count: f.count + 1}
	for k, v := range f.rules {
		next.rules[k] = v
	}
	name := r.Head.Name()
	next.rules[name] = append(slices.Clip(f.rules[name]), r)
	return next
}

// Registry holds rule definitions: a shared base frame plus any number of
// scopes carried by contexts.
//
// Rules defined with a context that carries no open scope go to the base
// frame and are visible to every caller. Rules defined inside a scope are
// visible only through contexts derived from that scope, so concurrent
// requests cannot see each other's temporary rules.
type Registry struct {
	catalog *logic.Catalog
	logger  *slog.Logger

	mu   sync.RWMutex
	base *frame
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry validating rules against catalog.
func New(catalog *logic.Catalog, opts ...Option) *Registry {
	r := &Registry{
		catalog: catalog,
		logger:  slog.Default(),
		base:    emptyFrame,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the predicate catalog rules are validated against.
func (r *Registry) Catalog() *logic.Catalog {
	return r.catalog
}

// Define registers head :- body. See DefineRule.
func (r *Registry) Define(ctx context.Context, head logic.Fact, body logic.Body) error {
	return r.DefineRule(ctx, logic.Rule{Head: head, Body: body})
}

// DefineRule validates the rule and adds it to the innermost open scope of
// ctx, or to the base frame when ctx has none. On a DefinitionError nothing
// is registered.
func (r *Registry) DefineRule(ctx context.Context, rule logic.Rule) error {
	if err := validateRule(r.catalog, rule); err != nil {
		return err
	}

	if s := r.scopeFrom(ctx); s != nil {
		if err := s.add(rule); err != nil {
			return err
		}
		r.logger.Debug("rule defined",
			"predicate", rule.Head.Name(),
			"scope_depth", s.depth)
		return nil
	}

	r.mu.Lock()
	r.base = r.base.with(rule)
	r.mu.Unlock()

	r.logger.Debug("rule defined",
		"predicate", rule.Head.Name(),
		"scope_depth", 0)
	return nil
}

// Rules returns the rules for a predicate visible from ctx: the base frame's
// first, then each open scope from outermost to innermost.
func (r *Registry) Rules(ctx context.Context, predicate string) []logic.Rule {
	return r.Snapshot(ctx).Rules(predicate)
}

// Snapshot captures the frames visible from ctx. Later definitions do not
// affect it, which gives a query one consistent view of the rules.
func (r *Registry) Snapshot(ctx context.Context) *Snapshot {
	r.mu.RLock()
	frames := []*frame{r.base}
	r.mu.RUnlock()

	var scoped []*frame
	for s := r.scopeFrom(ctx); s != nil; s = s.parent {
		if f := s.snapshot(); f != nil {
			scoped = append(scoped, f)
		}
	}
	slices.Reverse(scoped)
	return &Snapshot{frames: append(frames, scoped...)}
}

// Reset drops every base rule. Scopes are unaffected.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.base = emptyFrame
	r.mu.Unlock()
}

// Snapshot is an immutable view over the rules visible to one caller.
type Snapshot struct {
	frames []*frame
}

// Rules returns the union of every frame's rules for a predicate,
// outermost frame first.
func (s *Snapshot) Rules(predicate string) []logic.Rule {
	var out []logic.Rule
	for _, f := range s.frames {
		out = append(out, f.rules[predicate]...)
	}
	return out
}

// All returns every visible rule, grouped by frame.
func (s *Snapshot) All() []logic.Rule {
	var out []logic.Rule
	for _, f := range s.frames {
		names := make([]string, 0, len(f.rules))
		for name := range f.rules {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			out = append(out, f.rules[name]...)
		}
	}
	return out
}

// Count is the number of visible rules.
func (s *Snapshot) Count() int {
	n := 0
	for _, f := range s.frames {
		n += f.count
	}
	return n
}

// Depth is the number of open scopes captured, excluding the base frame.
func (s *Snapshot) Depth() int {
	return len(s.frames) - 1
}
