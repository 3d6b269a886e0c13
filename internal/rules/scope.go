package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/factlog/internal/logic"
)

// scopeKey is per registry so that scopes of different registries can share
// a context chain.
type scopeKey struct {
	registry *Registry
}

// Scope is one pushed frame. It is created by Enter and removed by Exit.
//
// A scope belongs to the context chain that created it. Exiting a scope
// also hides every scope entered beneath it, even if the caller still holds
// a context that references them.
type Scope struct {
	registry *Registry
	parent   *Scope
	depth    int

	mu     sync.Mutex
	frame  *frame
	closed bool
}

// Enter pushes an empty frame. The frame is visible only through the
// returned context and contexts derived from it.
func (r *Registry) Enter(ctx context.Context) (context.Context, *Scope) {
	parent := r.scopeFrom(ctx)
	depth := 1
	if parent != nil {
		depth = parent.depth + 1
	}
	s := &Scope{registry: r, parent: parent, depth: depth, frame: emptyFrame}
	r.logger.Debug("rule scope entered", "scope_depth", depth)
	return context.WithValue(ctx, scopeKey{registry: r}, s), s
}

// Exit pops the scope and discards its rules. Exit is idempotent.
func (s *Scope) Exit() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.frame = emptyFrame
	s.mu.Unlock()

	if !already {
		s.registry.logger.Debug("rule scope exited", "scope_depth", s.depth)
	}
}

// Depth is 1 for an outermost scope.
func (s *Scope) Depth() int {
	return s.depth
}

// Define registers a rule directly in this scope.
func (s *Scope) Define(head logic.Fact, body logic.Body) error {
	rule := logic.Rule{Head: head, Body: body}
	if err := validateRule(s.registry.catalog, rule); err != nil {
		return err
	}
	return s.add(rule)
}

func (s *Scope) add(rule logic.Rule) error {
	if !s.open() {
		return fmt.Errorf("define %s: %w", rule.Head.Name(), ErrScopeClosed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = s.frame.with(rule)
	return nil
}

// open reports whether the scope and all its ancestors are still open.
func (s *Scope) open() bool {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		closed := cur.closed
		cur.mu.Unlock()
		if closed {
			return false
		}
	}
	return true
}

func (s *Scope) snapshot() *frame {
	if !s.open() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// scopeFrom returns the innermost scope of r carried by ctx.
func (r *Registry) scopeFrom(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{registry: r}).(*Scope)
	return s
}

// WithScope runs fn inside a fresh scope and always exits it afterwards,
// including when fn returns an error or panics.
func (r *Registry) WithScope(ctx context.Context, fn func(ctx context.Context) error) error {
	scoped, s := r.Enter(ctx)
	defer s.Exit()
	return fn(scoped)
}

// Context defines rules in a fresh scope, then runs fn inside it. This is
// the shorthand for temporary, query-local rule sets.
func (r *Registry) Context(ctx context.Context, rules []logic.Rule, fn func(ctx context.Context) error) error {
	return r.WithScope(ctx, func(ctx context.Context) error {
		for _, rule := range rules {
			if err := r.DefineRule(ctx, rule); err != nil {
				return err
			}
		}
		return fn(ctx)
	})
}
