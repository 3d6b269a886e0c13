package compiler

import (
	"context"
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/store"
)

// Program is a compiled factlog program: the predicates it declares, the
// entities and facts it loads, its rules and its named queries.
type Program struct {
	Predicates []logic.Predicate
	Entities   []store.Entity
	Facts      []logic.Fact
	Rules      []logic.Rule

	queries map[string][]logic.Fact
	order   []string
}

// Query returns the patterns of a named query.
func (p *Program) Query(name string) ([]logic.Fact, bool) {
	q, ok := p.queries[name]
	return q, ok
}

// QueryNames returns the query names in declaration order.
func (p *Program) QueryNames() []string {
	return slices.Clone(p.order)
}

// Catalog builds a predicate catalog of the program's predicates.
func (p *Program) Catalog() (*logic.Catalog, error) {
	return logic.NewCatalog(p.Predicates...)
}

// Target is what a program loads into. *engine.Engine implements it.
type Target interface {
	Declare(ctx context.Context, preds ...logic.Predicate) error
	Define(ctx context.Context, head logic.Fact, body logic.Body) error
	Store(ctx context.Context, facts ...logic.Fact) error
	PutEntities(ctx context.Context, entities ...store.Entity) error
}

// Load declares the program's predicates, stores its entities and facts,
// then defines its rules. Rules land in whatever scope ctx carries.
func (p *Program) Load(ctx context.Context, t Target) error {
	if err := t.Declare(ctx, p.Predicates...); err != nil {
		return fmt.Errorf("declare predicates: %w", err)
	}
	if len(p.Entities) > 0 {
		if err := t.PutEntities(ctx, p.Entities...); err != nil {
			return err
		}
	}
	if len(p.Facts) > 0 {
		if err := t.Store(ctx, p.Facts...); err != nil {
			return err
		}
	}
	for _, r := range p.Rules {
		if err := t.Define(ctx, r.Head, r.Body); err != nil {
			return fmt.Errorf("define %s: %w", r.Head.Name(), err)
		}
	}
	return nil
}

// CompileSource compiles CUE source text. name is used in error positions.
func CompileSource(name string, src []byte) (*Program, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(name))
	return CompileProgram(v)
}

// CompileProgram compiles a CUE value with top-level predicate, entity,
// fact, rule and query fields. Only predicate is required.
//
//	predicate: {
//		ParentOf:      {stored: ["person", "person"]}
//		GrandparentOf: {inferred: ["person", "person"]}
//	}
//	entity: person: john: {age: 72}
//	fact: ParentOf: [["john", "alice"]]
//	rule: [{
//		head: ["GrandparentOf", "?g", "?c"]
//		body: [["ParentOf", "?g", "?p"], ["ParentOf", "?p", "?c"]]
//	}]
//	query: old: {
//		match: [["GrandparentOf", "?g", "?c"]]
//		where: g: age: {gt: 60}
//	}
func CompileProgram(v cue.Value) (*Program, error) {
	c := &compiler{preds: make(map[string]logic.Predicate)}
	return c.program(v, true)
}

// Extend compiles a fragment against p: the fragment may use p's predicates
// and declare new ones. The returned program holds only what the fragment
// itself contains.
func (p *Program) Extend(name string, src []byte) (*Program, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(name))
	c := &compiler{preds: make(map[string]logic.Predicate)}
	for _, pred := range p.Predicates {
		c.preds[pred.Name()] = pred
	}
	return c.program(v, false)
}

func (c *compiler) program(v cue.Value, needPredicates bool) (*Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("cue", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("cue", err)
	}

	prog := &Program{queries: make(map[string][]logic.Fact)}
	var err error
	if pv := v.LookupPath(cue.ParsePath("predicate")); pv.Exists() || needPredicates {
		if prog.Predicates, err = c.predicates(pv); err != nil {
			return nil, err
		}
	}
	if prog.Entities, err = c.entities(v.LookupPath(cue.ParsePath("entity"))); err != nil {
		return nil, err
	}
	if prog.Facts, err = c.facts(v.LookupPath(cue.ParsePath("fact"))); err != nil {
		return nil, err
	}
	if prog.Rules, err = c.rules(v.LookupPath(cue.ParsePath("rule"))); err != nil {
		return nil, err
	}
	if err := c.queries(v.LookupPath(cue.ParsePath("query")), prog); err != nil {
		return nil, err
	}
	return prog, nil
}
