package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/store"
)

// compiler holds the predicates declared so far, so that facts, rules and
// queries can resolve names.
type compiler struct {
	preds map[string]logic.Predicate
}

func (c *compiler) predicates(v cue.Value) ([]logic.Predicate, error) {
	if !v.Exists() {
		return nil, errorf("predicate", v.Pos(), "at least one predicate is required")
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError("predicate", err)
	}

	var out []logic.Predicate
	for iter.Next() {
		name := iter.Label()
		field := "predicate." + name
		pv := iter.Value()

		stored := pv.LookupPath(cue.ParsePath("stored"))
		inferred := pv.LookupPath(cue.ParsePath("inferred"))
		if stored.Exists() == inferred.Exists() {
			return nil, errorf(field, pv.Pos(), "exactly one of stored or inferred is required")
		}
		slotsVal := stored
		if inferred.Exists() {
			slotsVal = inferred
		}
		slots, err := stringList(field, slotsVal)
		if err != nil {
			return nil, err
		}

		var p logic.Predicate
		if stored.Exists() {
			p, err = logic.NewStored(name, slots...)
		} else {
			p, err = logic.NewInferred(name, slots...)
		}
		if err != nil {
			return nil, errorf(field, pv.Pos(), "%v", err)
		}
		c.preds[name] = p
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errorf("predicate", v.Pos(), "at least one predicate is required")
	}
	return out, nil
}

// entities accepts two shapes per entity type: a struct keyed by entity key,
// or a list of {key, attrs} for integer keys.
func (c *compiler) entities(v cue.Value) ([]store.Entity, error) {
	if !v.Exists() {
		return nil, nil
	}
	types, err := v.Fields()
	if err != nil {
		return nil, formatCUEError("entity", err)
	}

	var out []store.Entity
	for types.Next() {
		typ := types.Label()
		field := "entity." + typ
		tv := types.Value()

		if tv.IncompleteKind() == cue.ListKind {
			items, err := tv.List()
			if err != nil {
				return nil, formatCUEError(field, err)
			}
			for i := 0; items.Next(); i++ {
				item := items.Value()
				itemField := fmt.Sprintf("%s[%d]", field, i)
				key, err := c.key(itemField+".key", item.LookupPath(cue.ParsePath("key")))
				if err != nil {
					return nil, err
				}
				attrs, err := attrsOf(itemField+".attrs", item.LookupPath(cue.ParsePath("attrs")))
				if err != nil {
					return nil, err
				}
				out = append(out, store.Entity{Type: typ, Key: key, Attrs: attrs})
			}
			continue
		}

		keys, err := tv.Fields()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		for keys.Next() {
			attrs, err := attrsOf(field+"."+keys.Label(), keys.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, store.Entity{Type: typ, Key: ir.String(keys.Label()), Attrs: attrs})
		}
	}
	return out, nil
}

func (c *compiler) facts(v cue.Value) ([]logic.Fact, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError("fact", err)
	}

	var out []logic.Fact
	for iter.Next() {
		name := iter.Label()
		field := "fact." + name
		p, ok := c.preds[name]
		if !ok {
			return nil, errorf(field, iter.Value().Pos(), "undeclared predicate %s", name)
		}
		if logic.IsInferred(p) {
			return nil, errorf(field, iter.Value().Pos(), "%s is inferred; only stored predicates have facts", name)
		}

		tuples, err := iter.Value().List()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		for i := 0; tuples.Next(); i++ {
			tf := fmt.Sprintf("%s[%d]", field, i)
			terms, err := c.terms(tf, tuples.Value())
			if err != nil {
				return nil, err
			}
			f, err := logic.NewFact(p, terms...)
			if err != nil {
				return nil, errorf(tf, tuples.Value().Pos(), "%v", err)
			}
			if _, ground := f.Ground(); !ground {
				return nil, errorf(tf, tuples.Value().Pos(), "facts cannot contain variables")
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func (c *compiler) rules(v cue.Value) ([]logic.Rule, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError("rule", err)
	}

	var out []logic.Rule
	for i := 0; iter.Next(); i++ {
		rv := iter.Value()
		field := fmt.Sprintf("rule[%d]", i)

		headVal := rv.LookupPath(cue.ParsePath("head"))
		if !headVal.Exists() {
			return nil, errorf(field, rv.Pos(), "head is required")
		}
		head, err := c.pattern(field+".head", headVal)
		if err != nil {
			return nil, err
		}
		if !head.Inferred() {
			return nil, errorf(field+".head", headVal.Pos(), "%s is stored; rule heads must be inferred predicates", head.Name())
		}

		bodyVal := rv.LookupPath(cue.ParsePath("body"))
		if !bodyVal.Exists() {
			return nil, errorf(field, rv.Pos(), "body is required")
		}
		body, err := c.body(field+".body", bodyVal)
		if err != nil {
			return nil, err
		}

		where, err := c.where(field+".where", rv.LookupPath(cue.ParsePath("where")))
		if err != nil {
			return nil, err
		}
		if body, err = applyWhere(field+".where", rv.Pos(), body, where); err != nil {
			return nil, err
		}
		out = append(out, logic.Rule{Head: head, Body: body})
	}
	return out, nil
}

// queries accepts a list of patterns or {match, where}.
func (c *compiler) queries(v cue.Value, prog *Program) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError("query", err)
	}

	for iter.Next() {
		name := iter.Label()
		field := "query." + name
		qv := iter.Value()

		matchVal, whereVal := qv, cue.Value{}
		if qv.IncompleteKind() == cue.StructKind {
			matchVal = qv.LookupPath(cue.ParsePath("match"))
			whereVal = qv.LookupPath(cue.ParsePath("where"))
			if !matchVal.Exists() {
				return errorf(field, qv.Pos(), "match is required")
			}
		}

		patterns, err := c.patterns(field+".match", matchVal)
		if err != nil {
			return err
		}
		if len(patterns) == 0 {
			return errorf(field, qv.Pos(), "a query needs at least one pattern")
		}
		where, err := c.where(field+".where", whereVal)
		if err != nil {
			return err
		}
		body, err := applyWhere(field+".where", qv.Pos(), logic.And(asBodies(patterns)...), where)
		if err != nil {
			return err
		}
		prog.queries[name] = logic.Leaves(body)
		prog.order = append(prog.order, name)
	}
	return nil
}

func (c *compiler) patterns(field string, v cue.Value) ([]logic.Fact, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	var out []logic.Fact
	for i := 0; iter.Next(); i++ {
		f, err := c.pattern(fmt.Sprintf("%s[%d]", field, i), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// pattern compiles ["Pred", term, ...].
func (c *compiler) pattern(field string, v cue.Value) (logic.Fact, error) {
	iter, err := v.List()
	if err != nil {
		return logic.Fact{}, formatCUEError(field, err)
	}
	if !iter.Next() {
		return logic.Fact{}, errorf(field, v.Pos(), "empty pattern")
	}
	name, err := iter.Value().String()
	if err != nil {
		return logic.Fact{}, errorf(field, iter.Value().Pos(), "pattern must start with a predicate name")
	}
	p, ok := c.preds[name]
	if !ok {
		return logic.Fact{}, errorf(field, iter.Value().Pos(), "undeclared predicate %s", name)
	}

	var terms []logic.Term
	for i := 1; iter.Next(); i++ {
		t, err := c.term(fmt.Sprintf("%s[%d]", field, i), iter.Value())
		if err != nil {
			return logic.Fact{}, err
		}
		terms = append(terms, t)
	}
	f, err := logic.NewFact(p, terms...)
	if err != nil {
		return logic.Fact{}, errorf(field, v.Pos(), "%v", err)
	}
	return f, nil
}

func (c *compiler) terms(field string, v cue.Value) ([]logic.Term, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	var out []logic.Term
	for i := 0; iter.Next(); i++ {
		t, err := c.term(fmt.Sprintf("%s[%d]", field, i), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// term compiles "?x" to a variable, "_" to a blank and anything else to a
// key.
func (c *compiler) term(field string, v cue.Value) (logic.Term, error) {
	if s, err := v.String(); err == nil {
		switch {
		case s == "_":
			return logic.Blank(), nil
		case strings.HasPrefix(s, "?"):
			if len(s) == 1 {
				return nil, errorf(field, v.Pos(), "variable has no name")
			}
			return logic.Var(s[1:]), nil
		}
	}
	key, err := c.key(field, v)
	if err != nil {
		return nil, err
	}
	return logic.Key{Value: key}, nil
}

func (c *compiler) key(field string, v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, _ := v.String()
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.Int(n), nil
	default:
		return nil, errorf(field, v.Pos(), "entity keys must be strings or integers, got %v", v.Kind())
	}
}

// body compiles a rule body. A pattern is a leaf, a list of bodies is a
// conjunction and {any: [...]} is a disjunction.
func (c *compiler) body(field string, v cue.Value) (logic.Body, error) {
	switch v.IncompleteKind() {
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		if !iter.Next() {
			return nil, errorf(field, v.Pos(), "empty body")
		}
		if iter.Value().IncompleteKind() == cue.StringKind {
			return c.pattern(field, v)
		}

		var parts []logic.Body
		for i := 0; ; i++ {
			part, err := c.body(fmt.Sprintf("%s[%d]", field, i), iter.Value())
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			if !iter.Next() {
				break
			}
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return logic.And(parts...), nil

	case cue.StructKind:
		anyVal := v.LookupPath(cue.ParsePath("any"))
		if !anyVal.Exists() {
			return nil, errorf(field, v.Pos(), "a body struct must have an any field")
		}
		iter, err := anyVal.List()
		if err != nil {
			return nil, formatCUEError(field+".any", err)
		}
		var alts []logic.Body
		for i := 0; iter.Next(); i++ {
			alt, err := c.body(fmt.Sprintf("%s.any[%d]", field, i), iter.Value())
			if err != nil {
				return nil, err
			}
			alts = append(alts, alt)
		}
		if len(alts) == 0 {
			return nil, errorf(field+".any", anyVal.Pos(), "any needs at least one alternative")
		}
		return logic.Or(alts...), nil

	default:
		return nil, errorf(field, v.Pos(), "body must be a pattern, a list or {any: [...]}")
	}
}

// where compiles {var: {field: spec}} into one constraint per variable.
func (c *compiler) where(field string, v cue.Value) (map[string]constraint.Constraint, error) {
	if !v.Exists() {
		return nil, nil
	}
	vars, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(field, err)
	}

	out := make(map[string]constraint.Constraint)
	for vars.Next() {
		name := strings.TrimPrefix(vars.Label(), "?")
		vf := field + "." + name
		fields, err := vars.Value().Fields()
		if err != nil {
			return nil, formatCUEError(vf, err)
		}
		var cs []constraint.Constraint
		for fields.Next() {
			fc, err := fieldConstraint(vf+"."+fields.Label(), fields.Label(), fields.Value())
			if err != nil {
				return nil, err
			}
			cs = append(cs, fc)
		}
		merged := constraint.Merge(cs...)
		if merged == nil {
			continue
		}
		if err := constraint.Validate(merged); err != nil {
			return nil, errorf(vf, vars.Value().Pos(), "%v", err)
		}
		out[name] = merged
	}
	return out, nil
}

var operators = map[string]func(constraint.Field, ir.Value) constraint.Constraint{
	"eq": constraint.Field.Eq,
	"ne": constraint.Field.Ne,
	"gt": constraint.Field.Gt,
	"ge": constraint.Field.Ge,
	"lt": constraint.Field.Lt,
	"le": constraint.Field.Le,
}

// fieldConstraint compiles one field spec:
//
//	age: 30            equality
//	company: "?c"      reference to the entity bound to ?c
//	status: ["a", "b"] membership
//	age: {gt: 18, le: 65, ne: 40, in: [...], ref: "?c", not: {...}}
func fieldConstraint(path, name string, v cue.Value) (constraint.Constraint, error) {
	f := constraint.Field(name)
	switch v.IncompleteKind() {
	case cue.ListKind:
		values, err := valueList(path, v)
		if err != nil {
			return nil, err
		}
		return f.In(values...), nil

	case cue.StructKind:
		ops, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(path, err)
		}
		var cs []constraint.Constraint
		for ops.Next() {
			op, ov := ops.Label(), ops.Value()
			opPath := path + "." + op
			switch op {
			case "in":
				values, err := valueList(opPath, ov)
				if err != nil {
					return nil, err
				}
				cs = append(cs, f.In(values...))
			case "ref":
				s, err := ov.String()
				if err != nil {
					return nil, errorf(opPath, ov.Pos(), "ref must name a variable")
				}
				cs = append(cs, f.Ref(strings.TrimPrefix(s, "?")))
			case "not":
				inner, err := fieldConstraint(opPath, name, ov)
				if err != nil {
					return nil, err
				}
				cs = append(cs, constraint.Not{Term: inner})
			default:
				build, ok := operators[op]
				if !ok {
					return nil, errorf(opPath, ov.Pos(), "unknown operator %q", op)
				}
				if ref, ok := refName(ov); ok && op == "eq" {
					cs = append(cs, f.Ref(ref))
					continue
				}
				val, err := valueOf(opPath, ov)
				if err != nil {
					return nil, err
				}
				cs = append(cs, build(f, val))
			}
		}
		return constraint.Merge(cs...), nil

	default:
		if ref, ok := refName(v); ok {
			return f.Ref(ref), nil
		}
		val, err := valueOf(path, v)
		if err != nil {
			return nil, err
		}
		return f.Eq(val), nil
	}
}

func refName(v cue.Value) (string, bool) {
	s, err := v.String()
	if err != nil || len(s) < 2 || s[0] != '?' {
		return "", false
	}
	return s[1:], true
}

// applyWhere merges each variable's constraint into every occurrence of the
// variable in b. A constraint on a variable that b never uses is an error.
func applyWhere(field string, pos token.Pos, b logic.Body, where map[string]constraint.Constraint) (logic.Body, error) {
	if len(where) == 0 {
		return b, nil
	}
	used := make(map[string]bool)
	out := rewrite(b, func(f logic.Fact) logic.Fact {
		terms := make([]logic.Term, len(f.Terms))
		for i, t := range f.Terms {
			if v, ok := t.(logic.Variable); ok {
				if c, ok := where[v.Name]; ok {
					used[v.Name] = true
					t = v.With(c)
				}
			}
			terms[i] = t
		}
		return f.WithTerms(terms)
	})
	for _, name := range sortedKeys(where) {
		if !used[name] {
			return nil, errorf(field, pos, "constraint on ?%s, which no pattern uses", name)
		}
	}
	return out, nil
}

func rewrite(b logic.Body, fn func(logic.Fact) logic.Fact) logic.Body {
	switch n := b.(type) {
	case logic.Fact:
		return fn(n)
	case logic.Conj:
		parts := make([]logic.Body, len(n.Parts))
		for i, p := range n.Parts {
			parts[i] = rewrite(p, fn)
		}
		return logic.Conj{Parts: parts}
	case logic.Disj:
		parts := make([]logic.Body, len(n.Parts))
		for i, p := range n.Parts {
			parts[i] = rewrite(p, fn)
		}
		return logic.Disj{Parts: parts}
	}
	return b
}

func asBodies(facts []logic.Fact) []logic.Body {
	out := make([]logic.Body, len(facts))
	for i, f := range facts {
		out[i] = f
	}
	return out
}
