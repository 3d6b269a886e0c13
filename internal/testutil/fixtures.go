package testutil

import (
	"context"
	"fmt"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/store"
)

// Dataset is a fixture: predicates to declare, rules to define, facts and
// entities to load.
type Dataset struct {
	Predicates []logic.Predicate
	Rules      []logic.Rule
	Facts      []logic.Fact
	Entities   []store.Entity
}

// Loader is what a dataset loads into. *engine.Engine implements it.
type Loader interface {
	Declare(ctx context.Context, preds ...logic.Predicate) error
	Define(ctx context.Context, head logic.Fact, body logic.Body) error
	Store(ctx context.Context, facts ...logic.Fact) error
	PutEntities(ctx context.Context, entities ...store.Entity) error
}

// Load declares the predicates, then defines the rules and stores the
// facts and entities.
func (d Dataset) Load(ctx context.Context, l Loader) error {
	if err := l.Declare(ctx, d.Predicates...); err != nil {
		return fmt.Errorf("declare: %w", err)
	}
	for _, r := range d.Rules {
		if err := l.Define(ctx, r.Head, r.Body); err != nil {
			return fmt.Errorf("define %s: %w", r.Head.Name(), err)
		}
	}
	if len(d.Facts) > 0 {
		if err := l.Store(ctx, d.Facts...); err != nil {
			return err
		}
	}
	if len(d.Entities) > 0 {
		if err := l.PutEntities(ctx, d.Entities...); err != nil {
			return err
		}
	}
	return nil
}

// Combine concatenates datasets.
func Combine(ds ...Dataset) Dataset {
	var out Dataset
	for _, d := range ds {
		out.Predicates = append(out.Predicates, d.Predicates...)
		out.Rules = append(out.Rules, d.Rules...)
		out.Facts = append(out.Facts, d.Facts...)
		out.Entities = append(out.Entities, d.Entities...)
	}
	return out
}

func v(name string, where ...constraint.Constraint) logic.Variable {
	return logic.Var(name, where...)
}

func person(key string, age int64) store.Entity {
	return store.Entity{Type: "person", Key: ir.String(key), Attrs: ir.Object{"age": ir.Int(age)}}
}

// Family predicates.
var (
	ParentOf      = logic.Stored("ParentOf", "person", "person")
	GrandparentOf = logic.Inferred("GrandparentOf", "person", "person")
	AncestorOf    = logic.Inferred("AncestorOf", "person", "person")
)

// Family is three generations: john -> alice -> {bob, carol}, mary -> alice,
// plus dave -> erin. Every person has an age.
//
//	GrandparentOf(?g, ?c) :- ParentOf(?g, ?p), ParentOf(?p, ?c)
//	AncestorOf(?a, ?d)    :- ParentOf(?a, ?d) ; ParentOf(?a, ?x), AncestorOf(?x, ?d)
func Family() Dataset {
	k := logic.K
	return Dataset{
		Predicates: []logic.Predicate{ParentOf, GrandparentOf, AncestorOf},
		Rules: []logic.Rule{
			{
				Head: GrandparentOf.Fact(v("g"), v("c")),
				Body: logic.And(ParentOf.Fact(v("g"), v("p")), ParentOf.Fact(v("p"), v("c"))),
			},
			{
				Head: AncestorOf.Fact(v("a"), v("d")),
				Body: logic.Or(
					ParentOf.Fact(v("a"), v("d")),
					logic.And(ParentOf.Fact(v("a"), v("x")), AncestorOf.Fact(v("x"), v("d"))),
				),
			},
		},
		Facts: []logic.Fact{
			ParentOf.Fact(k("john"), k("alice")),
			ParentOf.Fact(k("mary"), k("alice")),
			ParentOf.Fact(k("alice"), k("bob")),
			ParentOf.Fact(k("alice"), k("carol")),
			ParentOf.Fact(k("dave"), k("erin")),
		},
		Entities: []store.Entity{
			person("john", 72), person("mary", 58), person("alice", 45),
			person("bob", 19), person("carol", 16), person("dave", 66),
			person("erin", 40),
		},
	}
}

// Access predicates.
var (
	Owns       = logic.Stored("Owns", "user", "doc")
	MemberOf   = logic.Stored("MemberOf", "user", "team")
	TeamShares = logic.Stored("TeamShares", "team", "doc")
	HasAccess  = logic.Inferred("HasAccess", "user", "doc")
)

// Access grants a user a document they own, or one shared with a team they
// belong to. ann owns d1 and is in eng, which shares d1 and d2.
//
//	HasAccess(?u, ?d) :- Owns(?u, ?d) ; MemberOf(?u, ?t), TeamShares(?t, ?d)
func Access() Dataset {
	k := logic.K
	return Dataset{
		Predicates: []logic.Predicate{Owns, MemberOf, TeamShares, HasAccess},
		Rules: []logic.Rule{{
			Head: HasAccess.Fact(v("u"), v("d")),
			Body: logic.Or(
				Owns.Fact(v("u"), v("d")),
				logic.And(MemberOf.Fact(v("u"), v("t")), TeamShares.Fact(v("t"), v("d"))),
			),
		}},
		Facts: []logic.Fact{
			Owns.Fact(k("ann"), k("d1")),
			Owns.Fact(k("ben"), k("d3")),
			MemberOf.Fact(k("ann"), k("eng")),
			MemberOf.Fact(k("cat"), k("ops")),
			TeamShares.Fact(k("eng"), k("d1")),
			TeamShares.Fact(k("eng"), k("d2")),
		},
	}
}

// Work predicates.
var (
	WorksFor = logic.Stored("WorksFor", "employee", "company")
	WorksOn  = logic.Stored("WorksOn", "employee", "project")
)

// Work has employees working on projects of their own company and of other
// companies. Projects carry a company attribute.
func Work() Dataset {
	k := logic.K
	project := func(key, company string) store.Entity {
		return store.Entity{Type: "project", Key: ir.String(key), Attrs: ir.Object{"company": ir.String(company)}}
	}
	return Dataset{
		Predicates: []logic.Predicate{WorksFor, WorksOn},
		Facts: []logic.Fact{
			WorksFor.Fact(k("alice"), k("acme")),
			WorksFor.Fact(k("bob"), k("globex")),
			WorksOn.Fact(k("alice"), k("rocket")),
			WorksOn.Fact(k("alice"), k("portal")),
			WorksOn.Fact(k("bob"), k("portal")),
			WorksOn.Fact(k("bob"), k("rocket")),
		},
		Entities: []store.Entity{
			project("rocket", "acme"),
			project("portal", "globex"),
		},
	}
}

// Graph predicates.
var (
	Edge  = logic.Stored("Edge", "node", "node")
	Reach = logic.Inferred("Reach", "node", "node")
)

// Cycle is the graph a -> b -> c -> a with a right-recursive reachability
// rule.
//
//	Reach(?x, ?y) :- Edge(?x, ?y) ; Edge(?x, ?z), Reach(?z, ?y)
func Cycle() Dataset {
	k := logic.K
	return Dataset{
		Predicates: []logic.Predicate{Edge, Reach},
		Rules: []logic.Rule{{
			Head: Reach.Fact(v("x"), v("y")),
			Body: logic.Or(
				Edge.Fact(v("x"), v("y")),
				logic.And(Edge.Fact(v("x"), v("z")), Reach.Fact(v("z"), v("y"))),
			),
		}},
		Facts: []logic.Fact{
			Edge.Fact(k("a"), k("b")),
			Edge.Fact(k("b"), k("c")),
			Edge.Fact(k("c"), k("a")),
		},
	}
}
