package rules

import (
	"github.com/roach88/factlog/internal/logic"
)

// validateRule checks a rule against the catalog. The head predicate is
// declared on success if the catalog does not know it yet.
func validateRule(catalog *logic.Catalog, r logic.Rule) error {
	if r.Head.Predicate == nil {
		return newDefinitionError(ErrCodeMalformedBody, "", "rule head has no predicate")
	}
	name := r.Head.Name()

	if !r.Head.Inferred() {
		return newDefinitionError(ErrCodeHeadNotInferred, name,
			"rule head %s must be an inferred predicate, it is declared as stored", name)
	}
	if _, err := logic.NewFact(r.Head.Predicate, r.Head.Terms...); err != nil {
		return newDefinitionError(ErrCodeMalformedBody, name, "head: %v", err)
	}
	if err := logic.CheckBody(r.Body); err != nil {
		return newDefinitionError(ErrCodeMalformedBody, name, "%v", err)
	}

	bound := make(map[string]bool)
	for _, leaf := range logic.Leaves(r.Body) {
		if _, err := logic.NewFact(leaf.Predicate, leaf.Terms...); err != nil {
			return newDefinitionError(ErrCodeMalformedBody, name, "body: %v", err)
		}
		if leaf.Name() != name && !catalog.Declared(leaf.Predicate) {
			return newDefinitionError(ErrCodeUndeclaredPredicate, name,
				"body refers to undeclared predicate %s", leaf.Name())
		}
		for _, v := range leaf.Variables() {
			bound[v.Name] = true
		}
	}

	for _, v := range r.Head.Variables() {
		if !bound[v.Name] {
			return newDefinitionError(ErrCodeUnboundHeadVariable, name,
				"head variable ?%s does not appear in the body", v.Name)
		}
	}

	if err := catalog.Declare(r.Head.Predicate); err != nil {
		return newDefinitionError(ErrCodeMalformedBody, name, "%v", err)
	}
	return nil
}
