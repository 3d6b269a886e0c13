package planner

import (
	"fmt"
	"strings"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/logic"
)

// DefaultCost is the static cost, in seconds, of a pattern with no bound
// slot and no constraint.
const DefaultCost = 0.01

// PatternKey normalises a pattern for the timing store: the predicate name
// followed by one entry per informative slot, in slot order. Bound slots
// read "#i:bound", constrained open slots "#i:<signature>" and a repeated
// variable "#j:=#i". Variable names inside cross-variable references are
// anonymised so that the same shape of query shares one key.
//
//	WorksOn(?e, ?p{company == ?c})  ->  WorksOn(#1:company == ?_)
func PatternKey(f logic.Fact) string {
	var parts []string
	first := make(map[string]int)
	for i, t := range f.Terms {
		switch term := t.(type) {
		case logic.Key:
			parts = append(parts, fmt.Sprintf("#%d:bound", i))
		case logic.Variable:
			if j, seen := first[term.Name]; seen {
				parts = append(parts, fmt.Sprintf("#%d:=#%d", i, j))
				continue
			}
			first[term.Name] = i
			if term.Where == nil {
				continue
			}
			sig := constraint.Signature(constraint.Rename(term.Where, anonymous))
			parts = append(parts, fmt.Sprintf("#%d:%s", i, sig))
		}
	}
	return f.Name() + "(" + strings.Join(parts, ", ") + ")"
}

func anonymous(string) string { return "_" }

// StaticCost is the fallback estimate: base divided by one plus the number
// of constraint leaves plus twice the number of bound slots. An
// unconstrained, unbound pattern costs base.
func StaticCost(f logic.Fact, base float64) float64 {
	weight := 1
	for _, t := range f.Terms {
		switch term := t.(type) {
		case logic.Key:
			weight += 2
		case logic.Variable:
			weight += constraint.Count(term.Where)
		}
	}
	return base / float64(weight)
}
