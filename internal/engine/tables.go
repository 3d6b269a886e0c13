package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
)

// tableState tracks a goal table through evaluation.
//
//	Pending -> Expanding -> Resolved
//	               |            ^
//	               v            |
//	            Cyclic ---------+   (when the cycle's leader reaches a fixpoint)
type tableState int

const (
	// statePending: the table exists but its rules have not started.
	statePending tableState = iota
	// stateExpanding: the goal's frame is on the work stack.
	stateExpanding
	// stateCyclic: the frame finished while depending on a goal still on
	// the stack. Its answers may be incomplete until the leader resolves.
	stateCyclic
	// stateResolved: answers are complete for this query.
	stateResolved
)

func (s tableState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateExpanding:
		return "expanding"
	case stateCyclic:
		return "cyclic"
	case stateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("tableState(%d)", int(s))
	}
}

// table memoises the answers of one goal within a query. Answers are full
// tuples of the goal's predicate, kept in discovery order.
type table struct {
	key     string
	goal    logic.Fact
	state   tableState
	answers []ir.List
	seen    map[string]bool

	// pass is the evaluator pass in which the goal last started.
	pass int
	// frame is set while the table is expanding.
	frame *frame
	// comp is set while the table is cyclic.
	comp *component
}

func newTable(key string, goal logic.Fact) *table {
	return &table{key: key, goal: goal, seen: make(map[string]bool)}
}

// add records an answer and reports whether it was new.
func (t *table) add(tuple ir.List) bool {
	k := ir.TupleKey(tuple)
	if t.seen[k] {
		return false
	}
	t.seen[k] = true
	t.answers = append(t.answers, tuple)
	return true
}

// component collects the tables of one strongly connected group of goals
// until its leader reaches a fixpoint.
type component struct {
	owner     *frame
	members   []*table
	recursive bool
}

// absorb moves a finished follower and its component into c.
func (c *component) absorb(child *component, t *table) {
	c.members = append(c.members, child.members...)
	c.members = append(c.members, t)
	c.recursive = c.recursive || child.recursive
	for _, m := range c.members {
		if m.state == stateCyclic {
			m.comp = c
		}
	}
}

// goalKey identifies a goal table: the predicate, the bound slot values and
// the shape of the open slots (repeated variables and constraint
// signatures). Variable names do not matter.
//
//	Ancestor("john", ?{age > 30})   Ancestor(?, =#0)
func goalKey(f logic.Fact) string {
	var b strings.Builder
	b.WriteString(f.Name())
	b.WriteByte('(')
	first := make(map[string]int)
	for i, t := range f.Terms {
		if i > 0 {
			b.WriteString(", ")
		}
		switch term := t.(type) {
		case logic.Key:
			b.WriteString(ir.MustCanonical(term.Value))
		case logic.Variable:
			if j, seen := first[term.Name]; seen {
				fmt.Fprintf(&b, "=#%d", j)
				continue
			}
			first[term.Name] = i
			b.WriteByte('?')
			if term.Where != nil {
				b.WriteByte('{')
				b.WriteString(constraint.Signature(term.Where))
				b.WriteByte('}')
			}
		}
	}
	b.WriteByte(')')
	return b.String()
}

// repeatedSlots lists the slot pairs that hold the same variable, as
// (first occurrence, later occurrence).
func repeatedSlots(f logic.Fact) [][2]int {
	var out [][2]int
	first := make(map[string]int)
	for i, t := range f.Terms {
		v, ok := t.(logic.Variable)
		if !ok {
			continue
		}
		if j, seen := first[v.Name]; seen {
			out = append(out, [2]int{j, i})
			continue
		}
		first[v.Name] = i
	}
	return out
}

// hasReferences reports whether any slot constraint still mentions another
// variable.
func hasReferences(f logic.Fact) bool {
	for _, t := range f.Terms {
		if v, ok := t.(logic.Variable); ok && len(constraint.Variables(v.Where)) > 0 {
			return true
		}
	}
	return false
}
