package constraint

import (
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/ir"
)

// Signature returns a deterministic textual form of c. Two constraints with
// the same signature are interchangeable; the planner uses signatures in
// pattern keys and Merge uses them to order and de-duplicate conjuncts.
// A nil constraint has the empty signature.
func Signature(c Constraint) string {
	var b strings.Builder
	writeSignature(&b, c)
	return b.String()
}

func writeSignature(b *strings.Builder, c Constraint) {
	switch n := c.(type) {
	case nil:
	case Eq:
		b.WriteString(n.Field)
		b.WriteString(" == ")
		b.WriteString(literal(n.Value))
	case Cmp:
		b.WriteString(n.Field)
		b.WriteByte(' ')
		b.WriteString(string(n.Op))
		b.WriteByte(' ')
		b.WriteString(literal(n.Value))
	case In:
		b.WriteString(n.Field)
		b.WriteString(" in [")
		b.WriteString(strings.Join(sortedLiterals(n.Values), ","))
		b.WriteByte(']')
	case Ref:
		b.WriteString(n.Field)
		b.WriteString(" == ?")
		b.WriteString(n.Var)
	case And:
		writeJoined(b, n.Terms, " && ")
	case Or:
		writeJoined(b, n.Terms, " || ")
	case Not:
		b.WriteString("!(")
		writeSignature(b, n.Term)
		b.WriteByte(')')
	default:
		b.WriteString("<unknown>")
	}
}

func writeJoined(b *strings.Builder, terms []Constraint, sep string) {
	b.WriteByte('(')
	for i, t := range terms {
		if i > 0 {
			b.WriteString(sep)
		}
		writeSignature(b, t)
	}
	b.WriteByte(')')
}

func literal(v ir.Value) string {
	if v == nil {
		return "<nil>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// sortedLiterals renders an In set independent of the order it was written in.
func sortedLiterals(vs []ir.Value) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, literal(v))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
