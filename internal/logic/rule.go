package logic

import (
	"fmt"
	"strings"
)

// Body is a rule body: a Fact leaf, a conjunction or a disjunction.
type Body interface {
	body()
}

// Conj holds when every part holds. Parts are joined left to right.
type Conj struct {
	Parts []Body
}

func (Conj) body() {}

// Disj holds when any part holds.
type Disj struct {
	Parts []Body
}

func (Disj) body() {}

// And builds a conjunction.
func And(parts ...Body) Body { return Conj{Parts: parts} }

// Or builds a disjunction.
func Or(parts ...Body) Body { return Disj{Parts: parts} }

// Rule derives facts for its head predicate from its body.
type Rule struct {
	Head Fact
	Body Body
}

func (r Rule) String() string {
	return fmt.Sprintf("%s :- %s", r.Head, formatBody(r.Body))
}

func formatBody(b Body) string {
	switch n := b.(type) {
	case Fact:
		return n.String()
	case Conj:
		return joinBodies(n.Parts, ", ", false)
	case Disj:
		return joinBodies(n.Parts, " ; ", true)
	default:
		return fmt.Sprintf("<%T>", b)
	}
}

func joinBodies(parts []Body, sep string, paren bool) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = formatBody(p)
	}
	s := strings.Join(out, sep)
	if paren {
		return "(" + s + ")"
	}
	return s
}

// Leaves returns every fact in the body, left to right.
func Leaves(b Body) []Fact {
	var out []Fact
	var visit func(Body)
	visit = func(n Body) {
		switch node := n.(type) {
		case Fact:
			out = append(out, node)
		case Conj:
			for _, p := range node.Parts {
				visit(p)
			}
		case Disj:
			for _, p := range node.Parts {
				visit(p)
			}
		}
	}
	visit(b)
	return out
}

// Alternatives expands a body into disjunctive normal form: a list of
// conjunctions, each a left-to-right list of facts. Conjunction order is
// preserved within each alternative.
func Alternatives(b Body) [][]Fact {
	switch n := b.(type) {
	case Fact:
		return [][]Fact{{n}}
	case Conj:
		acc := [][]Fact{{}}
		for _, part := range n.Parts {
			var next [][]Fact
			for _, prefix := range acc {
				for _, alt := range Alternatives(part) {
					joined := make([]Fact, 0, len(prefix)+len(alt))
					joined = append(joined, prefix...)
					joined = append(joined, alt...)
					next = append(next, joined)
				}
			}
			acc = next
		}
		return acc
	case Disj:
		var out [][]Fact
		for _, part := range n.Parts {
			out = append(out, Alternatives(part)...)
		}
		return out
	default:
		return nil
	}
}

// CheckBody reports the first structural problem in a body: nil nodes,
// empty conjunctions or disjunctions, or unsupported node types.
func CheckBody(b Body) error {
	switch n := b.(type) {
	case nil:
		return fmt.Errorf("body is empty")
	case Fact:
		if n.Predicate == nil {
			return fmt.Errorf("body fact has no predicate")
		}
		return nil
	case Conj:
		return checkParts("and", n.Parts)
	case Disj:
		return checkParts("or", n.Parts)
	default:
		return fmt.Errorf("unsupported body node %T", b)
	}
}

func checkParts(kind string, parts []Body) error {
	if len(parts) == 0 {
		return fmt.Errorf("%s has no operands", kind)
	}
	for i, p := range parts {
		if p == nil {
			return fmt.Errorf("%s operand %d is nil", kind, i)
		}
		if err := CheckBody(p); err != nil {
			return fmt.Errorf("%s operand %d: %w", kind, i, err)
		}
	}
	return nil
}
