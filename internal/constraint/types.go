package constraint

import "github.com/roach88/factlog/internal/ir"

// KeyField addresses the entity key itself rather than an attribute.
const KeyField = "pk"

// Constraint is a sealed boolean condition over an entity.
type Constraint interface {
	constraintNode()
}

// Eq holds when the field equals Value.
// Eq against ir.Null{} holds when the field is null or absent.
type Eq struct {
	Field string
	Value ir.Value
}

func (Eq) constraintNode() {}

// Op is a comparison operator for Cmp.
type Op string

const (
	OpNe Op = "!="
	OpGt Op = ">"
	OpGe Op = ">="
	OpLt Op = "<"
	OpLe Op = "<="
)

// Valid reports whether op is one of the known operators.
func (op Op) Valid() bool {
	switch op {
	case OpNe, OpGt, OpGe, OpLt, OpLe:
		return true
	}
	return false
}

// Cmp compares the field with Value. Ordering comparisons only hold between
// values of the same scalar kind; a string never compares greater than an int.
type Cmp struct {
	Field string
	Op    Op
	Value ir.Value
}

func (Cmp) constraintNode() {}

// In holds when the field equals one of Values. An empty In never holds.
type In struct {
	Field  string
	Values []ir.Value
}

func (In) constraintNode() {}

// Ref holds when the field equals the value bound to variable Var.
type Ref struct {
	Field string
	Var   string
}

func (Ref) constraintNode() {}

// And holds when every term holds. An empty And always holds.
type And struct {
	Terms []Constraint
}

func (And) constraintNode() {}

// Or holds when at least one term holds. An empty Or never holds.
type Or struct {
	Terms []Constraint
}

func (Or) constraintNode() {}

// Not negates its term.
type Not struct {
	Term Constraint
}

func (Not) constraintNode() {}

// Field builds constraints on one field. It keeps call sites short:
//
//	constraint.Field("company").Eq(ir.String("acme"))
//	constraint.Field("company").Ref("c")
type Field string

func (f Field) Eq(v ir.Value) Constraint { return Eq{Field: string(f), Value: v} }
func (f Field) Ne(v ir.Value) Constraint { return Cmp{Field: string(f), Op: OpNe, Value: v} }
func (f Field) Gt(v ir.Value) Constraint { return Cmp{Field: string(f), Op: OpGt, Value: v} }
func (f Field) Ge(v ir.Value) Constraint { return Cmp{Field: string(f), Op: OpGe, Value: v} }
func (f Field) Lt(v ir.Value) Constraint { return Cmp{Field: string(f), Op: OpLt, Value: v} }
func (f Field) Le(v ir.Value) Constraint { return Cmp{Field: string(f), Op: OpLe, Value: v} }
func (f Field) In(vs ...ir.Value) Constraint { return In{Field: string(f), Values: vs} }
func (f Field) Ref(variable string) Constraint { return Ref{Field: string(f), Var: variable} }
