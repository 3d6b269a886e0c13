package constraint

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/factlog/internal/ir"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Validate checks that c is well formed: field paths are identifiers, every
// literal is set, operators are known, and composite nodes are not empty.
// All problems are reported together.
//
// Validate is a pure function with no side effects.
func Validate(c Constraint) error {
	v := &validator{}
	v.visit(c)
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) checkField(name string) {
	if !fieldPattern.MatchString(name) {
		v.addError("invalid field name %q", name)
	}
}

func (v *validator) visit(c Constraint) {
	switch n := c.(type) {
	case nil:
	case Eq:
		v.checkField(n.Field)
		if n.Value == nil {
			v.addError("field %q compared to a nil value", n.Field)
		}
	case Cmp:
		v.checkField(n.Field)
		if !n.Op.Valid() {
			v.addError("field %q uses unknown operator %q", n.Field, n.Op)
		}
		switch n.Value.(type) {
		case nil, ir.Null, ir.List, ir.Object:
			if n.Op != OpNe {
				v.addError("field %q: ordering comparison needs a scalar value", n.Field)
			}
		}
	case In:
		v.checkField(n.Field)
		if len(n.Values) == 0 {
			v.addError("field %q: in-list is empty", n.Field)
		}
		for i, val := range n.Values {
			if val == nil {
				v.addError("field %q: in-list element %d is nil", n.Field, i)
			}
		}
	case Ref:
		v.checkField(n.Field)
		if n.Var == "" {
			v.addError("field %q references an unnamed variable", n.Field)
		}
	case And:
		v.visitAll("and", n.Terms)
	case Or:
		v.visitAll("or", n.Terms)
	case Not:
		if n.Term == nil {
			v.addError("not: missing operand")
		}
		v.visit(n.Term)
	default:
		v.addError("unknown constraint type %T", c)
	}
}

func (v *validator) visitAll(kind string, terms []Constraint) {
	if len(terms) == 0 {
		v.addError("%s: no operands", kind)
	}
	for i, t := range terms {
		if t == nil {
			v.addError("%s: operand %d is nil", kind, i)
			continue
		}
		v.visit(t)
	}
}
