package constraint

import (
	"fmt"
	"strings"

	"github.com/roach88/factlog/internal/ir"
)

// Eval evaluates c against one entity. attrs may be nil when only the key is
// known. A nil constraint always holds. Unresolved Refs are an error: call
// Resolve first.
func Eval(c Constraint, key ir.Value, attrs ir.Object) (bool, error) {
	switch n := c.(type) {
	case nil:
		return true, nil
	case Eq:
		got, present := field(n.Field, key, attrs)
		if _, isNull := n.Value.(ir.Null); isNull {
			return !present || isNullValue(got), nil
		}
		return present && ir.Equal(got, n.Value), nil
	case Cmp:
		got, present := field(n.Field, key, attrs)
		if !present {
			return false, nil
		}
		if n.Op == OpNe {
			if isNullValue(got) {
				return false, nil
			}
			return !ir.Equal(got, n.Value), nil
		}
		cmp, ok := ir.Compare(got, n.Value)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case OpGt:
			return cmp > 0, nil
		case OpGe:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		}
		return false, fmt.Errorf("unknown operator %q", n.Op)
	case In:
		got, present := field(n.Field, key, attrs)
		if !present {
			return false, nil
		}
		for _, v := range n.Values {
			if ir.Equal(got, v) {
				return true, nil
			}
		}
		return false, nil
	case Ref:
		return false, fmt.Errorf("unresolved reference to variable %q on field %q", n.Var, n.Field)
	case And:
		for _, t := range n.Terms {
			ok, err := Eval(t, key, attrs)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, t := range n.Terms {
			ok, err := Eval(t, key, attrs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Eval(n.Term, key, attrs)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown constraint type %T", c)
	}
}

// field resolves a possibly dotted attribute path.
func field(path string, key ir.Value, attrs ir.Object) (ir.Value, bool) {
	if path == KeyField {
		return key, key != nil
	}
	var cur ir.Value = attrs
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(ir.Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isNullValue(v ir.Value) bool {
	_, ok := v.(ir.Null)
	return ok
}
