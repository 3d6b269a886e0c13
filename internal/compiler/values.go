package compiler

import (
	"fmt"
	"maps"
	"slices"

	"cuelang.org/go/cue"

	"github.com/roach88/factlog/internal/ir"
)

// valueOf converts a concrete CUE value to an ir.Value.
// Floats are rejected: ir has no float type.
func valueOf(field string, v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.String(s), nil
	case cue.ListKind:
		values, err := valueList(field, v)
		if err != nil {
			return nil, err
		}
		return ir.List(values), nil
	case cue.StructKind:
		return attrsOf(field, v)
	case cue.FloatKind, cue.NumberKind:
		return nil, errorf(field, v.Pos(), "floats are not supported, use an int")
	default:
		return nil, errorf(field, v.Pos(), "unsupported value kind %v", v.Kind())
	}
}

func valueList(field string, v cue.Value) ([]ir.Value, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	out := []ir.Value{}
	for i := 0; iter.Next(); i++ {
		val, err := valueOf(fmt.Sprintf("%s[%d]", field, i), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

// attrsOf converts a CUE struct to an ir.Object. A missing value is an
// empty object.
func attrsOf(field string, v cue.Value) (ir.Object, error) {
	out := ir.Object{}
	if !v.Exists() {
		return out, nil
	}
	if v.Kind() != cue.StructKind {
		return nil, errorf(field, v.Pos(), "attributes must be a struct")
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	for iter.Next() {
		val, err := valueOf(field+"."+iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out[iter.Label()] = val
	}
	return out, nil
}

func stringList(field string, v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, errorf(field, iter.Value().Pos(), "slot types must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
