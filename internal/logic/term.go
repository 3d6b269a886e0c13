package logic

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
)

// HiddenPrefix starts the name of every hidden variable.
const HiddenPrefix = "_"

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Term is a slot filler in a fact: a concrete Key or a Variable.
type Term interface {
	term()
	String() string
}

// Key is a concrete entity key (an ir.String or ir.Int).
type Key struct {
	Value ir.Value
}

func (Key) term() {}

func (k Key) String() string {
	if s, ok := k.Value.(ir.String); ok {
		return string(s)
	}
	return ir.MustCanonical(k.Value)
}

// K builds a Key from a Go string or integer. It panics on other types,
// which makes it suitable for literals in code and tests.
func K(v any) Key {
	val, err := ir.FromGo(v)
	if err != nil || !ir.IsKey(val) {
		panic(fmt.Sprintf("logic.K: %v is not a valid entity key", v))
	}
	return Key{Value: val}
}

// Variable is a named placeholder, optionally carrying a constraint on the
// entity it binds. Variables are values: With returns a modified copy.
type Variable struct {
	Name   string
	Where  constraint.Constraint
	Hidden bool
}

func (Variable) term() {}

func (v Variable) String() string {
	if v.Where == nil {
		return "?" + v.Name
	}
	return fmt.Sprintf("?%s{%s}", v.Name, constraint.Signature(v.Where))
}

// Var creates a visible variable. Multiple constraints are merged.
func Var(name string, where ...constraint.Constraint) Variable {
	return Variable{Name: name, Where: constraint.Merge(where...)}
}

// With returns a copy of v with the given constraints merged into Where.
func (v Variable) With(where ...constraint.Constraint) Variable {
	out := v
	out.Where = constraint.Merge(append([]constraint.Constraint{v.Where}, where...)...)
	return out
}

var blankSeq atomic.Int64

// Blank returns a fresh hidden variable: a wildcard that matches anything
// and is dropped from results.
func Blank(where ...constraint.Constraint) Variable {
	n := blankSeq.Add(1)
	return Variable{
		Name:   fmt.Sprintf("%sblank%d", HiddenPrefix, n),
		Where:  constraint.Merge(where...),
		Hidden: true,
	}
}

// Hidden creates a hidden variable with an explicit name. The evaluator uses
// it to rename rule-local variables apart.
func Hidden(name string, where constraint.Constraint) Variable {
	if !strings.HasPrefix(name, HiddenPrefix) {
		name = HiddenPrefix + name
	}
	return Variable{Name: name, Where: where, Hidden: true}
}

// IsHiddenName reports whether a binding name belongs to a hidden variable.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, HiddenPrefix)
}

func validateVariable(v Variable) error {
	if v.Hidden {
		if !IsHiddenName(v.Name) || len(v.Name) == len(HiddenPrefix) {
			return fmt.Errorf("hidden variable %q must start with %q", v.Name, HiddenPrefix)
		}
	} else if !identPattern.MatchString(v.Name) {
		return fmt.Errorf("invalid variable name %q", v.Name)
	}
	if err := constraint.Validate(v.Where); err != nil {
		return fmt.Errorf("variable %q: %w", v.Name, err)
	}
	return nil
}
