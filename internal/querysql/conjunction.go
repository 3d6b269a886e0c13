package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/logic"
)

// ErrInferredPattern reports a conjunction pattern that only rules can
// answer. Such a conjunction has no single-statement form.
var ErrInferredPattern = errors.New("pattern is inferred")

// Conjunction is a conjunction of stored patterns compiled to one
// statement.
type Conjunction struct {
	SQL  string
	Args []any

	// Columns names the variable each result column binds. Hidden
	// variables are not selected.
	Columns []string
	// JoinVariables are the variables shared by more than one pattern, in
	// order of first occurrence.
	JoinVariables []string
	// CrossRefs counts the cross-variable references compiled to EXISTS.
	CrossRefs int
	Patterns  int
}

// Estimate compares the statements needed to answer a conjunction step by
// step with the single statement.
type Estimate struct {
	Stepwise  int     `json:"stepwise"`
	Single    int     `json:"single"`
	Reduction float64 `json:"reduction_percent"`
}

// Estimate counts two statements per pattern (its lookup and the hydration
// of what it binds) and three per cross-variable reference, against one.
func (c *Conjunction) Estimate() Estimate {
	stepwise := 2*c.Patterns + 3*c.CrossRefs
	return Estimate{
		Stepwise:  stepwise,
		Single:    1,
		Reduction: float64(stepwise-1) / float64(stepwise) * 100,
	}
}

// CompileConjunction joins every pattern's fact table into one statement.
// Pattern i is aliased f<i>; a variable's later occurrences are equated with
// its first column, and a cross-variable reference becomes a correlated
// EXISTS over the referring slot's entity:
//
//	EXISTS (SELECT 1 FROM entities AS r WHERE r.type = ? AND r.key = f0.s1
//	        AND json_type(r.attrs, ?) IS ... AND json_extract(r.attrs, ?) = f1.s1)
//
// Rows are grouped by the selected variables and ordered by the first
// matching fact of each pattern. A reference to a variable no pattern binds
// makes the statement select nothing.
func (c *SQLCompiler) CompileConjunction(patterns []logic.Fact) (*Conjunction, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("cannot compile an empty conjunction")
	}
	for i, f := range patterns {
		if f.Predicate == nil {
			return nil, fmt.Errorf("pattern %d has no predicate", i)
		}
		if f.Inferred() {
			return nil, fmt.Errorf("%s: %w", f.Name(), ErrInferredPattern)
		}
		if len(f.Terms) != f.Predicate.Arity() {
			return nil, fmt.Errorf("%s expects %d terms, got %d", f.Name(), f.Predicate.Arity(), len(f.Terms))
		}
	}

	conj := &Conjunction{Patterns: len(patterns)}
	vars := make(map[string]string)
	var order []string
	uses := make(map[string]int)
	for i, f := range patterns {
		for _, v := range f.Variables() {
			uses[v.Name]++
		}
		for j, t := range f.Terms {
			v, ok := t.(logic.Variable)
			if !ok {
				continue
			}
			if _, seen := vars[v.Name]; !seen {
				vars[v.Name] = fmt.Sprintf("f%d.%s", i, SlotColumn(j))
				order = append(order, v.Name)
			}
		}
	}
	for _, name := range order {
		if uses[name] > 1 {
			conj.JoinVariables = append(conj.JoinVariables, name)
		}
	}

	var (
		from        strings.Builder
		fromParams  []any
		where       []string
		whereParams []any
		ordering    []string
		unbound     bool
	)
	compiled := make(map[string]bool)
	for i, f := range patterns {
		alias := fmt.Sprintf("f%d", i)
		if i > 0 {
			from.WriteString(" JOIN ")
		}
		fmt.Fprintf(&from, "%s AS %s", TableName(f.Name()), alias)
		ordering = append(ordering, fmt.Sprintf("MIN(%s.seq)", alias))

		types := f.Predicate.SlotTypes()
		for j, t := range f.Terms {
			col := alias + "." + SlotColumn(j)
			switch term := t.(type) {
			case logic.Key:
				param, err := ValueToParam(term.Value)
				if err != nil {
					return nil, fmt.Errorf("%s slot %d: %w", f.Name(), j, err)
				}
				where = append(where, col+" = ?")
				whereParams = append(whereParams, param)
			case logic.Variable:
				if first := vars[term.Name]; first != col {
					where = append(where, col+" = "+first)
				}
				if term.Where == nil {
					continue
				}
				// Propagated constraints repeat on every occurrence.
				sig := term.Name + "|" + fmt.Sprint(term.Where)
				if compiled[sig] {
					continue
				}
				compiled[sig] = true

				for _, name := range constraint.Variables(term.Where) {
					conj.CrossRefs++
					if _, ok := vars[name]; !ok {
						unbound = true
					}
				}
				entity := fmt.Sprintf("e%d_%d", i, j)
				fmt.Fprintf(&from, " LEFT JOIN entities AS %s ON %s.type = ? AND %s.key = %s", entity, entity, entity, col)
				fromParams = append(fromParams, types[j])

				sql, params, err := c.compileConstraint(term.Where, leaf{
					col:   col,
					attrs: entity + ".attrs",
					typ:   types[j],
					vars:  vars,
				})
				if err != nil {
					return nil, fmt.Errorf("%s slot %d: %w", f.Name(), j, err)
				}
				where = append(where, sql)
				whereParams = append(whereParams, params...)
			default:
				return nil, fmt.Errorf("%s slot %d: unsupported term %T", f.Name(), j, t)
			}
		}
	}
	if unbound {
		where = append(where, "0 = 1")
	}

	var selected []string
	for _, name := range order {
		if logic.IsHiddenName(name) {
			continue
		}
		conj.Columns = append(conj.Columns, name)
		selected = append(selected, vars[name])
	}

	var b strings.Builder
	if len(selected) == 0 {
		b.WriteString("SELECT 1")
	} else {
		b.WriteString("SELECT ")
		b.WriteString(strings.Join(selected, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(from.String())
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if len(selected) == 0 {
		b.WriteString(" LIMIT 1")
	} else {
		fmt.Fprintf(&b, " GROUP BY %s ORDER BY %s", strings.Join(selected, ", "), strings.Join(ordering, ", "))
	}

	conj.SQL = b.String()
	conj.Args = append(fromParams, whereParams...)
	return conj, nil
}

// compileRef compiles a reference from the leaf's entity to another
// variable's column. References on the key field compare columns directly.
func (c *SQLCompiler) compileRef(n constraint.Ref, l leaf) (string, []any, error) {
	other, ok := l.vars[n.Var]
	if !ok {
		return "0 = 1", nil, nil
	}
	if n.Field == constraint.KeyField {
		return l.col + " = " + other, nil, nil
	}
	path := jsonPath(n.Field)
	keyType := fmt.Sprintf("(CASE typeof(%s) WHEN 'integer' THEN 'integer' ELSE 'text' END)", other)
	sql := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM entities AS r WHERE r.type = ? AND r.key = %s AND json_type(r.attrs, ?) IS %s AND json_extract(r.attrs, ?) = %s)",
		l.col, keyType, other,
	)
	return sql, []any{l.typ, path, path}, nil
}
