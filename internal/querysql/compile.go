package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/store"
)

// TablePrefix starts the name of every fact table.
const TablePrefix = "fact_"

// TableName is the quoted table name of a stored predicate. Predicate names
// are identifiers, so quoting cannot be escaped from.
func TableName(predicate string) string {
	return `"` + TablePrefix + predicate + `"`
}

// SlotColumn is the column holding slot i.
func SlotColumn(i int) string {
	return fmt.Sprintf("s%d", i)
}

// SQLCompiler compiles lookups to parameterised SQL for SQLite.
//
// Every query orders by insertion sequence so results are deterministic.
// Values are always parameters, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a prepared lookup into (sql, params). The query selects
// every slot column of the fact table, in slot order.
//
// A constrained open slot joins its entity row:
//
//	LEFT JOIN entities AS e1 ON e1.type = ? AND e1.key = f.s1
//
// and its constraint becomes a WHERE term over e1.attrs and f.s1.
func (c *SQLCompiler) Compile(predicate string, slots []store.Slot) (string, []any, error) {
	if predicate == "" {
		return "", nil, fmt.Errorf("cannot compile lookup without predicate")
	}
	if len(slots) == 0 {
		return "", nil, fmt.Errorf("cannot compile lookup on %s: no slots", predicate)
	}

	cols := make([]string, len(slots))
	var (
		joins       []string
		joinParams  []any
		where       []string
		whereParams []any
	)
	for i, s := range slots {
		col := "f." + SlotColumn(i)
		cols[i] = col

		if s.Key != nil {
			param, err := irValueToParam(s.Key)
			if err != nil {
				return "", nil, fmt.Errorf("slot %d: %w", i, err)
			}
			where = append(where, col+" = ?")
			whereParams = append(whereParams, param)
			continue
		}
		if s.Same >= 0 {
			where = append(where, fmt.Sprintf("%s = f.%s", col, SlotColumn(s.Same)))
		}
		if s.Where == nil {
			continue
		}

		alias := fmt.Sprintf("e%d", i)
		joins = append(joins, fmt.Sprintf("LEFT JOIN entities AS %s ON %s.type = ? AND %s.key = %s", alias, alias, alias, col))
		joinParams = append(joinParams, s.Type)

		sql, params, err := c.compileConstraint(s.Where, leaf{col: col, attrs: alias + ".attrs"})
		if err != nil {
			return "", nil, fmt.Errorf("slot %d: %w", i, err)
		}
		where = append(where, sql)
		whereParams = append(whereParams, params...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s AS f", strings.Join(cols, ", "), TableName(predicate))
	for _, j := range joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	// MANDATORY: deterministic order.
	b.WriteString(" ORDER BY f.seq ASC")

	return b.String(), append(joinParams, whereParams...), nil
}

// leaf names the SQL expressions a slot's constraint is compiled against.
type leaf struct {
	col   string // slot column, for the key field
	attrs string // entity attrs JSON column

	// Set only inside a conjunction, where references compile to columns.
	typ  string
	vars map[string]string
}

// compileConstraint mirrors constraint.Eval: a missing attribute or entity
// never satisfies a comparison, and every fragment is two-valued (never
// NULL) so that NOT behaves like Go negation.
func (c *SQLCompiler) compileConstraint(con constraint.Constraint, l leaf) (string, []any, error) {
	switch n := con.(type) {
	case nil:
		return "1 = 1", nil, nil
	case constraint.Eq:
		return c.compileEq(n.Field, n.Value, l)
	case constraint.Cmp:
		return c.compileCmp(n, l)
	case constraint.In:
		if len(n.Values) == 0 {
			return "0 = 1", nil, nil
		}
		terms := make([]constraint.Constraint, len(n.Values))
		for i, v := range n.Values {
			terms[i] = constraint.Eq{Field: n.Field, Value: v}
		}
		return c.compileJoined(terms, " OR ", "0 = 1", l)
	case constraint.Ref:
		if l.vars != nil {
			return c.compileRef(n, l)
		}
		return "", nil, fmt.Errorf("unresolved reference to variable %q on field %q", n.Var, n.Field)
	case constraint.And:
		return c.compileJoined(n.Terms, " AND ", "1 = 1", l)
	case constraint.Or:
		return c.compileJoined(n.Terms, " OR ", "0 = 1", l)
	case constraint.Not:
		sql, params, err := c.compileConstraint(n.Term, l)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported constraint type: %T", con)
	}
}

func (c *SQLCompiler) compileJoined(terms []constraint.Constraint, sep, empty string, l leaf) (string, []any, error) {
	if len(terms) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(terms))
	var params []any
	for _, t := range terms {
		sql, p, err := c.compileConstraint(t, l)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

func (c *SQLCompiler) compileEq(field string, v ir.Value, l leaf) (string, []any, error) {
	if field == constraint.KeyField {
		if !ir.IsKey(v) {
			return "0 = 1", nil, nil
		}
		param, _ := irValueToParam(v)
		return l.col + " = ?", []any{param}, nil
	}

	path := jsonPath(field)
	switch val := v.(type) {
	case ir.Null:
		return fmt.Sprintf("IFNULL(json_type(%s, ?), 'null') = 'null'", l.attrs), []any{path}, nil
	case ir.Bool:
		return fmt.Sprintf("json_type(%s, ?) IS ?", l.attrs), []any{path, jsonBool(bool(val))}, nil
	case ir.String, ir.Int:
		param, _ := irValueToParam(val)
		return fmt.Sprintf("(json_type(%s, ?) IS ? AND json_extract(%s, ?) = ?)", l.attrs, l.attrs),
			[]any{path, jsonType(val), path, param}, nil
	case ir.List, ir.Object:
		text, err := ir.MarshalCanonical(val)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return fmt.Sprintf("(json_type(%s, ?) IS ? AND json_extract(%s, ?) = ?)", l.attrs, l.attrs),
			[]any{path, jsonType(val), path, string(text)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported value type for comparison: %T", v)
	}
}

func (c *SQLCompiler) compileCmp(n constraint.Cmp, l leaf) (string, []any, error) {
	if n.Op == constraint.OpNe {
		eq, params, err := c.compileEq(n.Field, n.Value, l)
		if err != nil {
			return "", nil, err
		}
		if n.Field == constraint.KeyField {
			return "NOT (" + eq + ")", params, nil
		}
		present := fmt.Sprintf("IFNULL(json_type(%s, ?), 'null') <> 'null'", l.attrs)
		return "(" + present + " AND NOT (" + eq + "))", append([]any{jsonPath(n.Field)}, params...), nil
	}

	op, err := sqlOperator(n.Op)
	if err != nil {
		return "", nil, err
	}
	if _, ok := ir.Compare(n.Value, n.Value); !ok {
		// Lists, objects and nulls are never ordered.
		return "0 = 1", nil, nil
	}
	param, err := irValueToParam(n.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}

	if n.Field == constraint.KeyField {
		if !ir.IsKey(n.Value) {
			return "0 = 1", nil, nil
		}
		return fmt.Sprintf("(typeof(%s) = ? AND %s %s ?)", l.col, l.col, op),
			[]any{sqliteType(n.Value), param}, nil
	}

	path := jsonPath(n.Field)
	if _, isBool := n.Value.(ir.Bool); isBool {
		return fmt.Sprintf("(json_type(%s, ?) IN ('true', 'false') AND json_extract(%s, ?) %s ?)", l.attrs, l.attrs, op),
			[]any{path, path, param}, nil
	}
	return fmt.Sprintf("(json_type(%s, ?) IS ? AND json_extract(%s, ?) %s ?)", l.attrs, l.attrs, op),
		[]any{path, jsonType(n.Value), path, param}, nil
}

func sqlOperator(op constraint.Op) (string, error) {
	switch op {
	case constraint.OpGt:
		return ">", nil
	case constraint.OpGe:
		return ">=", nil
	case constraint.OpLt:
		return "<", nil
	case constraint.OpLe:
		return "<=", nil
	default:
		return "", fmt.Errorf("unsupported operator %q", op)
	}
}

// jsonPath converts a dotted field name to a JSON path.
func jsonPath(field string) string {
	return "$." + field
}

func jsonBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// jsonType is what SQLite's json_type reports for a value of v's kind.
func jsonType(v ir.Value) string {
	switch v.(type) {
	case ir.String:
		return "text"
	case ir.Int:
		return "integer"
	case ir.List:
		return "array"
	case ir.Object:
		return "object"
	case ir.Null:
		return "null"
	default:
		return ""
	}
}

// sqliteType is what SQLite's typeof reports for a key.
func sqliteType(v ir.Value) string {
	if _, ok := v.(ir.Int); ok {
		return "integer"
	}
	return "text"
}

// irValueToParam converts an ir.Value to a Go native type for a SQL
// parameter. Lists and objects are not directly supported as parameters.
func irValueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Null:
		return nil, nil
	case ir.List:
		return nil, fmt.Errorf("list cannot be used as SQL parameter directly")
	case ir.Object:
		return nil, fmt.Errorf("object cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}

// ValueToParam converts an entity key to a SQL parameter.
func ValueToParam(v ir.Value) (any, error) {
	if !ir.IsKey(v) {
		return nil, fmt.Errorf("%T is not a valid entity key", v)
	}
	return irValueToParam(v)
}

// ParamToValue converts a scanned slot or key column back into a key.
func ParamToValue(v any) (ir.Value, error) {
	switch val := v.(type) {
	case int64:
		return ir.Int(val), nil
	case string:
		return ir.String(val), nil
	case []byte:
		return ir.String(val), nil
	default:
		return nil, fmt.Errorf("unexpected key column type %T", v)
	}
}
