package sqlite

import (
	"context"
	"fmt"

	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/querysql"
)

// QueryConjunction answers a conjunction of stored patterns with a single
// statement. It returns one binding per distinct row over the visible
// variables, together with the compiled statement.
//
// Every predicate must be declared. Inferred patterns are rejected with
// querysql.ErrInferredPattern.
func (s *Store) QueryConjunction(ctx context.Context, patterns []logic.Fact) ([]logic.Binding, *querysql.Conjunction, error) {
	for _, f := range patterns {
		if f.Predicate == nil || f.Inferred() {
			continue
		}
		if _, declared := s.relation(f.Name()); !declared {
			return nil, nil, fmt.Errorf("conjunction: %s is not declared", f.Name())
		}
	}

	conj, err := s.compiler.CompileConjunction(patterns)
	if err != nil {
		return nil, nil, fmt.Errorf("conjunction: compile: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, conj.SQL, conj.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("conjunction: %w", err)
	}
	defer rows.Close()

	bindings := []logic.Binding{}
	width := max(len(conj.Columns), 1)
	raw := make([]any, width)
	ptrs := make([]any, width)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("conjunction: scan: %w", err)
		}
		b := make(logic.Binding, len(conj.Columns))
		for i, name := range conj.Columns {
			key, err := querysql.ParamToValue(raw[i])
			if err != nil {
				return nil, nil, fmt.Errorf("conjunction: %s: %w", name, err)
			}
			b[name] = key
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("conjunction: iterate: %w", err)
	}
	return bindings, conj, nil
}
