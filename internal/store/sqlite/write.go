package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/querysql"
	"github.com/roach88/factlog/internal/store"
)

// Declare creates the fact table of p if it does not exist yet. Declaring a
// predicate again with different slot types is an error.
func (s *Store) Declare(ctx context.Context, p *logic.StoredPredicate) error {
	if p == nil {
		return fmt.Errorf("declare: nil predicate")
	}
	types := p.SlotTypes()
	if existing, ok := s.relation(p.Name()); ok {
		if !slices.Equal(existing, types) {
			return fmt.Errorf("declare %s: already declared with slot types %v", p.Name(), existing)
		}
		return nil
	}

	typesJSON, err := json.Marshal(types)
	if err != nil {
		return fmt.Errorf("declare %s: %w", p.Name(), err)
	}

	cols := make([]string, len(types))
	for i := range types {
		cols[i] = querysql.SlotColumn(i)
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " NOT NULL"
	}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (seq INTEGER PRIMARY KEY AUTOINCREMENT, %s, UNIQUE(%s))",
		querysql.TableName(p.Name()), strings.Join(defs, ", "), strings.Join(cols, ", "),
	)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relations (predicate, arity, slot_types)
			VALUES (?, ?, ?)
			ON CONFLICT(predicate) DO NOTHING
		`, p.Name(), len(types), string(typesJSON))
		return err
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", p.Name(), err)
	}

	s.mu.Lock()
	s.relations[p.Name()] = types
	s.mu.Unlock()
	return nil
}

// Store inserts ground facts, declaring their predicates as needed.
// Uses ON CONFLICT DO NOTHING for idempotency - duplicate facts are silently
// ignored. All facts are written in one transaction.
func (s *Store) Store(ctx context.Context, facts ...logic.Fact) error {
	batches, err := store.Group(facts)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	for _, b := range batches {
		if err := s.Declare(ctx, b.Predicate); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range batches {
			stmt := insertSQL(b.Predicate)
			for _, tuple := range b.Tuples {
				args, err := tupleParams(tuple)
				if err != nil {
					return fmt.Errorf("%s: %w", b.Predicate.Name(), err)
				}
				if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
					return fmt.Errorf("insert %s: %w", b.Predicate.Name(), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Retract deletes ground facts. Facts of undeclared predicates and facts
// that were never stored are ignored.
func (s *Store) Retract(ctx context.Context, facts ...logic.Fact) error {
	batches, err := store.Group(facts)
	if err != nil {
		return fmt.Errorf("retract: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range batches {
			if _, ok := s.relation(b.Predicate.Name()); !ok {
				continue
			}
			stmt := deleteSQL(b.Predicate)
			for _, tuple := range b.Tuples {
				args, err := tupleParams(tuple)
				if err != nil {
					return fmt.Errorf("%s: %w", b.Predicate.Name(), err)
				}
				if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
					return fmt.Errorf("delete %s: %w", b.Predicate.Name(), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("retract: %w", err)
	}
	return nil
}

// PutEntities inserts entities, replacing the attributes of existing ones.
func (s *Store) PutEntities(ctx context.Context, entities ...store.Entity) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entities {
			if e.Type == "" {
				return fmt.Errorf("entity %v has no type", e.Key)
			}
			key, err := querysql.ValueToParam(e.Key)
			if err != nil {
				return fmt.Errorf("entity %s: %w", e.Type, err)
			}
			attrs := e.Attrs
			if attrs == nil {
				attrs = ir.Object{}
			}
			attrsJSON, err := ir.MarshalCanonical(attrs)
			if err != nil {
				return fmt.Errorf("entity %s/%v: marshal attrs: %w", e.Type, e.Key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entities (type, key, attrs)
				VALUES (?, ?, ?)
				ON CONFLICT(type, key) DO UPDATE SET attrs = excluded.attrs
			`, e.Type, key, string(attrsJSON))
			if err != nil {
				return fmt.Errorf("insert entity %s: %w", e.Type, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put entities: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertSQL(p *logic.StoredPredicate) string {
	cols := make([]string, p.Arity())
	marks := make([]string, p.Arity())
	for i := range cols {
		cols[i] = querysql.SlotColumn(i)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		querysql.TableName(p.Name()), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func deleteSQL(p *logic.StoredPredicate) string {
	conds := make([]string, p.Arity())
	for i := range conds {
		conds[i] = querysql.SlotColumn(i) + " = ?"
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", querysql.TableName(p.Name()), strings.Join(conds, " AND "))
}

func tupleParams(tuple ir.List) ([]any, error) {
	args := make([]any, len(tuple))
	for i, v := range tuple {
		p, err := querysql.ValueToParam(v)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		args[i] = p
	}
	return args, nil
}
