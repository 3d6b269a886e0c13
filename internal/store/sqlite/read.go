package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/querysql"
	"github.com/roach88/factlog/internal/store"
)

// hydrateChunk bounds the number of keys bound into one IN list.
const hydrateChunk = 500

// Lookup returns the stored tuples matching req, in insertion order.
// Undeclared predicates and unresolved references give no tuples.
//
// Returns empty slice (not nil) if nothing matches.
func (s *Store) Lookup(ctx context.Context, req store.LookupRequest) ([]ir.List, error) {
	slots, ok, err := store.Prepare(req)
	if err != nil {
		return nil, err
	}
	name := req.Pattern.Name()
	if _, declared := s.relation(name); !declared || !ok {
		return []ir.List{}, nil
	}

	query, params, err := s.compiler.Compile(name, slots)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: compile: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}
	defer rows.Close()

	tuples := []ir.List{}
	raw := make([]any, len(slots))
	ptrs := make([]any, len(slots))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("lookup %s: scan: %w", name, err)
		}
		tuple := make(ir.List, len(raw))
		for i, v := range raw {
			key, err := querysql.ParamToValue(v)
			if err != nil {
				return nil, fmt.Errorf("lookup %s: slot %d: %w", name, i, err)
			}
			tuple[i] = key
		}
		tuples = append(tuples, tuple)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup %s: iterate: %w", name, err)
	}
	return tuples, nil
}

// Hydrate loads the entities of one type. Large key sets are split into
// chunks, but it remains one logical batch per call.
func (s *Store) Hydrate(ctx context.Context, entityType string, keys []ir.Value) (map[string]store.Entity, error) {
	out := make(map[string]store.Entity, len(keys))
	for start := 0; start < len(keys); start += hydrateChunk {
		end := min(start+hydrateChunk, len(keys))
		if err := s.hydrateChunk(ctx, entityType, keys[start:end], out); err != nil {
			return nil, fmt.Errorf("hydrate %s: %w", entityType, err)
		}
	}
	return out, nil
}

func (s *Store) hydrateChunk(ctx context.Context, entityType string, keys []ir.Value, out map[string]store.Entity) error {
	params := make([]any, 0, len(keys)+1)
	params = append(params, entityType)
	marks := make([]string, len(keys))
	for i, k := range keys {
		p, err := querysql.ValueToParam(k)
		if err != nil {
			return err
		}
		params = append(params, p)
		marks[i] = "?"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, attrs
		FROM entities
		WHERE type = ? AND key IN (%s)
		ORDER BY rowid ASC
	`, strings.Join(marks, ", ")), params...)
	if err != nil {
		return fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawKey    any
			attrsJSON string
		)
		if err := rows.Scan(&rawKey, &attrsJSON); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		key, err := querysql.ParamToValue(rawKey)
		if err != nil {
			return err
		}
		attrs, err := unmarshalAttrs(attrsJSON)
		if err != nil {
			return fmt.Errorf("entity %v: %w", key, err)
		}
		out[store.EntityKey(key)] = store.Entity{Type: entityType, Key: key, Attrs: attrs}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}
	return nil
}

// unmarshalAttrs parses canonical JSON TEXT to an ir.Object.
// Uses ir.DecodeJSON which keeps integers exact.
func unmarshalAttrs(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	v, err := ir.DecodeJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal attrs: expected object, got %T", v)
	}
	return obj, nil
}
