package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ListCategories returns the stored taxonomy mirror in catalog order.
// An empty slice means the mirror was never seeded.
func (s *SQLiteStorage) ListCategories(ctx context.Context) ([]model.CategoryDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, type, is_business, keywords
		FROM categories
		ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []model.CategoryDefinition
	for rows.Next() {
		var (
			def      model.CategoryDefinition
			typ      string
			keywords string
		)
		if err := rows.Scan(&def.ID, &def.Code, &def.Name, &typ, &def.IsBusiness, &keywords); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		def.Type = model.CategoryType(typ)
		if err := json.Unmarshal([]byte(keywords), &def.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords for %s: %w", def.ID, err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return defs, nil
}

// SeedCategories upserts the given definitions, keyed by id. Existing ids
// keep their identity; names, keywords and flags are refreshed.
func (s *SQLiteStorage) SeedCategories(ctx context.Context, defs []model.CategoryDefinition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range defs {
		def := &defs[i]
		if err := validateCategory(def); err != nil {
			return err
		}
		keywords := def.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		encoded, err := json.Marshal(keywords)
		if err != nil {
			return fmt.Errorf("failed to marshal keywords for %s: %w", def.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO categories (id, code, name, type, is_business, keywords, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				code = excluded.code,
				name = excluded.name,
				type = excluded.type,
				is_business = excluded.is_business,
				keywords = excluded.keywords,
				sort_order = excluded.sort_order,
				updated_at = CURRENT_TIMESTAMP`,
			def.ID, def.Code, def.Name, string(def.Type), def.IsBusiness, string(encoded), i)
		if err != nil {
			return fmt.Errorf("failed to upsert category %s: %w", def.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit categories: %w", err)
	}
	return nil
}
