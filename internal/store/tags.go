package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"polymercado/pkg/types"
)

// UpsertTags writes the Gamma tag dictionary. is_sport is managed
// separately by SetSportTags and left untouched here.
func (s *Store) UpsertTags(ctx context.Context, tags []types.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tag upsert: %w", err)
	}
	defer tx.Rollback()

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (id, label, slug) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				label = EXCLUDED.label,
				slug  = EXCLUDED.slug`,
			tag.ID, tag.Label, tag.Slug,
		); err != nil {
			return fmt.Errorf("upsert tag %d: %w", tag.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tag upsert: %w", err)
	}
	return nil
}

// SetSportTags marks exactly the given tag IDs as sports, clearing the
// flag everywhere else.
func (s *Store) SetSportTags(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sport tag update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE tags SET is_sport = FALSE`); err != nil {
		return fmt.Errorf("clear sport tags: %w", err)
	}
	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tags SET is_sport = TRUE WHERE id = ANY($1)`,
			pq.Int64Array(ids),
		); err != nil {
			return fmt.Errorf("set sport tags: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sport tag update: %w", err)
	}
	return nil
}
