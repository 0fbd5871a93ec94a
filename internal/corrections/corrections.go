// Package corrections stores product-name corrections learned from operator
// edits and applies them to later analysis results.
package corrections

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Correction maps a misrecognized product text to its fixed form.
type Correction struct {
	Wrong   string `json:"wrong" validate:"required"`
	Correct string `json:"correct" validate:"required"`
}

// Store persists corrections in SQLite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a Store on an opened database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// List returns all corrections sorted by the wrong text.
func (s *Store) List(ctx context.Context) ([]Correction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT wrong, correct FROM corrections ORDER BY wrong`)
	if err != nil {
		return nil, fmt.Errorf("List: query: %w", err)
	}
	defer rows.Close()

	out := []Correction{}
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.Wrong, &c.Correct); err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return out, nil
}

// Map returns the corrections keyed by wrong text.
func (s *Store) Map(ctx context.Context) (map[string]string, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("Map: %w", err)
	}
	m := make(map[string]string, len(list))
	for _, c := range list {
		m[c.Wrong] = c.Correct
	}
	return m, nil
}

// Learn records that wrong should read correct. Both are trimmed; empty or
// identical values are ignored. It reports whether anything was stored.
func (s *Store) Learn(ctx context.Context, wrong, correct string) (bool, error) {
	wrong, correct = strings.TrimSpace(wrong), strings.TrimSpace(correct)
	if wrong == "" || correct == "" || wrong == correct {
		return false, nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO corrections (wrong, correct) VALUES (?, ?)
		 ON CONFLICT(wrong) DO UPDATE SET correct = excluded.correct, learned_at = CURRENT_TIMESTAMP`,
		wrong, correct,
	)
	if err != nil {
		return false, fmt.Errorf("Learn: upsert: %w", err)
	}
	s.log.Info().Str("wrong", wrong).Str("correct", correct).Msg("Correction learned")
	return true, nil
}

// Remove deletes the correction for wrong. Removing an unknown entry is not
// an error.
func (s *Store) Remove(ctx context.Context, wrong string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM corrections WHERE wrong = ?`, wrong); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}
