package records

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/domain"
)

var (
	// ErrNotFound is returned for an unknown record id.
	ErrNotFound = errors.New("record not found")
	// ErrInsertNotAllowed is returned by InsertBelow before an analysis run
	// has completed on the current table.
	ErrInsertNotAllowed = errors.New("row insertion is enabled after a completed analysis run")
)

// ConfirmState summarizes the confirmed flags of the table.
type ConfirmState string

const (
	ConfirmNone    ConfirmState = "none"
	ConfirmPartial ConfirmState = "partial"
	ConfirmAll     ConfirmState = "all"
)

// Store is the application's record table. All methods are safe for
// concurrent use; every mutation happens under one lock so each operation
// has a single writer.
type Store struct {
	mu            sync.RWMutex
	rows          []domain.Record
	nextID        int64
	insertAllowed bool
	sortOnMerge   bool
	log           zerolog.Logger
}

// NewStore creates an empty store. New rows are sorted into place on merge.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		nextID:      1,
		sortOnMerge: true,
		log:         log,
	}
}

// SetSortOnMerge toggles sorting after Merge.
func (s *Store) SetSortOnMerge(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortOnMerge = on
}

// Merge adds the given paths, skipping ones already present. Adding rows
// disables manual insertion until the next completed analysis run.
func (s *Store) Merge(paths []string) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Merge(s.rows, paths, MergeOptions{Sort: s.sortOnMerge, NextID: s.nextID})
	for _, err := range res.Failures {
		s.log.Warn().Err(err).Msg("Skipping unparseable file")
	}
	for _, r := range res.Added {
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	s.rows = res.Rows
	if len(res.Added) > 0 {
		s.insertAllowed = false
	}

	s.log.Info().
		Int("added", len(res.Added)).
		Int("duplicates", res.Duplicates).
		Int("failed", len(res.Failures)).
		Int("total", len(s.rows)).
		Msg("Merged files into table")

	return res
}

// Snapshot returns a copy of the current rows.
func (s *Store) Snapshot() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Record(nil), s.rows...)
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Replace swaps the whole table, as after an analysis run. Rows with a zero
// or repeated id get a fresh one.
func (s *Store) Replace(rows []domain.Record) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Record, len(rows))
	used := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	for i, r := range rows {
		if _, dup := used[r.ID]; r.ID <= 0 || dup {
			r.ID = s.nextID
			s.nextID++
		}
		used[r.ID] = struct{}{}
		out[i] = r
	}
	s.rows = out
	return append([]domain.Record(nil), out...)
}

// Clear empties the table. Ids are not reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	s.insertAllowed = false
}

// Get returns the row with the given id.
func (s *Store) Get(id int64) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Record{}, fmt.Errorf("Get: id %d: %w", id, ErrNotFound)
	}
	return s.rows[i], nil
}

// Update applies fn to a copy of the row and stores the result. ID and
// DocType cannot be changed. It returns the row before and after the edit.
func (s *Store) Update(id int64, fn func(*domain.Record)) (before, after domain.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.Record{}, domain.Record{}, fmt.Errorf("Update: id %d: %w", id, ErrNotFound)
	}
	before = s.rows[i]
	after = before
	fn(&after)
	after.ID = before.ID
	after.DocType = before.DocType
	s.rows[i] = after
	return before, after, nil
}

// SetConfirmed sets the confirmed flag of one row.
func (s *Store) SetConfirmed(id int64, confirmed bool) error {
	_, _, err := s.Update(id, func(r *domain.Record) { r.Confirmed = confirmed })
	return err
}

// ConfirmAll sets the confirmed flag on every row.
func (s *Store) ConfirmAll(confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		s.rows[i].Confirmed = confirmed
	}
}

// ConfirmationState reports whether none, some or all rows are confirmed.
func (s *Store) ConfirmationState() ConfirmState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	confirmed := 0
	for _, r := range s.rows {
		if r.Confirmed {
			confirmed++
		}
	}
	switch {
	case confirmed == 0:
		return ConfirmNone
	case confirmed == len(s.rows):
		return ConfirmAll
	default:
		return ConfirmPartial
	}
}

// Remove deletes a row. Its id is not reused.
func (s *Store) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("Remove: id %d: %w", id, ErrNotFound)
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	return nil
}

// SetInsertAllowed enables or disables manual row insertion.
func (s *Store) SetInsertAllowed(allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertAllowed = allowed
}

// InsertAllowed reports whether InsertBelow is enabled.
func (s *Store) InsertAllowed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.insertAllowed
}

// InsertBelow adds n empty line-item rows after the given row. The new rows
// inherit the document-level fields of that row so the operator only has to
// fill in the product columns.
func (s *Store) InsertBelow(id int64, n int) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.insertAllowed {
		return nil, ErrInsertNotAllowed
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("InsertBelow: id %d: %w", id, ErrNotFound)
	}
	if n < 1 {
		n = 1
	}

	above := s.rows[i]
	added := make([]domain.Record, n)
	for k := range added {
		added[k] = domain.Record{
			ID:            s.nextID,
			DocType:       above.DocType,
			Customer:      above.Customer,
			Supplier:      above.Supplier,
			OrderDate:     above.OrderDate,
			OrderNumber:   above.OrderNumber,
			InvoiceDate:   above.InvoiceDate,
			InvoiceNumber: above.InvoiceNumber,
		}
		s.nextID++
	}

	rows := make([]domain.Record, 0, len(s.rows)+n)
	rows = append(rows, s.rows[:i+1]...)
	rows = append(rows, added...)
	rows = append(rows, s.rows[i+1:]...)
	s.rows = rows

	return added, nil
}

// InsertRowsAfter places rows directly after the row with the given id and
// assigns them fresh ids. It is used for line items found by re-analysis and
// does not depend on the insertion flag.
func (s *Store) InsertRowsAfter(id int64, extra []domain.Record) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("InsertRowsAfter: id %d: %w", id, ErrNotFound)
	}

	added := make([]domain.Record, len(extra))
	for k, r := range extra {
		r.ID = s.nextID
		s.nextID++
		added[k] = r
	}

	rows := make([]domain.Record, 0, len(s.rows)+len(added))
	rows = append(rows, s.rows[:i+1]...)
	rows = append(rows, added...)
	rows = append(rows, s.rows[i+1:]...)
	s.rows = rows

	return added, nil
}

func (s *Store) indexOf(id int64) int {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return i
		}
	}
	return -1
}
