// Package settings persists the operator's preferences in SQLite as a
// key-value table with typed accessors.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Keys of the persisted settings.
const (
	KeyDefaultPDFPath       = "defaultPdfPath"
	KeyDefaultExcelPath     = "defaultExcelPath"
	KeyDefaultProcessedPath = "defaultProcessedPdfPath"
	KeyDefaultTheme         = "defaultTheme"
	KeyConcurrencyLimit     = "concurrencyLimit"
	KeyMoveFilesEnabled     = "moveFilesEnabled"
	KeyAutoOpenExcel        = "autoOpenExcel"
)

// Defaults for settings that have never been saved.
const (
	DefaultConcurrencyLimit = 5
	DefaultMoveFilesEnabled = true
	DefaultAutoOpenExcel    = false
)

// Settings is the typed view of the persisted preferences.
type Settings struct {
	DefaultPDFPath       string `json:"defaultPdfPath"`
	DefaultExcelPath     string `json:"defaultExcelPath"`
	DefaultProcessedPath string `json:"defaultProcessedPdfPath"`
	DefaultTheme         string `json:"defaultTheme" validate:"omitempty,oneof=light dark system"`
	// ConcurrencyLimit 0 selects chunked analysis.
	ConcurrencyLimit int  `json:"concurrencyLimit" validate:"gte=0,lte=50"`
	MoveFilesEnabled bool `json:"moveFilesEnabled"`
	AutoOpenExcel    bool `json:"autoOpenExcel"`
}

// Defaults returns the settings used before anything is saved.
func Defaults() Settings {
	return Settings{
		ConcurrencyLimit: DefaultConcurrencyLimit,
		MoveFilesEnabled: DefaultMoveFilesEnabled,
		AutoOpenExcel:    DefaultAutoOpenExcel,
	}
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Store reads and writes settings.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a Store on an opened database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Get returns the raw value of key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("Get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("Set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("Delete %s: %w", key, err)
	}
	return nil
}

// String returns key or def when it is missing or unreadable.
func (s *Store) String(ctx context.Context, key, def string) string {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Int returns key as an int, or def on any failure.
func (s *Store) Int(ctx context.Context, key string, def int) int {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		}
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Setting is not a number, using default")
		return def
	}
	return n
}

// Bool returns key as a bool, or def on any failure.
func (s *Store) Bool(ctx context.Context, key string, def bool) bool {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		}
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Setting is not a boolean, using default")
		return def
	}
	return b
}

// Load returns all settings, falling back to defaults per key.
func (s *Store) Load(ctx context.Context) Settings {
	return Settings{
		DefaultPDFPath:       s.String(ctx, KeyDefaultPDFPath, ""),
		DefaultExcelPath:     s.String(ctx, KeyDefaultExcelPath, ""),
		DefaultProcessedPath: s.String(ctx, KeyDefaultProcessedPath, ""),
		DefaultTheme:         s.String(ctx, KeyDefaultTheme, ""),
		ConcurrencyLimit:     s.Int(ctx, KeyConcurrencyLimit, DefaultConcurrencyLimit),
		MoveFilesEnabled:     s.Bool(ctx, KeyMoveFilesEnabled, DefaultMoveFilesEnabled),
		AutoOpenExcel:        s.Bool(ctx, KeyAutoOpenExcel, DefaultAutoOpenExcel),
	}
}

// Save validates and writes all settings in one transaction.
func (s *Store) Save(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	values := map[string]string{
		KeyDefaultPDFPath:       st.DefaultPDFPath,
		KeyDefaultExcelPath:     st.DefaultExcelPath,
		KeyDefaultProcessedPath: st.DefaultProcessedPath,
		KeyDefaultTheme:         st.DefaultTheme,
		KeyConcurrencyLimit:     strconv.Itoa(st.ConcurrencyLimit),
		KeyMoveFilesEnabled:     strconv.FormatBool(st.MoveFilesEnabled),
		KeyAutoOpenExcel:        strconv.FormatBool(st.AutoOpenExcel),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("Save: prepare: %w", err)
	}
	defer stmt.Close()

	for k, v := range values {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("Save: write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Save: commit: %w", err)
	}
	s.log.Info().Msg("Settings saved")
	return nil
}
