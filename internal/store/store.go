// Package store persists host state in sqlite: the lifecycle journal and
// per-module enable overrides.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/lifecycle"
	"github.com/alucardeht/mfhost/internal/logger"
)

var log = logger.ForComponent("store")

type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("store opened", "path", dbPath)
	return s, nil
}

func (s *Store) initSchema() error {
	var clean []string
	for _, line := range strings.Split(GetSchema(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			clean = append(clean, line)
		}
	}

	if _, err := s.db.Exec(strings.Join(clean, "\n")); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	_, _ = s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type TransitionRecord struct {
	ID           int64           `json:"id"`
	ModuleID     string          `json:"module_id"`
	From         lifecycle.State `json:"from"`
	To           lifecycle.State `json:"to"`
	ErrorKind    fragment.Kind   `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	At           time.Time       `json:"at"`
}

func (s *Store) InsertTransition(ctx context.Context, t lifecycle.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kind, message sql.NullString
	if t.Err != nil {
		kind = sql.NullString{String: string(fragment.KindOf(t.Err)), Valid: true}
		message = sql.NullString{String: t.Err.Error(), Valid: true}
	}

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (module_id, from_state, to_state, error_kind, error_message, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ModuleID, string(t.From), string(t.To), kind, message, at)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Transitions returns the most recent transitions, oldest first. An empty
// moduleID means every module; limit <= 0 means no limit.
func (s *Store) Transitions(ctx context.Context, moduleID string, limit int) ([]TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, module_id, from_state, to_state, error_kind, error_message, at FROM transitions`
	var args []any
	if moduleID != "" {
		query += ` WHERE module_id = ?`
		args = append(args, moduleID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var (
			r             TransitionRecord
			from, to      string
			kind, message sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ModuleID, &from, &to, &kind, &message, &r.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		r.From = lifecycle.State(from)
		r.To = lifecycle.State(to)
		r.ErrorKind = fragment.Kind(kind.String)
		r.ErrorMessage = message.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (s *Store) SetEnabled(ctx context.Context, moduleID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_flags (module_id, enabled, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(module_id) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP
	`, moduleID, enabled)
	if err != nil {
		return fmt.Errorf("set enabled %s: %w", moduleID, err)
	}
	return nil
}

// ClearEnabled drops the override so the manifest decides again.
func (s *Store) ClearEnabled(ctx context.Context, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM module_flags WHERE module_id = ?`, moduleID); err != nil {
		return fmt.Errorf("clear enabled %s: %w", moduleID, err)
	}
	return nil
}

// Enabled reports the override for moduleID; ok is false when there is none.
func (s *Store) Enabled(ctx context.Context, moduleID string) (enabled bool, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `SELECT enabled FROM module_flags WHERE module_id = ?`, moduleID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get enabled %s: %w", moduleID, err)
	}
	return enabled, true, nil
}

func (s *Store) Overrides(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT module_id, enabled FROM module_flags`)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var (
			id      string
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides[id] = enabled
	}
	return overrides, rows.Err()
}
