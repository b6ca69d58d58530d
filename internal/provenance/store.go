// Package provenance records every attempt, finding, rule application, and
// verdict to an append-only sqlite store, plus a per-unit checkpoint row
// that lets an interrupted batch resume instead of restart.
package provenance

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sceneport/internal/logging"
	"sceneport/internal/rewrite"
	"sceneport/internal/unit"
)

// Store wraps the sqlite database. One connection, writes serialized under
// the mutex; sqlite concurrency is not worth fighting for an append log.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open creates or opens the store at path, creating parent directories and
// the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create provenance dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open provenance db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.ProvenanceDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.ProvenanceDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.ProvenanceDebug("failed to set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	method TEXT NOT NULL,
	diff TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_unit ON attempts(unit_id, seq);

CREATE TABLE IF NOT EXISTS findings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	fix_id TEXT NOT NULL DEFAULT '',
	exception TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_unit ON findings(unit_id);

CREATE TABLE IF NOT EXISTS rule_applications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	category TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_unit ON rule_applications(unit_id);

CREATE TABLE IF NOT EXISTS verdicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	category TEXT NOT NULL,
	explanation TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_unit ON verdicts(unit_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	name TEXT PRIMARY KEY,
	unit_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	state TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	reject_reason TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create provenance schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// RecordAttempt appends one repair attempt.
func (s *Store) RecordAttempt(unitID string, a unit.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO attempts (unit_id, seq, method, diff, outcome, success, latency_ms, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unitID, a.Seq, string(a.Method), a.Diff, a.Outcome, boolInt(a.Success),
		a.Latency.Milliseconds(), a.CostUSD, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecordFindings appends findings from one validation stage.
func (s *Store) RecordFindings(unitID, stage string, findings []unit.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin findings tx: %w", err)
	}
	now := time.Now().UTC()
	for _, f := range findings {
		if _, err := tx.Exec(
			`INSERT INTO findings (unit_id, stage, kind, severity, line, message, fix_id, exception, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			unitID, stage, string(f.Kind), string(f.Severity), f.Line, f.Message, f.FixID, f.Exception, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record finding: %w", err)
		}
	}
	return tx.Commit()
}

// RecordApplications appends the rewrite log for a unit.
func (s *Store) RecordApplications(unitID string, apps []rewrite.Application) error {
	if len(apps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin applications tx: %w", err)
	}
	now := time.Now().UTC()
	for _, a := range apps {
		if _, err := tx.Exec(
			`INSERT INTO rule_applications (unit_id, rule_id, category, line, skipped, reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			unitID, a.RuleID, string(a.Category), a.Line, boolInt(a.Skipped), a.Reason, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record rule application: %w", err)
		}
	}
	return tx.Commit()
}

// RecordVerdict appends a classifier verdict.
func (s *Store) RecordVerdict(unitID string, v unit.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO verdicts (unit_id, tier, category, explanation, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		unitID, string(v.Tier), v.Category, v.Explanation, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

// Checkpoint is the resumable position of one unit, keyed by unit name so a
// fresh run (fresh unit IDs) can pick it up.
type Checkpoint struct {
	Name         string
	UnitID       string
	Stage        string
	State        unit.State
	Text         string
	RejectReason string
}

// SaveCheckpoint upserts the unit's checkpoint. This is the one table that
// is not append-only: resume only needs the latest position.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (name, unit_id, stage, state, text, reject_reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   unit_id = excluded.unit_id,
		   stage = excluded.stage,
		   state = excluded.state,
		   text = excluded.text,
		   reject_reason = excluded.reject_reason,
		   updated_at = excluded.updated_at`,
		cp.Name, cp.UnitID, cp.Stage, string(cp.State), cp.Text, cp.RejectReason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint fetches the checkpoint for a unit name.
func (s *Store) LoadCheckpoint(name string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cp Checkpoint
	var state string
	err := s.db.QueryRow(
		`SELECT name, unit_id, stage, state, text, reject_reason FROM checkpoints WHERE name = ?`, name,
	).Scan(&cp.Name, &cp.UnitID, &cp.Stage, &state, &cp.Text, &cp.RejectReason)
	if err == sql.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	cp.State = unit.State(state)
	return cp, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
