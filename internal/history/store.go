// Package history journals batch outcomes in SQLite. The journal is written
// after the fact and never consulted when deciding what to merge.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/merger"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed outcome history
type Store struct {
	db *sql.DB
}

// Entry is one recorded outcome
type Entry struct {
	RunID      string
	Repository string
	IID        int
	Title      string
	WebURL     string
	Terminal   domain.Terminal
	Reason     string
	Retries    int
	Rebases    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run is one recorded batch
type Run struct {
	ID         string
	Repository string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Merged     int
	NotMerged  int
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordOutcome appends one outcome, registering its run on first use
func (s *Store) RecordOutcome(runID, repository string, o domain.Outcome) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO runs (id, repository, started_at) VALUES (?, ?, ?)`,
		runID, repository, o.StartedAt); err != nil {
		return fmt.Errorf("registering run %s: %w", runID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO outcomes (run_id, repository, mr_iid, title, web_url, terminal, reason, retries, rebases, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		repository,
		o.MergeRequest.IID,
		o.MergeRequest.Title,
		o.MergeRequest.WebURL,
		string(o.Terminal),
		o.Reason,
		o.Retries,
		o.Rebases,
		o.StartedAt,
		o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("recording MR #%d: %w", o.MergeRequest.IID, err)
	}
	return tx.Commit()
}

// FinishRun stores the totals of a finished batch
func (s *Store) FinishRun(r *merger.Report) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, repository, started_at, finished_at, merged, not_merged)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			merged = excluded.merged,
			not_merged = excluded.not_merged
	`, r.RunID, r.Repository, r.StartedAt, r.FinishedAt, len(r.Merged), len(r.NotMerged))
	return err
}

// ListOptions specifies filters for listing outcomes
type ListOptions struct {
	Repository string
	IID        int
	Limit      int
}

// ListOutcomes returns recorded outcomes, newest first
func (s *Store) ListOutcomes(opts ListOptions) ([]Entry, error) {
	query := `SELECT run_id, repository, mr_iid, title, web_url, terminal, reason, retries, rebases, started_at, finished_at FROM outcomes WHERE 1=1`
	var args []interface{}

	if opts.Repository != "" {
		query += " AND repository = ?"
		args = append(args, opts.Repository)
	}
	if opts.IID > 0 {
		query += " AND mr_iid = ?"
		args = append(args, opts.IID)
	}

	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var terminal string
		var webURL, reason sql.NullString
		if err := rows.Scan(&e.RunID, &e.Repository, &e.IID, &e.Title, &webURL, &terminal, &reason,
			&e.Retries, &e.Rebases, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Terminal = domain.Terminal(terminal)
		e.WebURL = webURL.String
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListRuns returns the most recent batches, newest first
func (s *Store) ListRuns(limit int) ([]Run, error) {
	query := `SELECT id, repository, started_at, finished_at, merged, not_merged FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Repository, &r.StartedAt, &r.FinishedAt, &r.Merged, &r.NotMerged); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Hook returns an outcome hook that journals every outcome. Write failures
// are passed to onError and never interrupt the batch.
func (s *Store) Hook(onError func(error)) merger.OutcomeHook {
	return func(report *merger.Report, o domain.Outcome) {
		if err := s.RecordOutcome(report.RunID, report.Repository, o); err != nil && onError != nil {
			onError(err)
		}
	}
}
