// Package ledger persists launch records to a local SQLite database so an
// operator can ask what a past batch started without digging through the
// process table. It stores launch metadata only; worker logs stay on disk.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	stamp      TEXT NOT NULL,
	plan_path  TEXT NOT NULL,
	job_count  INTEGER NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS launches (
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	job_name    TEXT NOT NULL,
	pid         INTEGER NOT NULL,
	device      INTEGER NOT NULL,
	log_path    TEXT NOT NULL,
	output_path TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_launches_batch ON launches(batch_id);
`

// Batch is one launcher invocation.
type Batch struct {
	ID        string
	Stamp     string
	PlanPath  string
	JobCount  int
	StartedAt time.Time
}

// Launch is one started (or failed-to-start) worker process.
type Launch struct {
	BatchID    string
	JobName    string
	PID        int
	Device     int
	LogPath    string
	OutputPath string
	StartedAt  time.Time
	Error      string
}

// Ledger wraps the SQLite connection.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// Single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordBatch inserts the batch row. Call once per invocation, before the
// per-job launch records.
func (l *Ledger) RecordBatch(b Batch) error {
	_, err := l.db.Exec(`
		INSERT INTO batches (id, stamp, plan_path, job_count, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Stamp, b.PlanPath, b.JobCount, b.StartedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// RecordLaunch inserts one launch row.
func (l *Ledger) RecordLaunch(rec Launch) error {
	_, err := l.db.Exec(`
		INSERT INTO launches (batch_id, job_name, pid, device, log_path, output_path, started_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.JobName, rec.PID, rec.Device, rec.LogPath,
		rec.OutputPath, rec.StartedAt.Format(time.RFC3339), rec.Error)
	if err != nil {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}

// Batches returns the most recent batches, newest first.
func (l *Ledger) Batches(limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(`
		SELECT id, stamp, plan_path, job_count, started_at
		FROM batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var startedAt string
		if err := rows.Scan(&b.ID, &b.Stamp, &b.PlanPath, &b.JobCount, &startedAt); err != nil {
			return nil, err
		}
		b.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Launches returns the launch records of one batch, in launch order.
func (l *Ledger) Launches(batchID string) ([]Launch, error) {
	rows, err := l.db.Query(`
		SELECT batch_id, job_name, pid, device, log_path, output_path, started_at, error
		FROM launches WHERE batch_id = ? ORDER BY started_at, job_name`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var launches []Launch
	for rows.Next() {
		var rec Launch
		var startedAt string
		if err := rows.Scan(&rec.BatchID, &rec.JobName, &rec.PID, &rec.Device,
			&rec.LogPath, &rec.OutputPath, &startedAt, &rec.Error); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		launches = append(launches, rec)
	}
	return launches, rows.Err()
}
