// Package archive keeps finished transcripts in SQLite so they outlive the
// in-memory job records.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/transcribeq/transcribeq/internal/job"
)

// Transcript is the archived result of a completed job.
type Transcript struct {
	FileName    string    `json:"fileName"`
	JobID       string    `json:"jobId"`
	Text        string    `json:"transcription"`
	CompletedAt time.Time `json:"completedAt"`
}

// Store is a SQLite-backed transcript archive. One row per file name; a
// later transcription of the same file replaces the earlier one.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			file_name    TEXT PRIMARY KEY,
			job_id       TEXT NOT NULL,
			text         TEXT NOT NULL DEFAULT '',
			completed_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_completed_at ON transcripts(completed_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, t Transcript) error {
	if t.FileName == "" {
		return errors.New("save transcript: file name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (file_name, job_id, text, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			job_id = excluded.job_id,
			text = excluded.text,
			completed_at = excluded.completed_at
	`, t.FileName, t.JobID, t.Text, t.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", t.FileName, err)
	}
	return nil
}

// Get returns the transcript for fileName, or nil if none was archived.
func (s *Store) Get(ctx context.Context, fileName string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_name, job_id, text, completed_at
		FROM transcripts WHERE file_name = ?
	`, fileName)

	t := &Transcript{}
	err := row.Scan(&t.FileName, &t.JobID, &t.Text, &t.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript %s: %w", fileName, err)
	}
	return t, nil
}

// List returns transcripts ordered by completed_at DESC with pagination, and
// the total count. Text is omitted.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Transcript, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transcripts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_name, job_id, completed_at
		FROM transcripts
		ORDER BY completed_at DESC, file_name
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.FileName, &t.JobID, &t.CompletedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, total, nil
}

// Record archives a completed job. It is meant to be registered as a
// scheduler terminal hook; failed jobs are ignored.
func (s *Store) Record(j job.Job) {
	if j.Status != job.StatusCompleted || j.CompletedAt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Save(ctx, Transcript{
		FileName:    j.FileName,
		JobID:       j.ID,
		Text:        j.Transcription,
		CompletedAt: *j.CompletedAt,
	})
	if err != nil {
		slog.Error("archive: save transcript", "job_id", j.ID, "error", err)
	}
}
