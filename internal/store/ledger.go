// Package store persists the conversion ledger: one row per completed
// conversion, keyed by a fingerprint of the source file. The driver consults
// it to skip books that are already done.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/listenupapp/aaxconv/internal/id"
)

//go:embed schema.sql
var schemaSQL string

// Conversion is one completed conversion record.
type Conversion struct {
	ID          string
	InputPath   string
	Fingerprint string
	OutputPath  string
	Title       string
	Author      string
	DurationS   float64
	CompletedAt time.Time
}

// Ledger provides SQLite-backed persistence for completed conversions.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger database at the given path.
// It configures WAL mode, sets pragmas, and runs schema migrations.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One writer at a time is all a CLI needs.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	// Configure pragmas.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	// Run schema migration.
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Fingerprint derives the ledger key for a source file from its path, size,
// and modification time. Hashing the file contents would double the read
// cost of every conversion for no practical gain.
func Fingerprint(path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(stat.Size(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(stat.ModTime().UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Find returns the conversion recorded for a fingerprint, or nil.
func (l *Ledger) Find(ctx context.Context, fingerprint string) (*Conversion, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, input_path, fingerprint, output_path, title, author, duration_s, completed_at
		FROM conversions WHERE fingerprint = ?`, fingerprint)

	var c Conversion
	var completedAt string
	err := row.Scan(&c.ID, &c.InputPath, &c.Fingerprint, &c.OutputPath,
		&c.Title, &c.Author, &c.DurationS, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversion: %w", err)
	}

	c.CompletedAt, err = time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &c, nil
}

// Record inserts or replaces the conversion for its fingerprint and returns
// the stored row with its generated ID.
func (l *Ledger) Record(ctx context.Context, c Conversion) (*Conversion, error) {
	if c.ID == "" {
		generated, err := id.Conversion()
		if err != nil {
			return nil, err
		}
		c.ID = generated
	}
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO conversions (id, input_path, fingerprint, output_path, title, author, duration_s, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			id = excluded.id,
			input_path = excluded.input_path,
			output_path = excluded.output_path,
			title = excluded.title,
			author = excluded.author,
			duration_s = excluded.duration_s,
			completed_at = excluded.completed_at`,
		c.ID, c.InputPath, c.Fingerprint, c.OutputPath,
		c.Title, c.Author, c.DurationS, c.CompletedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("record conversion: %w", err)
	}

	l.logger.Debug("recorded conversion",
		slog.String("id", c.ID),
		slog.String("output", c.OutputPath))
	return &c, nil
}
