package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"cvdrisk/audit"
)

// Store mirrors audit rows and CSP reports into SQLite.
type Store struct {
	db *sql.DB
}

type Prediction struct {
	ID          int64     `json:"id"`
	Weight      float64   `json:"weight"`
	Cholesterol float64   `json:"cholesterol"`
	Prediction  string    `json:"prediction"`
	CreatedAt   time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    weight REAL,
    cholesterol REAL,
    prediction TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS csp_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    body TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
`

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "sqlite: create directory for %s", path)
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open %s", path)
	}
	// one connection keeps inserts ordered and avoids SQLITE_BUSY between writers
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SQLite stores NaN as NULL.
func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// MarshalJSON keeps NaN and ±Inf rows encodable.
func (p Prediction) MarshalJSON() ([]byte, error) {
	type plain Prediction
	return json.Marshal(struct {
		plain
		Weight      audit.JSONFloat `json:"weight"`
		Cholesterol audit.JSONFloat `json:"cholesterol"`
	}{plain(p), audit.JSONFloat(p.Weight), audit.JSONFloat(p.Cholesterol)})
}

// Record implements audit.Recorder.
func (s *Store) Record(ctx context.Context, row audit.Row) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (weight, cholesterol, prediction, created_at) VALUES (?, ?, ?, ?)`,
		row.Weight, row.Cholesterol, row.Prediction, time.Now().UTC())
	return eris.Wrap(err, "sqlite: insert prediction")
}

func (s *Store) SaveCSPReport(ctx context.Context, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO csp_reports (body, created_at) VALUES (?, ?)`,
		body, time.Now().UTC())
	return eris.Wrap(err, "sqlite: insert csp report")
}

func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count predictions")
}

func (s *Store) CountCSPReports(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM csp_reports`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count csp reports")
}

// RecentPredictions returns up to limit rows, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, weight, cholesterol, prediction, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query predictions")
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var (
			p                   Prediction
			weight, cholesterol sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &weight, &cholesterol, &p.Prediction, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		p.Weight = nullToNaN(weight)
		p.Cholesterol = nullToNaN(cholesterol)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate predictions")
}
