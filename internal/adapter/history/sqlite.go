// Package history persists coordinator runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"supplyintel/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var _ domain.HistoryStore = (*SQLiteStore)(nil)

// SQLiteStore implements domain.HistoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, domain.NewDomainError("history.Open", domain.ErrHistoryStore, err.Error())
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			source         TEXT NOT NULL,
			intent         TEXT NOT NULL,
			query          TEXT NOT NULL,
			success        INTEGER NOT NULL,
			total_ms       INTEGER NOT NULL,
			response       TEXT NOT NULL,
			created_at     INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at)")
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts rec. CreatedAt defaults to now.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.HistoryRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.NewDomainError("history.Save", domain.ErrInvalidInput, "record id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	resp, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("marshal run response: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, correlation_id, source, intent, query, success, total_ms, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CorrelationID, rec.Source, string(rec.Intent), rec.Query,
		boolToInt(rec.Success), rec.TotalMs, string(resp), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return domain.NewDomainError("history.Save", domain.ErrHistoryStore, err.Error())
	}
	return nil
}

// Get returns the record with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, correlation_id, source, intent, query, success, total_ms, response, created_at
		 FROM runs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("history.Get", domain.ErrNotFound, id)
	}
	return rec, err
}

// List returns the newest records first. A non-positive limit uses the default.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*domain.HistoryRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, source, intent, query, success, total_ms, response, created_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.NewDomainError("history.List", domain.ErrHistoryStore, err.Error())
	}
	defer rows.Close()

	recs := []*domain.HistoryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PruneBefore deletes records created before cutoff and returns how many went.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, domain.NewDomainError("history.PruneBefore", domain.ErrHistoryStore, err.Error())
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.HistoryRecord, error) {
	var (
		rec       domain.HistoryRecord
		intent    string
		success   int
		response  string
		createdNs int64
	)
	if err := row.Scan(&rec.ID, &rec.CorrelationID, &rec.Source, &intent, &rec.Query,
		&success, &rec.TotalMs, &response, &createdNs); err != nil {
		return nil, err
	}
	rec.Intent = domain.IntentKey(intent)
	rec.Success = success != 0
	rec.CreatedAt = time.Unix(0, createdNs).UTC()
	if err := json.Unmarshal([]byte(response), &rec.Response); err != nil {
		return nil, fmt.Errorf("%w: run %s response: %v", domain.ErrParse, rec.ID, err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
