// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"keytally/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for the statistics tables. All writes go
// through the flush policy (single writer); reads may interleave
// freely because every write commits as one transaction.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_stats (
			date TEXT PRIMARY KEY,
			chinese_chars INTEGER NOT NULL DEFAULT 0,
			english_chars INTEGER NOT NULL DEFAULT 0,
			number_chars INTEGER NOT NULL DEFAULT 0,
			symbol_chars INTEGER NOT NULL DEFAULT 0,
			other_chars INTEGER NOT NULL DEFAULT 0,
			total_chars INTEGER NOT NULL DEFAULT 0,
			session_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS hourly_stats (
			date TEXT NOT NULL,
			hour INTEGER NOT NULL,
			chinese_chars INTEGER NOT NULL DEFAULT 0,
			english_chars INTEGER NOT NULL DEFAULT 0,
			number_chars INTEGER NOT NULL DEFAULT 0,
			symbol_chars INTEGER NOT NULL DEFAULT 0,
			other_chars INTEGER NOT NULL DEFAULT 0,
			total_chars INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (date, hour)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			chinese_chars INTEGER NOT NULL DEFAULT 0,
			english_chars INTEGER NOT NULL DEFAULT 0,
			number_chars INTEGER NOT NULL DEFAULT 0,
			symbol_chars INTEGER NOT NULL DEFAULT 0,
			other_chars INTEGER NOT NULL DEFAULT 0,
			total_chars INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const upsertDailySQL = `INSERT INTO daily_stats
	(date, chinese_chars, english_chars, number_chars, symbol_chars, other_chars, total_chars, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(date) DO UPDATE SET
		chinese_chars = chinese_chars + excluded.chinese_chars,
		english_chars = english_chars + excluded.english_chars,
		number_chars = number_chars + excluded.number_chars,
		symbol_chars = symbol_chars + excluded.symbol_chars,
		other_chars = other_chars + excluded.other_chars,
		total_chars = total_chars + excluded.total_chars,
		updated_at = excluded.updated_at`

const upsertHourlySQL = `INSERT INTO hourly_stats
	(date, hour, chinese_chars, english_chars, number_chars, symbol_chars, other_chars, total_chars, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(date, hour) DO UPDATE SET
		chinese_chars = chinese_chars + excluded.chinese_chars,
		english_chars = english_chars + excluded.english_chars,
		number_chars = number_chars + excluded.number_chars,
		symbol_chars = symbol_chars + excluded.symbol_chars,
		other_chars = other_chars + excluded.other_chars,
		total_chars = total_chars + excluded.total_chars,
		updated_at = excluded.updated_at`

// ApplyDelta merges one flush cycle's daily and hourly increments in a
// single transaction. Either the whole cycle becomes durable or none
// of it does, which keeps the hourly rows' sums consistent with the
// daily row across crashes.
func (s *Store) ApplyDelta(ctx context.Context, delta model.Delta) error {
	if delta.IsZero() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for date, c := range delta.Daily {
		if c.IsZero() {
			continue
		}
		if _, err = tx.ExecContext(ctx, upsertDailySQL,
			date, c.Chinese, c.English, c.Number, c.Symbol, c.Other, c.Total, now, now); err != nil {
			return fmt.Errorf("upsert daily %s: %w", date, err)
		}
	}
	for key, c := range delta.Hourly {
		if c.IsZero() {
			continue
		}
		if _, err = tx.ExecContext(ctx, upsertHourlySQL,
			key.Date, key.Hour, c.Chinese, c.English, c.Number, c.Symbol, c.Other, c.Total, now, now); err != nil {
			return fmt.Errorf("upsert hourly %s %02d: %w", key.Date, key.Hour, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit flush tx: %w", err)
	}
	return nil
}

// UpsertDaily merges a delta into a single date's row.
func (s *Store) UpsertDaily(ctx context.Context, date string, c model.Counters) error {
	return s.ApplyDelta(ctx, model.Delta{Daily: map[string]model.Counters{date: c}})
}

// UpsertHourly merges a delta into a single (date, hour) row.
func (s *Store) UpsertHourly(ctx context.Context, date string, hour int, c model.Counters) error {
	return s.ApplyDelta(ctx, model.Delta{
		Hourly: map[model.HourKey]model.Counters{{Date: date, Hour: hour}: c},
	})
}

// OpenSession inserts a new open session row and bumps the start
// date's session count in the same transaction.
func (s *Store) OpenSession(ctx context.Context, id string, startedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		id, startedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}

	date := startedAt.Format(model.DateFormat)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO daily_stats (date, session_count, created_at, updated_at)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
			session_count = session_count + 1,
			updated_at = excluded.updated_at`,
		date, now, now); err != nil {
		return fmt.Errorf("bump session count %s: %w", date, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}

// CloseSession finalizes an open session with its end time and final
// counters.
func (s *Store) CloseSession(ctx context.Context, id string, endedAt time.Time, c model.Counters) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, chinese_chars = ?, english_chars = ?,
			number_chars = ?, symbol_chars = ?, other_chars = ?, total_chars = ?
		 WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		c.Chinese, c.English, c.Number, c.Symbol, c.Other, c.Total, id)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("close session %s: no such session", id)
	}
	return nil
}

const dailyColumns = `date, chinese_chars, english_chars, number_chars, symbol_chars, other_chars, total_chars, session_count, created_at, updated_at`

func scanDaily(scan func(...any) error) (model.DailyRecord, error) {
	var rec model.DailyRecord
	var createdAt, updatedAt string
	if err := scan(&rec.Date,
		&rec.Counters.Chinese, &rec.Counters.English, &rec.Counters.Number,
		&rec.Counters.Symbol, &rec.Counters.Other, &rec.Counters.Total,
		&rec.SessionCount, &createdAt, &updatedAt); err != nil {
		return model.DailyRecord{}, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.DailyRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.DailyRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

// GetDaily returns the row for one date. The second return value is
// false when no row exists.
func (s *Store) GetDaily(ctx context.Context, date string) (model.DailyRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dailyColumns+` FROM daily_stats WHERE date = ?`, date)
	rec, err := scanDaily(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyRecord{}, false, nil
	}
	if err != nil {
		return model.DailyRecord{}, false, fmt.Errorf("get daily %s: %w", date, err)
	}
	return rec, true, nil
}

// GetRange returns daily rows for [startDate, endDate] inclusive,
// ascending by date. Dates with no row are absent from the result.
func (s *Store) GetRange(ctx context.Context, startDate, endDate string) ([]model.DailyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dailyColumns+` FROM daily_stats
		 WHERE date >= ? AND date <= ?
		 ORDER BY date ASC`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var records []model.DailyRecord
	for rows.Next() {
		rec, err := scanDaily(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("get range: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	return records, nil
}

// GetHourly returns the hourly rows for one date, ascending by hour.
func (s *Store) GetHourly(ctx context.Context, date string) ([]model.HourlyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, hour, chinese_chars, english_chars, number_chars, symbol_chars, other_chars, total_chars, created_at, updated_at
		 FROM hourly_stats WHERE date = ? ORDER BY hour ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("get hourly %s: %w", date, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var records []model.HourlyRecord
	for rows.Next() {
		var rec model.HourlyRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.Date, &rec.Hour,
			&rec.Counters.Chinese, &rec.Counters.English, &rec.Counters.Number,
			&rec.Counters.Symbol, &rec.Counters.Other, &rec.Counters.Total,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("get hourly %s: %w", date, err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("get hourly %s: %w", date, err)
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("get hourly %s: %w", date, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get hourly %s: %w", date, err)
	}
	return records, nil
}

// ListSessions returns sessions ordered by start time ascending, the
// most recent limit rows when limit > 0.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	query := `SELECT id, started_at, ended_at, chinese_chars, english_chars, number_chars, symbol_chars, other_chars, total_chars
		FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&rec.ID, &startedAt, &endedAt,
			&rec.Counters.Chinese, &rec.Counters.English, &rec.Counters.Number,
			&rec.Counters.Symbol, &rec.Counters.Other, &rec.Counters.Total); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if endedAt.Valid {
			ended, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("list sessions: %w", err)
			}
			rec.EndedAt = &ended
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	// Oldest first for display.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

// Summary aggregates the whole daily_stats table.
func (s *Store) Summary(ctx context.Context) (model.OverallSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(chinese_chars), 0),
		COALESCE(SUM(english_chars), 0),
		COALESCE(SUM(number_chars), 0),
		COALESCE(SUM(symbol_chars), 0),
		COALESCE(SUM(other_chars), 0),
		COALESCE(SUM(total_chars), 0),
		COALESCE(SUM(session_count), 0),
		COALESCE(MIN(date), ''),
		COALESCE(MAX(date), '')
		FROM daily_stats`)

	var sum model.OverallSummary
	if err := row.Scan(&sum.TrackedDays,
		&sum.Counters.Chinese, &sum.Counters.English, &sum.Counters.Number,
		&sum.Counters.Symbol, &sum.Counters.Other, &sum.Counters.Total,
		&sum.Sessions, &sum.FirstDate, &sum.LastDate); err != nil {
		return model.OverallSummary{}, fmt.Errorf("summary: %w", err)
	}
	if sum.TrackedDays > 0 {
		days := float64(sum.TrackedDays)
		sum.AvgChinese = float64(sum.Counters.Chinese) / days
		sum.AvgEnglish = float64(sum.Counters.English) / days
		sum.AvgTotal = float64(sum.Counters.Total) / days
	}
	return sum, nil
}

// Backup writes a consistent copy of the database to path.
func (s *Store) Backup(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("backup to %s: %w", path, err)
	}
	return nil
}
