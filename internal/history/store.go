// Package history records conversions in SQLite and keeps a full-text
// index of them for search.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultListLimit = 50

const recordColumns = `id, document_id, title, format, provider, voice, status,
	total_chunks, done_chunks, total_chars, cache_key, output_key, error,
	created_at, updated_at, completed_at, duration_ms`

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status     string
	Provider   string
	DocumentID string
	Limit      int
	Offset     int
}

// Stats aggregates the whole history.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByProvider      map[string]int `json:"by_provider"`
	TotalChars      int64          `json:"total_chars"`
	TotalDurationMs int64          `json:"total_duration_ms"`
	AvgDurationMs   int64          `json:"avg_duration_ms"`
}

// Store provides SQLite-backed conversion history.
type Store struct {
	db     *sql.DB
	index  *searchIndex
	logger *slog.Logger
}

// Open creates or opens the history database at path. ":memory:" keeps
// everything in memory for the lifetime of the store.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	index, err := newSearchIndex()
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		index:  index,
		logger: logger.Component(log, "history"),
	}

	n, err := s.reindex(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.logger.Info("history opened", "path", path, "records", n)
	return s, nil
}

// Close closes the search index and the database.
func (s *Store) Close() error {
	return errors.Join(s.index.Close(), s.db.Close())
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert adds a new record. A duplicate ID is a conflict.
func (s *Store) Insert(ctx context.Context, rec *types.ConversionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversions (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.DocumentID,
		rec.Title,
		rec.Format,
		rec.Provider,
		rec.VoiceID,
		rec.Status,
		rec.TotalChunks,
		rec.DoneChunks,
		rec.TotalChars,
		rec.CacheKey,
		rec.OutputKey,
		rec.Error,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		nullTimeString(rec.CompletedAt),
		rec.DurationMs,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domainerrors.Conflictf("conversion %s already recorded", rec.ID)
		}
		return fmt.Errorf("insert conversion: %w", err)
	}

	s.indexRecord(rec)
	return nil
}

// Update overwrites the mutable columns of an existing record.
func (s *Store) Update(ctx context.Context, rec *types.ConversionRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversions SET
			title = ?, status = ?, total_chunks = ?, done_chunks = ?, total_chars = ?,
			cache_key = ?, output_key = ?, error = ?, updated_at = ?, completed_at = ?,
			duration_ms = ?
		WHERE id = ?`,
		rec.Title,
		rec.Status,
		rec.TotalChunks,
		rec.DoneChunks,
		rec.TotalChars,
		rec.CacheKey,
		rec.OutputKey,
		rec.Error,
		formatTime(rec.UpdatedAt),
		nullTimeString(rec.CompletedAt),
		rec.DurationMs,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.NotFoundf("conversion not found: %s", rec.ID)
	}

	s.indexRecord(rec)
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.ConversionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM conversions WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundf("conversion not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion: %w", err)
	}
	return rec, nil
}

// List returns records matching f, newest first, and the total number of
// matches ignoring Limit and Offset.
func (s *Store) List(ctx context.Context, f Filter) ([]*types.ConversionRecord, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, f.DocumentID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := max(f.Offset, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM conversions`+clause+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.NotFoundf("conversion not found: %s", id)
	}

	if err := s.index.remove(id); err != nil {
		s.logger.Warn("failed to remove conversion from search index", "id", id, "error", err)
	}
	return nil
}

// Stats aggregates counts per status and provider plus completed totals.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:   make(map[string]int),
		ByProvider: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, provider, COUNT(*), COALESCE(SUM(total_chars), 0)
		FROM conversions GROUP BY status, provider`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, provider string
			count            int
			chars            int64
		)
		if err := rows.Scan(&status, &provider, &count, &chars); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByProvider[provider] += count
		stats.TotalChars += chars
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var completed int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM conversions WHERE status = ?`, types.JobCompleted).
		Scan(&completed, &stats.TotalDurationMs)
	if err != nil {
		return nil, fmt.Errorf("query durations: %w", err)
	}
	if completed > 0 {
		stats.AvgDurationMs = stats.TotalDurationMs / completed
	}
	return stats, nil
}

// Search runs a full-text query over title, provider, voice and status and
// returns matching records in relevance order. An empty query lists the
// most recent records.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*types.ConversionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if strings.TrimSpace(query) == "" {
		records, _, err := s.List(ctx, Filter{Limit: limit})
		return records, err
	}

	ids, err := s.index.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	records := make([]*types.ConversionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// reindex loads every row into the search index.
func (s *Store) reindex(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM conversions`)
	if err != nil {
		return 0, fmt.Errorf("load conversions: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return 0, err
	}
	if err := s.index.addAll(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Store) indexRecord(rec *types.ConversionRecord) {
	if err := s.index.add(rec); err != nil {
		s.logger.Warn("failed to index conversion", "id", rec.ID, "error", err)
	}
}

// scanRecord scans a sql.Row (or sql.Rows via its Scan method).
func scanRecord(scanner interface{ Scan(dest ...any) error }) (*types.ConversionRecord, error) {
	var (
		rec         types.ConversionRecord
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	err := scanner.Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.Title,
		&rec.Format,
		&rec.Provider,
		&rec.VoiceID,
		&rec.Status,
		&rec.TotalChunks,
		&rec.DoneChunks,
		&rec.TotalChars,
		&rec.CacheKey,
		&rec.OutputKey,
		&rec.Error,
		&createdAt,
		&updatedAt,
		&completedAt,
		&rec.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*types.ConversionRecord, error) {
	var records []*types.ConversionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
