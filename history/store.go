// store.go is the repository layer: typed reads and writes over the
// generation_history table, plus the adapter that plugs the store into the
// generation pipeline as its HistoryRecorder.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lyricdeck/imagegen"
	"lyricdeck/logging"
)

// GenerationRecord is one row of the generation_history table.
type GenerationRecord struct {
	ID         int64     // Auto-incremented primary key
	RequestID  string    // Pipeline request identifier
	Provider   string    // Provider that served (or failed) the request
	Model      string    // Model identifier, when known
	PromptHash string    // Content hash of the final prompt
	Title      string    // Song title, when the request named one
	Artist     string    // Song artist, when the request named one
	Status     string    // Terminal status: "completed", "failed", "cancelled"
	ErrorKind  string    // Error taxonomy kind for failures, empty otherwise
	FromCache  bool      // Whether the image came from cache or shared work
	DurationMS int64     // Wall time from start to terminal status
	CreatedAt  time.Time // Timestamp when the record was written
}

// Store persists and queries generation records.
//
// Thread Safety: safe for concurrent use; SQLite serializes writes via the
// single-connection pool.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open migrates the schema and opens the store. The migration run uses its
// own connection because the migrator closes whatever it is handed.
func Open(dbPath, migrationsPath string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("history")

	migrationDB, err := newSQLiteConnection(DefaultConnectionConfig(dbPath))
	if err != nil {
		return nil, err
	}
	if err := migrateUp(migrationDB, migrationsPath); err != nil {
		return nil, err
	}

	db, err := newSQLiteConnection(DefaultConnectionConfig(dbPath))
	if err != nil {
		return nil, err
	}

	logger.Info("history database ready", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements imagegen.HistoryRecorder.
func (s *Store) Record(ctx context.Context, rec imagegen.GenerationLog) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return s.Insert(ctx, GenerationRecord{
		RequestID:  rec.RequestID,
		Provider:   rec.Provider,
		Model:      rec.Model,
		PromptHash: rec.PromptHash,
		Title:      rec.Title,
		Artist:     rec.Artist,
		Status:     rec.Status,
		ErrorKind:  rec.ErrorKind,
		FromCache:  rec.FromCache,
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  createdAt,
	})
}

// Insert writes one record.
func (s *Store) Insert(ctx context.Context, rec GenerationRecord) error {
	query := `
		INSERT INTO generation_history (
			request_id, provider, model, prompt_hash, title, artist,
			status, error_kind, from_cache, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.Provider,
		rec.Model,
		rec.PromptHash,
		rec.Title,
		rec.Artist,
		rec.Status,
		rec.ErrorKind,
		boolToInt(rec.FromCache),
		rec.DurationMS,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: failed to insert record: %w", err)
	}
	return nil
}

// Recent returns the most recent records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectColumns + ` ORDER BY id DESC LIMIT ?`
	return s.queryRecords(ctx, query, limit)
}

// ByTitle returns records for one song, newest first.
func (s *Store) ByTitle(ctx context.Context, title string, limit int) ([]GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectColumns + ` WHERE title = ? ORDER BY id DESC LIMIT ?`
	return s.queryRecords(ctx, query, title, limit)
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_history`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("history: failed to count records: %w", err)
	}
	return count, nil
}

// Prune deletes records older than the retention window and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: failed to prune records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: failed to read prune count: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned history records", zap.Int64("removed", n))
	}
	return n, nil
}

const selectColumns = `
	SELECT id, request_id, provider, model, prompt_hash, title, artist,
	       status, error_kind, from_cache, duration_ms, created_at
	FROM generation_history`

func (s *Store) queryRecords(ctx context.Context, query string, args ...interface{}) ([]GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query failed: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		var rec GenerationRecord
		var fromCache int
		var createdAt string
		err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.Provider,
			&rec.Model,
			&rec.PromptHash,
			&rec.Title,
			&rec.Artist,
			&rec.Status,
			&rec.ErrorKind,
			&fromCache,
			&rec.DurationMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("history: failed to scan record: %w", err)
		}
		rec.FromCache = fromCache != 0
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: row iteration failed: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure Store satisfies the pipeline's recorder interface.
var _ imagegen.HistoryRecorder = (*Store)(nil)
