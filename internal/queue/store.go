package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"praxis/internal/config"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database, applies the schema, and
// performs startup recovery: items left in processing by a prior process are
// reset to queued ahead of the FIFO order, and terminal items past the
// retention window are purged.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	ctx := context.Background()
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.recoverOrphans(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	retention := time.Duration(cfg.Queue.RetentionSeconds) * time.Second
	if _, err := store.PurgeExpired(ctx, time.Now().Add(-retention)); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Insert persists a new item and assigns it the next submission sequence.
func (s *Store) Insert(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM queue_items`).Scan(&item.Seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO queue_items (
            id, seq, requester, origin, query, status,
            submitted_at, started_at, finished_at, result, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Seq,
		item.Requester,
		nullableString(item.Origin),
		item.Query,
		item.Status,
		item.SubmittedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(item.StartedAt),
		nullableTime(item.FinishedAt),
		nullableString(item.Result),
		nullableString(item.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// Update persists changes to an existing queue item. Returns ErrNotFound
// when the row no longer exists, so callers notice a concurrent removal
// instead of silently updating nothing.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_items
         SET seq = ?, requester = ?, origin = ?, query = ?, status = ?,
             submitted_at = ?, started_at = ?, finished_at = ?, result = ?, error_message = ?
         WHERE id = ?`,
		item.Seq,
		item.Requester,
		nullableString(item.Origin),
		item.Query,
		item.Status,
		item.SubmittedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(item.StartedAt),
		nullableTime(item.FinishedAt),
		nullableString(item.Result),
		nullableString(item.ErrorMessage),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// MarkProcessing transitions an item from queued to processing. Returns
// false when the item is no longer queued, which happens when it was
// cancelled between being fetched and being picked up.
func (s *Store) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_items SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing,
		startedAt.UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return affected > 0, nil
}

// GetByID fetches a queue item by identifier. Returns nil when unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns queue items in FIFO order, filtered by status set (or all
// items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY seq`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextQueued returns the oldest queued item, or nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE status = ? ORDER BY seq LIMIT 1`,
		StatusQueued,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued item: %w", err)
	}
	return item, nil
}

// Processing returns the in-flight item, or nil when nothing is processing.
func (s *Store) Processing(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE status = ? ORDER BY seq LIMIT 1`,
		StatusProcessing,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("processing item: %w", err)
	}
	return item, nil
}

// ActiveCount counts queued plus processing items.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM queue_items WHERE status IN (?, ?)`,
		StatusQueued, StatusProcessing,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return count, nil
}

// CountAhead counts active items submitted before the given sequence.
func (s *Store) CountAhead(ctx context.Context, seq int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM queue_items WHERE status IN (?, ?) AND seq < ?`,
		StatusQueued, StatusProcessing, seq,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ahead: %w", err)
	}
	return count, nil
}

// ActiveForRequester returns the requester's earliest active item, or nil.
func (s *Store) ActiveForRequester(ctx context.Context, requester string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE requester = ? AND status IN (?, ?) ORDER BY seq LIMIT 1`,
		requester, StatusQueued, StatusProcessing,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active item for requester: %w", err)
	}
	return item, nil
}

const itemColumns = "id, seq, requester, origin, query, status, submitted_at, started_at, finished_at, result, error_message"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           string
		seq          int64
		requester    string
		origin       sql.NullString
		query        string
		statusStr    string
		submittedRaw sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		result       sql.NullString
		errorMessage sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&seq,
		&requester,
		&origin,
		&query,
		&statusStr,
		&submittedRaw,
		&startedRaw,
		&finishedRaw,
		&result,
		&errorMessage,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		Seq:          seq,
		Requester:    requester,
		Origin:       origin.String,
		Query:        query,
		Status:       Status(statusStr),
		Result:       result.String,
		ErrorMessage: errorMessage.String,
	}

	if submitted, err := parseTimeString(submittedRaw.String); err == nil {
		item.SubmittedAt = submitted
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			item.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			item.FinishedAt = &finished
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
