package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"mercator-hq/lethe/pkg/ledger"
)

// SQLiteConfig configures the SQLite ledger store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// WALMode enables write-ahead logging.
	WALMode bool

	// BusyTimeout is how long to wait for a lock.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/ledger.db",
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStorage stores ledger entries in SQLite. Every Append is a single
// INSERT run with synchronous=FULL, so a returned Append has reached disk.
type SQLiteStorage struct {
	db        *sql.DB
	config    *SQLiteConfig
	insert    *sql.Stmt
	closeOnce sync.Once
}

// NewSQLiteStorage opens (or creates) a ledger database.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, ledger.NewStorageError("sqlite", "open", errors.New("path is required"))
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, config: config}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return ledger.NewStorageError("sqlite", "initialize", fmt.Errorf("failed to enable WAL: %w", err))
		}
	}
	busy := s.config.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busy.Milliseconds())); err != nil {
		return ledger.NewStorageError("sqlite", "initialize", err)
	}
	if _, err := s.db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		return ledger.NewStorageError("sqlite", "initialize", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return ledger.NewStorageError("sqlite", "initialize", fmt.Errorf("failed to create schema: %w", err))
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return ledger.NewStorageError("sqlite", "initialize", err)
		}
	case err != nil:
		return ledger.NewStorageError("sqlite", "initialize", err)
	case version != SchemaVersion:
		return ledger.NewStorageError("sqlite", "initialize",
			fmt.Errorf("schema version %d, want %d", version, SchemaVersion))
	}

	s.insert, err = s.db.Prepare(`
		INSERT INTO ledger_entries (seq, id, chain_key, item_id, kind, recorded_at, hash, prev_hash, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ledger.NewStorageError("sqlite", "initialize", err)
	}
	return nil
}

// Append implements ledger.Storage.
func (s *SQLiteStorage) Append(ctx context.Context, entry *ledger.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return ledger.NewStorageError("sqlite", "append", err)
	}
	_, err = s.insert.ExecContext(ctx,
		int64(entry.Seq), entry.ID, entry.ChainKey(), entry.ItemID, string(entry.Kind),
		entry.Time.UnixNano(), entry.Hash, entry.PrevHash, string(data))
	if err != nil {
		return ledger.NewStorageError("sqlite", "append", err)
	}
	return nil
}

func buildWhereClause(q *ledger.Query) (string, []any) {
	if q == nil {
		return "", nil
	}
	var (
		conds []string
		args  []any
	)
	if q.ItemID != "" {
		conds = append(conds, "item_id = ?")
		args = append(args, q.ItemID)
	}
	if len(q.Kinds) > 0 {
		marks := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "recorded_at < ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.AfterSeq > 0 {
		conds = append(conds, "seq > ?")
		args = append(args, int64(q.AfterSeq))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query implements ledger.Storage.
func (s *SQLiteStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Entry, error) {
	where, args := buildWhereClause(q)
	stmt := "SELECT data FROM ledger_entries" + where + " ORDER BY seq"
	if q != nil && q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("sqlite", "query", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var e ledger.Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, ledger.NewStorageError("sqlite", "decode", err)
	}
	return &e, nil
}

// Count implements ledger.Storage.
func (s *SQLiteStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	where, args := buildWhereClause(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&n); err != nil {
		return 0, ledger.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Last implements ledger.Storage.
func (s *SQLiteStorage) Last(ctx context.Context, chainKey string) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT data FROM ledger_entries WHERE chain_key = ? ORDER BY seq DESC LIMIT 1", chainKey)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.NewStorageError("sqlite", "last", err)
	}
	return e, nil
}

// MaxSeq implements ledger.Storage.
func (s *SQLiteStorage) MaxSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM ledger_entries").Scan(&seq); err != nil {
		return 0, ledger.NewStorageError("sqlite", "max_seq", err)
	}
	return uint64(seq.Int64), nil
}

// Close implements ledger.Storage.
func (s *SQLiteStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.insert != nil {
			s.insert.Close()
		}
		err = s.db.Close()
	})
	return err
}
