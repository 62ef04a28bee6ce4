package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/lethe/pkg/forgetting"
)

// SQLiteBackend implements Backend on SQLite in WAL mode.
type SQLiteBackend struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	loadItemStmt   *sql.Stmt
	insertItemStmt *sql.Stmt
	updateItemStmt *sql.Stmt
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS item_states (
	item_id      TEXT PRIMARY KEY,
	stage        INTEGER NOT NULL,
	version      INTEGER NOT NULL,
	entered_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	result_id    TEXT NOT NULL DEFAULT '',
	approval_ref TEXT NOT NULL DEFAULT '',
	completed_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_item_states_stage ON item_states(stage);

CREATE TABLE IF NOT EXISTS budget_counters (
	scope      TEXT PRIMARY KEY,
	volume     INTEGER NOT NULL,
	evicting   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS data_keys (
	item_id    TEXT PRIMARY KEY,
	salt       BLOB,
	sealed     INTEGER NOT NULL DEFAULT 0,
	destroyed  INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS active_tunables (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tunable_snapshots (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// NewSQLiteBackend opens (or creates) a state database with default settings.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteBackendWithConfig opens a state database.
func NewSQLiteBackendWithConfig(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("state: db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}
	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b := &SQLiteBackend{
		db:                 db,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go b.checkpointLoop()
	return b, nil
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error
	s.loadItemStmt, err = s.db.Prepare(`
		SELECT item_id, stage, version, entered_at, updated_at, result_id, approval_ref, completed_at
		FROM item_states WHERE item_id = ?`)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	s.insertItemStmt, err = s.db.Prepare(`
		INSERT INTO item_states (item_id, stage, version, entered_at, updated_at, result_id, approval_ref, completed_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	s.updateItemStmt, err = s.db.Prepare(`
		UPDATE item_states
		SET stage = ?, version = version + 1, entered_at = ?, updated_at = ?,
			result_id = ?, approval_ref = ?, completed_at = ?
		WHERE item_id = ? AND version = ?`)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// LoadItem implements Backend.
func (s *SQLiteBackend) LoadItem(ctx context.Context, itemID string) (ItemRecord, error) {
	rec, err := scanItem(s.loadItemStmt.QueryRowContext(ctx, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return ItemRecord{}, fmt.Errorf("item %s: %w", itemID, forgetting.ErrNotFound)
	}
	if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ItemRecord, error) {
	var (
		rec                         ItemRecord
		stage                       int
		entered, updated, completed int64
	)
	err := row.Scan(&rec.ItemID, &stage, &rec.Version, &entered, &updated, &rec.ResultID, &rec.ApprovalRef, &completed)
	if err != nil {
		return ItemRecord{}, err
	}
	rec.Stage = forgetting.Stage(stage)
	rec.EnteredAt = fromNanos(entered)
	rec.UpdatedAt = fromNanos(updated)
	rec.CompletedAt = fromNanos(completed)
	return rec, nil
}

// CompareAndSwapItem implements Backend.
func (s *SQLiteBackend) CompareAndSwapItem(ctx context.Context, rec ItemRecord, expected int64) (ItemRecord, error) {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.insertItemStmt.ExecContext(ctx,
			rec.ItemID, int(rec.Stage), toNanos(rec.EnteredAt), toNanos(rec.UpdatedAt),
			rec.ResultID, rec.ApprovalRef, toNanos(rec.CompletedAt))
	} else {
		res, err = s.updateItemStmt.ExecContext(ctx,
			int(rec.Stage), toNanos(rec.EnteredAt), toNanos(rec.UpdatedAt),
			rec.ResultID, rec.ApprovalRef, toNanos(rec.CompletedAt),
			rec.ItemID, expected)
	}
	if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to commit item %s: %w", rec.ItemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to commit item %s: %w", rec.ItemID, err)
	}
	if n == 0 {
		return ItemRecord{}, fmt.Errorf("item %s at expected version %d: %w", rec.ItemID, expected, forgetting.ErrVersionConflict)
	}
	rec.Version = expected + 1
	return rec, nil
}

// ListItems implements Backend.
func (s *SQLiteBackend) ListItems(ctx context.Context) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, stage, version, entered_at, updated_at, result_id, approval_ref, completed_at
		FROM item_states ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []ItemRecord
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveBudget implements Backend.
func (s *SQLiteBackend) SaveBudget(ctx context.Context, rec BudgetRecord) error {
	evicting := 0
	if rec.Evicting {
		evicting = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_counters (scope, volume, evicting, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET
			volume = excluded.volume,
			evicting = excluded.evicting,
			updated_at = excluded.updated_at`,
		rec.Scope, rec.Volume, evicting, toNanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save budget %s: %w", rec.Scope, err)
	}
	return nil
}

// LoadBudgets implements Backend.
func (s *SQLiteBackend) LoadBudgets(ctx context.Context) ([]BudgetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, volume, evicting, updated_at FROM budget_counters ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to load budgets: %w", err)
	}
	defer rows.Close()

	var out []BudgetRecord
	for rows.Next() {
		var (
			rec      BudgetRecord
			evicting int
			updated  int64
		)
		if err := rows.Scan(&rec.Scope, &rec.Volume, &evicting, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		rec.Evicting = evicting == 1
		rec.UpdatedAt = fromNanos(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveKey implements Backend.
func (s *SQLiteBackend) SaveKey(ctx context.Context, rec KeyRecord) error {
	destroyed := 0
	if rec.Destroyed {
		destroyed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_keys (item_id, salt, sealed, destroyed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			salt = excluded.salt,
			sealed = excluded.sealed,
			destroyed = excluded.destroyed,
			updated_at = excluded.updated_at`,
		rec.ItemID, rec.Salt, rec.Sealed, destroyed, toNanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save key %s: %w", rec.ItemID, err)
	}
	return nil
}

// LoadKey implements Backend.
func (s *SQLiteBackend) LoadKey(ctx context.Context, itemID string) (KeyRecord, error) {
	var (
		rec       = KeyRecord{ItemID: itemID}
		destroyed int
		updated   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT salt, sealed, destroyed, updated_at FROM data_keys WHERE item_id = ?`, itemID,
	).Scan(&rec.Salt, &rec.Sealed, &destroyed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRecord{}, fmt.Errorf("key %s: %w", itemID, forgetting.ErrNotFound)
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to load key %s: %w", itemID, err)
	}
	rec.Destroyed = destroyed != 0
	rec.UpdatedAt = fromNanos(updated)
	return rec, nil
}

// SaveTunables implements Backend.
func (s *SQLiteBackend) SaveTunables(ctx context.Context, t forgetting.Tunables) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tunables: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO active_tunables (id, version, data, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		t.Version, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save tunables: %w", err)
	}
	return nil
}

// LoadTunables implements Backend.
func (s *SQLiteBackend) LoadTunables(ctx context.Context) (forgetting.Tunables, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM active_tunables WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return forgetting.Tunables{}, fmt.Errorf("tunables: %w", forgetting.ErrNotFound)
	}
	if err != nil {
		return forgetting.Tunables{}, fmt.Errorf("failed to load tunables: %w", err)
	}
	var t forgetting.Tunables
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return forgetting.Tunables{}, fmt.Errorf("failed to decode tunables: %w", err)
	}
	return t, nil
}

// SaveSnapshot implements Backend.
func (s *SQLiteBackend) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap.Tunables)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tunable_snapshots (id, version, reason, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.Tunables.Version, snap.Reason, string(data), toNanos(snap.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap    Snapshot
		version int64
		data    string
		created int64
	)
	if err := row.Scan(&snap.ID, &version, &snap.Reason, &data, &created); err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(data), &snap.Tunables); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", snap.ID, err)
	}
	snap.CreatedAt = fromNanos(created)
	return snap, nil
}

// LoadSnapshot implements Backend.
func (s *SQLiteBackend) LoadSnapshot(ctx context.Context, id string) (Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT id, version, reason, data, created_at FROM tunable_snapshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", id, forgetting.ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots implements Backend.
func (s *SQLiteBackend) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, reason, data, created_at FROM tunable_snapshots ORDER BY created_at, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot implements Backend.
func (s *SQLiteBackend) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tunable_snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	return nil
}

// Close implements Backend. Close is idempotent.
func (s *SQLiteBackend) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)
		for _, stmt := range []*sql.Stmt{s.loadItemStmt, s.insertItemStmt, s.updateItemStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
