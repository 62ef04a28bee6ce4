package storage

// SchemaVersion is the current ledger schema version.
const SchemaVersion = 1

// Schema creates the ledger tables. The full entry is kept as JSON in data
// so hashes can be recomputed byte for byte; the other columns exist for
// filtering.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    chain_key TEXT NOT NULL,
    item_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    recorded_at INTEGER NOT NULL,
    hash TEXT NOT NULL,
    prev_hash TEXT NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_chain ON ledger_entries(chain_key, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_item ON ledger_entries(item_id);
CREATE INDEX IF NOT EXISTS idx_ledger_kind ON ledger_entries(kind);
CREATE INDEX IF NOT EXISTS idx_ledger_time ON ledger_entries(recorded_at);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`
