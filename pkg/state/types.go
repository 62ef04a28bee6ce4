package state

import (
	"context"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
)

// ItemRecord is the committed reversibility state of one item. Version
// increases by one on every committed change and guards compare-and-set.
type ItemRecord struct {
	ItemID    string           `json:"item_id"`
	Stage     forgetting.Stage `json:"stage"`
	Version   int64            `json:"version"`
	EnteredAt time.Time        `json:"entered_at"`
	UpdatedAt time.Time        `json:"updated_at"`

	// Set when Stage is terminal.
	ResultID    string    `json:"result_id,omitempty"`
	ApprovalRef string    `json:"approval_ref,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// BudgetRecord is the persisted counter of one budget scope.
type BudgetRecord struct {
	Scope     string    `json:"scope"`
	Volume    int64     `json:"volume"`
	Evicting  bool      `json:"evicting"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyRecord is the persisted key material of one key-dependent item. The
// data key is derived from the vault master key and Salt; destroying the
// key clears Salt, after which the key cannot be rebuilt.
type KeyRecord struct {
	ItemID    string    `json:"item_id"`
	Salt      []byte    `json:"-"`
	Sealed    int       `json:"sealed"`
	Destroyed bool      `json:"destroyed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a versioned copy of the learned tunables.
type Snapshot struct {
	ID        string              `json:"id"`
	Reason    string              `json:"reason,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Tunables  forgetting.Tunables `json:"tunables"`
}

// Backend persists core state. Implementations must make every write
// atomic so that after a crash each item reads back as its last committed
// stage.
type Backend interface {
	// LoadItem returns the record for itemID, or forgetting.ErrNotFound.
	LoadItem(ctx context.Context, itemID string) (ItemRecord, error)

	// CompareAndSwapItem commits rec if the stored version equals expected
	// (0 means the record must not exist yet). The stored record gets
	// Version expected+1 and is returned. A lost race returns
	// forgetting.ErrVersionConflict.
	CompareAndSwapItem(ctx context.Context, rec ItemRecord, expected int64) (ItemRecord, error)

	// ListItems returns every item record.
	ListItems(ctx context.Context) ([]ItemRecord, error)

	SaveBudget(ctx context.Context, rec BudgetRecord) error
	LoadBudgets(ctx context.Context) ([]BudgetRecord, error)

	// SaveKey upserts an item's key record; LoadKey returns
	// forgetting.ErrNotFound for items that never had a key.
	SaveKey(ctx context.Context, rec KeyRecord) error
	LoadKey(ctx context.Context, itemID string) (KeyRecord, error)

	// SaveTunables stores the live tunables; LoadTunables returns
	// forgetting.ErrNotFound before the first save.
	SaveTunables(ctx context.Context, t forgetting.Tunables) error
	LoadTunables(ctx context.Context) (forgetting.Tunables, error)

	SaveSnapshot(ctx context.Context, s Snapshot) error
	LoadSnapshot(ctx context.Context, id string) (Snapshot, error)
	// ListSnapshots returns snapshots oldest first.
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error

	// Close releases any resources held by the backend.
	Close() error
}
