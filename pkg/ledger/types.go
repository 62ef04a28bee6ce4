package ledger

import (
	"context"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
)

// EventKind classifies a ledger entry.
type EventKind string

const (
	KindDecision         EventKind = "decision"
	KindViolation        EventKind = "constraint_violation"
	KindExecution        EventKind = "execution"
	KindExecutionFailed  EventKind = "execution_failed"
	KindTransition       EventKind = "transition"
	KindDenial           EventKind = "denial"
	KindRollback         EventKind = "rollback"
	KindShredCommitting  EventKind = "shred_committing"
	KindFeedback         EventKind = "feedback"
	KindLearningUpdate   EventKind = "learning_update"
	KindLearningSnapshot EventKind = "learning_snapshot"
	KindLearningRollback EventKind = "learning_rollback"
)

// SystemChain is the chain key for entries that concern no single item.
const SystemChain = "_system"

// Transition is a stage movement recorded in an entry.
type Transition struct {
	From forgetting.Stage `json:"from"`
	To   forgetting.Stage `json:"to"`
}

// Entry is one immutable ledger record. Seq is the logical timestamp that
// orders entries; PrevHash and Hash chain the entries of one item.
type Entry struct {
	ID     string    `json:"id"`
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	ItemID string    `json:"item_id,omitempty"`

	Scores     *forgetting.ScoreVector  `json:"scores,omitempty"`
	Composite  *float64                 `json:"composite,omitempty"`
	Meta       *forgetting.Meta         `json:"meta,omitempty"`
	Plan       *forgetting.StrategyPlan `json:"plan,omitempty"`
	Transition *Transition              `json:"transition,omitempty"`

	ApprovalRef string            `json:"approval_ref,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// ChainKey is the hash chain the entry belongs to.
func (e *Entry) ChainKey() string {
	if e.ItemID == "" {
		return SystemChain
	}
	return e.ItemID
}

// Query filters ledger entries. Results are ordered by Seq ascending.
type Query struct {
	ItemID   string
	Kinds    []EventKind
	Since    time.Time
	Until    time.Time
	AfterSeq uint64
	Limit    int
}

// Storage persists ledger entries. Append must be durable when it returns.
type Storage interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, q *Query) ([]*Entry, error)
	Count(ctx context.Context, q *Query) (int64, error)

	// Last returns the newest entry of a chain, or nil if the chain is empty.
	Last(ctx context.Context, chainKey string) (*Entry, error)

	// MaxSeq returns the highest sequence number stored, or 0.
	MaxSeq(ctx context.Context) (uint64, error)

	Close() error
}
