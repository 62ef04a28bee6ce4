package gate

import (
	"context"
	"errors"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
)

// ShredStep names one step of the crypto-shred sequence.
type ShredStep string

const (
	StepPreVerify         ShredStep = "pre_verify"
	StepDistributeKey     ShredStep = "key_distribution"
	StepConfirmEncryption ShredStep = "confirm_encryption"
	StepCommitIntent      ShredStep = "commit_intent"
	StepDestroyKey        ShredStep = "destroy_key"
	StepVerifyDestroyed   ShredStep = "final_verify"
	StepCommitTerminal    ShredStep = "commit_terminal"
)

// KeyManager owns the data keys of key-dependent items.
//
// Abort receives the steps that completed before the failure and must
// restore the item to its key-dependent condition (key recoverable, data
// readable).
type KeyManager interface {
	PreVerify(ctx context.Context, itemID string) error
	DistributeKey(ctx context.Context, itemID string) error
	ConfirmEncrypted(ctx context.Context, itemID string) error
	DestroyKey(ctx context.Context, itemID string) error
	VerifyDestroyed(ctx context.Context, itemID string) error
	Abort(ctx context.Context, itemID string, completed []ShredStep) error
}

// DestructionChecker reports whether an item's key is verifiably gone. A
// KeyManager that implements it lets the gate finish a shred that was
// interrupted after the key was destroyed.
type DestructionChecker interface {
	Destroyed(ctx context.Context, itemID string) (bool, error)
}

// HistoryReader returns an item's ledger entries, oldest first.
// *ledger.Ledger implements it.
type HistoryReader interface {
	History(ctx context.Context, itemID string) ([]*ledger.Entry, error)
}

// ErrInvalidApproval is returned by an ApprovalService for unknown,
// expired, revoked, or foreign tokens.
var ErrInvalidApproval = errors.New("invalid approval")

// Approval is a grant to destroy one item's key.
type Approval struct {
	Token     string    `json:"token"`
	ItemID    string    `json:"item_id"`
	Approver  string    `json:"approver"`
	Reason    string    `json:"reason,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ApprovalService validates approval tokens for stage-9 transitions.
type ApprovalService interface {
	// Validate returns the approval behind token if it is live and bound
	// to itemID. Rejections wrap ErrInvalidApproval; any other error means
	// the service could not be consulted.
	Validate(ctx context.Context, itemID, token string) (Approval, error)

	// Lookup returns a live approval for itemID if one exists.
	Lookup(ctx context.Context, itemID string) (Approval, bool, error)
}

// Guard refuses key destruction for items it protects, such as legal holds.
type Guard interface {
	BlocksDestruction(meta forgetting.Meta, now time.Time) (constraint string, blocked bool)
}

// Recorder is the ledger write surface the gate needs.
type Recorder interface {
	Log(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Metrics is the subset of the metrics collector the gate records to.
type Metrics interface {
	RecordTransition(from, to string)
	RecordDenial(reason string)
	RecordShred(outcome string, d time.Duration)
}
