package gate

import (
	"time"

	"mercator-hq/lethe/pkg/forgetting"
)

// ItemState is the gate's view of an item. It is either Reversible or
// Terminal; only this package constructs either.
type ItemState interface {
	Stage() forgetting.Stage
	sealed()
}

// Reversible is an item below stage 9.
type Reversible struct {
	stage     forgetting.Stage
	version   int64
	enteredAt time.Time
}

// Stage returns the current stage.
func (r Reversible) Stage() forgetting.Stage { return r.stage }

// EnteredAt returns when the item entered its current stage.
func (r Reversible) EnteredAt() time.Time { return r.enteredAt }

// Version returns the persisted record version.
func (r Reversible) Version() int64 { return r.version }

// CanRollback reports whether the item may still move to a lower stage.
func (r Reversible) CanRollback() bool {
	return r.stage > forgetting.StageOriginal && r.stage <= forgetting.MaxRollbackStage
}

func (Reversible) sealed() {}

// Terminal is an item whose key has been destroyed. It has no transition
// methods.
type Terminal struct {
	resultID    string
	approvalRef string
	completedAt time.Time
}

// Stage always returns StageKeyDestroyed.
func (Terminal) Stage() forgetting.Stage { return forgetting.StageKeyDestroyed }

// ResultID identifies the completed shred.
func (t Terminal) ResultID() string { return t.resultID }

// ApprovalRef is the approval the shred was authorized by.
func (t Terminal) ApprovalRef() string { return t.approvalRef }

// CompletedAt is when the shred committed.
func (t Terminal) CompletedAt() time.Time { return t.completedAt }

func (Terminal) sealed() {}

// TransitionResult describes a committed transition. Replayed is set when a
// stage-9 request found the item already terminal and returned the stored
// outcome.
type TransitionResult struct {
	ResultID    string           `json:"result_id"`
	ItemID      string           `json:"item_id"`
	From        forgetting.Stage `json:"from"`
	To          forgetting.Stage `json:"to"`
	At          time.Time        `json:"at"`
	ApprovalRef string           `json:"approval_ref,omitempty"`
	Replayed    bool             `json:"replayed,omitempty"`
}
