package forgetting

import "fmt"

// Stage is a position on the reversibility ladder.
type Stage int

const (
	StageOriginal Stage = iota
	StageCompressed
	StageMasked
	StageCoreExtracted
	StageEncrypted
	StageKeySplit
	StageKeyEscrowed
	StageKeyDistributed
	StageKeyDependent
	StageKeyDestroyed
)

// MaxRollbackStage is the highest stage an explicit rollback may target.
const MaxRollbackStage = StageKeyDistributed

var stageNames = [...]string{
	"original",
	"compressed",
	"masked",
	"core_extracted",
	"encrypted",
	"key_split",
	"key_escrowed",
	"key_distributed",
	"key_dependent",
	"key_destroyed",
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is within 0..9.
func (s Stage) Valid() bool {
	return s >= StageOriginal && s <= StageKeyDestroyed
}

// Terminal reports whether s is the unrecoverable stage.
func (s Stage) Terminal() bool {
	return s == StageKeyDestroyed
}

// KeyDistributed reports whether s is one of the key-distributed variants
// (split, escrowed, distributed).
func (s Stage) KeyDistributed() bool {
	return s >= StageKeySplit && s <= StageKeyDistributed
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	for i, n := range stageNames {
		if n == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}

// StageTier groups stages for policy table lookup.
type StageTier string

const (
	TierAnyStage     StageTier = ""
	TierRaw          StageTier = "raw"
	TierReduced      StageTier = "reduced"
	TierProtected    StageTier = "protected"
	TierKeyDependent StageTier = "key_dependent"
	TierTerminal     StageTier = "terminal"
)

// Tier returns the policy tier of s.
func (s Stage) Tier() StageTier {
	switch {
	case s <= StageOriginal:
		return TierRaw
	case s <= StageCoreExtracted:
		return TierReduced
	case s <= StageKeyDistributed:
		return TierProtected
	case s == StageKeyDependent:
		return TierKeyDependent
	}
	return TierTerminal
}
