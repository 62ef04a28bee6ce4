package forgetting

import (
	"fmt"
	"time"
)

// Outcome classifies how a past decision turned out.
type Outcome string

const (
	// OutcomeFalsePositiveForget means data was forgotten but later needed.
	OutcomeFalsePositiveForget Outcome = "false_positive_forget"
	// OutcomeFalsePositiveRetain means data was kept but never used.
	OutcomeFalsePositiveRetain Outcome = "false_positive_retain"
	OutcomeNeutral             Outcome = "neutral"
)

// Valid reports whether o is a defined outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeFalsePositiveForget, OutcomeFalsePositiveRetain, OutcomeNeutral:
		return true
	}
	return false
}

// FeedbackEvent reports the observed outcome of an executed plan.
type FeedbackEvent struct {
	ItemID     string       `json:"item_id"`
	Class      DataClass    `json:"class,omitempty"`
	Plan       StrategyPlan `json:"plan"`
	Outcome    Outcome      `json:"outcome"`
	Cost       float64      `json:"cost"`
	Benefit    float64      `json:"benefit"`
	Scores     ScoreVector  `json:"scores"`
	ObservedAt time.Time    `json:"observed_at"`
}

// Validate checks the event before it reaches the optimizer.
func (e FeedbackEvent) Validate() error {
	if e.ItemID == "" {
		return fmt.Errorf("feedback: item id is required")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("feedback: unknown outcome %q", e.Outcome)
	}
	if e.Cost < 0 || e.Benefit < 0 {
		return fmt.Errorf("feedback: cost and benefit must be non-negative")
	}
	if !e.Scores.InRange() {
		return fmt.Errorf("feedback: scores out of range")
	}
	return nil
}
