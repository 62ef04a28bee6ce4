package forgetting

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across packages.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a compare-and-set loses a race.
	ErrVersionConflict = errors.New("version conflict")

	// ErrQueueFull is returned when the work queue cannot accept a plan.
	ErrQueueFull = errors.New("work queue full")

	// ErrUnknownStrategy is returned for a strategy kind outside the closed set.
	ErrUnknownStrategy = errors.New("unknown strategy kind")

	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")

	// ErrInFlight is returned when an item already has a submitted plan
	// whose outcome has not arrived.
	ErrInFlight = errors.New("plan in flight")
)

// InvalidSignalError reports a raw signal outside its declared domain.
type InvalidSignalError struct {
	Axis   Axis
	Value  float64
	Reason string
}

// Error implements the error interface.
func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("invalid signal [axis=%s, value=%v]: %s", e.Axis, e.Value, e.Reason)
}

// NewInvalidSignalError creates a new InvalidSignalError.
func NewInvalidSignalError(axis Axis, value float64, reason string) *InvalidSignalError {
	return &InvalidSignalError{Axis: axis, Value: value, Reason: reason}
}

// ConstraintViolation reports that hard constraints left no strategy other
// than defer.
type ConstraintViolation struct {
	ItemID      string         `json:"item_id"`
	Constraints []string       `json:"constraints"`
	Rejected    []StrategyKind `json:"rejected,omitempty"`
}

// Error implements the error interface.
func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation [item=%s]: only defer permitted by %s",
		e.ItemID, strings.Join(e.Constraints, ", "))
}

// DenialReason explains why the reversibility gate refused a transition.
type DenialReason string

const (
	DenyNoApproval        DenialReason = "no_approval"
	DenyInvalidApproval   DenialReason = "invalid_approval"
	DenyBlockingTag       DenialReason = "blocking_tag"
	DenyCooldown          DenialReason = "cooldown"
	DenyNotKeyDependent   DenialReason = "not_key_dependent"
	DenyNonMonotonic      DenialReason = "non_monotonic"
	DenyTerminal          DenialReason = "terminal"
	DenyInvalidStage      DenialReason = "invalid_stage"
	DenyStepFailed        DenialReason = "step_failed"
	DenyConflict          DenialReason = "conflict"
	DenyMissingReason     DenialReason = "missing_reason"
	DenyRollbackForbidden DenialReason = "rollback_forbidden"
	DenyDependencyFailed  DenialReason = "dependency_unavailable"
)

// GateDeniedError reports a refused stage transition. Step names the
// crypto-shred step that failed when Reason is DenyStepFailed.
type GateDeniedError struct {
	ItemID string
	From   Stage
	To     Stage
	Reason DenialReason
	Step   string
	Cause  error
}

// Error implements the error interface.
func (e *GateDeniedError) Error() string {
	msg := fmt.Sprintf("gate denied [item=%s, %s->%s]: %s", e.ItemID, e.From, e.To, e.Reason)
	if e.Step != "" {
		msg += " at " + e.Step
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *GateDeniedError) Unwrap() error {
	return e.Cause
}

// NewGateDeniedError creates a new GateDeniedError.
func NewGateDeniedError(itemID string, from, to Stage, reason DenialReason, cause error) *GateDeniedError {
	return &GateDeniedError{ItemID: itemID, From: from, To: to, Reason: reason, Cause: cause}
}

// ExecutionFailureError reports that a strategy executor failed after all
// retries.
type ExecutionFailureError struct {
	PlanID   string
	ItemID   string
	Kind     StrategyKind
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *ExecutionFailureError) Error() string {
	return fmt.Sprintf("execution failed [plan=%s, item=%s, strategy=%s, attempts=%d]: %v",
		e.PlanID, e.ItemID, e.Kind, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExecutionFailureError) Unwrap() error {
	return e.Cause
}

// NewExecutionFailureError creates a new ExecutionFailureError.
func NewExecutionFailureError(plan StrategyPlan, attempts int, cause error) *ExecutionFailureError {
	return &ExecutionFailureError{
		PlanID:   plan.ID,
		ItemID:   plan.ItemID,
		Kind:     plan.Kind,
		Attempts: attempts,
		Cause:    cause,
	}
}

// DependencyUnavailableError reports that an external collaborator
// (predictor, approval service, key manager, store) could not be reached.
type DependencyUnavailableError struct {
	Dependency string
	Cause      error
}

// Error implements the error interface.
func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency unavailable [%s]: %v", e.Dependency, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DependencyUnavailableError) Unwrap() error {
	return e.Cause
}

// NewDependencyUnavailableError creates a new DependencyUnavailableError.
func NewDependencyUnavailableError(dependency string, cause error) *DependencyUnavailableError {
	return &DependencyUnavailableError{Dependency: dependency, Cause: cause}
}

// IsGateDenied reports whether err is a gate denial and returns it.
func IsGateDenied(err error) (*GateDeniedError, bool) {
	var gd *GateDeniedError
	if errors.As(err, &gd) {
		return gd, true
	}
	return nil, false
}
