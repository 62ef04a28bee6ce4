package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultApprovalTTL is how long a granted approval stays valid.
const DefaultApprovalTTL = 72 * time.Hour

// MemoryApprovals is an in-process ApprovalService. Each item holds at most
// one live grant; granting again replaces it.
type MemoryApprovals struct {
	mu     sync.Mutex
	grants map[string]Approval
	byItem map[string]string
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryApprovals creates an approval store. A non-positive ttl uses
// DefaultApprovalTTL.
func NewMemoryApprovals(ttl time.Duration) *MemoryApprovals {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &MemoryApprovals{
		grants: make(map[string]Approval),
		byItem: make(map[string]string),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (m *MemoryApprovals) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Grant issues an approval token for itemID.
func (m *MemoryApprovals) Grant(_ context.Context, itemID, approver, reason string) (Approval, error) {
	if itemID == "" {
		return Approval{}, fmt.Errorf("item id is required")
	}
	if approver == "" {
		return Approval{}, fmt.Errorf("approver is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byItem[itemID]; ok {
		delete(m.grants, old)
	}
	now := m.now()
	a := Approval{
		Token:     uuid.NewString(),
		ItemID:    itemID,
		Approver:  approver,
		Reason:    reason,
		GrantedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.grants[a.Token] = a
	m.byItem[itemID] = a.Token
	return a, nil
}

// Revoke invalidates a token. Unknown tokens are ignored.
func (m *MemoryApprovals) Revoke(_ context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.grants[token]; ok {
		delete(m.grants, token)
		if m.byItem[a.ItemID] == token {
			delete(m.byItem, a.ItemID)
		}
	}
}

// Validate implements ApprovalService.
func (m *MemoryApprovals) Validate(_ context.Context, itemID, token string) (Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.grants[token]
	switch {
	case !ok:
		return Approval{}, fmt.Errorf("%w: unknown token", ErrInvalidApproval)
	case a.ItemID != itemID:
		return Approval{}, fmt.Errorf("%w: token is bound to another item", ErrInvalidApproval)
	case !m.now().Before(a.ExpiresAt):
		return Approval{}, fmt.Errorf("%w: expired at %s", ErrInvalidApproval, a.ExpiresAt.Format(time.RFC3339))
	}
	return a, nil
}

// Lookup implements ApprovalService.
func (m *MemoryApprovals) Lookup(_ context.Context, itemID string) (Approval, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.byItem[itemID]
	if !ok {
		return Approval{}, false, nil
	}
	a := m.grants[token]
	if !m.now().Before(a.ExpiresAt) {
		return Approval{}, false, nil
	}
	return a, true, nil
}
