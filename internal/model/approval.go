package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the state of an escalated decision.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusDenied   ApprovalStatus = "denied"
	StatusExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status is final.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// ApprovalRequest tracks one escalated decision. It is 1:1 with the call that
// spawned it. Status moves from pending to exactly one terminal state and
// never changes again.
type ApprovalRequest struct {
	ID        string      `json:"id"`
	Call      *CallRecord `json:"-"`
	Target    string      `json:"target"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`

	mu        sync.Mutex
	status    ApprovalStatus
	decidedBy string
	decidedAt time.Time
	resumed   bool
}

// NewApprovalRequest creates a pending request for the given call.
func NewApprovalRequest(call *CallRecord, target, message string) *ApprovalRequest {
	return &ApprovalRequest{
		ID:        "apr-" + uuid.NewString(),
		Call:      call,
		Target:    target,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		status:    StatusPending,
	}
}

// Status returns the current status.
func (r *ApprovalRequest) Status() ApprovalStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// DecidedBy returns who resolved the request, if anyone has.
func (r *ApprovalRequest) DecidedBy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decidedBy
}

// Transition moves the request from pending to a terminal state. Returns
// false if the request already left pending; the stored state is unchanged.
func (r *ApprovalRequest) Transition(to ApprovalStatus, decidedBy string) bool {
	if !to.Terminal() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return false
	}
	r.status = to
	r.decidedBy = decidedBy
	r.decidedAt = time.Now().UTC()
	return true
}

// ConsumeResume returns true exactly once after the request is approved.
// Adapters gate tool execution on it so a duplicated resume signal cannot
// run the tool body twice.
func (r *ApprovalRequest) ConsumeResume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusApproved || r.resumed {
		return false
	}
	r.resumed = true
	return true
}
