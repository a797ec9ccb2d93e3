package telemetry

import (
	"time"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Kind identifies a telemetry event type.
type Kind string

const (
	CallObserved     Kind = "call_observed"
	EntitiesDetected Kind = "entities_detected"
	DecisionMade     Kind = "decision_made"
	ApprovalResolved Kind = "approval_resolved"
)

// Event is the wire record for one stage transition. Entities travel as
// kind + count only; raw matched text never enters the telemetry stream.
type Event struct {
	Kind       Kind                     `json:"kind"`
	CallID     string                   `json:"call_id"`
	Tool       string                   `json:"tool"`
	Framework  string                   `json:"framework,omitempty"`
	AgentID    string                   `json:"agent_id,omitempty"`
	Entities   map[model.EntityKind]int `json:"entities,omitempty"`
	Location   model.Location           `json:"location,omitempty"`
	Decision   string                   `json:"decision,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
	Rule       string                   `json:"rule,omitempty"`
	PolicyHash string                   `json:"policy_hash,omitempty"`
	ApprovalID string                   `json:"approval_id,omitempty"`
	Status     string                   `json:"status,omitempty"`
	DecidedBy  string                   `json:"decided_by,omitempty"`
	Timestamp  time.Time                `json:"ts"`
}

// ForCall stamps the call-identifying fields and timestamp onto an event.
func ForCall(kind Kind, call *model.CallRecord) Event {
	ev := Event{Kind: kind, Timestamp: time.Now().UTC()}
	if call != nil {
		ev.CallID = call.ID
		ev.Tool = call.Tool
		ev.Framework = call.Framework
		ev.AgentID = call.AgentID
	}
	return ev
}
