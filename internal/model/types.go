package model

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntityKind classifies a detected sensitive span.
type EntityKind string

const (
	EntityEmail         EntityKind = "EMAIL"
	EntityPhone         EntityKind = "PHONE"
	EntityPerson        EntityKind = "PERSON"
	EntitySSN           EntityKind = "SSN"
	EntityAccountNumber EntityKind = "ACCOUNT_NUMBER"
	EntityCreditCard    EntityKind = "CREDIT_CARD"
	EntityIPAddress     EntityKind = "IP_ADDRESS"
	EntityURL           EntityKind = "URL"
	EntitySecret        EntityKind = "SECRET"
)

// AllEntityKinds lists every kind in the fixed taxonomy.
var AllEntityKinds = []EntityKind{
	EntityEmail,
	EntityPhone,
	EntityPerson,
	EntitySSN,
	EntityAccountNumber,
	EntityCreditCard,
	EntityIPAddress,
	EntityURL,
	EntitySecret,
}

// Location says where in a call an entity was found.
type Location string

const (
	LocationArgs   Location = "args"
	LocationResult Location = "result"
)

// Entity is one detected sensitive span. Entities are derived from a
// CallRecord and never outlive it.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	Field      string     `json:"field"`
	Location   Location   `json:"location"`
	Confidence float64    `json:"confidence"`
}

// Decision is the policy enforcement outcome for a call.
type Decision string

const (
	Allow    Decision = "allow"
	Deny     Decision = "deny"
	Escalate Decision = "escalate"
)

// Arg is one named tool argument. Order is preserved as given by the caller.
type Arg struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// CallRecord is one tool invocation as seen by an interception adapter.
// Immutable once created except for the result, which is set exactly once.
type CallRecord struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Args      []Arg     `json:"args"`
	Framework string    `json:"framework"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"ts"`

	mu        sync.Mutex
	result    any
	failed    bool
	resultSet bool
}

// NewCallRecord creates a CallRecord with a fresh ID and UTC timestamp.
func NewCallRecord(tool string, args []Arg, framework, agentID, sessionID string) *CallRecord {
	return &CallRecord{
		ID:        "call-" + uuid.NewString(),
		Tool:      tool,
		Args:      args,
		Framework: framework,
		AgentID:   agentID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// ArgsFromMap builds an Arg slice from a map. Iteration order of Go maps is
// undefined, so names are emitted sorted for determinism.
func ArgsFromMap(m map[string]any) []Arg {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	args := make([]Arg, 0, len(m))
	for _, k := range names {
		args = append(args, Arg{Name: k, Value: m[k]})
	}
	return args
}

// Arg returns the value of the named argument.
func (c *CallRecord) Arg(name string) (any, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// ArgMap returns the arguments as a map view.
func (c *CallRecord) ArgMap() map[string]any {
	m := make(map[string]any, len(c.Args))
	for _, a := range c.Args {
		m[a.Name] = a.Value
	}
	return m
}

// SetResult records the outcome of executing the tool body. It may be called
// exactly once; a second call is an error and leaves the record unchanged.
func (c *CallRecord) SetResult(v any, failed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resultSet {
		return fmt.Errorf("result already set for call %s", c.ID)
	}
	c.result = v
	c.failed = failed
	c.resultSet = true
	return nil
}

// Result returns the recorded result, its failure flag, and whether a result
// has been set at all.
func (c *CallRecord) Result() (v any, failed bool, set bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.failed, c.resultSet
}

// PolicyDecision is the outcome of evaluating all rules against one call.
// For Escalate it embeds the pending ApprovalRequest that the adapter must
// resolve via the coordinator before proceeding.
type PolicyDecision struct {
	Decision   Decision         `json:"decision"`
	Reason     string           `json:"reason,omitempty"`
	RuleName   string           `json:"rule,omitempty"`
	PolicyHash string           `json:"policy_hash,omitempty"`
	Request    *ApprovalRequest `json:"approval,omitempty"`
}

// Allowed reports whether the decision permits execution as-is.
func (d PolicyDecision) Allowed() bool {
	return d.Decision == Allow
}
