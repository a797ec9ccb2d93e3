package cortexhub

import (
	"fmt"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Framework tags the host agent framework an adapter integrates with. The
// core never branches on it; it travels in call records and telemetry.
type Framework string

const (
	FrameworkLangChain Framework = "langchain"
	FrameworkCrewAI    Framework = "crewai"
	FrameworkAutoGen   Framework = "autogen"
	FrameworkOpenAI    Framework = "openai"
	FrameworkMCP       Framework = "mcp"
	FrameworkCustom    Framework = "custom"
)

// Decision is the policy enforcement outcome.
type Decision string

const (
	Allow    Decision = Decision(model.Allow)
	Deny     Decision = Decision(model.Deny)
	Escalate Decision = Decision(model.Escalate)
)

// Call describes one intended tool invocation as the host framework sees it.
type Call struct {
	Tool      string
	Args      map[string]any
	SessionID string
}

// Result is a policy evaluation outcome for a call.
type Result struct {
	Decision   Decision
	Reason     string
	Rule       string
	PolicyHash string
	ApprovalID string
	Entities   map[string]int // detected entity kind -> count, no raw text
}

// Allowed reports whether the decision permits the call as-is.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// BlockedError is returned when policy denies a call, or when an escalation
// ends denied or expired. The tool body was not (re-)executed.
type BlockedError struct {
	Tool     string
	Decision Decision
	Reason   string
	Rule     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("cortexhub blocked %s (%s): %s", e.Tool, e.Decision, e.Reason)
}

// ApprovalPendingError is the signal-and-retry outcome for hosts that cannot
// suspend mid-call: the escalation is registered and awaiting a decision.
// The orchestration catches this error and re-drives the same call later;
// the retry reconnects with the pending request instead of opening another.
type ApprovalPendingError struct {
	Tool       string
	ApprovalID string
	Target     string
	Message    string
}

func (e *ApprovalPendingError) Error() string {
	return fmt.Sprintf("cortexhub approval pending for %s (request %s, awaiting %s)", e.Tool, e.ApprovalID, e.Target)
}

// toResult maps an internal PolicyDecision to an SDK Result.
func toResult(d model.PolicyDecision, entities map[model.EntityKind]int) Result {
	r := Result{
		Decision:   Decision(d.Decision),
		Reason:     d.Reason,
		Rule:       d.RuleName,
		PolicyHash: d.PolicyHash,
	}
	if d.Request != nil {
		r.ApprovalID = d.Request.ID
	}
	if len(entities) > 0 {
		r.Entities = make(map[string]int, len(entities))
		for k, n := range entities {
			r.Entities[string(k)] = n
		}
	}
	return r
}
