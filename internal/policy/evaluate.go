// Package policy evaluates configured governance rules against intercepted
// tool calls. Rules are scanned in order and the first match wins; engines
// are immutable once built, so hot reload swaps a whole engine and readers
// never observe a partial rule list.
package policy

import (
	"fmt"

	"github.com/cortexhub/cortexhub/internal/model"
)

type compiledRule struct {
	rule     Rule
	policyID string
	cond     Expr  // nil when the rule has no condition
	condErr  error // malformed condition: the rule never matches
}

// Engine evaluates rules against one call at a time. It holds no
// call-crossing mutable state, so concurrent Evaluate calls need no locking.
type Engine struct {
	rules           []compiledRule
	defaultDecision model.Decision
	hash            string

	// ErrorLog receives recovered rule-evaluation problems. Defaults to a
	// stderr writer; tests replace it.
	ErrorLog func(format string, args ...any)
}

// NewEngine compiles a configuration. Rules with malformed conditions are
// kept in place but never match, and each is reported through errLog once.
func NewEngine(cfg *Config, hash string, errLog func(format string, args ...any)) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if errLog == nil {
		errLog = func(string, ...any) {}
	}

	defaultDecision := cfg.DefaultDecision
	if defaultDecision == "" {
		defaultDecision = string(model.Allow)
	}

	e := &Engine{
		defaultDecision: parseDecision(defaultDecision),
		hash:            hash,
		ErrorLog:        errLog,
	}

	for i, rule := range cfg.Rules {
		cr := compiledRule{rule: rule, policyID: rulePolicyID(i, rule)}
		if rule.Condition != "" {
			cond, err := Compile(rule.Condition)
			if err != nil {
				cr.condErr = err
				errLog("policy: rule %s has a malformed condition, treating as non-match: %v", cr.policyID, err)
			} else {
				cr.cond = cond
			}
		}
		e.rules = append(e.rules, cr)
	}

	return e
}

// Hash returns the policy hash the engine was built from.
func (e *Engine) Hash() string { return e.hash }

// Evaluate runs the rule list against one call and its detected entities.
// First matching rule wins; no match yields the configured default. The
// returned decision for escalate embeds a pending ApprovalRequest that the
// adapter must resolve through the coordinator before proceeding.
func (e *Engine) Evaluate(call *model.CallRecord, entities []model.Entity) model.PolicyDecision {
	env := Env{
		Args:     call.ArgMap(),
		Entities: entityCounts(entities),
		Context: map[string]any{
			"agent_id":  call.AgentID,
			"framework": call.Framework,
			"session":   call.SessionID,
		},
	}

	for _, cr := range e.rules {
		if !matchTool(cr.rule.Tool, call.Tool) {
			continue
		}
		if cr.condErr != nil {
			continue
		}
		if cr.cond != nil && !cr.cond.Eval(env) {
			continue
		}
		return e.decisionFor(call, cr)
	}

	reason := fmt.Sprintf("no rule matched; default is %s", e.defaultDecision)
	dec := model.PolicyDecision{
		Decision:   e.defaultDecision,
		Reason:     reason,
		PolicyHash: e.hash,
	}
	// Every escalate decision carries a pending request; a default of
	// escalate synthesizes one so unmatched calls still reach an approver.
	if e.defaultDecision == model.Escalate {
		dec.Request = model.NewApprovalRequest(call, "operator", reason)
	}
	return dec
}

func (e *Engine) decisionFor(call *model.CallRecord, cr compiledRule) model.PolicyDecision {
	switch parseDecision(cr.rule.Effect) {
	case model.Allow:
		return model.PolicyDecision{
			Decision:   model.Allow,
			Reason:     cr.rule.Reason,
			RuleName:   cr.policyID,
			PolicyHash: e.hash,
		}

	case model.Escalate:
		message := cr.rule.Message
		if message == "" {
			message = fmt.Sprintf("%s requires approval", call.Tool)
		}
		target := cr.rule.Target
		if target == "" {
			target = "operator"
		}
		return model.PolicyDecision{
			Decision:   model.Escalate,
			Reason:     message,
			RuleName:   cr.policyID,
			PolicyHash: e.hash,
			Request:    model.NewApprovalRequest(call, target, message),
		}

	default:
		reason := cr.rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s blocked by rule %s", call.Tool, cr.policyID)
		}
		return model.PolicyDecision{
			Decision:   model.Deny,
			Reason:     reason,
			RuleName:   cr.policyID,
			PolicyHash: e.hash,
		}
	}
}

// parseDecision maps a config string to a Decision. Fail-closed: anything
// unrecognized is deny.
func parseDecision(s string) model.Decision {
	switch s {
	case string(model.Allow):
		return model.Allow
	case string(model.Escalate):
		return model.Escalate
	default:
		return model.Deny
	}
}

func entityCounts(entities []model.Entity) map[model.EntityKind]int {
	if len(entities) == 0 {
		return nil
	}
	counts := make(map[model.EntityKind]int)
	for _, e := range entities {
		counts[e.Kind]++
	}
	return counts
}
