package policy

import (
	"strings"
	"testing"

	"github.com/cortexhub/cortexhub/internal/model"
)

func refundCall(amount any) *model.CallRecord {
	return model.NewCallRecord("issue_refund",
		[]model.Arg{{Name: "amount", Value: amount}}, "langgraph", "agent-1", "")
}

func engineWith(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	return NewEngine(&Config{Rules: rules}, "sha256:test", t.Logf)
}

func TestRefundUnderLimitAllowed(t *testing.T) {
	e := engineWith(t, Rule{
		Name:      "refund-limit",
		Tool:      "issue_refund",
		Condition: "args.amount > 500",
		Effect:    "deny",
		Reason:    "Refunds over $500 require manager approval",
	})

	d := e.Evaluate(refundCall(299), nil)
	if d.Decision != model.Allow {
		t.Errorf("decision = %s, want allow (299 <= 500)", d.Decision)
	}
}

func TestRefundOverLimitDenied(t *testing.T) {
	e := engineWith(t, Rule{
		Name:      "refund-limit",
		Tool:      "issue_refund",
		Condition: "args.amount > 500",
		Effect:    "deny",
		Reason:    "Refunds over $500 require manager approval",
	})

	d := e.Evaluate(refundCall(750), nil)
	if d.Decision != model.Deny {
		t.Fatalf("decision = %s, want deny", d.Decision)
	}
	if d.Reason != "Refunds over $500 require manager approval" {
		t.Errorf("reason = %q", d.Reason)
	}
	if d.RuleName != "refund-limit" {
		t.Errorf("rule = %q", d.RuleName)
	}
}

func TestFirstMatchWins(t *testing.T) {
	allowFirst := engineWith(t,
		Rule{Name: "r1", Tool: "issue_refund", Effect: "allow"},
		Rule{Name: "r2", Tool: "issue_refund", Effect: "deny", Reason: "blocked"},
	)
	if d := allowFirst.Evaluate(refundCall(100), nil); d.Decision != model.Allow {
		t.Errorf("allow-first order: decision = %s, want allow", d.Decision)
	}

	denyFirst := engineWith(t,
		Rule{Name: "r2", Tool: "issue_refund", Effect: "deny", Reason: "blocked"},
		Rule{Name: "r1", Tool: "issue_refund", Effect: "allow"},
	)
	if d := denyFirst.Evaluate(refundCall(100), nil); d.Decision != model.Deny {
		t.Errorf("deny-first order: decision = %s, want deny", d.Decision)
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	e := engineWith(t,
		Rule{Name: "r1", Tool: "issue_refund", Condition: "args.amount > 500", Effect: "deny", Reason: "over limit"},
		Rule{Name: "r2", Tool: "*", Effect: "allow"},
	)

	call := refundCall(750)
	first := e.Evaluate(call, nil)
	for i := 0; i < 50; i++ {
		d := e.Evaluate(call, nil)
		if d.Decision != first.Decision || d.RuleName != first.RuleName || d.Reason != first.Reason {
			t.Fatalf("evaluation %d diverged: %+v vs %+v", i, d, first)
		}
	}
}

func TestNoMatchDefaultsToAllow(t *testing.T) {
	e := engineWith(t, Rule{Name: "r", Tool: "delete_file", Effect: "deny", Reason: "no"})

	d := e.Evaluate(refundCall(100), nil)
	if d.Decision != model.Allow {
		t.Errorf("unmatched call decision = %s, want allow", d.Decision)
	}
}

func TestConfigurableDefaultDeny(t *testing.T) {
	e := NewEngine(&Config{DefaultDecision: "deny"}, "sha256:test", t.Logf)

	d := e.Evaluate(refundCall(100), nil)
	if d.Decision != model.Deny {
		t.Errorf("decision = %s, want configured default deny", d.Decision)
	}
}

func TestConfigurableDefaultEscalateEmbedsRequest(t *testing.T) {
	e := NewEngine(&Config{DefaultDecision: "escalate"}, "sha256:test", t.Logf)

	call := refundCall(100)
	d := e.Evaluate(call, nil)
	if d.Decision != model.Escalate {
		t.Fatalf("decision = %s, want configured default escalate", d.Decision)
	}
	if d.Request == nil {
		t.Fatal("default-escalate decision must embed an ApprovalRequest")
	}
	if d.Request.Target != "operator" || d.Request.Call != call {
		t.Errorf("request = %+v", d.Request)
	}
	if d.Request.Status() != model.StatusPending {
		t.Errorf("request status = %s, want pending", d.Request.Status())
	}
}

func TestEscalateEmbedsPendingRequest(t *testing.T) {
	e := engineWith(t, Rule{
		Name:      "large-transfer",
		Tool:      "initiate_transfer",
		Condition: "args.amount > 10000",
		Effect:    "escalate",
		Target:    "manager",
		Message:   "large transfer needs sign-off",
	})

	call := model.NewCallRecord("initiate_transfer",
		[]model.Arg{{Name: "amount", Value: 15000}}, "crewai", "agent-1", "")
	d := e.Evaluate(call, nil)

	if d.Decision != model.Escalate {
		t.Fatalf("decision = %s, want escalate", d.Decision)
	}
	if d.Request == nil {
		t.Fatal("escalate decision must embed an ApprovalRequest")
	}
	if d.Request.Status() != model.StatusPending {
		t.Errorf("request status = %s, want pending", d.Request.Status())
	}
	if d.Request.Target != "manager" || d.Request.Call != call {
		t.Errorf("request = %+v", d.Request)
	}
}

func TestEntityConditions(t *testing.T) {
	e := engineWith(t, Rule{
		Name:      "pii-egress",
		Tool:      "*export*",
		Condition: "entities.EMAIL > 0 or entities.SSN > 0",
		Effect:    "deny",
		Reason:    "Exporting detected PII is blocked",
	})

	call := model.NewCallRecord("export_customer_data",
		[]model.Arg{{Name: "rows", Value: "..."}}, "langgraph", "agent-1", "")

	clean := e.Evaluate(call, nil)
	if clean.Decision != model.Allow {
		t.Errorf("no entities: decision = %s, want allow", clean.Decision)
	}

	dirty := e.Evaluate(call, []model.Entity{
		{Kind: model.EntityEmail, Field: "rows", Location: model.LocationArgs, Confidence: 0.95},
	})
	if dirty.Decision != model.Deny {
		t.Errorf("with EMAIL entity: decision = %s, want deny", dirty.Decision)
	}
}

func TestMalformedConditionNeverMatches(t *testing.T) {
	var logged []string
	logf := func(format string, args ...any) {
		logged = append(logged, format)
	}

	e := NewEngine(&Config{Rules: []Rule{
		{Name: "broken", Tool: "issue_refund", Condition: "args.amount >>> 5", Effect: "deny", Reason: "x"},
		{Name: "fallback", Tool: "issue_refund", Effect: "allow"},
	}}, "sha256:test", logf)

	d := e.Evaluate(refundCall(100), nil)
	if d.Decision != model.Allow || d.RuleName != "fallback" {
		t.Errorf("broken rule should be skipped: %+v", d)
	}
	if len(logged) == 0 {
		t.Error("malformed condition should be logged at compile time")
	}
}

func TestToolMatcherForms(t *testing.T) {
	cases := []struct {
		pattern, tool string
		want          bool
	}{
		{"issue_refund", "issue_refund", true},
		{"issue_refund", "issue_refund_v2", false},
		{"issue_*", "issue_refund", true},
		{"*_refund", "issue_refund", true},
		{"*refund*", "bulk_refund_all", true},
		{"*", "anything", true},
		{"", "anything", true},
		{"DELETE_FILE", "delete_file", true},
	}
	for _, tc := range cases {
		if got := matchTool(tc.pattern, tc.tool); got != tc.want {
			t.Errorf("matchTool(%q, %q) = %v, want %v", tc.pattern, tc.tool, got, tc.want)
		}
	}
}

func TestSafetyRuleTemplates(t *testing.T) {
	rules := SafetyRules(
		[]string{"delete_file", "rm"},
		[]string{"curl"},
		[]string{"export_customer_data"},
	)
	e := NewEngine(&Config{Rules: rules}, "sha256:test", t.Logf)

	exfil := model.NewCallRecord("export_customer_data", nil, "langgraph", "a", "")
	if d := e.Evaluate(exfil, nil); d.Decision != model.Deny {
		t.Errorf("exfiltration tool decision = %s, want deny", d.Decision)
	}

	destructive := model.NewCallRecord("delete_file", nil, "langgraph", "a", "")
	if d := e.Evaluate(destructive, nil); d.Decision != model.Escalate {
		t.Errorf("destructive tool decision = %s, want escalate", d.Decision)
	}

	network := model.NewCallRecord("curl", nil, "langgraph", "a", "")
	d := e.Evaluate(network, nil)
	if d.Decision != model.Escalate || d.Request == nil || d.Request.Target != "operator" {
		t.Errorf("network tool decision = %+v", d)
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	if !strings.Contains(DefaultConfigYAML(), "refund-limit") {
		t.Error("starter policy should include the refund example")
	}
}
