package mcpshim

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexhub/cortexhub/internal/server"
	"github.com/cortexhub/cortexhub/sdk/go/cortexhub"
)

const shimPolicy = `default_decision: allow
rules:
  - name: refund-limit
    tool: process_refund
    condition: args.amount > 500
    effect: deny
    reason: Refunds over $500 require manager approval
  - name: large-transfer
    tool: transfer_funds
    condition: args.amount > 10000
    effect: escalate
    target: finance-lead
    message: Transfers over $10k need sign-off
`

// newTestShim wires a real authority server behind the hub so escalations
// exercise the full HTTP contract.
func newTestShim(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(shimPolicy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	authority, err := server.New(server.Config{
		APIKey:     "sk-test",
		DBPath:     filepath.Join(dir, "authority.db"),
		PolicyPath: policyPath,
	})
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	t.Cleanup(func() { authority.Close() })
	ts := httptest.NewServer(authority.Handler())
	t.Cleanup(ts.Close)

	hub, err := cortexhub.Init("mcp-agent", cortexhub.FrameworkMCP,
		cortexhub.WithPolicyPath(policyPath),
		cortexhub.WithAPIURL(ts.URL),
		cortexhub.WithAPIKey("sk-test"),
		cortexhub.WithBlockingApprovals(false),
		cortexhub.WithoutTelemetry(),
	)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(hub.Close)

	return New(hub, "0.1.0")
}

func TestGovernedToolAllowed(t *testing.T) {
	s := newTestShim(t)

	wrapped := s.hub.Wrap("lookup_order", func(ctx context.Context, args map[string]any) (any, error) {
		return "order found", nil
	})
	result, out, err := s.invoke(context.Background(), wrapped, map[string]any{"order": "ord-1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success result")
	}
	if out.Result != "order found" || out.Blocked {
		t.Errorf("out = %+v", out)
	}
}

func TestGovernedToolBlocked(t *testing.T) {
	s := newTestShim(t)

	called := false
	wrapped := s.hub.Wrap("process_refund", func(ctx context.Context, args map[string]any) (any, error) {
		called = true
		return nil, nil
	})
	result, out, err := s.invoke(context.Background(), wrapped, map[string]any{"amount": 750.0})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected IsError result for blocked call")
	}
	if !out.Blocked || out.Decision != "deny" {
		t.Errorf("out = %+v", out)
	}
	if out.Reason != "Refunds over $500 require manager approval" {
		t.Errorf("reason = %q", out.Reason)
	}
	if called {
		t.Error("tool body ran on deny")
	}
}

func TestGovernedToolPendingThenStatus(t *testing.T) {
	s := newTestShim(t)

	wrapped := s.hub.Wrap("transfer_funds", func(ctx context.Context, args map[string]any) (any, error) {
		return "transfer done", nil
	})
	result, out, err := s.invoke(context.Background(), wrapped, map[string]any{"amount": 15000.0})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result == nil || !result.IsError || !out.ApprovalPending {
		t.Fatalf("expected pending, got %+v", out)
	}
	if out.ApprovalID == "" || out.Target != "finance-lead" {
		t.Errorf("out = %+v", out)
	}

	_, pending, err := s.handlePending(context.Background(), &mcpsdk.CallToolRequest{}, PendingInput{})
	if err != nil {
		t.Fatalf("handlePending: %v", err)
	}
	if len(pending.Approvals) != 1 || pending.Approvals[0].ApprovalID != out.ApprovalID {
		t.Errorf("pending = %+v", pending)
	}

	_, status, err := s.handleStatus(context.Background(), &mcpsdk.CallToolRequest{}, StatusInput{ApprovalID: out.ApprovalID})
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	if status.Status != "pending" {
		t.Errorf("status = %+v", status)
	}
}

func TestCheckDryRun(t *testing.T) {
	s := newTestShim(t)

	_, out, err := s.handleCheck(context.Background(), &mcpsdk.CallToolRequest{}, CheckInput{
		Tool: "process_refund",
		Args: map[string]any{"amount": 750.0},
	})
	if err != nil {
		t.Fatalf("handleCheck: %v", err)
	}
	if out.Decision != "deny" || out.Rule != "refund-limit" {
		t.Errorf("out = %+v", out)
	}
}
