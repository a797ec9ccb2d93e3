// Package cortexhub provides in-process runtime governance for Go agent
// frameworks. It intercepts tool calls, scans arguments and results for
// sensitive entities, evaluates deterministic policy rules, and enforces the
// outcome: allow, deny with a reason, or escalate to a human approver.
//
// Usage:
//
//	hub, err := cortexhub.Init("support-agent", cortexhub.FrameworkCustom)
//	defer hub.Close()
//
//	wrapped := hub.Wrap("process_refund", processRefund)
//	result, err := wrapped(ctx, map[string]any{"amount": 750.0})
//
// A denied call returns a *BlockedError without executing the tool body. An
// escalated call either blocks until the approver decides or, for hosts that
// cannot suspend mid-call, returns a *ApprovalPendingError the orchestration
// catches and re-drives later.
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/cortexhub/cortexhub/sdk/go/cortexhub.
package cortexhub
