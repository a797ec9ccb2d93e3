package cortexhub

import (
	"context"
	"errors"

	"github.com/cortexhub/cortexhub/internal/approval"
	"github.com/cortexhub/cortexhub/internal/model"
)

// ToolFunc is the function signature that Wrap guards.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Wrap returns a governed ToolFunc for the named tool. Policy runs before
// every invocation: a deny returns *BlockedError without calling fn; an
// escalate blocks until the approver decides (or returns
// *ApprovalPendingError when WithBlockingApprovals(false) is set); an allow
// runs fn and re-scans its result for telemetry.
func (h *Hub) Wrap(tool string, fn ToolFunc) ToolFunc {
	adapter := funcAdapter{tool: tool, blocking: h.cfg.blocking}
	return func(ctx context.Context, args map[string]any) (any, error) {
		return h.Govern(ctx, adapter, args, func(ctx context.Context, call Call) (any, error) {
			return fn(ctx, call.Args)
		})
	}
}

// Govern drives the full interception pipeline for one native invocation:
// normalize, detect, decide, enforce, execute, observe. It is the engine
// behind Wrap and Middleware and the entry point for custom Adapters.
func (h *Hub) Govern(ctx context.Context, adapter Adapter, native any, exec func(context.Context, Call) (any, error)) (any, error) {
	call, err := adapter.BeforeCall(native)
	if err != nil {
		return nil, err
	}

	ev := h.evaluate(call, true)
	res := toResult(ev.decision, ev.findings.Counts())

	switch ev.decision.Decision {
	case model.Deny:
		adapter.Enforce(call, res)
		return nil, &BlockedError{Tool: call.Tool, Decision: Deny, Reason: res.Reason, Rule: res.Rule}

	case model.Escalate:
		return h.escalate(ctx, adapter, call, ev, res, exec)
	}

	if enf := adapter.Enforce(call, res); enf.ShortCircuit {
		return nil, &BlockedError{Tool: call.Tool, Decision: Deny, Reason: enf.Reason, Rule: res.Rule}
	}
	return h.run(ctx, adapter, call, ev.record, exec)
}

// escalate resolves an escalate decision through the coordinator. A
// re-driven invocation of the same logical call reconnects with its earlier
// request instead of opening a second one.
func (h *Hub) escalate(ctx context.Context, adapter Adapter, call Call, ev evaluation, res Result, exec func(context.Context, Call) (any, error)) (any, error) {
	req := ev.decision.Request
	if prior := h.coordinator.Lookup(ev.record, req.Target); prior != nil && prior.ID != req.ID {
		return h.resume(ctx, adapter, call, ev.record, prior, res, exec)
	}

	redacted := ev.findings.Redacted(ev.fields)

	if adapter.Capabilities().SupportsSuspension {
		status, err := h.coordinator.Escalate(ctx, req, redacted)
		if err != nil {
			logf("escalation for call %s failed closed: %v", ev.record.ID, err)
		}
		h.reportResolution(ev.record, req, status)
		if status == model.StatusApproved && req.ConsumeResume() {
			return h.run(ctx, adapter, call, ev.record, exec)
		}
		adapter.Enforce(call, res)
		return nil, blockedByApproval(call.Tool, req, status)
	}

	if err := h.coordinator.Submit(ctx, req, redacted); !errors.Is(err, approval.ErrPending) {
		// Registration failed; the request is expired and the call is blocked.
		logf("escalation for call %s failed closed: %v", ev.record.ID, err)
		h.reportResolution(ev.record, req, model.StatusExpired)
		adapter.Enforce(call, res)
		return nil, blockedByApproval(call.Tool, req, model.StatusExpired)
	}
	return nil, &ApprovalPendingError{Tool: call.Tool, ApprovalID: req.ID, Target: req.Target, Message: req.Message}
}

// resume handles a re-driven call whose escalation already exists. APPROVED
// executes the tool body exactly once across all re-drives; everything else
// stays pending or fails closed.
func (h *Hub) resume(ctx context.Context, adapter Adapter, call Call, rec *model.CallRecord, prior *model.ApprovalRequest, res Result, exec func(context.Context, Call) (any, error)) (any, error) {
	status := prior.Status()
	if !status.Terminal() {
		refreshed, err := h.coordinator.Resolve(ctx, prior.ID)
		if err != nil {
			logf("approval poll for %s failed: %v", prior.ID, err)
		}
		status = refreshed
	}

	switch status {
	case model.StatusApproved:
		if prior.ConsumeResume() {
			h.reportResolution(rec, prior, status)
			return h.run(ctx, adapter, call, rec, exec)
		}
		adapter.Enforce(call, res)
		return nil, &BlockedError{Tool: call.Tool, Decision: Escalate, Reason: "approval " + prior.ID + " was already consumed"}

	case model.StatusDenied, model.StatusExpired:
		h.reportResolution(rec, prior, status)
		adapter.Enforce(call, res)
		return nil, blockedByApproval(call.Tool, prior, status)
	}

	return nil, &ApprovalPendingError{Tool: call.Tool, ApprovalID: prior.ID, Target: prior.Target, Message: prior.Message}
}

// run executes the tool body, records the result exactly once, and triggers
// the post-execution scan. Result entities are telemetry only.
func (h *Hub) run(ctx context.Context, adapter Adapter, call Call, rec *model.CallRecord, exec func(context.Context, Call) (any, error)) (any, error) {
	out, err := exec(ctx, call)
	if serr := rec.SetResult(out, err != nil); serr == nil {
		h.postScan(rec, out)
	}
	adapter.AfterCall(call, out, err != nil)
	return out, err
}

func blockedByApproval(tool string, req *model.ApprovalRequest, status model.ApprovalStatus) *BlockedError {
	reason := "approval request " + req.ID + " " + string(status)
	if by := req.DecidedBy(); by != "" {
		reason += " by " + by
	}
	return &BlockedError{Tool: tool, Decision: Escalate, Reason: reason}
}

// funcAdapter adapts a plain Go function to the Adapter contract for Wrap.
type funcAdapter struct {
	tool     string
	blocking bool
}

func (a funcAdapter) BeforeCall(native any) (Call, error) {
	args, _ := native.(map[string]any)
	return Call{Tool: a.tool, Args: args}, nil
}

func (a funcAdapter) Enforce(call Call, res Result) Enforcement {
	if res.Allowed() {
		return Proceed()
	}
	return ShortCircuit(res.Reason)
}

func (a funcAdapter) AfterCall(call Call, result any, failed bool) {}

func (a funcAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsSuspension: a.blocking}
}
