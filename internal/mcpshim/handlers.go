package mcpshim

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexhub/cortexhub/sdk/go/cortexhub"
)

// ToolOutput is the result of a governed tool invocation, or the block or
// pending details when the tool body did not run.
type ToolOutput struct {
	Result any `json:"result,omitempty"`

	Blocked  bool   `json:"blocked,omitempty"`
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Rule     string `json:"rule,omitempty"`

	ApprovalPending bool   `json:"approval_pending,omitempty"`
	ApprovalID      string `json:"approval_id,omitempty"`
	Target          string `json:"target,omitempty"`
	Message         string `json:"message,omitempty"`
}

// CheckInput defines parameters for the cortexhub_check tool.
type CheckInput struct {
	Tool string         `json:"tool" jsonschema:"tool name to evaluate"`
	Args map[string]any `json:"args,omitempty" jsonschema:"tool arguments"`
}

// CheckOutput contains the dry-run policy decision.
type CheckOutput struct {
	Decision string         `json:"decision"`
	Reason   string         `json:"reason,omitempty"`
	Rule     string         `json:"rule,omitempty"`
	Entities map[string]int `json:"entities,omitempty"`
}

// PendingInput is empty.
type PendingInput struct{}

// PendingOutput lists approvals awaiting a decision.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

// PendingItem describes one pending approval request.
type PendingItem struct {
	ApprovalID string `json:"approval_id"`
	Tool       string `json:"tool,omitempty"`
	Target     string `json:"target"`
	Message    string `json:"message,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// StatusInput defines parameters for the cortexhub_status tool.
type StatusInput struct {
	ApprovalID string `json:"approval_id" jsonschema:"approval request id from a pending call"`
}

// StatusOutput reports the current approval status.
type StatusOutput struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
}

func (s *Server) invoke(ctx context.Context, fn cortexhub.ToolFunc, input map[string]any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	out, err := fn(ctx, input)
	if err != nil {
		var blocked *cortexhub.BlockedError
		if errors.As(err, &blocked) {
			return &mcpsdk.CallToolResult{IsError: true}, ToolOutput{
				Blocked:  true,
				Decision: string(blocked.Decision),
				Reason:   blocked.Reason,
				Rule:     blocked.Rule,
			}, nil
		}
		var pending *cortexhub.ApprovalPendingError
		if errors.As(err, &pending) {
			return &mcpsdk.CallToolResult{IsError: true}, ToolOutput{
				ApprovalPending: true,
				ApprovalID:      pending.ApprovalID,
				Target:          pending.Target,
				Message:         pending.Message,
			}, nil
		}
		return nil, ToolOutput{}, err
	}
	return nil, ToolOutput{Result: out}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	res := s.hub.Check(cortexhub.Call{Tool: input.Tool, Args: input.Args})
	return nil, CheckOutput{
		Decision: string(res.Decision),
		Reason:   res.Reason,
		Rule:     res.Rule,
		Entities: res.Entities,
	}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, _ PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	pending := s.hub.Approvals().Pending()
	out := PendingOutput{Approvals: make([]PendingItem, 0, len(pending))}
	for _, p := range pending {
		item := PendingItem{
			ApprovalID: p.ID,
			Target:     p.Target,
			Message:    p.Message,
			CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		}
		if p.Call != nil {
			item.Tool = p.Call.Tool
		}
		out.Approvals = append(out.Approvals, item)
	}
	return nil, out, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	status, err := s.hub.Approvals().Resolve(ctx, input.ApprovalID)
	if err != nil && status == "" {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{ApprovalID: input.ApprovalID, Status: string(status)}, nil
}
