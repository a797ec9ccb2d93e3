// Package mcpshim exposes governed tools over the Model Context Protocol.
// Every registered tool routes through the Hub before its handler runs, so
// MCP clients get the same allow/deny/escalate semantics as in-process
// integrations. MCP calls cannot suspend across a human decision, so the
// shim expects a Hub configured for signal-and-retry.
package mcpshim

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexhub/cortexhub/sdk/go/cortexhub"
)

// Server wraps the MCP SDK server with governance.
type Server struct {
	hub       *cortexhub.Hub
	mcpServer *mcpsdk.Server
}

// New creates an MCP server governed by the given hub and registers the
// builtin utility tools.
func New(hub *cortexhub.Hub, version string) *Server {
	s := &Server{
		hub: hub,
		mcpServer: mcpsdk.NewServer(
			&mcpsdk.Implementation{
				Name:    "cortexhub",
				Version: version,
			},
			nil,
		),
	}
	s.registerUtilityTools()
	return s
}

// AddTool registers a governed tool: policy runs before every invocation
// and blocked or pending calls come back as structured tool errors instead
// of executing.
func (s *Server) AddTool(name, description string, fn cortexhub.ToolFunc) {
	wrapped := s.hub.Wrap(name, fn)
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, input map[string]any) (*mcpsdk.CallToolResult, ToolOutput, error) {
		return s.invoke(ctx, wrapped, input)
	})
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerUtilityTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cortexhub_check",
		Description: "Check what the governance policy would decide for a tool call without executing it (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cortexhub_pending",
		Description: "List approval requests opened through this hub that are still awaiting a decision.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cortexhub_status",
		Description: "Poll the current status of an approval request. A blocked call carrying an approval_id can be retried once this reports approved.",
	}, s.handleStatus)
}
