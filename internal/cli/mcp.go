package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/mcpshim"
	"github.com/cortexhub/cortexhub/sdk/go/cortexhub"
)

var (
	mcpAgentID string
	mcpPolicy  string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgentID, "agent-id", "mcp-agent", "Agent identifier stamped on calls")
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML (default CORTEXHUB_POLICY_PATH)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the governed MCP server on stdio",
	Long:  "Exposes the governance utility tools (check, pending, status) over the\nModel Context Protocol. MCP calls cannot suspend, so escalations use the\nsignal-and-retry contract: a pending call returns its approval id and the\nclient retries after the decision lands.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	opts := []cortexhub.Option{
		cortexhub.WithBlockingApprovals(false),
		cortexhub.WithPolicyWatch(),
	}
	if mcpPolicy != "" {
		opts = append(opts, cortexhub.WithPolicyPath(mcpPolicy))
	}
	if apiURL != "" {
		opts = append(opts, cortexhub.WithAPIURL(apiURL))
	}
	if apiKey != "" {
		opts = append(opts, cortexhub.WithAPIKey(apiKey))
	}

	hub, err := cortexhub.Init(mcpAgentID, cortexhub.FrameworkMCP, opts...)
	if err != nil {
		return err
	}
	defer hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return mcpshim.New(hub, version).Run(ctx)
}
