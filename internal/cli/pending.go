package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List approval requests awaiting a decision",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	c, err := authorityClient()
	if err != nil {
		return err
	}

	list, err := c.Pending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	fmt.Printf("%-40s %-20s %-15s %-12s %s\n", "REQUEST", "TOOL", "TARGET", "AGENT", "CREATED")
	for _, a := range list {
		fmt.Printf("%-40s %-20s %-15s %-12s %s\n",
			a.ID,
			truncate(a.Tool, 20),
			truncate(a.Target, 15),
			truncate(a.AgentID, 12),
			a.CreatedAt.Format("15:04:05"),
		)
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
