package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveBy string

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&approveBy, "by", "operator", "Identity recorded as the decider")
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending escalated call",
	Long:  "Moves a pending approval request to approved. The waiting agent call\nresumes and executes its tool body exactly once.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	c, err := authorityClient()
	if err != nil {
		return err
	}
	if err := c.Approve(cmd.Context(), args[0], approveBy); err != nil {
		return err
	}
	fmt.Printf("Approved %s (decided by %s)\n", args[0], approveBy)
	return nil
}
