package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/client"
	"github.com/cortexhub/cortexhub/internal/config"
)

var denyBy string

func init() {
	rootCmd.AddCommand(denyCmd)
	denyCmd.Flags().StringVar(&denyBy, "by", "operator", "Identity recorded as the decider")
}

var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending escalated call",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	c, err := authorityClient()
	if err != nil {
		return err
	}
	if err := c.Deny(cmd.Context(), args[0], denyBy); err != nil {
		return err
	}
	fmt.Printf("Denied %s (decided by %s)\n", args[0], denyBy)
	return nil
}

// authorityClient builds the operator client from flags, falling back to the
// environment surface.
func authorityClient() (*client.Client, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	url := apiURL
	if url == "" {
		url = settings.APIURL
	}
	key := apiKey
	if key == "" {
		key = settings.APIKey
	}
	return client.New(url, key), nil
}
