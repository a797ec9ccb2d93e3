package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/policy"
	"github.com/cortexhub/cortexhub/sdk/go/cortexhub"
)

var (
	checkTool   string
	checkArgs   string
	checkPolicy string
	checkRemote bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkTool, "tool", "", "Tool name to evaluate (required)")
	checkCmd.Flags().StringVar(&checkArgs, "args", "{}", "Tool arguments as a JSON object")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML (default CORTEXHUB_POLICY_PATH)")
	checkCmd.Flags().BoolVar(&checkRemote, "remote", false, "Evaluate against the decision authority instead of the local policy file")
	checkCmd.MarkFlagRequired("tool")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate policy for a call without executing it",
	Long:  "Runs detection and rule evaluation for a hypothetical tool call and\nprints the decision. Nothing is executed and no approval is opened.",
	Example: `  cortexhub check --tool process_refund --args '{"amount": 750}'
  cortexhub check --tool transfer_funds --args '{"amount": 20000}' --remote`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(checkArgs), &toolArgs); err != nil {
		return fmt.Errorf("invalid --args JSON: %w", err)
	}

	if checkRemote {
		c, err := authorityClient()
		if err != nil {
			return err
		}
		res, err := c.Check(cmd.Context(), checkTool, toolArgs)
		if err != nil {
			return err
		}
		return printJSON(res)
	}

	settings, err := config.Load()
	if err != nil {
		return err
	}
	path := checkPolicy
	if path == "" {
		path = settings.PolicyPath
	}
	if path == "" {
		path = policy.DefaultPath()
	}

	hub, err := cortexhub.Init("cli", cortexhub.FrameworkCustom,
		cortexhub.WithPolicyPath(path),
		cortexhub.WithoutTelemetry(),
	)
	if err != nil {
		return err
	}
	defer hub.Close()

	res := hub.Check(cortexhub.Call{Tool: checkTool, Args: toolArgs})
	return printJSON(map[string]any{
		"decision":    string(res.Decision),
		"reason":      res.Reason,
		"rule":        res.Rule,
		"policy_hash": res.PolicyHash,
		"entities":    res.Entities,
	})
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
