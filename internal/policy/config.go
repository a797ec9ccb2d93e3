package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Rule is one configured governance rule, evaluated in order.
type Rule struct {
	Name      string `yaml:"name"`
	Tool      string `yaml:"tool"`
	Condition string `yaml:"condition"`
	Effect    string `yaml:"effect"`
	Reason    string `yaml:"reason"`
	Target    string `yaml:"target"`
	Message   string `yaml:"message"`
}

// Config holds the ordered rule list and the default for unmatched calls.
type Config struct {
	Rules []Rule `yaml:"rules"`

	// DefaultDecision applies when no rule matches. Governance is opt-in
	// per rule, so the shipped default is allow; deployments that want
	// fail-closed for unconfigured tools set this to deny.
	DefaultDecision string `yaml:"default_decision"`
}

// DefaultConfig returns the built-in configuration: no rules, allow by
// default.
func DefaultConfig() *Config {
	return &Config{DefaultDecision: string(model.Allow)}
}

// DefaultPath is the policy file consulted when no path is configured.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cortexhub-policy.yaml")
	}
	return filepath.Join(home, ".cortexhub", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file. Empty path falls
// back to DefaultPath. Missing file returns defaults. Invalid YAML returns
// an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns the SHA-256 of
// the raw YAML bytes, so decisions can be correlated with the exact policy
// version that produced them. Defaults hash to the digest of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}
	if cfg.DefaultDecision == "" {
		cfg.DefaultDecision = string(model.Allow)
	}

	return cfg, hash, nil
}

// matchTool checks a rule's tool matcher against a call's tool name.
// Exact name, prefix*, *suffix, or *contains*. Case-insensitive.
func matchTool(pattern, tool string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerTool := strings.ToLower(tool)
	lowerPattern := strings.ToLower(pattern)

	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		return strings.Contains(lowerTool, lowerPattern[1:len(lowerPattern)-1])
	}
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerTool, lowerPattern[1:])
	}
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerTool, lowerPattern[:len(lowerPattern)-1])
	}
	return lowerTool == lowerPattern
}

// SafetyRules generates the default rule templates for the configured tool
// name lists. They are appended after user rules so explicit configuration
// wins.
func SafetyRules(destructive, externalNetwork, exfiltration []string) []Rule {
	var rules []Rule
	for _, tool := range exfiltration {
		rules = append(rules, Rule{
			Name:   "builtin-exfiltration-" + tool,
			Tool:   tool,
			Effect: string(model.Deny),
			Reason: fmt.Sprintf("%s is a data-exfiltration tool and is blocked by default", tool),
		})
	}
	for _, tool := range destructive {
		rules = append(rules, Rule{
			Name:    "builtin-destructive-" + tool,
			Tool:    tool,
			Effect:  string(model.Escalate),
			Target:  "operator",
			Message: fmt.Sprintf("%s is a destructive tool; approval required", tool),
		})
	}
	for _, tool := range externalNetwork {
		rules = append(rules, Rule{
			Name:    "builtin-external-network-" + tool,
			Tool:    tool,
			Effect:  string(model.Escalate),
			Target:  "operator",
			Message: fmt.Sprintf("%s reaches the external network; approval required", tool),
		})
	}
	return rules
}

// rulePolicyID derives a stable identifier for rules without a name.
func rulePolicyID(index int, rule Rule) string {
	if rule.Name != "" {
		return rule.Name
	}
	pattern := strings.Trim(rule.Tool, "*")
	if pattern == "" {
		pattern = "all"
	}
	return fmt.Sprintf("rule.%d.%s", index, pattern)
}

// DefaultConfigYAML returns a commented starter policy for init-policy.
func DefaultConfigYAML() string {
	return `# cortexhub policy configuration
# Generated by: cortexhub init-policy
#
# Rules are evaluated in order; the first rule whose tool matcher AND
# condition both match decides the call. When no rule matches, the
# default_decision applies.

# What to do when no rule matches: allow | deny.
# Governance is opt-in per rule, so the shipped default is allow.
default_decision: allow

# Rule fields:
#   name:      stable identifier, surfaced in decisions and telemetry
#   tool:      exact name, prefix* , *suffix , or *contains*
#   condition: expression over args.*, entities.*, context.*
#              (numeric comparisons, in [..], contains, and/or/not;
#              a reference to a missing field makes the rule not match)
#   effect:    allow | deny | escalate
#   reason:    human-readable denial reason (deny)
#   target:    who approves (escalate)
#   message:   shown to the approver (escalate)
rules:
  - name: refund-limit
    tool: issue_refund
    condition: "args.amount > 500"
    effect: deny
    reason: "Refunds over $500 require manager approval"

  - name: large-transfer
    tool: initiate_transfer
    condition: "args.amount > 10000"
    effect: escalate
    target: manager
    message: "Transfer exceeds the automatic approval limit"

  - name: pii-egress
    tool: "*export*"
    condition: "entities.EMAIL > 0 or entities.SSN > 0"
    effect: deny
    reason: "Exporting detected PII is blocked"
`
}
