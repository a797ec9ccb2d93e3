package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexhub/cortexhub/internal/model"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writePolicy(t, `
default_decision: deny
rules:
  - name: refund-limit
    tool: issue_refund
    condition: "args.amount > 500"
    effect: deny
    reason: "Refunds over $500 require manager approval"
`)

	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Name != "refund-limit" {
		t.Errorf("rules = %+v", cfg.Rules)
	}
	if cfg.DefaultDecision != "deny" {
		t.Errorf("default_decision = %q", cfg.DefaultDecision)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("hash = %q", hash)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Rules) != 0 || cfg.DefaultDecision != string(model.Allow) {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writePolicy(t, "rules: [not: {valid")
	if _, err := LoadConfig(path); err == nil {
		t.Error("invalid YAML should error")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := writePolicy(t, "default_decision: allow\n")
	_, hashA, _ := LoadConfigWithHash(a)

	b := writePolicy(t, "default_decision: deny\n")
	_, hashB, _ := LoadConfigWithHash(b)

	if hashA == hashB {
		t.Error("different policy content must produce different hashes")
	}
}

func TestStarterPolicyRoundTrips(t *testing.T) {
	path := writePolicy(t, DefaultConfigYAML())

	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("starter policy must parse: %v", err)
	}
	if len(cfg.Rules) == 0 {
		t.Fatal("starter policy has no rules")
	}

	e := NewEngine(cfg, hash, t.Logf)
	for _, cr := range e.rules {
		if cr.condErr != nil {
			t.Errorf("starter rule %s has malformed condition: %v", cr.policyID, cr.condErr)
		}
	}

	// The documented refund scenario must work out of the box.
	under := e.Evaluate(refundCall(299), nil)
	if under.Decision != model.Allow {
		t.Errorf("refund 299 = %s, want allow", under.Decision)
	}
	over := e.Evaluate(refundCall(750), nil)
	if over.Decision != model.Deny {
		t.Errorf("refund 750 = %s, want deny", over.Decision)
	}
}
