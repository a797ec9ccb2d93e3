package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInitPolicy(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	if err := runInitPolicy(nil, nil); err != nil {
		t.Fatalf("runInitPolicy failed: %v", err)
	}

	path := filepath.Join(tmpDir, ".cortexhub", "policy.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("policy.yaml not created: %v", err)
	}
	if !strings.Contains(string(data), "rules:") {
		t.Error("policy.yaml missing rules section")
	}
	if !strings.Contains(string(data), "default_decision:") {
		t.Error("policy.yaml missing default_decision")
	}
}

func TestRunInitPolicy_NoOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".cortexhub")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	sentinel := "# sentinel content\n"
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	err := runInitPolicy(nil, nil)
	if err == nil {
		t.Fatal("expected error when policy.yaml exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != sentinel {
		t.Error("existing policy.yaml was overwritten")
	}
}

func TestRunCheck_InvalidArgsJSON(t *testing.T) {
	checkTool = "process_refund"
	checkArgs = "not json"
	checkRemote = false
	defer func() { checkArgs = "{}" }()

	err := runCheck(checkCmd, nil)
	if err == nil {
		t.Fatal("expected error for malformed --args")
	}
	if !strings.Contains(err.Error(), "invalid --args JSON") {
		t.Errorf("unexpected error: %v", err)
	}
}
