package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.APIURL != "https://api.cortexhub.ai" {
		t.Errorf("APIURL default = %q", s.APIURL)
	}
	if s.ListenAddr != "127.0.0.1:8787" {
		t.Errorf("ListenAddr default = %q", s.ListenAddr)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CORTEXHUB_API_URL", "https://hub.example.com")
	t.Setenv("CORTEXHUB_API_KEY", "sk-test")
	t.Setenv("CORTEXHUB_DESTRUCTIVE_TOOLS", "delete_user,drop_table")
	t.Setenv("CORTEXHUB_DATA_EXFILTRATION_TOOLS", "upload_file")
	t.Setenv("CORTEXHUB_APPROVAL_TIMEOUT", "5m")
	t.Setenv("CORTEXHUB_CONFIDENCE_THRESHOLD", "0.7")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.APIURL != "https://hub.example.com" {
		t.Errorf("APIURL = %q", s.APIURL)
	}
	if s.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", s.APIKey)
	}
	if len(s.DestructiveTools) != 2 || s.DestructiveTools[1] != "drop_table" {
		t.Errorf("DestructiveTools = %v", s.DestructiveTools)
	}
	if len(s.DataExfiltrationTools) != 1 || s.DataExfiltrationTools[0] != "upload_file" {
		t.Errorf("DataExfiltrationTools = %v", s.DataExfiltrationTools)
	}
	if s.ApprovalTimeout != 5*time.Minute {
		t.Errorf("ApprovalTimeout = %v", s.ApprovalTimeout)
	}
	if s.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v", s.ConfidenceThreshold)
	}
}
