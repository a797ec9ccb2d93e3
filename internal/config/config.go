// Package config loads the CORTEXHUB_* environment surface shared by the
// SDK and the CLI.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings is the environment-derived configuration. Every field maps to a
// CORTEXHUB_* variable; list values are comma-separated.
type Settings struct {
	APIURL string `envconfig:"API_URL" default:"https://api.cortexhub.ai"`
	APIKey string `envconfig:"API_KEY"`

	PolicyPath string `envconfig:"POLICY_PATH"`

	// Tool-safety templates: destructive and external-network tools escalate,
	// data-exfiltration tools are denied outright.
	DestructiveTools      []string `envconfig:"DESTRUCTIVE_TOOLS"`
	ExternalNetworkTools  []string `envconfig:"EXTERNAL_NETWORK_TOOLS"`
	DataExfiltrationTools []string `envconfig:"DATA_EXFILTRATION_TOOLS"`

	ConfidenceThreshold float64       `envconfig:"CONFIDENCE_THRESHOLD"`
	ApprovalTimeout     time.Duration `envconfig:"APPROVAL_TIMEOUT"`
	TelemetryQueueSize  int           `envconfig:"TELEMETRY_QUEUE_SIZE"`
	RetentionWindow     time.Duration `envconfig:"RETENTION_WINDOW"`

	TelemetryDisabled bool `envconfig:"TELEMETRY_DISABLED"`

	// Decision-authority server.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8787"`
	DBPath     string `envconfig:"DB_PATH"`
}

// Load reads Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("cortexhub", &s); err != nil {
		return Settings{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return s, nil
}
