package cortexhub

import (
	"time"

	"github.com/cortexhub/cortexhub/internal/approval"
	"github.com/cortexhub/cortexhub/internal/telemetry"
)

// Option configures a Hub at Init time. Options override the CORTEXHUB_*
// environment surface.
type Option func(*hubConfig)

type hubConfig struct {
	policyPath  string
	watchPolicy bool

	apiURL string
	apiKey string

	threshold float64

	approvalTimeout time.Duration
	blocking        bool

	queueSize         int
	telemetryDisabled bool

	destructiveTools      []string
	externalNetworkTools  []string
	dataExfiltrationTools []string

	// test seams
	authority   approval.Authority
	sink        telemetry.Sink
	pollInitial time.Duration
	pollMax     time.Duration
}

// WithPolicyPath sets the policy YAML file. Defaults to CORTEXHUB_POLICY_PATH,
// then ~/.cortexhub/policy.yaml.
func WithPolicyPath(path string) Option {
	return func(c *hubConfig) { c.policyPath = path }
}

// WithPolicyWatch enables hot reload of the policy file: edits swap in a new
// engine without restarting; in-flight evaluations finish on the old one.
func WithPolicyWatch() Option {
	return func(c *hubConfig) { c.watchPolicy = true }
}

// WithAPIURL sets the decision-authority base URL.
func WithAPIURL(url string) Option {
	return func(c *hubConfig) { c.apiURL = url }
}

// WithAPIKey sets the X-API-Key credential for the decision authority.
func WithAPIKey(key string) Option {
	return func(c *hubConfig) { c.apiKey = key }
}

// WithConfidenceThreshold sets the detector confidence floor.
func WithConfidenceThreshold(threshold float64) Option {
	return func(c *hubConfig) { c.threshold = threshold }
}

// WithApprovalTimeout sets how long an escalation waits before expiring.
func WithApprovalTimeout(d time.Duration) Option {
	return func(c *hubConfig) { c.approvalTimeout = d }
}

// WithBlockingApprovals controls the escalation contract. When true (the
// default) an escalated call blocks until the approver decides. When false
// the call returns *ApprovalPendingError immediately and the orchestration
// re-drives it after the decision lands.
func WithBlockingApprovals(blocking bool) Option {
	return func(c *hubConfig) { c.blocking = blocking }
}

// WithTelemetryQueueSize bounds the in-memory telemetry queue. The oldest
// events are dropped under backpressure.
func WithTelemetryQueueSize(n int) Option {
	return func(c *hubConfig) { c.queueSize = n }
}

// WithoutTelemetry disables event delivery. Events are still counted.
func WithoutTelemetry() Option {
	return func(c *hubConfig) { c.telemetryDisabled = true }
}

// WithDestructiveTools appends builtin escalate rules for the named tools.
func WithDestructiveTools(tools ...string) Option {
	return func(c *hubConfig) { c.destructiveTools = append(c.destructiveTools, tools...) }
}

// WithExternalNetworkTools appends builtin escalate rules for the named tools.
func WithExternalNetworkTools(tools ...string) Option {
	return func(c *hubConfig) { c.externalNetworkTools = append(c.externalNetworkTools, tools...) }
}

// WithDataExfiltrationTools appends builtin deny rules for the named tools.
func WithDataExfiltrationTools(tools ...string) Option {
	return func(c *hubConfig) { c.dataExfiltrationTools = append(c.dataExfiltrationTools, tools...) }
}

func withAuthority(a approval.Authority) Option {
	return func(c *hubConfig) { c.authority = a }
}

func withSink(s telemetry.Sink) Option {
	return func(c *hubConfig) { c.sink = s }
}

func withPolling(initial, ceiling time.Duration) Option {
	return func(c *hubConfig) {
		c.pollInitial = initial
		c.pollMax = ceiling
	}
}
