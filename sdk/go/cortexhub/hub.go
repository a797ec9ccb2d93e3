package cortexhub

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cortexhub/cortexhub/internal/approval"
	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/detect"
	"github.com/cortexhub/cortexhub/internal/model"
	"github.com/cortexhub/cortexhub/internal/policy"
	"github.com/cortexhub/cortexhub/internal/telemetry"
)

// Hub is one governance instance. It is an explicit object, not process
// state: tests and multi-tenant hosts run several Hubs side by side.
// Thread-safe for concurrent tool calls.
type Hub struct {
	agentID   string
	framework Framework
	cfg       hubConfig

	scanner     *detect.Scanner
	engine      atomic.Pointer[policy.Engine]
	coordinator *approval.Coordinator
	reporter    *telemetry.Reporter

	watchCancel context.CancelFunc
	closeOnce   sync.Once
}

// Init creates a Hub for the given agent. Configuration comes from the
// CORTEXHUB_* environment, overridden by options.
func Init(agentID string, framework Framework, opts ...Option) (*Hub, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cortexhub: %w", err)
	}

	cfg := hubConfig{
		policyPath:            settings.PolicyPath,
		apiURL:                settings.APIURL,
		apiKey:                settings.APIKey,
		threshold:             settings.ConfidenceThreshold,
		approvalTimeout:       settings.ApprovalTimeout,
		blocking:              true,
		queueSize:             settings.TelemetryQueueSize,
		telemetryDisabled:     settings.TelemetryDisabled,
		destructiveTools:      settings.DestructiveTools,
		externalNetworkTools:  settings.ExternalNetworkTools,
		dataExfiltrationTools: settings.DataExfiltrationTools,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.policyPath == "" {
		cfg.policyPath = policy.DefaultPath()
	}

	h := &Hub{
		agentID:   agentID,
		framework: framework,
		cfg:       cfg,
		scanner:   detect.NewScanner(detect.Config{Threshold: cfg.threshold}),
	}

	policyCfg, hash, err := policy.LoadConfigWithHash(cfg.policyPath)
	if err != nil {
		return nil, fmt.Errorf("cortexhub: failed to load policy: %w", err)
	}
	h.installPolicy(policyCfg, hash)

	authority := cfg.authority
	if authority == nil {
		authority = approval.NewHTTPAuthority(cfg.apiURL, cfg.apiKey)
	}
	h.coordinator = approval.NewCoordinator(authority, approval.Config{
		Timeout:     cfg.approvalTimeout,
		Retention:   settings.RetentionWindow,
		PollInitial: cfg.pollInitial,
		PollMax:     cfg.pollMax,
	})

	sink := cfg.sink
	if sink == nil && !cfg.telemetryDisabled && cfg.apiURL != "" {
		sink = telemetry.NewHTTPSink(cfg.apiURL, cfg.apiKey)
	}
	if cfg.telemetryDisabled {
		sink = nil
	}
	h.reporter = telemetry.NewReporter(sink, cfg.queueSize)

	if cfg.watchPolicy {
		watcher, err := policy.NewWatcher(cfg.policyPath, h.installPolicy)
		if err != nil {
			h.reporter.Close()
			return nil, fmt.Errorf("cortexhub: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		h.watchCancel = cancel
		go watcher.Run(ctx)
	}

	return h, nil
}

// Close stops the policy watcher and drains telemetry.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		if h.watchCancel != nil {
			h.watchCancel()
		}
		h.reporter.Close()
	})
}

// installPolicy swaps in a new engine built from the loaded config plus the
// builtin tool-safety rules. In-flight evaluations finish on the old engine.
func (h *Hub) installPolicy(cfg *policy.Config, hash string) {
	merged := *cfg
	merged.Rules = append(append([]policy.Rule{}, cfg.Rules...),
		policy.SafetyRules(h.cfg.destructiveTools, h.cfg.externalNetworkTools, h.cfg.dataExfiltrationTools)...)
	h.engine.Store(policy.NewEngine(&merged, hash, logf))
}

// Check evaluates policy for a call without executing anything and without
// emitting telemetry. Used by the check CLI and by hosts that want a
// what-if answer.
func (h *Hub) Check(call Call) Result {
	ev := h.evaluate(call, false)
	return toResult(ev.decision, ev.findings.Counts())
}

// Approvals exposes the coordinator for pending/resolve queries by hosts
// that drive the signal-and-retry contract themselves.
func (h *Hub) Approvals() *approval.Coordinator {
	return h.coordinator
}

// evaluation bundles the per-call pipeline output: detection precedes the
// decision, always, and everything here is call-local.
type evaluation struct {
	record   *model.CallRecord
	fields   map[string]string
	findings detect.Findings
	decision model.PolicyDecision
}

func (h *Hub) evaluate(call Call, report bool) evaluation {
	rec := model.NewCallRecord(call.Tool, model.ArgsFromMap(call.Args), string(h.framework), h.agentID, call.SessionID)
	if report {
		h.reporter.Report(telemetry.ForCall(telemetry.CallObserved, rec))
	}

	fields := detect.StringFields(rec.Args, true)
	findings := h.scanner.Scan(fields, model.LocationArgs)
	for kind, err := range findings.Degraded {
		logf("detector for %s degraded on call %s: %v", kind, rec.ID, err)
	}
	if report {
		ev := telemetry.ForCall(telemetry.EntitiesDetected, rec)
		ev.Entities = findings.Counts()
		ev.Location = model.LocationArgs
		h.reporter.Report(ev)
	}

	dec := h.engine.Load().Evaluate(rec, findings.Entities)
	if report {
		ev := telemetry.ForCall(telemetry.DecisionMade, rec)
		ev.Decision = string(dec.Decision)
		ev.Reason = dec.Reason
		ev.Rule = dec.RuleName
		ev.PolicyHash = dec.PolicyHash
		if dec.Request != nil {
			ev.ApprovalID = dec.Request.ID
		}
		h.reporter.Report(ev)
	}

	return evaluation{record: rec, fields: fields, findings: findings, decision: dec}
}

// postScan re-scans an executed result for telemetry only. Result entities
// never change the decision already enforced for this call.
func (h *Hub) postScan(rec *model.CallRecord, result any) {
	fields := detect.StringFields([]model.Arg{{Name: "result", Value: result}}, true)
	findings := h.scanner.Scan(fields, model.LocationResult)

	ev := telemetry.ForCall(telemetry.EntitiesDetected, rec)
	ev.Entities = findings.Counts()
	ev.Location = model.LocationResult
	h.reporter.Report(ev)
}

func (h *Hub) reportResolution(rec *model.CallRecord, req *model.ApprovalRequest, status model.ApprovalStatus) {
	ev := telemetry.ForCall(telemetry.ApprovalResolved, rec)
	ev.ApprovalID = req.ID
	ev.Status = string(status)
	ev.DecidedBy = req.DecidedBy()
	h.reporter.Report(ev)
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cortexhub: "+format+"\n", args...)
}
