// Package approval manages the lifecycle of escalated decisions: it registers
// requests with a remote decision authority, suspends the caller until a
// terminal status, and fails closed when the authority cannot be reached.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cortexhub/cortexhub/internal/model"
)

// ErrPending is the signal-and-retry outcome: the request was registered but
// no terminal decision exists yet. Hosts without true suspension surface it
// to their orchestration, which re-drives the call after polling.
var ErrPending = errors.New("approval pending")

// Config tunes the coordinator. Zero values fall back to the defaults below.
type Config struct {
	Timeout        time.Duration            // system default wait
	TargetTimeouts map[string]time.Duration // per escalation target overrides
	MaxRegister    int                      // registration attempts before failing closed
	PollInitial    time.Duration
	PollMax        time.Duration
	Retention      time.Duration // how long resolved requests stay queryable
}

const (
	defaultTimeout     = 10 * time.Minute
	defaultMaxRegister = 4
	defaultPollInitial = 500 * time.Millisecond
	defaultPollMax     = 15 * time.Second
	defaultRetention   = time.Hour
)

// Coordinator drives the approval state machine for escalated calls.
// Safe for concurrent use; a pending approval never serializes other calls.
type Coordinator struct {
	authority Authority
	cfg       Config

	mu       sync.Mutex
	requests map[string]*tracked // by request id
	byPrint  map[string]*tracked // by call fingerprint, for signal-and-retry
}

type tracked struct {
	req        *model.ApprovalRequest
	resolvedAt time.Time
}

// NewCoordinator creates a Coordinator backed by the given authority.
func NewCoordinator(authority Authority, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRegister <= 0 {
		cfg.MaxRegister = defaultMaxRegister
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = defaultPollInitial
	}
	if cfg.PollMax <= 0 {
		cfg.PollMax = defaultPollMax
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &Coordinator{
		authority: authority,
		cfg:       cfg,
		requests:  make(map[string]*tracked),
		byPrint:   make(map[string]*tracked),
	}
}

// Escalate suspends the caller until the request reaches a terminal status:
// register with the authority (bounded retry, fail closed to expired), then
// poll with exponential backoff up to the target's timeout. Context
// cancellation expires the request rather than leaking the wait.
func (c *Coordinator) Escalate(ctx context.Context, req *model.ApprovalRequest, redactedArgs map[string]string) (model.ApprovalStatus, error) {
	c.track(req)

	if err := c.register(ctx, req, redactedArgs); err != nil {
		req.Transition(model.StatusExpired, "")
		c.markResolved(req.ID)
		return model.StatusExpired, err
	}

	status, err := c.wait(ctx, req)
	c.markResolved(req.ID)
	return status, err
}

// Submit registers the request without waiting: the signal-and-retry half of
// the contract. A later invocation of the same call finds the tracked
// request via Lookup and either proceeds or keeps waiting.
func (c *Coordinator) Submit(ctx context.Context, req *model.ApprovalRequest, redactedArgs map[string]string) error {
	c.track(req)
	if err := c.register(ctx, req, redactedArgs); err != nil {
		req.Transition(model.StatusExpired, "")
		c.markResolved(req.ID)
		return err
	}
	return ErrPending
}

// Resolve returns the status of a tracked request, refreshing from the
// authority when it is still pending. Used both by signal-and-retry hosts
// and by the pending CLI.
func (c *Coordinator) Resolve(ctx context.Context, id string) (model.ApprovalStatus, error) {
	tr := c.lookup(id)
	if tr == nil {
		return "", fmt.Errorf("unknown approval request %q", id)
	}
	if tr.req.Status().Terminal() {
		return tr.req.Status(), nil
	}

	status, decidedBy, err := c.authority.Fetch(ctx, id)
	if err != nil {
		return model.StatusPending, err
	}
	if status.Terminal() {
		tr.req.Transition(status, decidedBy)
		c.markResolved(id)
	}
	return tr.req.Status(), nil
}

// Lookup finds a tracked request for the same logical call, so a re-driven
// invocation reconnects with its earlier escalation instead of opening a
// second one.
func (c *Coordinator) Lookup(call *model.CallRecord, target string) *model.ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.byPrint[Fingerprint(call, target)]; ok {
		return tr.req
	}
	return nil
}

// Get returns a tracked request by id.
func (c *Coordinator) Get(id string) *model.ApprovalRequest {
	tr := c.lookup(id)
	if tr == nil {
		return nil
	}
	return tr.req
}

// Pending lists tracked requests that have not reached a terminal state.
func (c *Coordinator) Pending() []*model.ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.ApprovalRequest
	for _, tr := range c.requests {
		if !tr.req.Status().Terminal() {
			out = append(out, tr.req)
		}
	}
	return out
}

// Sweep drops resolved requests older than the retention window and expires
// pending requests whose wait deadline has long passed. Called periodically
// by the owner.
func (c *Coordinator) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, tr := range c.requests {
		if !tr.resolvedAt.IsZero() && now.Sub(tr.resolvedAt) > c.cfg.Retention {
			delete(c.requests, id)
			delete(c.byPrint, fingerprintOf(tr.req))
		}
	}
}

// register submits the request with bounded exponential backoff. Exhaustion
// is an EscalationCommunicationError: the caller fails closed.
func (c *Coordinator) register(ctx context.Context, req *model.ApprovalRequest, redactedArgs map[string]string) error {
	backoff := c.cfg.PollInitial
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRegister; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("escalation cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, c.cfg.PollMax)
		}

		echoed, err := c.authority.Register(ctx, req, redactedArgs)
		if err != nil {
			lastErr = err
			continue
		}
		if echoed != req.ID {
			lastErr = fmt.Errorf("authority echoed mismatched id %q", echoed)
			continue
		}
		return nil
	}
	return fmt.Errorf("approval registration failed after %d attempts: %w", c.cfg.MaxRegister, lastErr)
}

// wait polls until terminal status, timeout, or cancellation. Poll failures
// retry with the same backoff schedule; they only fail the escalation once
// the deadline passes (fail closed, never fail open).
func (c *Coordinator) wait(ctx context.Context, req *model.ApprovalRequest) (model.ApprovalStatus, error) {
	deadline := time.Now().Add(c.timeoutFor(req.Target))
	backoff := c.cfg.PollInitial

	for {
		status, decidedBy, err := c.authority.Fetch(ctx, req.ID)
		if err == nil && status.Terminal() {
			req.Transition(status, decidedBy)
			return req.Status(), nil
		}

		if time.Now().After(deadline) {
			req.Transition(model.StatusExpired, "")
			return model.StatusExpired, fmt.Errorf("approval %s timed out waiting for %s", req.ID, req.Target)
		}

		select {
		case <-ctx.Done():
			req.Transition(model.StatusExpired, "")
			return model.StatusExpired, fmt.Errorf("escalation cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, c.cfg.PollMax)
	}
}

func (c *Coordinator) timeoutFor(target string) time.Duration {
	if d, ok := c.cfg.TargetTimeouts[target]; ok && d > 0 {
		return d
	}
	return c.cfg.Timeout
}

func (c *Coordinator) track(req *model.ApprovalRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[req.ID] = &tracked{req: req}
	c.byPrint[fingerprintOf(req)] = c.requests[req.ID]
}

func (c *Coordinator) lookup(id string) *tracked {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[id]
}

func (c *Coordinator) markResolved(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.requests[id]; ok && tr.resolvedAt.IsZero() {
		tr.resolvedAt = time.Now()
	}
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

// Fingerprint identifies a logical call for signal-and-retry: same tool,
// same arguments, same escalation target. The call id deliberately stays out
// so a re-driven invocation (a fresh CallRecord) maps to the same request.
func Fingerprint(call *model.CallRecord, target string) string {
	h := sha256.New()
	if call != nil {
		h.Write([]byte(call.Tool))
		h.Write([]byte{0})
		h.Write([]byte(call.AgentID))
		h.Write([]byte{0})
		if data, err := json.Marshal(call.Args); err == nil {
			h.Write(data)
		}
	}
	h.Write([]byte{0})
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

func fingerprintOf(req *model.ApprovalRequest) string {
	return Fingerprint(req.Call, req.Target)
}
