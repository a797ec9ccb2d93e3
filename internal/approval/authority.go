package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Authority is the remote party that decides escalated calls. The coordinator
// registers a request and then polls (or is pushed) until a terminal status.
type Authority interface {
	// Register submits the request and returns the authority's echoed
	// request id for correlation.
	Register(ctx context.Context, req *model.ApprovalRequest, redactedArgs map[string]string) (string, error)

	// Fetch returns the current status and, once decided, who decided.
	Fetch(ctx context.Context, id string) (model.ApprovalStatus, string, error)
}

const authorityTimeout = 10 * time.Second

// HTTPAuthority talks to a remote decision authority over its HTTP contract:
// POST /v1/approvals to register, GET /v1/approvals/{id} to poll.
type HTTPAuthority struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPAuthority creates an authority client for the given base URL.
func NewHTTPAuthority(baseURL, apiKey string) *HTTPAuthority {
	return &HTTPAuthority{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: authorityTimeout},
	}
}

type registerPayload struct {
	ID        string            `json:"request_id"`
	CallID    string            `json:"call_id"`
	Tool      string            `json:"tool"`
	Args      map[string]string `json:"args"` // redacted per policy
	Target    string            `json:"target"`
	Message   string            `json:"message"`
	AgentID   string            `json:"agent_id,omitempty"`
	Framework string            `json:"framework,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type registerResponse struct {
	ID string `json:"request_id"`
}

type statusResponse struct {
	ID        string `json:"request_id"`
	Status    string `json:"status"`
	DecidedBy string `json:"decided_by,omitempty"`
}

func (a *HTTPAuthority) Register(ctx context.Context, req *model.ApprovalRequest, redactedArgs map[string]string) (string, error) {
	payload := registerPayload{
		ID:        req.ID,
		Target:    req.Target,
		Message:   req.Message,
		Args:      redactedArgs,
		CreatedAt: req.CreatedAt,
	}
	if req.Call != nil {
		payload.CallID = req.Call.ID
		payload.Tool = req.Call.Tool
		payload.AgentID = req.Call.AgentID
		payload.Framework = req.Call.Framework
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode approval request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/approvals", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		httpReq.Header.Set("X-API-Key", a.APIKey)
	}

	resp, err := a.client().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("register approval: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("register approval: HTTP %d", resp.StatusCode)
	}

	var decoded registerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode register response: %w", err)
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("authority did not echo a request id")
	}
	return decoded.ID, nil
}

func (a *HTTPAuthority) Fetch(ctx context.Context, id string) (model.ApprovalStatus, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/v1/approvals/"+id, nil)
	if err != nil {
		return "", "", err
	}
	if a.APIKey != "" {
		httpReq.Header.Set("X-API-Key", a.APIKey)
	}

	resp, err := a.client().Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("fetch approval: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("fetch approval: HTTP %d", resp.StatusCode)
	}

	var decoded statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		return "", "", fmt.Errorf("decode approval status: %w", err)
	}

	switch strings.ToLower(decoded.Status) {
	case string(model.StatusPending):
		return model.StatusPending, "", nil
	case string(model.StatusApproved):
		return model.StatusApproved, decoded.DecidedBy, nil
	case string(model.StatusDenied):
		return model.StatusDenied, decoded.DecidedBy, nil
	case string(model.StatusExpired):
		return model.StatusExpired, decoded.DecidedBy, nil
	default:
		return "", "", fmt.Errorf("unknown approval status %q", decoded.Status)
	}
}

func (a *HTTPAuthority) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
