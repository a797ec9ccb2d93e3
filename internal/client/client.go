// Package client is the operator-side HTTP client for the decision
// authority: approving, denying, and listing escalated requests, plus
// remote what-if checks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the decision authority's v1 API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a client for the given authority base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Approval is one approval request as the authority reports it.
type Approval struct {
	ID        string            `json:"request_id"`
	CallID    string            `json:"call_id"`
	Tool      string            `json:"tool"`
	Args      map[string]string `json:"args"`
	Target    string            `json:"target"`
	Message   string            `json:"message"`
	AgentID   string            `json:"agent_id"`
	Framework string            `json:"framework"`
	Status    string            `json:"status"`
	DecidedBy string            `json:"decided_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CheckResult is the authority's answer to a what-if evaluation.
type CheckResult struct {
	Decision   string         `json:"decision"`
	Reason     string         `json:"reason"`
	Rule       string         `json:"rule"`
	PolicyHash string         `json:"policy_hash"`
	Entities   map[string]int `json:"entities"`
	Target     string         `json:"target"`
	Message    string         `json:"message"`
}

// Approve moves a pending request to approved.
func (c *Client) Approve(ctx context.Context, id, decidedBy string) error {
	return c.decide(ctx, id, "approve", decidedBy)
}

// Deny moves a pending request to denied.
func (c *Client) Deny(ctx context.Context, id, decidedBy string) error {
	return c.decide(ctx, id, "deny", decidedBy)
}

func (c *Client) decide(ctx context.Context, id, verb, decidedBy string) error {
	path := fmt.Sprintf("/v1/approvals/%s/%s", id, verb)
	body := map[string]string{"decided_by": decidedBy}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// Pending lists requests awaiting a decision.
func (c *Client) Pending(ctx context.Context) ([]Approval, error) {
	var decoded struct {
		Approvals []Approval `json:"approvals"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/approvals?status=pending", nil, &decoded); err != nil {
		return nil, err
	}
	return decoded.Approvals, nil
}

// Check asks the authority what policy would decide for a call.
func (c *Client) Check(ctx context.Context, tool string, args map[string]any) (CheckResult, error) {
	var out CheckResult
	body := map[string]any{"tool": tool, "args": args}
	if err := c.do(ctx, http.MethodPost, "/v1/check", body, &out); err != nil {
		return CheckResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("authority: %s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("authority: HTTP %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode authority response: %w", err)
		}
	}
	return nil
}
