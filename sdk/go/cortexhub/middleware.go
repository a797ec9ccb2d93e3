package cortexhub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Middleware returns an http.Handler that governs each request before
// passing it to next. Denied requests get a 403 with a JSON body; escalated
// requests get a 202 carrying the approval id, and the client retries the
// request once the approver decides.
func (h *Hub) Middleware(next http.Handler) http.Handler {
	adapter := httpAdapter{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := h.Govern(r.Context(), adapter, r, func(ctx context.Context, call Call) (any, error) {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil, nil
		})
		if err == nil {
			return
		}

		var pending *ApprovalPendingError
		if errors.As(err, &pending) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"approval_pending": true,
				"approval_id":      pending.ApprovalID,
				"target":           pending.Target,
				"message":          pending.Message,
			})
			return
		}

		var blocked *BlockedError
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"blocked":  true,
				"decision": string(blocked.Decision),
				"reason":   blocked.Reason,
				"rule":     blocked.Rule,
			})
			return
		}

		http.Error(w, err.Error(), http.StatusInternalServerError)
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// httpAdapter normalizes HTTP requests into calls. HTTP handlers cannot
// suspend across a human decision, so it takes the signal-and-retry path.
type httpAdapter struct{}

func (httpAdapter) BeforeCall(native any) (Call, error) {
	r, ok := native.(*http.Request)
	if !ok {
		return Call{}, errors.New("httpAdapter expects a *http.Request")
	}

	host := r.Host
	if hp, _, err := net.SplitHostPort(host); err == nil {
		host = hp
	}
	egress := "external"
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		egress = "internal"
	}

	return Call{
		Tool: "http_request",
		Args: map[string]any{
			"method": strings.ToLower(r.Method),
			"host":   host,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
			"egress": egress,
		},
	}, nil
}

func (httpAdapter) Enforce(call Call, res Result) Enforcement {
	if res.Allowed() {
		return Proceed()
	}
	return ShortCircuit(res.Reason)
}

func (httpAdapter) AfterCall(call Call, result any, failed bool) {}

func (httpAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsSuspension: false}
}
