package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexhub/cortexhub/internal/model"
)

func TestHTTPAuthorityRegisterAndFetch(t *testing.T) {
	var gotRegister registerPayload

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/approvals", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRegister); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(registerResponse{ID: gotRegister.ID})
	})
	mux.HandleFunc("GET /v1/approvals/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(statusResponse{
			ID:        gotRegister.ID,
			Status:    "approved",
			DecidedBy: "ops@example.com",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	auth := NewHTTPAuthority(srv.URL, "test-key")
	call := model.NewCallRecord("initiate_transfer",
		[]model.Arg{{Name: "amount", Value: 15000}, {Name: "memo", Value: "pay john@email.com"}},
		"langgraph", "agent-1", "")
	req := model.NewApprovalRequest(call, "manager", "needs sign-off")

	redacted := map[string]string{"memo": "pay [EMAIL]"}
	id, err := auth.Register(context.Background(), req, redacted)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != req.ID {
		t.Errorf("echoed id = %q, want %q", id, req.ID)
	}
	if gotRegister.Tool != "initiate_transfer" || gotRegister.Target != "manager" {
		t.Errorf("payload = %+v", gotRegister)
	}
	if gotRegister.Args["memo"] != "pay [EMAIL]" {
		t.Errorf("args must be the redacted view, got %q", gotRegister.Args["memo"])
	}

	status, decidedBy, err := auth.Fetch(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if status != model.StatusApproved || decidedBy != "ops@example.com" {
		t.Errorf("fetch = %s by %q", status, decidedBy)
	}
}

func TestHTTPAuthorityErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	auth := NewHTTPAuthority(srv.URL, "")
	req := model.NewApprovalRequest(nil, "manager", "")

	if _, err := auth.Register(context.Background(), req, nil); err == nil {
		t.Error("5xx register should error")
	}
	if _, _, err := auth.Fetch(context.Background(), "apr-x"); err == nil {
		t.Error("5xx fetch should error")
	}
}
