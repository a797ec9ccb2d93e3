// Package server implements the decision authority: the HTTP service that
// receives escalated approval requests, lets operators decide them, ingests
// telemetry, and answers offline policy checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/cortexhub/internal/detect"
	"github.com/cortexhub/cortexhub/internal/model"
	"github.com/cortexhub/cortexhub/internal/policy"
)

// Config holds authority server configuration.
type Config struct {
	Addr       string
	APIKey     string
	DBPath     string
	PolicyPath string

	// ApprovalTTL bounds how long a request may stay pending before the
	// sweeper expires it server-side.
	ApprovalTTL time.Duration
	SweepEvery  time.Duration
}

const (
	defaultApprovalTTL = 15 * time.Minute
	defaultSweepEvery  = 30 * time.Second
)

var (
	approvalsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortexhub_authority_approvals_created_total",
		Help: "Approval requests registered with the authority.",
	})
	approvalsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortexhub_authority_approvals_decided_total",
		Help: "Approval requests moved to a terminal status.",
	}, []string{"status"})
	eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortexhub_authority_events_received_total",
		Help: "Telemetry events ingested.",
	})
)

// Server is the decision authority.
type Server struct {
	cfg     Config
	store   *Store
	scanner *detect.Scanner
	engine  atomic.Pointer[policy.Engine]
	router  *mux.Router
}

// New creates a Server with an open store and loaded policy.
func New(cfg Config) (*Server, error) {
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = defaultApprovalTTL
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = defaultSweepEvery
	}

	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		scanner: detect.NewScanner(detect.Config{}),
	}
	if err := s.ReloadPolicy(); err != nil {
		store.Close()
		return nil, err
	}
	s.routes()
	return s, nil
}

// ReloadPolicy swaps in a freshly loaded policy engine. Called at startup
// and by the hot-reload watcher.
func (s *Server) ReloadPolicy() error {
	cfg, hash, err := policy.LoadConfigWithHash(s.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to reload policy config: %w", err)
	}
	s.install(cfg, hash)
	return nil
}

func (s *Server) install(cfg *policy.Config, hash string) {
	s.engine.Store(policy.NewEngine(cfg, hash, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "authority: "+format+"\n", args...)
	}))
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store.
func (s *Server) Close() error {
	return s.store.Close()
}

// Run serves until ctx is cancelled. It starts the expiry sweeper and, when
// a policy path is configured, the hot-reload watcher.
func (s *Server) Run(ctx context.Context) error {
	go s.sweep(ctx)

	if s.cfg.PolicyPath != "" {
		watcher, err := policy.NewWatcher(s.cfg.PolicyPath, s.install)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	}

	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	fmt.Fprintf(os.Stderr, "authority listening on %s\n", s.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// sweep expires stale pending requests on a fixed cadence.
func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.store.ExpirePending(now.Add(-s.cfg.ApprovalTTL))
			if err != nil {
				fmt.Fprintf(os.Stderr, "approval sweep failed: %v\n", err)
			} else if n > 0 {
				approvalsDecided.WithLabelValues("expired").Add(float64(n))
				fmt.Fprintf(os.Stderr, "expired %d stale approval requests\n", n)
			}
		}
	}
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.requireAPIKey)
	api.HandleFunc("/approvals", s.handleCreateApproval).Methods(http.MethodPost)
	api.HandleFunc("/approvals", s.handleListApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}", s.handleGetApproval).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/approve", s.handleDecision(string(model.StatusApproved))).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}/deny", s.handleDecision(string(model.StatusDenied))).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodPost)
	api.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	s.router = r
}

// requireAPIKey rejects /v1 requests lacking the configured X-API-Key.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var row ApprovalRow
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if row.ID == "" || row.Tool == "" {
		writeError(w, http.StatusBadRequest, "request_id and tool are required")
		return
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if err := s.store.CreateApproval(row); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	approvalsCreated.Inc()

	// Echo the current row: a retried registration sees the live status.
	stored, err := s.store.GetApproval(row.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": stored.ID,
		"status":     stored.Status,
	})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetApproval(mux.Vars(r)["id"])
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown approval request")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": row.ID,
		"status":     row.Status,
		"decided_by": row.DecidedBy,
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListApprovals(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ApprovalRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": rows})
}

func (s *Server) handleDecision(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var body struct {
			DecidedBy string `json:"decided_by"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		if body.DecidedBy == "" {
			body.DecidedBy = "operator"
		}

		err := s.store.Decide(id, status, body.DecidedBy, time.Now())
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown approval request")
			return
		case errors.Is(err, ErrAlreadyDecided):
			writeError(w, http.StatusConflict, "approval request already decided")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		approvalsDecided.WithLabelValues(status).Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"request_id": id,
			"status":     status,
			"decided_by": body.DecidedBy,
		})
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var batch struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rows := make([]EventRow, 0, len(batch.Events))
	now := time.Now().UTC()
	for _, raw := range batch.Events {
		var head struct {
			Kind   string `json:"kind"`
			CallID string `json:"call_id"`
			Tool   string `json:"tool"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Kind == "" {
			continue
		}
		rows = append(rows, EventRow{
			Kind:       head.Kind,
			CallID:     head.CallID,
			Tool:       head.Tool,
			Payload:    raw,
			ReceivedAt: now,
		})
	}
	if err := s.store.InsertEvents(rows); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	eventsReceived.Add(float64(len(rows)))
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(rows)})
}

// handleCheck answers a what-if evaluation: detection plus rule matching,
// no approval request and no execution.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tool      string         `json:"tool"`
		Args      map[string]any `json:"args"`
		AgentID   string         `json:"agent_id"`
		Framework string         `json:"framework"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	call := model.NewCallRecord(req.Tool, model.ArgsFromMap(req.Args), req.Framework, req.AgentID, "")
	findings := s.scanner.Scan(detect.StringFields(call.Args, true), model.LocationArgs)
	dec := s.engine.Load().Evaluate(call, findings.Entities)

	resp := map[string]any{
		"decision":    string(dec.Decision),
		"reason":      dec.Reason,
		"rule":        dec.RuleName,
		"policy_hash": dec.PolicyHash,
		"entities":    findings.Counts(),
	}
	if dec.Request != nil {
		resp["target"] = dec.Request.Target
		resp["message"] = dec.Request.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
