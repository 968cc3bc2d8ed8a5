// Package httpapi exposes the conversational assistant over HTTP: the six
// routes spec §6 names, authenticated with pkg/auth's X-API-Key middleware,
// throttled with pkg/ratelimit, and instrumented with pkg/observability's
// Prometheus metrics — the chi router chain the teacher
// builds its own transport on (pkg/transport/http_metrics_middleware.go),
// adapted from gRPC-gateway A2A routes to this product's REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Kadsuke/assistant-axelis/pkg/auth"
	"github.com/Kadsuke/assistant-axelis/pkg/bootstrap"
	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/embedding"
	"github.com/Kadsuke/assistant-axelis/pkg/observability"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
	"github.com/Kadsuke/assistant-axelis/pkg/pipeline"
	"github.com/Kadsuke/assistant-axelis/pkg/ratelimit"
)

// Server wires a Pipeline and its supporting components onto an HTTP
// surface.
type Server struct {
	Pipeline *pipeline.Pipeline
	Resolver *pack.Resolver
	Sessions *conversation.Store
	Embedder *embedding.Manager
	Auth     *auth.Validator
	Limiter  *ratelimit.Limiter
	Metrics  *observability.Metrics

	router chi.Router
}

// NewServer builds the chi router for every route in spec §6.
func NewServer(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/api/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.Auth))
		if s.Limiter != nil {
			r.Use(ratelimit.Middleware(s.Limiter, tenantIDFromRequest))
		}
		r.Post("/api/v1/chat", s.handleChat)
		r.Post("/api/v1/escalate", s.handleEscalate)
		r.Get("/api/v1/conversation/{id}/history", s.handleHistory)
		r.Get("/api/v1/metrics", s.handleMetrics)
		r.Post("/api/v1/webhooks/*", s.handleWebhook)
	})

	s.router = r
	return r
}

func tenantIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		if s.Metrics != nil {
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			s.Metrics.RecordHTTPRequest(r.Method, route, rw.status, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type chatRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Message  string `json:"message"`
	Channel  string `json:"channel,omitempty"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	resp, err := s.Pipeline.Chat(r.Context(), pipeline.ChatMessage{
		UserID: req.UserID, TenantID: req.TenantID, Message: req.Message,
		Channel: req.Channel, Language: req.Language,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":        resp.SessionID,
		"response":          resp.Response,
		"agent_used":        resp.AgentUsed,
		"confidence":        resp.Confidence,
		"suggested_actions": resp.SuggestedActions,
		"escalation_needed": resp.EscalationNeeded,
	})
}

type escalateRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Priority  string `json:"priority,omitempty"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	esc, err := s.Pipeline.Escalate(r.Context(), pipeline.EscalationRequest{
		SessionID: req.SessionID, Reason: req.Reason,
		Priority: conversation.EscalationPriority(req.Priority),
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id": esc.ID, "session_id": esc.SessionID, "priority": esc.Priority,
		"assigned_to": esc.AssignedTo, "status": esc.Status,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	messages, err := s.Pipeline.History(r.Context(), sessionID, 0)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := bootstrap.SelfCheck(r.Context(), s.Resolver, s.Sessions, s.Embedder)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	s.Metrics.Handler().ServeHTTP(w, r)
}

// handleWebhook accepts push-notification fanout payloads. This surface is
// an external collaborator spec.md treats as out of scope beyond its
// interface; the handler acknowledges receipt without a delivery pipeline.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func writePipelineError(w http.ResponseWriter, err error) {
	var pErr *pipeline.Error
	if !errors.As(err, &pErr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeError(w, statusForKind(pErr.Kind), pErr.Error())
}

func statusForKind(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindValidation:
		return http.StatusUnprocessableEntity
	case pipeline.KindAuthFailure:
		return http.StatusUnauthorized
	case pipeline.KindPermissionDenied:
		return http.StatusForbidden
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
