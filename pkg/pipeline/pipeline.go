// Package pipeline drives one conversational turn end to end: authorize,
// session, plan, reason, detect, persist, respond, and a fire-and-forget
// background metrics step, tying the capability resolver, conversation
// store, agent orchestrator, escalation detector, and human-agent registry
// together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/embedding"
	"github.com/Kadsuke/assistant-axelis/pkg/escalation"
	"github.com/Kadsuke/assistant-axelis/pkg/humanagent"
	"github.com/Kadsuke/assistant-axelis/pkg/observability"
	"github.com/Kadsuke/assistant-axelis/pkg/orchestrator"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
	"github.com/Kadsuke/assistant-axelis/pkg/retrieval"
)

// ErrorKind classifies a pipeline failure the way spec.md §7 names them, so
// the HTTP layer can map kind to status code without string-sniffing.
type ErrorKind string

const (
	KindAuthFailure         ErrorKind = "auth_failure"
	KindValidation          ErrorKind = "validation"
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindNotFound            ErrorKind = "not_found"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindTransientStore      ErrorKind = "transient_store"
	KindFatal               ErrorKind = "fatal"
)

// Error wraps an underlying error with the kind the HTTP layer needs.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// ErrSessionNotFound is returned when a history lookup names an unknown
// session id.
var ErrSessionNotFound = errors.New("pipeline: session not found")

// DefaultChannel is applied when a ChatMessage omits one.
const DefaultChannel = "mobile"

// DefaultLanguage is applied when a ChatMessage omits a language.
const DefaultLanguage = "fr"

// historyWindow bounds how many prior messages are replayed to the
// orchestrator and reported back in a context packet.
const historyWindow = 20

// ChatMessage is an inbound turn.
type ChatMessage struct {
	UserID   string
	TenantID string
	Message  string
	Channel  string
	Language string
}

// ChatResponse is what the HTTP layer returns for a successful turn.
type ChatResponse struct {
	SessionID        string
	Response         string
	AgentUsed        string
	Confidence       float64
	SuggestedActions []string
	EscalationNeeded bool
}

// EscalationRequest is an explicit (not detector-triggered) escalation.
type EscalationRequest struct {
	SessionID string
	Reason    string
	Priority  conversation.EscalationPriority
}

// MetricsSink receives fire-and-forget turn metrics; implementations must
// not block the caller.
type MetricsSink interface {
	RecordTurn(application string, tier orchestrator.Tier, escalated bool, durationSeconds float64)
	RecordPackResolution(application, packID string)
	RecordEscalation(application, priority string)
}

// noopSink drops every metric, used when no sink is configured.
type noopSink struct{}

func (noopSink) RecordTurn(string, orchestrator.Tier, bool, float64) {}
func (noopSink) RecordPackResolution(string, string)                {}
func (noopSink) RecordEscalation(string, string)                    {}

// Pipeline wires every component a turn touches.
type Pipeline struct {
	Application  string
	Resolver     *pack.Resolver
	Sessions     *conversation.Store
	Orchestrator *orchestrator.Orchestrator
	Rules        escalation.Rules
	ContextBuild *escalation.Builder
	HumanAgents  *humanagent.Registry
	Embedder     *embedding.Manager
	Knowledge    *retrieval.Store
	Metrics      MetricsSink
	Logger       *slog.Logger
}

// knowledgeTopK bounds how many knowledge hits a turn folds into the
// orchestrator's context.
const knowledgeTopK = 5

// New builds a Pipeline. embedder and knowledge may be nil, in which case
// the retrieve step is skipped and every turn reasons without tenant
// knowledge; metrics and logger may be nil, in which case a no-op sink and
// slog.Default() are used.
func New(application string, resolver *pack.Resolver, sessions *conversation.Store, orch *orchestrator.Orchestrator, humanAgents *humanagent.Registry, embedder *embedding.Manager, knowledge *retrieval.Store, metrics MetricsSink, logger *slog.Logger) *Pipeline {
	if metrics == nil {
		metrics = noopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Application:  application,
		Resolver:     resolver,
		Sessions:     sessions,
		Orchestrator: orch,
		Rules:        escalation.DefaultRules(),
		ContextBuild: escalation.NewBuilder(sessions, resolver),
		HumanAgents:  humanAgents,
		Embedder:     embedder,
		Knowledge:    knowledge,
		Metrics:      metrics,
		Logger:       logger,
	}
}

// Chat runs one turn through every step of the request pipeline:
// authorize, session, plan, retrieve, reason, detect, persist, respond,
// and a fire-and-forget background metrics step.
func (p *Pipeline) Chat(ctx context.Context, msg ChatMessage) (ChatResponse, error) {
	start := time.Now()

	if strings.TrimSpace(msg.Message) == "" {
		return ChatResponse{}, wrap(KindValidation, errors.New("message must not be empty"))
	}
	if msg.UserID == "" || msg.TenantID == "" {
		return ChatResponse{}, wrap(KindValidation, errors.New("user_id and tenant_id are required"))
	}

	channel := msg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	language := msg.Language
	if language == "" {
		language = DefaultLanguage
	}

	// 1. Authorize: resolving the pack never fails (spec §4.1); an
	// unauthorized feature request downgrades rather than erroring, which
	// falls naturally out of the orchestrator only ever assembling the
	// authorized crew.
	resolved := p.Resolver.Resolve(msg.TenantID, p.Application)
	p.Metrics.RecordPackResolution(p.Application, resolved.PackID)

	// 2. Session: get-or-create, then append the user message.
	dbCtx, dbSpan := observability.StartSpan(ctx, observability.SuspensionDatabase, "session.get_or_create")
	sessionID, err := p.Sessions.GetOrCreateSession(dbCtx, msg.UserID, msg.TenantID, p.Application, channel, language, resolved.PackID, nil)
	dbSpan.End()
	if err != nil {
		return ChatResponse{}, wrap(KindTransientStore, fmt.Errorf("get or create session: %w", err))
	}
	if _, err := p.Sessions.AppendMessage(ctx, sessionID, conversation.RoleUser, msg.Message, conversation.NewMessageParams{}); err != nil {
		return ChatResponse{}, wrap(KindTransientStore, fmt.Errorf("append user message: %w", err))
	}

	// 3. Plan: enrich with recent history; language/intent classification
	// beyond the caller-supplied language is out of scope here.
	history, err := p.Sessions.History(ctx, sessionID, historyWindow, false)
	if err != nil {
		p.Logger.Warn("pipeline: failed to load history, proceeding without it", "session_id", sessionID, "error", err)
		history = nil
	}

	failedAttempts := readFailedAttempts(ctx, p.Sessions, sessionID, p.Logger)

	// 4. Retrieve: consult the tenant's knowledge collection before
	// reasoning. Either component being unconfigured, or either call
	// failing, degrades to reasoning without knowledge rather than
	// failing the turn.
	knowledge := p.retrieveKnowledge(ctx, sessionID, msg)

	// 5. Reason: tier-aware agent orchestration. The final tier never
	// fails, so this step has no error path.
	llmCtx, llmSpan := observability.StartSpan(ctx, observability.SuspensionLLM, "orchestrator.execute")
	result := p.Orchestrator.Execute(llmCtx, msg.TenantID, p.Application, msg.Message, history, knowledge)
	llmSpan.End()

	nextFailedAttempts := orchestrator.NextFailedAttempts(failedAttempts, result.Tier)
	if err := p.Sessions.UpdateContext(ctx, sessionID, map[string]any{orchestrator.FailedAttemptsKey: nextFailedAttempts}); err != nil {
		p.Logger.Warn("pipeline: failed to persist failed_attempts counter", "session_id", sessionID, "error", err)
	}

	// 6. Detect: run the escalation detector on the outcome of this turn.
	detection := escalation.Detect(p.Rules, escalation.Input{
		FailedAttempts: nextFailedAttempts,
		UserMessage:    msg.Message,
		TechnicalError: result.Tier == orchestrator.TierCanned,
	})

	escalationNeeded := detection.ShouldEscalate
	if escalationNeeded {
		priority := escalation.AssessPriority(detection.Reasons)
		if _, err := p.Sessions.CreateEscalation(ctx, sessionID, detection.ReasonString(), priority, "", nil); err != nil {
			p.Logger.Warn("pipeline: failed to record escalation", "session_id", sessionID, "error", err)
		}
		p.Metrics.RecordEscalation(p.Application, string(priority))
	}

	agentUsed := "unknown"
	if len(result.AgentsUsed) > 0 {
		agentUsed = result.AgentsUsed[0]
	}

	// 7. Persist: append the assistant message with its full metadata.
	if _, err := p.Sessions.AppendMessage(ctx, sessionID, conversation.RoleAssistant, result.Text, conversation.NewMessageParams{
		AgentUsed:             agentUsed,
		ConfidenceScore:       result.Confidence,
		ProcessingTimeSeconds: result.ProcessingTimeSeconds,
	}); err != nil {
		return ChatResponse{}, wrap(KindTransientStore, fmt.Errorf("append assistant message: %w", err))
	}

	// 8. Respond.
	response := ChatResponse{
		SessionID:        sessionID,
		Response:         result.Text,
		AgentUsed:        agentUsed,
		Confidence:       result.Confidence,
		SuggestedActions: suggestedActionsFor(resolved, result.Tier),
		EscalationNeeded: escalationNeeded,
	}

	// 9. Background: never block the response on metrics.
	go p.Metrics.RecordTurn(p.Application, result.Tier, escalationNeeded, time.Since(start).Seconds())

	return response, nil
}

// Escalate forces an escalation outside the detector's own triggers (the
// POST /escalate route), assigning the best available human agent.
func (p *Pipeline) Escalate(ctx context.Context, req EscalationRequest) (conversation.Escalation, error) {
	if req.SessionID == "" || req.Reason == "" {
		return conversation.Escalation{}, wrap(KindValidation, errors.New("session_id and reason are required"))
	}
	priority := req.Priority
	if priority == "" {
		priority = conversation.PriorityMedium
	}

	convCtx, err := p.Sessions.Context(ctx, req.SessionID)
	if err != nil {
		return conversation.Escalation{}, wrap(KindNotFound, fmt.Errorf("%w: %v", ErrSessionNotFound, err))
	}

	expertise := humanagent.ClassifyExpertise(req.Reason, lastUserMessage(convCtx.Messages))
	assignedTo := ""
	if p.HumanAgents != nil {
		if agent, ok, err := p.HumanAgents.FindBest(ctx, expertise, convCtx.Session.Language); err != nil {
			p.Logger.Warn("pipeline: failed to find a human agent", "session_id", req.SessionID, "error", err)
		} else if ok {
			assignedTo = agent.ID
			if err := p.HumanAgents.Claim(ctx, agent.ID); err != nil {
				p.Logger.Warn("pipeline: failed to claim human agent", "agent_id", agent.ID, "error", err)
			}
		}
	}

	escalationID, err := p.Sessions.CreateEscalation(ctx, req.SessionID, req.Reason, priority, assignedTo, nil)
	if err != nil {
		return conversation.Escalation{}, wrap(KindTransientStore, fmt.Errorf("create escalation: %w", err))
	}
	p.Metrics.RecordEscalation(p.Application, string(priority))

	return conversation.Escalation{
		ID:         escalationID,
		SessionID:  req.SessionID,
		Reason:     req.Reason,
		Priority:   priority,
		AssignedTo: assignedTo,
		Status:     conversation.EscalationPending,
	}, nil
}

// defaultHistoryLimit bounds the read-only history route when the caller
// doesn't specify one.
const defaultHistoryLimit = 100

// History returns a session's messages for the read-only history route.
func (p *Pipeline) History(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := p.Sessions.History(ctx, sessionID, limit, true)
	if err != nil {
		return nil, wrap(KindTransientStore, fmt.Errorf("load history: %w", err))
	}
	if len(msgs) == 0 {
		if _, sessErr := p.Sessions.Context(ctx, sessionID); sessErr != nil {
			return nil, wrap(KindNotFound, fmt.Errorf("%w: %v", ErrSessionNotFound, sessErr))
		}
	}
	return msgs, nil
}

// retrieveKnowledge embeds the inbound message and queries the tenant's
// knowledge collection, returning nil (never an error) when either
// component is unconfigured or either call fails — the turn always
// reaches the reasoning step, with or without knowledge.
func (p *Pipeline) retrieveKnowledge(ctx context.Context, sessionID string, msg ChatMessage) []retrieval.Hit {
	if p.Embedder == nil || p.Knowledge == nil {
		return nil
	}

	embedCtx, embedSpan := observability.StartSpan(ctx, observability.SuspensionEmbedding, "embedding.embed_query")
	vector, err := p.Embedder.EmbedQuery(embedCtx, msg.Message)
	embedSpan.End()
	if err != nil {
		p.Logger.Warn("pipeline: failed to embed query, proceeding without retrieval", "session_id", sessionID, "error", err)
		return nil
	}

	vsCtx, vsSpan := observability.StartSpan(ctx, observability.SuspensionVectorStore, "retrieval.query")
	hits, err := p.Knowledge.Query(vsCtx, p.Application, msg.TenantID, vector, retrieval.QueryOptions{TopK: knowledgeTopK})
	vsSpan.End()
	if err != nil {
		p.Logger.Warn("pipeline: knowledge retrieval failed, proceeding without it", "session_id", sessionID, "error", err)
		return nil
	}
	return hits
}

func readFailedAttempts(ctx context.Context, sessions *conversation.Store, sessionID string, logger *slog.Logger) int {
	convCtx, err := sessions.Context(ctx, sessionID)
	if err != nil {
		logger.Warn("pipeline: failed to load session context for failed_attempts", "session_id", sessionID, "error", err)
		return 0
	}
	raw, ok := convCtx.Session.Context[orchestrator.FailedAttemptsKey]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func lastUserMessage(messages []conversation.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// suggestedActionsFor offers the caller a couple of next steps tied to
// what the turn actually authorized, never a feature the tenant's pack
// doesn't grant.
func suggestedActionsFor(resolved *pack.Resolved, tier orchestrator.Tier) []string {
	if tier == orchestrator.TierCanned || tier == orchestrator.TierMinimal {
		return []string{"Reformuler votre question", "Contacter le support si le problème persiste"}
	}
	var actions []string
	if resolved.HasFeature("balance_inquiry") {
		actions = append(actions, "Consulter votre solde")
	}
	if resolved.HasFeature("transfer") {
		actions = append(actions, "Effectuer un transfert")
	}
	if len(actions) == 0 {
		actions = []string{"Poser une autre question"}
	}
	return actions
}
