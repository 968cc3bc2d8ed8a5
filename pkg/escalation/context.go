package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
)

// AgentAction is one orchestrator agent invocation, as recorded in a
// session's context for the technical-context section of a handoff.
type AgentAction struct {
	AgentName       string
	Success         bool
	ExecutionTimeMs int64
	ErrorMessage    string
}

// ConversationSummary previews what the human agent is walking into.
type ConversationSummary struct {
	MainIssue              string
	LatestMessage          string
	TotalMessages          int
	UserMessageCount       int
	AssistantMessageCount  int
	ConversationDuration   string
	Channel                string
	CreatedAt              time.Time
	LastActivity           time.Time
}

// UserProfile summarizes the user's recent relationship with the assistant.
type UserProfile struct {
	UserID             string
	TenantID           string
	PackLevel          string
	TotalSessions30d   int
	EscalatedSessions  int
	IsFrequentUser     bool
	AvgSessionSeconds  float64
}

// TechnicalContext summarizes what the automated agents tried.
type TechnicalContext struct {
	AgentsInvolved       []string
	TotalAgentActions    int
	FailedActions        int
	FailedAttempts       int
	AvgResponseTimeMs    float64
	ErrorDetails         []string
	LastSuccessfulAction *AgentAction
}

// BusinessContext reports what the tenant's subscription entitles them to.
type BusinessContext struct {
	TenantID          string
	PackSubscribed    string
	AvailableFeatures []string
	AutomationLevel   int
	AvailableChannels []string
	BusinessHours     string
	EscalationSLA     string
}

// Metadata is the scoring/estimation block attached to every handoff.
type Metadata struct {
	EscalationTimestamp    time.Time
	ContextVersion         string
	PriorityScore          int
	ComplexityScore        int
	EstimatedResolution    string
}

// Packet is the complete handoff a human agent receives.
type Packet struct {
	ConversationSummary ConversationSummary
	UserProfile         UserProfile
	TechnicalContext    TechnicalContext
	BusinessContext     BusinessContext
	RecommendedActions  []string
	Metadata            Metadata
}

var businessHoursByTenant = map[string]string{
	"cm_ci": "8h00 - 17h00 (GMT)",
	"cm_bf": "8h00 - 17h00 (GMT)",
	"cm_ml": "8h00 - 17h00 (GMT)",
	"cm_sn": "8h00 - 17h00 (GMT)",
}

const defaultBusinessHours = "8h00 - 17h00 (GMT)"

var slaByPack = map[string]string{
	"basic":    "2 heures",
	"advanced": "1 heure",
	"premium":  "30 minutes",
}

const defaultSLA = "2 heures"

// Builder assembles a Packet from a session's stored context plus pack
// entitlements.
type Builder struct {
	sessions  *conversation.Store
	resolver  *pack.Resolver
}

// NewBuilder wires a Builder over the conversation store and pack resolver.
func NewBuilder(sessions *conversation.Store, resolver *pack.Resolver) *Builder {
	return &Builder{sessions: sessions, resolver: resolver}
}

// Build prepares the complete escalation packet for sessionID. actions is
// the orchestrator's running log of agent invocations for this session;
// failedAttempts is the session's persisted failure counter.
func (b *Builder) Build(ctx context.Context, application, sessionID string, actions []AgentAction, failedAttempts int) (Packet, error) {
	convCtx, err := b.sessions.Context(ctx, sessionID)
	if err != nil {
		return Packet{}, fmt.Errorf("escalation: failed to load conversation context: %w", err)
	}

	summary := buildConversationSummary(convCtx)
	technical := buildTechnicalContext(actions, failedAttempts)

	profile, err := b.buildUserProfile(ctx, convCtx.Session)
	if err != nil {
		return Packet{}, err
	}

	business := b.buildBusinessContext(convCtx.Session)

	actionsOut := suggestActions(summary, technical)
	metadata := buildMetadata(len(convCtx.Messages), failedAttempts, technical)

	return Packet{
		ConversationSummary: summary,
		UserProfile:         profile,
		TechnicalContext:    technical,
		BusinessContext:     business,
		RecommendedActions:  actionsOut,
		Metadata:            metadata,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func buildConversationSummary(convCtx *conversation.Context) ConversationSummary {
	var userMessages, assistantMessages []conversation.Message
	for _, m := range convCtx.Messages {
		switch m.Role {
		case conversation.RoleUser:
			userMessages = append(userMessages, m)
		case conversation.RoleAssistant:
			assistantMessages = append(assistantMessages, m)
		}
	}

	var mainIssue, latest string
	if len(userMessages) > 0 {
		mainIssue = truncate(userMessages[0].Content, 200)
		latest = truncate(userMessages[len(userMessages)-1].Content, 200)
	}

	var duration string
	if len(convCtx.Messages) > 0 {
		duration = formatDuration(convCtx.Messages[0].Timestamp, convCtx.Messages[len(convCtx.Messages)-1].Timestamp)
	} else {
		duration = "Inconnue"
	}

	return ConversationSummary{
		MainIssue:             mainIssue,
		LatestMessage:         latest,
		TotalMessages:         len(convCtx.Messages),
		UserMessageCount:      len(userMessages),
		AssistantMessageCount: len(assistantMessages),
		ConversationDuration:  duration,
		Channel:               convCtx.Session.Channel,
		CreatedAt:             convCtx.Session.CreatedAt,
		LastActivity:          convCtx.Session.UpdatedAt,
	}
}

func formatDuration(start, end time.Time) string {
	minutes := int(end.Sub(start).Minutes())
	if minutes < 1 {
		return "< 1 minute"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func (b *Builder) buildUserProfile(ctx context.Context, sess conversation.Session) (UserProfile, error) {
	stats, err := b.sessions.UserStats(ctx, sess.UserID, 30)
	if err != nil {
		return UserProfile{}, fmt.Errorf("escalation: failed to load user stats: %w", err)
	}

	return UserProfile{
		UserID:            sess.UserID,
		TenantID:          sess.TenantID,
		PackLevel:         sess.PackLevel,
		TotalSessions30d:  stats.TotalSessions,
		EscalatedSessions: stats.EscalatedSessions,
		IsFrequentUser:    stats.TotalSessions > 5,
		AvgSessionSeconds: stats.AvgDurationSeconds,
	}, nil
}

func buildTechnicalContext(actions []AgentAction, failedAttempts int) TechnicalContext {
	agentSet := map[string]struct{}{}
	var agents []string
	var failed []AgentAction
	var totalMs int64
	var lastSuccess *AgentAction

	for i := range actions {
		a := actions[i]
		if _, ok := agentSet[a.AgentName]; !ok {
			agentSet[a.AgentName] = struct{}{}
			agents = append(agents, a.AgentName)
		}
		if !a.Success {
			failed = append(failed, a)
		} else {
			lastSuccess = &a
		}
		totalMs += a.ExecutionTimeMs
	}

	var avgMs float64
	if len(actions) > 0 {
		avgMs = float64(totalMs) / float64(len(actions))
	}

	var errDetails []string
	for _, a := range failed {
		if a.ErrorMessage != "" {
			errDetails = append(errDetails, a.ErrorMessage)
		}
	}

	return TechnicalContext{
		AgentsInvolved:       agents,
		TotalAgentActions:    len(actions),
		FailedActions:        len(failed),
		FailedAttempts:       failedAttempts,
		AvgResponseTimeMs:    avgMs,
		ErrorDetails:         errDetails,
		LastSuccessfulAction: lastSuccess,
	}
}

func (b *Builder) buildBusinessContext(sess conversation.Session) BusinessContext {
	resolved := b.resolver.Resolve(sess.TenantID, sess.Application)

	var features []string
	for f := range resolved.Features {
		features = append(features, f)
	}

	hours, ok := businessHoursByTenant[sess.TenantID]
	if !ok {
		hours = defaultBusinessHours
	}
	sla, ok := slaByPack[resolved.PackID]
	if !ok {
		sla = defaultSLA
	}

	return BusinessContext{
		TenantID:          sess.TenantID,
		PackSubscribed:    resolved.PackID,
		AvailableFeatures: features,
		AutomationLevel:   resolved.AutomationLevel,
		AvailableChannels: resolved.Channels,
		BusinessHours:     hours,
		EscalationSLA:     sla,
	}
}

func suggestActions(summary ConversationSummary, technical TechnicalContext) []string {
	var actions []string

	if technical.FailedAttempts > 2 {
		actions = append(actions, "Vérifier les autorisations du compte utilisateur", "Valider les paramètres de la transaction")
	}
	if len(technical.ErrorDetails) > 0 {
		actions = append(actions, "Examiner les erreurs techniques détectées", "Vérifier la connectivité aux systèmes backend")
	}

	issue := strings.ToLower(summary.MainIssue)
	switch {
	case strings.Contains(issue, "transfert"):
		actions = append(actions, "Vérifier le statut du transfert dans le système", "Confirmer les détails du bénéficiaire")
	case strings.Contains(issue, "solde"):
		actions = append(actions, "Consulter le solde en temps réel", "Vérifier les dernières transactions")
	case strings.Contains(issue, "réclamation"), strings.Contains(issue, "problème"):
		actions = append(actions, "Créer un ticket de réclamation formelle", "Escalader vers le service qualité si nécessaire")
	}

	actions = append(actions,
		"Confirmer l'identité du client",
		"Expliquer les prochaines étapes clairement",
		"Fournir un délai de résolution réaliste",
	)

	if len(actions) > 10 {
		actions = actions[:10]
	}
	return actions
}

func calculatePriorityScore(totalMessages, failedAttempts int) int {
	score := 5
	if failedAttempts > 3 {
		score += 3
	} else {
		score += failedAttempts
	}
	if totalMessages > 10 {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

func calculateComplexityScore(technical TechnicalContext) int {
	score := 5
	agentBonus := len(technical.AgentsInvolved) - 1
	if agentBonus > 3 {
		agentBonus = 3
	}
	score += agentBonus
	failedBonus := technical.FailedActions
	if failedBonus > 2 {
		failedBonus = 2
	}
	score += failedBonus
	if score > 10 {
		score = 10
	}
	return score
}

func estimateResolutionTime(priority, complexity int) string {
	switch {
	case priority >= 8 || complexity >= 8:
		return "30-60 minutes"
	case priority >= 6 || complexity >= 6:
		return "1-2 heures"
	default:
		return "15-30 minutes"
	}
}

func buildMetadata(totalMessages, failedAttempts int, technical TechnicalContext) Metadata {
	priority := calculatePriorityScore(totalMessages, failedAttempts)
	complexity := calculateComplexityScore(technical)

	return Metadata{
		EscalationTimestamp: time.Now().UTC(),
		ContextVersion:      "1.0",
		PriorityScore:       priority,
		ComplexityScore:     complexity,
		EstimatedResolution: estimateResolutionTime(priority, complexity),
	}
}
