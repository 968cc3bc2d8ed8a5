// Package conversation is the durable dialogue store: sessions, messages,
// and escalations, with a cached context-assembly view on top of
// database/sql (postgres, mysql, or sqlite).
package conversation

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusEscalated SessionStatus = "escalated"
	StatusClosed    SessionStatus = "closed"
)

// IdleWindow is the period within which a user's most recent active
// session is reused rather than starting a new one.
const IdleWindow = 30 * time.Minute

// DefaultContextCacheTTL bounds how long an assembled session Context stays
// in the Store's in-memory cache before a fresh read hits the database. It
// is intentionally shorter than IdleWindow: a session can stay open for half
// an hour while its cached context would otherwise go stale far sooner.
const DefaultContextCacheTTL = 5 * time.Minute

// Session is one conversational thread between a user and the assistant
// for a given (user, tenant, application) triple.
type Session struct {
	ID          string
	UserID      string
	TenantID    string
	Application string
	PackLevel   string
	Channel     string
	Language    string
	Status      SessionStatus
	Context     map[string]any
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// MessageRole identifies who authored a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one append-only turn within a Session.
type Message struct {
	ID                    string         `json:"id"`
	SessionID             string         `json:"session_id"`
	Role                  MessageRole    `json:"role"`
	Content               string         `json:"content"`
	AgentUsed             string         `json:"agent_used,omitempty"`
	ToolsUsed             []string       `json:"tools_used,omitempty"`
	TokensConsumed        int            `json:"tokens_consumed,omitempty"`
	ConfidenceScore       float64        `json:"confidence_score,omitempty"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds,omitempty"`
	Timestamp             time.Time      `json:"timestamp"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// EscalationStatus is the lifecycle state of an Escalation.
type EscalationStatus string

const (
	EscalationPending    EscalationStatus = "pending"
	EscalationInProgress EscalationStatus = "in_progress"
	EscalationResolved   EscalationStatus = "resolved"
	EscalationCancelled  EscalationStatus = "cancelled"
)

// EscalationPriority ranks how urgently a handoff needs human attention.
type EscalationPriority string

const (
	PriorityLow    EscalationPriority = "low"
	PriorityMedium EscalationPriority = "medium"
	PriorityHigh   EscalationPriority = "high"
	PriorityUrgent EscalationPriority = "urgent"
)

// Escalation records a handoff from the automated assistant to a human
// agent.
type Escalation struct {
	ID              string             `json:"id"`
	SessionID       string             `json:"session_id"`
	Reason          string             `json:"reason"`
	Type            string             `json:"type,omitempty"`
	Priority        EscalationPriority `json:"priority"`
	AssignedTo      string             `json:"assigned_to,omitempty"`
	Status          EscalationStatus   `json:"status"`
	Context         map[string]any     `json:"context,omitempty"`
	EscalatedAt     time.Time          `json:"escalated_at"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	ResolutionNotes string             `json:"resolution_notes,omitempty"`
}

// Stats aggregates message-level metrics for one session (spec §4.4
// "Statistics view").
type Stats struct {
	TotalMessages      int
	UserMessages       int
	AssistantMessages  int
	AvgTokensPerMsg    float64
	TotalTokens        int
	AvgConfidenceScore float64
	AvgResponseTime    float64
	DurationMinutes    float64
}

// Context is the full aggregate returned by the context(session_id)
// operation: conversation row, recent history, active escalations, and
// derived statistics.
type Context struct {
	Session            Session
	Messages           []Message
	ActiveEscalations  []Escalation
	Statistics         Stats
}

// NewMessageParams groups the optional fields AppendMessage accepts.
type NewMessageParams struct {
	AgentUsed             string
	ToolsUsed             []string
	TokensConsumed        int
	ConfidenceScore       float64
	ProcessingTimeSeconds float64
	Metadata              map[string]any
}
