package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// schema creates every table the store needs. Index creation is split
// into separate statements (rather than the inline INDEX(...) clause some
// MySQL dialects accept) because that clause isn't portable across
// postgres/mysql/sqlite.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    tenant_id VARCHAR(100) NOT NULL,
    application_id VARCHAR(100) NOT NULL,
    pack_level VARCHAR(50) NOT NULL,
    channel VARCHAR(50) NOT NULL DEFAULT 'mobile',
    language VARCHAR(10) NOT NULL DEFAULT 'fr',
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    context TEXT NOT NULL DEFAULT '{}',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    role VARCHAR(20) NOT NULL,
    content TEXT NOT NULL,
    agent_used VARCHAR(100),
    tools_used TEXT NOT NULL DEFAULT '[]',
    tokens_consumed INTEGER NOT NULL DEFAULT 0,
    confidence_score REAL,
    processing_time_seconds REAL,
    metadata TEXT NOT NULL DEFAULT '{}',
    timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS escalations (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    reason VARCHAR(255) NOT NULL,
    escalation_type VARCHAR(50) NOT NULL DEFAULT 'human_agent',
    priority VARCHAR(20) NOT NULL DEFAULT 'medium',
    assigned_to VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    context TEXT NOT NULL DEFAULT '{}',
    escalated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP NULL,
    resolution_notes TEXT
);
`

var indexStatements = []string{
	"CREATE INDEX IF NOT EXISTS idx_sessions_user_tenant_app ON sessions(user_id, tenant_id, application_id)",
	"CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)",
	"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)",
	"CREATE INDEX IF NOT EXISTS idx_escalations_session ON escalations(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status)",
}

// Store is the SQL-backed conversation store.
type Store struct {
	db      *sql.DB
	dialect string // "postgres", "mysql", "sqlite"

	cache *contextCache

	// sessionLocks serializes get-or-create against the same (user,
	// tenant, application) triple within this process; combined with
	// the idle-window query this prevents two concurrent first messages
	// from each creating their own session.
	sessionLocks sync.Map // key: string -> *sync.Mutex
}

// NewStore opens a conversation store over db using dialect-specific SQL
// and creates the schema if it doesn't already exist.
func NewStore(db *sql.DB, dialect string, cacheTTL time.Duration) (*Store, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("conversation: unsupported dialect %q", dialect)
	}

	s := &Store{db: db, dialect: dialect, cache: newContextCache(cacheTTL)}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("conversation: failed to create schema: %w", err)
	}
	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("conversation: failed to create index: %w", err)
		}
	}
	return nil
}

// placeholder returns the dialect-correct bind placeholder for the nth
// (1-based) parameter.
func (s *Store) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.sessionLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// GetOrCreateSession returns the most recently updated active session for
// (userID, tenantID, application) within IdleWindow, or creates one.
func (s *Store) GetOrCreateSession(ctx context.Context, userID, tenantID, application, channel, language, packLevel string, metadata map[string]any) (string, error) {
	lockKey := userID + "\x00" + tenantID + "\x00" + application
	mu := s.lockFor(lockKey)
	mu.Lock()
	defer mu.Unlock()

	threshold := time.Now().Add(-IdleWindow)

	query := fmt.Sprintf(`
SELECT id FROM sessions
WHERE user_id = %s AND tenant_id = %s AND application_id = %s
  AND status = '%s' AND updated_at > %s
ORDER BY updated_at DESC
LIMIT 1`, s.placeholder(1), s.placeholder(2), s.placeholder(3), StatusActive, s.placeholder(4))

	var existingID string
	err := s.db.QueryRowContext(ctx, query, userID, tenantID, application, threshold).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("conversation: failed to look up active session: %w", err)
	}

	sessionID := uuid.NewString()
	now := time.Now().UTC()

	contextJSON, err := json.Marshal(map[string]any{
		"session_start": now.Format(time.RFC3339),
		"channel":       channel,
		"language":      language,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: failed to marshal initial context: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to marshal metadata: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO sessions (id, user_id, tenant_id, application_id, pack_level, channel, language, status, context, metadata, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8),
		s.placeholder(9), s.placeholder(10), s.placeholder(11), s.placeholder(12))

	_, err = s.db.ExecContext(ctx, insert,
		sessionID, userID, tenantID, application, packLevel, channel, language,
		string(StatusActive), string(contextJSON), string(metadataJSON), now, now)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to create session: %w", err)
	}
	return sessionID, nil
}

// AppendMessage appends a message and bumps the session's updated_at.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role MessageRole, content string, p NewMessageParams) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	messageID := uuid.NewString()
	now := time.Now().UTC()

	toolsJSON, err := json.Marshal(p.ToolsUsed)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to marshal tools_used: %w", err)
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to marshal metadata: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO messages (id, session_id, role, content, agent_used, tools_used, tokens_consumed, confidence_score, processing_time_seconds, metadata, timestamp)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8),
		s.placeholder(9), s.placeholder(10), s.placeholder(11))

	_, err = tx.ExecContext(ctx, insert, messageID, sessionID, string(role), content,
		p.AgentUsed, string(toolsJSON), p.TokensConsumed, p.ConfidenceScore,
		p.ProcessingTimeSeconds, string(metadataJSON), now)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to insert message: %w", err)
	}

	update := fmt.Sprintf("UPDATE sessions SET updated_at = %s WHERE id = %s", s.placeholder(1), s.placeholder(2))
	if _, err := tx.ExecContext(ctx, update, now, sessionID); err != nil {
		return "", fmt.Errorf("conversation: failed to bump session updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("conversation: failed to commit message append: %w", err)
	}

	s.cache.invalidate(sessionID)
	return messageID, nil
}

// History returns messages ordered ascending by timestamp.
func (s *Store) History(ctx context.Context, sessionID string, limit int, includeSystem bool) ([]Message, error) {
	where := fmt.Sprintf("WHERE session_id = %s", s.placeholder(1))
	args := []any{sessionID}
	if !includeSystem {
		where += fmt.Sprintf(" AND role != '%s'", RoleSystem)
	}

	query := fmt.Sprintf(`
SELECT id, session_id, role, content, agent_used, tools_used, tokens_consumed, confidence_score, processing_time_seconds, metadata, timestamp
FROM messages
%s
ORDER BY timestamp ASC
LIMIT %s`, where, s.placeholder(len(args)+1))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m              Message
		agentUsed      sql.NullString
		confidence     sql.NullFloat64
		processingTime sql.NullFloat64
		toolsJSON      string
		metadataJSON   string
		role           string
	)
	if err := row.Scan(&m.ID, &m.SessionID, &role, &m.Content, &agentUsed, &toolsJSON,
		&m.TokensConsumed, &confidence, &processingTime, &metadataJSON, &m.Timestamp); err != nil {
		return Message{}, fmt.Errorf("conversation: failed to scan message: %w", err)
	}
	m.Role = MessageRole(role)
	m.AgentUsed = agentUsed.String
	m.ConfidenceScore = confidence.Float64
	m.ProcessingTimeSeconds = processingTime.Float64
	_ = json.Unmarshal([]byte(toolsJSON), &m.ToolsUsed)
	_ = json.Unmarshal([]byte(metadataJSON), &m.Metadata)
	return m, nil
}

// Context returns the full context aggregate for a session, served from
// the TTL cache when possible.
func (s *Store) Context(ctx context.Context, sessionID string) (*Context, error) {
	return s.cache.get(ctx, sessionID, func(ctx context.Context) (*Context, error) {
		return s.loadContext(ctx, sessionID)
	})
}

func (s *Store) loadContext(ctx context.Context, sessionID string) (*Context, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.History(ctx, sessionID, 20, true)
	if err != nil {
		return nil, err
	}

	escalations, err := s.activeEscalations(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats, err := s.Statistics(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Context{Session: *sess, Messages: messages, ActiveEscalations: escalations, Statistics: stats}, nil
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*Session, error) {
	query := fmt.Sprintf(`
SELECT id, user_id, tenant_id, application_id, pack_level, channel, language, status, context, metadata, created_at, updated_at, closed_at
FROM sessions WHERE id = %s`, s.placeholder(1))

	var (
		sess         Session
		status       string
		contextJSON  string
		metadataJSON string
		closedAt     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &sess.UserID, &sess.TenantID, &sess.Application, &sess.PackLevel,
		&sess.Channel, &sess.Language, &status, &contextJSON, &metadataJSON,
		&sess.CreatedAt, &sess.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation: session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	sess.Status = SessionStatus(status)
	_ = json.Unmarshal([]byte(contextJSON), &sess.Context)
	_ = json.Unmarshal([]byte(metadataJSON), &sess.Metadata)
	if closedAt.Valid {
		sess.ClosedAt = &closedAt.Time
	}
	return &sess, nil
}

func (s *Store) activeEscalations(ctx context.Context, sessionID string) ([]Escalation, error) {
	query := fmt.Sprintf(`
SELECT id, session_id, reason, escalation_type, priority, assigned_to, status, context, escalated_at, resolved_at, resolution_notes
FROM escalations
WHERE session_id = %s AND status IN ('%s', '%s')
ORDER BY escalated_at DESC
LIMIT 5`, s.placeholder(1), EscalationPending, EscalationInProgress)

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to query escalations: %w", err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		var (
			e            Escalation
			assignedTo   sql.NullString
			status       string
			contextJSON  string
			resolvedAt   sql.NullTime
			notes        sql.NullString
			priority     string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Reason, &e.Type, &priority, &assignedTo,
			&status, &contextJSON, &e.EscalatedAt, &resolvedAt, &notes); err != nil {
			return nil, fmt.Errorf("conversation: failed to scan escalation: %w", err)
		}
		e.Status = EscalationStatus(status)
		e.Priority = EscalationPriority(priority)
		e.AssignedTo = assignedTo.String
		e.ResolutionNotes = notes.String
		_ = json.Unmarshal([]byte(contextJSON), &e.Context)
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Statistics computes the message-level stats view for one session.
func (s *Store) Statistics(ctx context.Context, sessionID string) (Stats, error) {
	query := fmt.Sprintf(`
SELECT
    COUNT(*),
    SUM(CASE WHEN role = '%s' THEN 1 ELSE 0 END),
    SUM(CASE WHEN role = '%s' THEN 1 ELSE 0 END),
    AVG(CASE WHEN tokens_consumed > 0 THEN tokens_consumed END),
    SUM(CASE WHEN tokens_consumed > 0 THEN tokens_consumed ELSE 0 END),
    AVG(CASE WHEN confidence_score > 0 THEN confidence_score END),
    AVG(processing_time_seconds),
    MIN(timestamp),
    MAX(timestamp)
FROM messages WHERE session_id = %s`, RoleUser, RoleAssistant, s.placeholder(1))

	var (
		total, userCount, assistantCount, totalTokens sql.NullInt64
		avgTokens, avgConfidence, avgResponseTime      sql.NullFloat64
		first, last                                    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&total, &userCount, &assistantCount, &avgTokens, &totalTokens,
		&avgConfidence, &avgResponseTime, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("conversation: failed to compute statistics: %w", err)
	}

	var duration float64
	if first.Valid && last.Valid {
		duration = last.Time.Sub(first.Time).Minutes()
	}

	return Stats{
		TotalMessages:      int(total.Int64),
		UserMessages:       int(userCount.Int64),
		AssistantMessages:  int(assistantCount.Int64),
		AvgTokensPerMsg:    avgTokens.Float64,
		TotalTokens:        int(totalTokens.Int64),
		AvgConfidenceScore: avgConfidence.Float64,
		AvgResponseTime:    avgResponseTime.Float64,
		DurationMinutes:    duration,
	}, nil
}

// CreateEscalation atomically inserts an escalation and moves the owning
// session to StatusEscalated.
func (s *Store) CreateEscalation(ctx context.Context, sessionID, reason string, priority EscalationPriority, assignedTo string, escContext map[string]any) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	escalationID := uuid.NewString()
	now := time.Now().UTC()

	contextJSON, err := json.Marshal(escContext)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to marshal escalation context: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO escalations (id, session_id, reason, escalation_type, priority, assigned_to, status, context, escalated_at)
VALUES (%s, %s, %s, 'human_agent', %s, %s, '%s', %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), EscalationPending, s.placeholder(6), s.placeholder(7))

	var assignedArg any
	if assignedTo != "" {
		assignedArg = assignedTo
	}

	_, err = tx.ExecContext(ctx, insert, escalationID, sessionID, reason, string(priority), assignedArg, string(contextJSON), now)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to insert escalation: %w", err)
	}

	update := fmt.Sprintf("UPDATE sessions SET status = '%s', updated_at = %s WHERE id = %s",
		StatusEscalated, s.placeholder(1), s.placeholder(2))
	if _, err := tx.ExecContext(ctx, update, now, sessionID); err != nil {
		return "", fmt.Errorf("conversation: failed to mark session escalated: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("conversation: failed to commit escalation: %w", err)
	}
	s.cache.invalidate(sessionID)
	return escalationID, nil
}

// CloseSession is idempotent: closing an already-closed session is a no-op.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	update := fmt.Sprintf(`
UPDATE sessions SET status = '%s', closed_at = %s, updated_at = %s
WHERE id = %s AND status != '%s'`,
		StatusClosed, s.placeholder(1), s.placeholder(2), s.placeholder(3), StatusClosed)

	if _, err := s.db.ExecContext(ctx, update, now, now, sessionID); err != nil {
		return fmt.Errorf("conversation: failed to close session: %w", err)
	}
	s.cache.invalidate(sessionID)
	return nil
}

// UpdateContext shallow-merges patch into the session's context JSON.
func (s *Store) UpdateContext(ctx context.Context, sessionID string, patch map[string]any) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	for k, v := range patch {
		sess.Context[k] = v
	}

	merged, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal merged context: %w", err)
	}

	update := fmt.Sprintf("UPDATE sessions SET context = %s, updated_at = %s WHERE id = %s",
		s.placeholder(1), s.placeholder(2), s.placeholder(3))
	if _, err := s.db.ExecContext(ctx, update, string(merged), time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("conversation: failed to update context: %w", err)
	}
	s.cache.invalidate(sessionID)
	return nil
}

// Sweep deletes closed sessions older than retentionDays and returns the
// number removed.
func (s *Store) Sweep(ctx context.Context, retentionDays int) (int, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UTC()
	del := fmt.Sprintf("DELETE FROM sessions WHERE status = '%s' AND closed_at < %s",
		StatusClosed, s.placeholder(1))

	result, err := s.db.ExecContext(ctx, del, threshold)
	if err != nil {
		return 0, fmt.Errorf("conversation: failed to sweep sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conversation: failed to count swept sessions: %w", err)
	}
	s.cache.clear()
	return int(n), nil
}

// UserStats summarizes one user's session history over the trailing
// window, for the escalation context builder's user-profile section.
type UserStats struct {
	TotalSessions      int
	EscalatedSessions  int
	LastSession        *time.Time
	AvgDurationSeconds float64
}

// UserStats reports session activity for userID over the last windowDays.
func (s *Store) UserStats(ctx context.Context, userID string, windowDays int) (UserStats, error) {
	threshold := time.Now().AddDate(0, 0, -windowDays).UTC()

	query := fmt.Sprintf(`
SELECT
    COUNT(*),
    SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END),
    MAX(created_at)
FROM sessions
WHERE user_id = %s AND created_at > %s`, StatusEscalated, s.placeholder(1), s.placeholder(2))

	var (
		total, escalated sql.NullInt64
		lastSession      sql.NullTime
	)
	if err := s.db.QueryRowContext(ctx, query, userID, threshold).Scan(&total, &escalated, &lastSession); err != nil {
		return UserStats{}, fmt.Errorf("conversation: failed to compute user stats: %w", err)
	}

	var durationExpr string
	switch s.dialect {
	case "postgres":
		durationExpr = "EXTRACT(EPOCH FROM (COALESCE(closed_at, updated_at) - created_at))"
	case "mysql":
		durationExpr = "TIMESTAMPDIFF(SECOND, created_at, COALESCE(closed_at, updated_at))"
	default: // sqlite
		durationExpr = "(julianday(COALESCE(closed_at, updated_at)) - julianday(created_at)) * 86400.0"
	}
	durationQuery := fmt.Sprintf(`SELECT AVG(%s) FROM sessions WHERE user_id = %s AND created_at > %s`,
		durationExpr, s.placeholder(1), s.placeholder(2))

	var avgDuration sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, durationQuery, userID, threshold).Scan(&avgDuration); err != nil {
		return UserStats{}, fmt.Errorf("conversation: failed to compute avg session duration: %w", err)
	}

	stats := UserStats{TotalSessions: int(total.Int64), EscalatedSessions: int(escalated.Int64), AvgDurationSeconds: avgDuration.Float64}
	if lastSession.Valid {
		t := lastSession.Time
		stats.LastSession = &t
	}
	return stats, nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}
