// Package humanagent tracks the pool of human agents escalations can be
// routed to: status, specialties, languages, and current load, with
// expertise-aware ranking and atomic claim/release of load.
package humanagent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is an agent's availability.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// Expertise is a routing bucket derived from message/reason keywords.
type Expertise string

const (
	ExpertiseComplaints Expertise = "complaints"
	ExpertiseOperations Expertise = "operations"
	ExpertiseTechnical  Expertise = "technical"
	ExpertiseCommercial Expertise = "commercial"
	ExpertiseGeneral    Expertise = "general"
)

// expertiseKeywords is evaluated in order; the first expertise with a
// matching keyword wins.
var expertiseKeywords = []struct {
	expertise Expertise
	keywords  []string
}{
	{ExpertiseComplaints, []string{"réclamation", "complaint", "problème", "insatisfait", "erreur"}},
	{ExpertiseOperations, []string{"transfert", "annulation", "transaction", "solde", "compte"}},
	{ExpertiseTechnical, []string{"bug", "erreur", "ne fonctionne pas", "problème technique", "app"}},
	{ExpertiseCommercial, []string{"tarif", "prix", "nouveau service", "information produit"}},
}

// ClassifyExpertise maps an escalation reason and user message to the
// expertise bucket a handling agent should have. General is the fallback.
func ClassifyExpertise(reason, userMessage string) Expertise {
	haystack := strings.ToLower(reason) + " " + strings.ToLower(userMessage)
	for _, entry := range expertiseKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.expertise
			}
		}
	}
	return ExpertiseGeneral
}

// Agent is one human agent available to receive escalations.
type Agent struct {
	ID            string
	Name          string
	Status        Status
	Specialties   []Expertise
	Languages     []string
	CurrentLoad   int
	MaxConcurrent int
	LastActivity  time.Time
}

// availabilityScore mirrors the routing query's CASE expression:
// fully idle agents score 1.0, otherwise it's the fraction of free slots.
func (a Agent) availabilityScore() float64 {
	if a.CurrentLoad == 0 {
		return 1.0
	}
	if a.MaxConcurrent == 0 {
		return 0
	}
	return float64(a.MaxConcurrent-a.CurrentLoad) / float64(a.MaxConcurrent)
}

func (a Agent) hasSpecialty(e Expertise) bool {
	for _, s := range a.Specialties {
		if s == e {
			return true
		}
	}
	return false
}

func (a Agent) speaks(language string) bool {
	if len(a.Languages) == 0 {
		return language == "fr"
	}
	for _, l := range a.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// Registry is the database-backed human agent pool.
type Registry struct {
	db      *sql.DB
	dialect string
}

// NewRegistry opens a Registry over db and creates its schema.
func NewRegistry(db *sql.DB, dialect string) (*Registry, error) {
	r := &Registry{db: db, dialect: dialect}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS human_agents (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'offline',
    specialties TEXT NOT NULL DEFAULT '[]',
    languages TEXT NOT NULL DEFAULT '[]',
    current_load INTEGER NOT NULL DEFAULT 0,
    max_concurrent INTEGER NOT NULL DEFAULT 5,
    last_activity TIMESTAMP
);
`

func (r *Registry) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("humanagent: failed to create schema: %w", err)
	}
	return nil
}

func (r *Registry) placeholder(n int) string {
	if r.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Register inserts or fully replaces one agent's profile.
func (r *Registry) Register(ctx context.Context, a Agent) error {
	specialtiesJSON, err := json.Marshal(a.Specialties)
	if err != nil {
		return fmt.Errorf("humanagent: failed to marshal specialties: %w", err)
	}
	languagesJSON, err := json.Marshal(a.Languages)
	if err != nil {
		return fmt.Errorf("humanagent: failed to marshal languages: %w", err)
	}

	del := fmt.Sprintf("DELETE FROM human_agents WHERE id = %s", r.placeholder(1))
	if _, err := r.db.ExecContext(ctx, del, a.ID); err != nil {
		return fmt.Errorf("humanagent: failed to clear prior registration: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO human_agents (id, name, status, specialties, languages, current_load, max_concurrent, last_activity)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		r.placeholder(1), r.placeholder(2), r.placeholder(3), r.placeholder(4),
		r.placeholder(5), r.placeholder(6), r.placeholder(7), r.placeholder(8))

	maxConcurrent := a.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = 5
	}

	_, err = r.db.ExecContext(ctx, insert, a.ID, a.Name, string(a.Status), string(specialtiesJSON),
		string(languagesJSON), a.CurrentLoad, maxConcurrent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("humanagent: failed to register agent: %w", err)
	}
	return nil
}

// candidates returns available agents with spare capacity, ranked
// descending by (specialty match, availability score, last activity) —
// the same ordering the routing query applies, computed in Go since the
// CASE/ANY(jsonb) expressions don't translate across postgres/mysql/sqlite.
func (r *Registry) candidates(ctx context.Context, expertise Expertise, language string) ([]Agent, error) {
	query := fmt.Sprintf(`
SELECT id, name, status, specialties, languages, current_load, max_concurrent, last_activity
FROM human_agents
WHERE status = '%s' AND current_load < max_concurrent`, StatusAvailable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("humanagent: failed to query candidates: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var (
			a               Agent
			status          string
			specialtiesJSON string
			languagesJSON   string
			lastActivity    sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Name, &status, &specialtiesJSON, &languagesJSON,
			&a.CurrentLoad, &a.MaxConcurrent, &lastActivity); err != nil {
			return nil, fmt.Errorf("humanagent: failed to scan agent: %w", err)
		}
		a.Status = Status(status)
		_ = json.Unmarshal([]byte(specialtiesJSON), &a.Specialties)
		_ = json.Unmarshal([]byte(languagesJSON), &a.Languages)
		if lastActivity.Valid {
			a.LastActivity = lastActivity.Time
		}
		if a.speaks(language) {
			agents = append(agents, a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(agents, func(i, j int) bool {
		mi, mj := agents[i].hasSpecialty(expertise), agents[j].hasSpecialty(expertise)
		if mi != mj {
			return mi && !mj
		}
		si, sj := agents[i].availabilityScore(), agents[j].availabilityScore()
		if si != sj {
			return si > sj
		}
		return agents[i].LastActivity.After(agents[j].LastActivity)
	})
	return agents, nil
}

// FindBest selects the best agent for the given expertise and language,
// preferring a specialty match among the top candidates and otherwise
// falling back to the best-ranked available agent. Returns a zero Agent and
// false if no agent is available at all.
func (r *Registry) FindBest(ctx context.Context, expertise Expertise, language string) (Agent, bool, error) {
	candidates, err := r.candidates(ctx, expertise, language)
	if err != nil {
		return Agent{}, false, err
	}
	if len(candidates) == 0 {
		return Agent{}, false, nil
	}

	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}

	for _, a := range top {
		if expertise == ExpertiseGeneral || a.hasSpecialty(expertise) {
			return a, true, nil
		}
	}
	return top[0], true, nil
}

// Claim atomically increments an agent's load and bumps last_activity.
func (r *Registry) Claim(ctx context.Context, agentID string) error {
	update := fmt.Sprintf(`
UPDATE human_agents SET current_load = current_load + 1, last_activity = %s WHERE id = %s`,
		r.placeholder(1), r.placeholder(2))
	if _, err := r.db.ExecContext(ctx, update, time.Now().UTC(), agentID); err != nil {
		return fmt.Errorf("humanagent: failed to claim agent %s: %w", agentID, err)
	}
	return nil
}

// Release decrements an agent's load, clamped at zero.
func (r *Registry) Release(ctx context.Context, agentID string) error {
	update := fmt.Sprintf(`
UPDATE human_agents SET current_load = CASE WHEN current_load > 0 THEN current_load - 1 ELSE 0 END, last_activity = %s WHERE id = %s`,
		r.placeholder(1), r.placeholder(2))
	if _, err := r.db.ExecContext(ctx, update, time.Now().UTC(), agentID); err != nil {
		return fmt.Errorf("humanagent: failed to release agent %s: %w", agentID, err)
	}
	return nil
}

// AgentStatus reports one agent's current record.
func (r *Registry) AgentStatus(ctx context.Context, agentID string) (Agent, bool, error) {
	query := fmt.Sprintf(`
SELECT id, name, status, specialties, languages, current_load, max_concurrent, last_activity
FROM human_agents WHERE id = %s`, r.placeholder(1))

	var (
		a               Agent
		status          string
		specialtiesJSON string
		languagesJSON   string
		lastActivity    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, agentID).Scan(&a.ID, &a.Name, &status, &specialtiesJSON,
		&languagesJSON, &a.CurrentLoad, &a.MaxConcurrent, &lastActivity)
	if err == sql.ErrNoRows {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, fmt.Errorf("humanagent: failed to load agent %s: %w", agentID, err)
	}
	a.Status = Status(status)
	_ = json.Unmarshal([]byte(specialtiesJSON), &a.Specialties)
	_ = json.Unmarshal([]byte(languagesJSON), &a.Languages)
	if lastActivity.Valid {
		a.LastActivity = lastActivity.Time
	}
	return a, true, nil
}

// ListAvailable lists every agent currently marked available, ordered by
// load ascending then name.
func (r *Registry) ListAvailable(ctx context.Context) ([]Agent, error) {
	query := fmt.Sprintf(`
SELECT id, name, status, specialties, languages, current_load, max_concurrent, last_activity
FROM human_agents WHERE status = '%s'
ORDER BY current_load ASC, name ASC`, StatusAvailable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("humanagent: failed to list available agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var (
			a               Agent
			status          string
			specialtiesJSON string
			languagesJSON   string
			lastActivity    sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Name, &status, &specialtiesJSON, &languagesJSON,
			&a.CurrentLoad, &a.MaxConcurrent, &lastActivity); err != nil {
			return nil, fmt.Errorf("humanagent: failed to scan agent: %w", err)
		}
		a.Status = Status(status)
		_ = json.Unmarshal([]byte(specialtiesJSON), &a.Specialties)
		_ = json.Unmarshal([]byte(languagesJSON), &a.Languages)
		if lastActivity.Valid {
			a.LastActivity = lastActivity.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
