package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/embedding"
	"github.com/Kadsuke/assistant-axelis/pkg/humanagent"
	"github.com/Kadsuke/assistant-axelis/pkg/orchestrator"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
	"github.com/Kadsuke/assistant-axelis/pkg/retrieval"
)

// stubEmbedder is a single-tier embedding.Provider that always succeeds,
// standing in for a real remote/local provider in tests.
type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2, 0.3}
	}
	return vecs, nil
}

func (stubEmbedder) Dimension() int    { return 3 }
func (stubEmbedder) ModelName() string { return "stub" }
func (stubEmbedder) Close() error      { return nil }

// stubBackend is an in-memory retrieval.Backend that always returns one
// fixed hit, recording how many searches it served.
type stubBackend struct {
	mu       sync.Mutex
	searches int
}

func (b *stubBackend) EnsureCollection(ctx context.Context, name string, dimension int) error {
	return nil
}

func (b *stubBackend) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	return nil
}

func (b *stubBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]retrieval.Hit, error) {
	b.mu.Lock()
	b.searches++
	b.mu.Unlock()
	return []retrieval.Hit{
		{ID: "k1", Content: "Les virements sont traités sous 24h ouvrées.", Metadata: map[string]any{"category": "faq_general"}, Relevance: 0.8},
	}, nil
}

func (b *stubBackend) Count(ctx context.Context, collection string) (uint64, error) { return 1, nil }

func (b *stubBackend) searchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.searches
}

type recordingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *recordingSink) RecordTurn(application string, tier orchestrator.Tier, escalated bool, durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func (s *recordingSink) RecordPackResolution(application, packID string) {}

func (s *recordingSink) RecordEscalation(application, priority string) {}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPipeline(t *testing.T) (*Pipeline, *recordingSink) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions, err := conversation.NewStore(db, "sqlite", time.Minute)
	require.NoError(t, err)

	agentsDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { agentsDB.Close() })

	humanAgents, err := humanagent.NewRegistry(agentsDB, "sqlite")
	require.NoError(t, err)

	resolver := pack.New(config.SeedMinimalConfig())
	orch := orchestrator.New(resolver, nil, "")

	sink := &recordingSink{}
	p := New("coris_money", resolver, sessions, orch, humanAgents, nil, nil, sink, nil)
	return p, sink
}

func TestChat_RejectsEmptyMessage(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.Chat(context.Background(), ChatMessage{UserID: "u1", TenantID: "t1", Message: "   "})

	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindValidation, pErr.Kind)
}

func TestChat_TrivialGreetingReturnsTwoMessages(t *testing.T) {
	p, sink := newTestPipeline(t)
	ctx := context.Background()

	resp, err := p.Chat(ctx, ChatMessage{UserID: "u1", TenantID: "t_ci", Message: "Bonjour"})
	require.NoError(t, err)

	assert.False(t, resp.EscalationNeeded)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.Response)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	history, err := p.History(ctx, resp.SessionID, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
}

func TestChat_SecondMessageReusesSession(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Chat(ctx, ChatMessage{UserID: "u1", TenantID: "t_ci", Message: "Bonjour"})
	require.NoError(t, err)

	second, err := p.Chat(ctx, ChatMessage{UserID: "u1", TenantID: "t_ci", Message: "Une autre question pour vous"})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestChat_WithoutLLMFallsBackToCannedAndFlagsTechnicalError(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	resp, err := p.Chat(ctx, ChatMessage{UserID: "u1", TenantID: "t_ci", Message: "je n'arrive pas à faire un virement important"})
	require.NoError(t, err)

	assert.Equal(t, "fallback_assistant", resp.AgentUsed)
}

func TestChat_RepeatedFailuresEscalate(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	var last ChatResponse
	for i := 0; i < 3; i++ {
		resp, err := p.Chat(ctx, ChatMessage{UserID: "u1", TenantID: "t_ci", Message: "je n'arrive toujours pas à faire mon virement"})
		require.NoError(t, err)
		last = resp
	}

	assert.True(t, last.EscalationNeeded)
}

func TestChat_RetrievesTenantKnowledgeBeforeReasoning(t *testing.T) {
	p, _ := newTestPipeline(t)
	embedder, err := embedding.NewManager(nil, nil, stubEmbedder{})
	require.NoError(t, err)
	backend := &stubBackend{}
	p.Embedder = embedder
	p.Knowledge = retrieval.New(backend, 3)

	_, err = p.Chat(context.Background(), ChatMessage{
		UserID: "u1", TenantID: "t_ci", Message: "je veux connaitre le délai de traitement des virements",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, backend.searchCount())
}

func TestChat_WithoutKnowledgeComponentsSkipsRetrieval(t *testing.T) {
	p, _ := newTestPipeline(t)

	resp, err := p.Chat(context.Background(), ChatMessage{
		UserID: "u1", TenantID: "t_ci", Message: "je veux connaitre le délai de traitement des virements",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Response)
}

func TestEscalate_AssignsAvailableAgentAndCreatesRecord(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	chatResp, err := p.Chat(ctx, ChatMessage{UserID: "u1", TenantID: "t_ci", Message: "Bonjour"})
	require.NoError(t, err)

	require.NoError(t, p.HumanAgents.Register(ctx, humanagent.Agent{
		ID: "agent-1", Name: "Aminata", Status: humanagent.StatusAvailable,
		Specialties: []humanagent.Expertise{humanagent.ExpertiseOperations}, Languages: []string{"fr"}, MaxConcurrent: 5,
	}))

	esc, err := p.Escalate(ctx, EscalationRequest{SessionID: chatResp.SessionID, Reason: "je veux faire un transfert urgent"})
	require.NoError(t, err)

	assert.Equal(t, "agent-1", esc.AssignedTo)
	assert.NotEmpty(t, esc.ID)

	status, ok, err := p.HumanAgents.AgentStatus(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, status.CurrentLoad)
}

func TestEscalate_UnknownSessionIsNotFound(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.Escalate(context.Background(), EscalationRequest{SessionID: "does-not-exist", Reason: "test"})

	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindNotFound, pErr.Kind)
}

func TestHistory_UnknownSessionIsNotFound(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.History(context.Background(), "does-not-exist", 10)

	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindNotFound, pErr.Kind)
}
