package orchestrator

import (
	"context"
	"errors"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
	"github.com/Kadsuke/assistant-axelis/pkg/retrieval"
)

type fakeLLM struct {
	text string
	err  error
	n    int

	lastSystem   string
	lastMessages int
}

func (f *fakeLLM) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.n++
	f.lastMessages = len(body.Messages)
	if len(body.System) > 0 {
		f.lastSystem = body.System[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: f.text},
		},
	}, nil
}

func newResolver() *pack.Resolver {
	return pack.New(config.SeedMinimalConfig())
}

// newResolverWithPremiumTenant seeds a resolver where "tenant-premium" is
// explicitly subscribed to the premium pack, since SeedMinimalConfig alone
// declares no tenants and every tenant falls back to "basic".
func newResolverWithPremiumTenant() *pack.Resolver {
	cfg := config.SeedMinimalConfig()
	cfg.Tenants["tenant-premium"] = &config.TenantConfig{
		ID: "tenant-premium",
		Applications: map[string]*config.ApplicationSubscription{
			"coris_money": {Active: true, PackSouscrit: "premium"},
		},
	}
	return pack.New(cfg)
}

func TestExecute_TrivialQueryShortcutsWithoutLLM(t *testing.T) {
	llm := &fakeLLM{text: "should not be called"}
	o := New(newResolver(), llm, "")

	resp := o.Execute(context.Background(), "any-tenant", "coris_money", "solde?", nil, nil)

	assert.Equal(t, TierTrivial, resp.Tier)
	assert.Equal(t, 0, llm.n)
	assert.Equal(t, 1.0, resp.Confidence)
}

func TestExecute_FullTierUsesAuthorizedCrew(t *testing.T) {
	llm := &fakeLLM{text: "voici votre réponse"}
	o := New(newResolverWithPremiumTenant(), llm, "")

	resp := o.Execute(context.Background(), "tenant-premium", "coris_money", "je veux connaitre mon solde actuel", nil, nil)

	require.Equal(t, TierFull, resp.Tier)
	assert.Equal(t, "voici votre réponse", resp.Text)
	assert.Contains(t, resp.AgentsUsed, "general_assistant")
	assert.Equal(t, 1, llm.n)
}

func TestExecute_FullTierFoldsRetrievedKnowledgeIntoSystemPrompt(t *testing.T) {
	llm := &fakeLLM{text: "voici votre réponse"}
	o := New(newResolverWithPremiumTenant(), llm, "")

	hits := []retrieval.Hit{
		{ID: "k1", Content: "Les virements internationaux prennent 24h.", Metadata: map[string]any{"category": "faq_general"}, Relevance: 0.9},
	}
	resp := o.Execute(context.Background(), "tenant-premium", "coris_money", "je veux connaitre mon solde actuel", nil, hits)

	require.Equal(t, TierFull, resp.Tier)
	assert.Contains(t, llm.lastSystem, "Les virements internationaux prennent 24h.")
}

func TestExecute_NoKnowledgeLeavesSystemPromptUnchanged(t *testing.T) {
	llm := &fakeLLM{text: "voici votre réponse"}
	o := New(newResolverWithPremiumTenant(), llm, "")

	resp := o.Execute(context.Background(), "tenant-premium", "coris_money", "je veux connaitre mon solde actuel", nil, nil)

	require.Equal(t, TierFull, resp.Tier)
	assert.NotContains(t, llm.lastSystem, "base de connaissances")
}

func TestExecute_FallsBackToMinimalWhenFullTierErrors(t *testing.T) {
	calls := 0
	o := New(newResolver(), nil, "")
	o.llm = &sequencedLLM{
		responses: []llmCall{
			{err: errors.New("full crew unavailable")},
			{text: "réponse minimale"},
		},
		counter: &calls,
	}

	resp := o.Execute(context.Background(), "tenant-basic", "coris_money", "je n'arrive pas à faire un virement", nil, nil)

	assert.Equal(t, TierMinimal, resp.Tier)
	assert.Equal(t, "réponse minimale", resp.Text)
	assert.Equal(t, 2, calls)
}

func TestExecute_FallsBackToCannedWhenLLMUnavailable(t *testing.T) {
	o := New(newResolver(), nil, "")

	resp := o.Execute(context.Background(), "tenant-basic", "coris_money", "je n'arrive pas à faire un virement", nil, nil)

	assert.Equal(t, TierCanned, resp.Tier)
	assert.NotEmpty(t, resp.Text)
	assert.Equal(t, 0.3, resp.Confidence)
}

func TestCrew_SkipsAgentsWithoutADescriptor(t *testing.T) {
	o := New(newResolverWithPremiumTenant(), nil, "")
	_ = o.agents.Remove("commercial_specialist")

	crew := o.Crew("tenant-premium", "coris_money")

	names := make([]string, 0, len(crew))
	for _, a := range crew {
		names = append(names, a.Name)
	}
	assert.NotContains(t, names, "commercial_specialist")
	assert.Contains(t, names, "operations_specialist")
}

func TestNextFailedAttempts_ResetsOnTierFullOtherwiseIncrements(t *testing.T) {
	assert.Equal(t, 0, NextFailedAttempts(3, TierFull))
	assert.Equal(t, 4, NextFailedAttempts(3, TierMinimal))
	assert.Equal(t, 1, NextFailedAttempts(0, TierCanned))
}

func TestHistory_MapsRolesIntoMessageParams(t *testing.T) {
	llm := &fakeLLM{text: "ok"}
	o := New(newResolver(), llm, "")

	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "bonjour"},
		{Role: conversation.RoleAssistant, Content: "bonjour, comment puis-je aider ?"},
		{Role: conversation.RoleSystem, Content: "ignored system note"},
	}

	resp := o.Execute(context.Background(), "tenant-premium", "coris_money", "je veux faire un virement important", history, nil)

	require.Equal(t, TierFull, resp.Tier)
	assert.Equal(t, 1, llm.n)
	assert.Equal(t, 3, llm.lastMessages, "user and assistant history plus the query; the system note is dropped")
}

type llmCall struct {
	text string
	err  error
}

type sequencedLLM struct {
	responses []llmCall
	counter   *int
}

func (s *sequencedLLM) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	i := *s.counter
	*s.counter++
	if i >= len(s.responses) {
		return nil, errors.New("no more canned responses")
	}
	call := s.responses[i]
	if call.err != nil {
		return nil, call.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: call.text}},
	}, nil
}
