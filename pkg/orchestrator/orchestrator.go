// Package orchestrator assembles the authorized subset of agents for a
// tenant's pack and drives the three-tier execution a conversational turn
// runs through: a full crew backed by Claude, a minimal single-agent
// fallback, and a canned last resort that never fails.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
	"github.com/Kadsuke/assistant-axelis/pkg/registry"
	"github.com/Kadsuke/assistant-axelis/pkg/retrieval"
)

// Tier identifies which execution path produced a Response.
type Tier string

const (
	TierTrivial Tier = "trivial" // shortcut: no LLM call at all
	TierFull    Tier = "full"    // full crew, authorized agents + history
	TierMinimal Tier = "minimal" // single generic agent, no tools, no memory
	TierCanned  Tier = "canned"  // static acknowledgement, always succeeds
)

// trivialQueryLength is the original's threshold below which a query gets
// a canned greeting without ever reaching the LLM.
const trivialQueryLength = 10

// AgentDescriptor is a role/goal/backstory definition an authorized pack
// agent maps to, mirroring the original crew_setup's per-agent config.
type AgentDescriptor struct {
	Name      string
	Role      string
	Goal      string
	Backstory string
}

// SystemPrompt renders the descriptor into the system prompt the full-crew
// tier sends to the model.
func (d AgentDescriptor) SystemPrompt() string {
	return fmt.Sprintf("Tu es %s. Ton objectif: %s. %s", d.Role, d.Goal, d.Backstory)
}

// DefaultDescriptors seeds the registry with the agents named in the
// packaged pack configuration.
func DefaultDescriptors() map[string]AgentDescriptor {
	return map[string]AgentDescriptor{
		"general_assistant": {
			Name:      "general_assistant",
			Role:      "l'assistant général de Coris Money",
			Goal:      "aider les utilisateurs avec leurs questions courantes",
			Backstory: "Tu connais les produits et procédures standards de la banque.",
		},
		"operations_specialist": {
			Name:      "operations_specialist",
			Role:      "le spécialiste des opérations bancaires",
			Goal:      "traiter les demandes de solde, transfert et transaction",
			Backstory: "Tu maîtrises les opérations courantes sur les comptes.",
		},
		"commercial_specialist": {
			Name:      "commercial_specialist",
			Role:      "le conseiller commercial",
			Goal:      "présenter les offres et tarifs adaptés au client",
			Backstory: "Tu connais le catalogue produit et les tarifs en vigueur.",
		},
	}
}

// Response is the result of one orchestrated turn.
type Response struct {
	Text                  string
	AgentsUsed            []string
	Tier                  Tier
	Confidence            float64
	ProcessingTimeSeconds float64
}

// messagesClient is the subset of the Anthropic SDK this package depends
// on, so tests can substitute a fake without a live API key.
type messagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Orchestrator ties the pack resolver, agent descriptor registry, and LLM
// client together into the three execution tiers.
type Orchestrator struct {
	resolver *pack.Resolver
	agents   registry.Registry[AgentDescriptor]
	llm      messagesClient
	model    string
	maxTok   int64
}

// New builds an Orchestrator. llm may be nil, in which case every turn
// that is not a trivial shortcut degrades straight to the canned tier
// (the minimal tier also needs the client) — useful for tests and for
// booting without an Anthropic API key.
func New(resolver *pack.Resolver, llm messagesClient, model string) *Orchestrator {
	agents := registry.NewBaseRegistry[AgentDescriptor]()
	for name, d := range DefaultDescriptors() {
		agents.Replace(name, d)
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &Orchestrator{resolver: resolver, agents: agents, llm: llm, model: model, maxTok: 1024}
}

// NewFromAPIKey is a convenience constructor wiring a real Anthropic client.
func NewFromAPIKey(resolver *pack.Resolver, apiKey, model string) *Orchestrator {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return New(resolver, &client.Messages, model)
}

// RegisterAgent adds or replaces an agent descriptor.
func (o *Orchestrator) RegisterAgent(d AgentDescriptor) {
	o.agents.Replace(d.Name, d)
}

// Crew returns the authorized agent descriptors for (tenantID,
// application), in the order the resolved pack lists them. An authorized
// agent with no matching descriptor is skipped rather than failing the
// whole assembly.
func (o *Orchestrator) Crew(tenantID, application string) []AgentDescriptor {
	resolved := o.resolver.Resolve(tenantID, application)
	crew := make([]AgentDescriptor, 0, len(resolved.Agents))
	for _, name := range resolved.Agents {
		if d, ok := o.agents.Get(name); ok {
			crew = append(crew, d)
		}
	}
	return crew
}

// Execute runs one conversational turn for (tenantID, application),
// returning the response and which tier produced it. history is the
// recent conversation (oldest first); the full tier includes it verbatim.
// knowledge is whatever the caller's retrieval step surfaced from the
// tenant's knowledge collection, folded into the system prompt when present.
func (o *Orchestrator) Execute(ctx context.Context, tenantID, application, query string, history []conversation.Message, knowledge []retrieval.Hit) Response {
	start := time.Now()

	if len(strings.TrimSpace(query)) < trivialQueryLength {
		return Response{
			Text:                  fmt.Sprintf("Bonjour ! Votre message '%s' a été reçu. Comment puis-je vous aider avec Coris Money ?", query),
			AgentsUsed:            []string{"general_assistant"},
			Tier:                  TierTrivial,
			Confidence:            1.0,
			ProcessingTimeSeconds: time.Since(start).Seconds(),
		}
	}

	crew := o.Crew(tenantID, application)
	if resp, ok := o.executeFull(ctx, crew, query, history, knowledge); ok {
		resp.ProcessingTimeSeconds = time.Since(start).Seconds()
		return resp
	}

	if resp, ok := o.executeMinimal(ctx, query, knowledge); ok {
		resp.ProcessingTimeSeconds = time.Since(start).Seconds()
		return resp
	}

	return Response{
		Text:                  fmt.Sprintf("Bonjour ! Concernant votre question sur %s, je vous confirme que nous avons bien reçu votre demande. Comment puis-je vous aider ?", application),
		AgentsUsed:            []string{"fallback_assistant"},
		Tier:                  TierCanned,
		Confidence:            0.3,
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	}
}

// knowledgeContext renders retrieved hits into a system-prompt block. An
// empty hit set renders to "", leaving the system prompt untouched.
func knowledgeContext(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Informations pertinentes issues de la base de connaissances du tenant:")
	for _, h := range hits {
		b.WriteString("\n- ")
		b.WriteString(h.Content)
	}
	return b.String()
}

func withKnowledge(systemPrompt string, knowledge []retrieval.Hit) string {
	block := knowledgeContext(knowledge)
	if block == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\n" + block
}

func (o *Orchestrator) executeFull(ctx context.Context, crew []AgentDescriptor, query string, history []conversation.Message, knowledge []retrieval.Hit) (Response, bool) {
	if o.llm == nil || len(crew) == 0 {
		return Response{}, false
	}

	lead := selectLeadAgent(crew, query)

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case conversation.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(query)))

	msg, err := o.llm.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: o.maxTok,
		System:    []anthropic.TextBlockParam{{Text: withKnowledge(lead.SystemPrompt(), knowledge)}},
		Messages:  messages,
	})
	if err != nil {
		return Response{}, false
	}

	text := extractText(msg)
	if text == "" {
		return Response{}, false
	}

	agentNames := make([]string, 0, len(crew))
	for _, a := range crew {
		agentNames = append(agentNames, a.Name)
	}

	return Response{Text: text, AgentsUsed: agentNames, Tier: TierFull, Confidence: 0.85}, true
}

func (o *Orchestrator) executeMinimal(ctx context.Context, query string, knowledge []retrieval.Hit) (Response, bool) {
	if o.llm == nil {
		return Response{}, false
	}

	descriptor := AgentDescriptor{
		Role:      "Assistant",
		Goal:      "Aider les utilisateurs avec leurs questions",
		Backstory: "Assistant spécialisé pour Coris Money",
	}

	msg, err := o.llm.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: o.maxTok,
		System:    []anthropic.TextBlockParam{{Text: withKnowledge(descriptor.SystemPrompt(), knowledge)}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(query))},
	})
	if err != nil {
		return Response{}, false
	}

	text := extractText(msg)
	if text == "" {
		return Response{}, false
	}

	return Response{Text: text, AgentsUsed: []string{"basic_assistant"}, Tier: TierMinimal, Confidence: 0.6}, true
}

// selectLeadAgent picks the crew member whose role keywords best match the
// query, defaulting to the first crew member.
func selectLeadAgent(crew []AgentDescriptor, query string) AgentDescriptor {
	lower := strings.ToLower(query)
	for _, a := range crew {
		switch a.Name {
		case "operations_specialist":
			if strings.Contains(lower, "solde") || strings.Contains(lower, "transfert") || strings.Contains(lower, "compte") {
				return a
			}
		case "commercial_specialist":
			if strings.Contains(lower, "tarif") || strings.Contains(lower, "prix") || strings.Contains(lower, "offre") {
				return a
			}
		}
	}
	return crew[0]
}

func extractText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// FailedAttemptsKey is the session-context key the pipeline persists the
// failure counter under.
const FailedAttemptsKey = "failed_attempts"

// NextFailedAttempts applies the orchestrator's bookkeeping rule: reset to
// zero when tier 1 (full crew) succeeds, otherwise increment.
func NextFailedAttempts(current int, tier Tier) int {
	if tier == TierFull {
		return 0
	}
	return current + 1
}
