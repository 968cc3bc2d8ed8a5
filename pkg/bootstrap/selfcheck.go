// Package bootstrap verifies the process is fit to serve traffic before it
// starts accepting requests, and on every /health poll afterwards: at least
// one pack loaded, the conversation store accepting a round-trip write, and
// the embedding provider answering a positive dimension. This is the
// concrete form of the pipeline.KindFatal error kind ("no packs loaded").
package bootstrap

import (
	"context"
	"fmt"

	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/embedding"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
)

// ComponentStatus is one named subsystem's health, as surfaced in
// /api/v1/health's components map.
type ComponentStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the aggregate self-check result.
type Report struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentStatus `json:"components"`
}

// selfCheckUserID and selfCheckTenantID never collide with real traffic;
// the session they create is immediately closed.
const selfCheckUserID = "__selfcheck__"
const selfCheckTenantID = "__selfcheck__"
const selfCheckApplication = "__selfcheck__"

// SelfCheck runs the startup/liveness checks named in SelfCheck's package
// doc, never returning an error itself — failures are reported per
// component so a caller can decide whether a degraded component still
// permits serving traffic.
func SelfCheck(ctx context.Context, resolver *pack.Resolver, sessions *conversation.Store, embedder *embedding.Manager) Report {
	components := map[string]ComponentStatus{
		"packs":        checkPacks(resolver),
		"conversation": checkConversationStore(ctx, sessions),
		"embedding":    checkEmbedding(embedder),
	}

	healthy := true
	for _, c := range components {
		if !c.Healthy {
			healthy = false
		}
	}

	return Report{Healthy: healthy, Components: components}
}

func checkPacks(resolver *pack.Resolver) ComponentStatus {
	if resolver == nil {
		return ComponentStatus{Healthy: false, Detail: "no capability resolver configured"}
	}
	stats := resolver.Stats()
	if stats.BasePackCount == 0 && stats.ApplicationCount == 0 {
		return ComponentStatus{Healthy: false, Detail: "no packs loaded"}
	}
	return ComponentStatus{Healthy: true, Detail: fmt.Sprintf("%d base, %d application packs", stats.BasePackCount, stats.ApplicationCount)}
}

func checkConversationStore(ctx context.Context, sessions *conversation.Store) ComponentStatus {
	if sessions == nil {
		return ComponentStatus{Healthy: false, Detail: "no conversation store configured"}
	}
	sessionID, err := sessions.GetOrCreateSession(ctx, selfCheckUserID, selfCheckTenantID, selfCheckApplication, "selfcheck", "fr", "basic", nil)
	if err != nil {
		return ComponentStatus{Healthy: false, Detail: fmt.Sprintf("round-trip write failed: %v", err)}
	}
	if err := sessions.CloseSession(ctx, sessionID); err != nil {
		return ComponentStatus{Healthy: false, Detail: fmt.Sprintf("round-trip close failed: %v", err)}
	}
	return ComponentStatus{Healthy: true, Detail: "round-trip write succeeded"}
}

func checkEmbedding(embedder *embedding.Manager) ComponentStatus {
	if embedder == nil {
		return ComponentStatus{Healthy: false, Detail: "no embedding provider configured"}
	}
	if dim := embedder.Dimension(); dim <= 0 {
		return ComponentStatus{Healthy: false, Detail: fmt.Sprintf("embedding dimension %d is not positive", dim)}
	}
	return ComponentStatus{Healthy: true}
}
