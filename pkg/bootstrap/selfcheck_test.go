package bootstrap

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/embedding"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
)

type stubEmbedder struct{ dim int }

func (s stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (s stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (s stubEmbedder) Dimension() int    { return s.dim }
func (s stubEmbedder) ModelName() string { return "stub" }
func (s stubEmbedder) Close() error      { return nil }

func newTestStore(t *testing.T) *conversation.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := conversation.NewStore(db, "sqlite", time.Minute)
	require.NoError(t, err)
	return store
}

func TestSelfCheck_AllComponentsHealthy(t *testing.T) {
	resolver := pack.New(config.SeedMinimalConfig())
	sessions := newTestStore(t)
	embedder, err := embedding.NewManager(nil, nil, stubEmbedder{dim: 384})
	require.NoError(t, err)

	report := SelfCheck(context.Background(), resolver, sessions, embedder)

	assert.True(t, report.Healthy)
	for name, c := range report.Components {
		assert.True(t, c.Healthy, "component %s should be healthy: %s", name, c.Detail)
	}
}

func TestSelfCheck_MissingComponentsAreUnhealthy(t *testing.T) {
	report := SelfCheck(context.Background(), nil, nil, nil)

	assert.False(t, report.Healthy)
	assert.False(t, report.Components["packs"].Healthy)
	assert.False(t, report.Components["conversation"].Healthy)
	assert.False(t, report.Components["embedding"].Healthy)
}

func TestSelfCheck_ZeroDimensionEmbedderIsUnhealthy(t *testing.T) {
	resolver := pack.New(config.SeedMinimalConfig())
	sessions := newTestStore(t)
	embedder, err := embedding.NewManager(nil, nil, stubEmbedder{dim: 0})
	require.NoError(t, err)

	report := SelfCheck(context.Background(), resolver, sessions, embedder)

	assert.False(t, report.Healthy)
	assert.False(t, report.Components["embedding"].Healthy)
}
