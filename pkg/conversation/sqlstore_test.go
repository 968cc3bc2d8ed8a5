package conversation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite", time.Minute)
	require.NoError(t, err)
	return store
}

func TestGetOrCreateSession_CreatesThenReuses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestGetOrCreateSession_DifferentTenantsGetDifferentSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)
	id2, err := store.GetOrCreateSession(ctx, "user-1", "cm_sn", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestAppendMessage_UpdatesHistoryAndSessionTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	before, err := store.getSession(ctx, sessionID)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = store.AppendMessage(ctx, sessionID, RoleUser, "quel est mon solde", NewMessageParams{})
	require.NoError(t, err)

	history, err := store.History(ctx, sessionID, 50, true)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "quel est mon solde", history[0].Content)

	after, err := store.getSession(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestHistory_ExcludesSystemMessagesByDefault(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, sessionID, RoleSystem, "system prompt", NewMessageParams{})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, sessionID, RoleUser, "bonjour", NewMessageParams{})
	require.NoError(t, err)

	withoutSystem, err := store.History(ctx, sessionID, 50, false)
	require.NoError(t, err)
	assert.Len(t, withoutSystem, 1)

	withSystem, err := store.History(ctx, sessionID, 50, true)
	require.NoError(t, err)
	assert.Len(t, withSystem, 2)
}

func TestContext_IsCachedUntilInvalidated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	first, err := store.Context(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Statistics.TotalMessages)

	_, err = store.AppendMessage(ctx, sessionID, RoleUser, "hello", NewMessageParams{})
	require.NoError(t, err)

	refreshed, err := store.Context(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed.Statistics.TotalMessages, "AppendMessage invalidates the cached context")
}

func TestCreateEscalation_MarksSessionEscalated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	escID, err := store.CreateEscalation(ctx, sessionID, "urgent_complaint", PriorityHigh, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, escID)

	sess, err := store.getSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, sess.Status)

	ctxView, err := store.loadContext(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, ctxView.ActiveEscalations, 1)
	assert.Equal(t, EscalationPending, ctxView.ActiveEscalations[0].Status)
}

func TestCloseSession_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	require.NoError(t, store.CloseSession(ctx, sessionID))
	sess, err := store.getSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, sess.Status)
	firstClosedAt := *sess.ClosedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.CloseSession(ctx, sessionID))
	sess2, err := store.getSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, firstClosedAt, *sess2.ClosedAt, "closing an already-closed session must not touch closed_at again")
}

func TestUpdateContext_ShallowMerges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateContext(ctx, sessionID, map[string]any{"last_intent": "balance_check"}))
	sess, err := store.getSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "balance_check", sess.Context["last_intent"])
	assert.Equal(t, "mobile", sess.Context["channel"])
}

func TestStatistics_ComputesAveragesAndDuration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessionID, err := store.GetOrCreateSession(ctx, "user-1", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, sessionID, RoleUser, "q1", NewMessageParams{TokensConsumed: 10})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, sessionID, RoleAssistant, "a1", NewMessageParams{TokensConsumed: 20, ConfidenceScore: 0.8, ProcessingTimeSeconds: 1.5})
	require.NoError(t, err)

	stats, err := store.Statistics(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.UserMessages)
	assert.Equal(t, 1, stats.AssistantMessages)
	assert.Equal(t, 30, stats.TotalTokens)
	assert.InDelta(t, 15.0, stats.AvgTokensPerMsg, 0.001)
	assert.InDelta(t, 0.8, stats.AvgConfidenceScore, 0.001)
}

func TestSweep_RemovesOldClosedSessionsOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	oldID, err := store.GetOrCreateSession(ctx, "user-old", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)
	require.NoError(t, store.CloseSession(ctx, oldID))

	_, err = store.db.ExecContext(ctx, "UPDATE sessions SET closed_at = ? WHERE id = ?",
		time.Now().AddDate(0, 0, -100), oldID)
	require.NoError(t, err)

	activeID, err := store.GetOrCreateSession(ctx, "user-active", "cm_ci", "coris_money", "mobile", "fr", "basic", nil)
	require.NoError(t, err)

	n, err := store.Sweep(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.getSession(ctx, oldID)
	assert.Error(t, err)
	_, err = store.getSession(ctx, activeID)
	assert.NoError(t, err)
}
