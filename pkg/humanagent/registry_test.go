package humanagent

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := NewRegistry(db, "sqlite")
	require.NoError(t, err)
	return reg
}

func TestClassifyExpertise_MatchesFirstKeyword(t *testing.T) {
	assert.Equal(t, ExpertiseOperations, ClassifyExpertise("", "je veux faire un transfert"))
	assert.Equal(t, ExpertiseComplaints, ClassifyExpertise("réclamation client", ""))
	assert.Equal(t, ExpertiseGeneral, ClassifyExpertise("", "bonjour"))
}

func TestFindBest_PrefersSpecialtyMatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Agent{
		ID: "a1", Name: "Aminata", Status: StatusAvailable,
		Specialties: []Expertise{ExpertiseGeneral}, Languages: []string{"fr"}, MaxConcurrent: 5,
	}))
	require.NoError(t, reg.Register(ctx, Agent{
		ID: "a2", Name: "Koffi", Status: StatusAvailable,
		Specialties: []Expertise{ExpertiseOperations}, Languages: []string{"fr"}, MaxConcurrent: 5,
	}))

	best, ok, err := reg.FindBest(ctx, ExpertiseOperations, "fr")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", best.ID)
}

func TestFindBest_FallsBackToBestRankedWhenNoSpecialtyMatches(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Agent{
		ID: "a1", Name: "Aminata", Status: StatusAvailable,
		Specialties: []Expertise{ExpertiseCommercial}, Languages: []string{"fr"}, CurrentLoad: 3, MaxConcurrent: 5,
	}))
	require.NoError(t, reg.Register(ctx, Agent{
		ID: "a2", Name: "Koffi", Status: StatusAvailable,
		Specialties: []Expertise{ExpertiseCommercial}, Languages: []string{"fr"}, CurrentLoad: 0, MaxConcurrent: 5,
	}))

	best, ok, err := reg.FindBest(ctx, ExpertiseTechnical, "fr")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", best.ID, "more available agent should rank first when no specialty matches")
}

func TestFindBest_ExcludesAgentsAtCapacityOrWrongLanguage(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Agent{
		ID: "full", Name: "Full", Status: StatusAvailable,
		Specialties: []Expertise{ExpertiseGeneral}, Languages: []string{"fr"}, CurrentLoad: 5, MaxConcurrent: 5,
	}))
	require.NoError(t, reg.Register(ctx, Agent{
		ID: "wrong-lang", Name: "English Only", Status: StatusAvailable,
		Specialties: []Expertise{ExpertiseGeneral}, Languages: []string{"en"}, MaxConcurrent: 5,
	}))

	_, ok, err := reg.FindBest(ctx, ExpertiseGeneral, "fr")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimAndRelease_AdjustsLoad(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Agent{ID: "a1", Name: "Aminata", Status: StatusAvailable, MaxConcurrent: 5}))

	require.NoError(t, reg.Claim(ctx, "a1"))
	status, ok, err := reg.AgentStatus(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, status.CurrentLoad)

	require.NoError(t, reg.Release(ctx, "a1"))
	status, _, err = reg.AgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.CurrentLoad)
}

func TestRelease_ClampsAtZero(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Agent{ID: "a1", Name: "Aminata", Status: StatusAvailable, MaxConcurrent: 5}))

	require.NoError(t, reg.Release(ctx, "a1"))
	status, _, err := reg.AgentStatus(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.CurrentLoad)
}

func TestListAvailable_OrdersByLoadThenName(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Agent{ID: "a1", Name: "Zoe", Status: StatusAvailable, CurrentLoad: 1, MaxConcurrent: 5}))
	require.NoError(t, reg.Register(ctx, Agent{ID: "a2", Name: "Amara", Status: StatusAvailable, CurrentLoad: 0, MaxConcurrent: 5}))
	require.NoError(t, reg.Register(ctx, Agent{ID: "a3", Name: "Offline", Status: StatusOffline, MaxConcurrent: 5}))

	agents, err := reg.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a2", agents[0].ID)
	assert.Equal(t, "a1", agents[1].ID)
}
