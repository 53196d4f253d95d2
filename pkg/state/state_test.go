package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
)

func seedState(id string) models.SessionState {
	return models.SessionState{
		BaseSessionState: models.BaseSessionState{
			SessionID:   id,
			ProjectName: "demo",
			Query:       "build something",
		},
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	st := New(nil, seedState("s1"), nil)

	snap := st.Get()
	snap.ProjectName = "mutated"
	assert.Equal(t, "demo", st.Get().ProjectName)
}

func TestUpdateAppliesAndReturnsResult(t *testing.T) {
	st := New(nil, seedState("s1"), nil)

	out := st.Update(context.Background(), func(s *models.SessionState) {
		s.ProjectName = "renamed"
		s.ShouldBeGenerating = true
	})
	assert.Equal(t, "renamed", out.ProjectName)
	assert.True(t, st.Get().ShouldBeGenerating)
}

func TestOnChangeSeesOldAndNew(t *testing.T) {
	st := New(nil, seedState("s1"), nil)

	var gotOld, gotNew string
	st.OnChange(func(old, new models.SessionState) {
		gotOld = old.ProjectName
		gotNew = new.ProjectName
	})
	st.Update(context.Background(), func(s *models.SessionState) {
		s.ProjectName = "after"
	})
	assert.Equal(t, "demo", gotOld)
	assert.Equal(t, "after", gotNew)
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	st := New(db, seedState("s1"), nil)
	st.Set(ctx, st.Get())
	st.Update(ctx, func(s *models.SessionState) {
		s.ProjectUpdates = append(s.ProjectUpdates, "added auth")
	})

	loaded, found, err := Load(ctx, db, "s1", nil)
	require.NoError(t, err)
	require.True(t, found)
	snap := loaded.Get()
	assert.Equal(t, "demo", snap.ProjectName)
	assert.Equal(t, []string{"added auth"}, snap.ProjectUpdates)
}

func TestLoadMissingSession(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, found, err := Load(context.Background(), db, "nope", nil)
	require.NoError(t, err)
	assert.False(t, found)
}
