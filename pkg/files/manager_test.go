package files

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/state"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/vcs"
)

func newTestManager(t *testing.T) (*Manager, *state.Store, *vcs.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := state.New(db, models.SessionState{
		BaseSessionState: models.BaseSessionState{
			SessionID:         "s1",
			GeneratedFilesMap: map[string]models.FileRecord{},
		},
	}, nil)
	vc := vcs.New(db)
	return NewManager(st, vc, nil), st, vc
}

func TestSaveGeneratedFilesCommitsAndUpdatesMap(t *testing.T) {
	m, st, vc := newTestManager(t)
	ctx := context.Background()

	saved, err := m.SaveGeneratedFiles(ctx, []models.FileRecord{
		{FilePath: "src/a.ts", FileContents: "aaa", FilePurpose: "entry"},
		{FilePath: "src/b.ts", FileContents: "bbb"},
	}, "add sources")
	require.NoError(t, err)
	require.Len(t, saved, 2)

	snap := st.Get()
	assert.Len(t, snap.GeneratedFilesMap, 2)
	assert.Equal(t, "aaa", snap.GeneratedFilesMap["src/a.ts"].FileContents)

	head, err := vc.Head(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, head)
	tree, err := vc.TreeFiles(ctx, head)
	require.NoError(t, err)
	assert.Len(t, tree, 2)

	log, err := vc.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "add sources", log[0].Message)
}

func TestSaveComputesDiffAndKeepsPurpose(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.SaveGeneratedFile(ctx,
		models.FileRecord{FilePath: "a.ts", FileContents: "hello", FilePurpose: "greeting"}, "v1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.LastDiff)

	// An update without a purpose inherits the previous one.
	second, err := m.SaveGeneratedFile(ctx,
		models.FileRecord{FilePath: "a.ts", FileContents: "hello world"}, "v2")
	require.NoError(t, err)
	assert.Equal(t, "greeting", second.FilePurpose)
	assert.NotEmpty(t, second.LastDiff)
	assert.NotEqual(t, first.LastDiff, second.LastDiff)
}

func TestSaveEmptyIsNoop(t *testing.T) {
	m, _, vc := newTestManager(t)
	saved, err := m.SaveGeneratedFiles(context.Background(), nil, "noop")
	require.NoError(t, err)
	assert.Empty(t, saved)

	head, err := vc.Head(context.Background())
	require.NoError(t, err)
	assert.Empty(t, head)
}

func TestGetGeneratedFile(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.SaveGeneratedFile(context.Background(),
		models.FileRecord{FilePath: "a.ts", FileContents: "x"}, "v1")
	require.NoError(t, err)

	rec, ok := m.GetGeneratedFile("a.ts")
	require.True(t, ok)
	assert.Equal(t, "x", rec.FileContents)

	_, ok = m.GetGeneratedFile("missing.ts")
	assert.False(t, ok)

	all := m.GetGeneratedFiles()
	assert.Len(t, all, 1)
}

func TestDeleteFilesCommitsDeletion(t *testing.T) {
	m, st, vc := newTestManager(t)
	ctx := context.Background()

	_, err := m.SaveGeneratedFiles(ctx, []models.FileRecord{
		{FilePath: "a.ts", FileContents: "1"},
		{FilePath: "b.ts", FileContents: "2"},
	}, "add")
	require.NoError(t, err)

	require.NoError(t, m.DeleteFiles(ctx, []string{"a.ts", "never-existed.ts"}))
	snap := st.Get()
	assert.Len(t, snap.GeneratedFilesMap, 1)
	assert.NotContains(t, snap.GeneratedFilesMap, "a.ts")

	head, err := vc.Head(ctx)
	require.NoError(t, err)
	tree, err := vc.TreeFiles(ctx, head)
	require.NoError(t, err)
	assert.Len(t, tree, 1)
	assert.NotContains(t, tree, "a.ts")
}
