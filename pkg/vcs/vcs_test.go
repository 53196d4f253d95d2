package vcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := New(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestHeadEmptyBeforeFirstCommit(t *testing.T) {
	s := newTestStore(t)
	head, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Empty(t, head)

	log, err := s.Log(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestCommitFilesAdvancesHead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CommitFiles(ctx, map[string]string{
		"src/a.ts": "aaa",
		"src/b.ts": "bbb",
	}, nil, "first")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, head)

	tree, err := s.TreeFiles(ctx, first)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	contents, err := s.BlobContents(ctx, tree["src/a.ts"])
	require.NoError(t, err)
	assert.Equal(t, "aaa", contents)
}

func TestCommitCarriesForwardUnchangedEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CommitFiles(ctx, map[string]string{"a": "1", "b": "2"}, nil, "first")
	require.NoError(t, err)
	second, err := s.CommitFiles(ctx, map[string]string{"b": "22"}, nil, "second")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	tree, err := s.TreeFiles(ctx, second)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	a, err := s.BlobContents(ctx, tree["a"])
	require.NoError(t, err)
	assert.Equal(t, "1", a)
	b, err := s.BlobContents(ctx, tree["b"])
	require.NoError(t, err)
	assert.Equal(t, "22", b)
}

func TestCommitDeletesEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CommitFiles(ctx, map[string]string{"a": "1", "b": "2"}, nil, "first")
	require.NoError(t, err)
	head, err := s.CommitFiles(ctx, nil, []string{"a"}, "drop a")
	require.NoError(t, err)

	tree, err := s.TreeFiles(ctx, head)
	require.NoError(t, err)
	assert.Len(t, tree, 1)
	assert.NotContains(t, tree, "a")
}

func TestLogWalksNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		_, err := s.CommitFiles(ctx, map[string]string{"f": msg}, nil, msg)
		require.NoError(t, err)
	}

	log, err := s.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, "three", log[0].Message)
	assert.Equal(t, "one", log[2].Message)

	limited, err := s.Log(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestIdenticalContentSharesObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CommitFiles(ctx, map[string]string{"a": "same"}, nil, "first")
	require.NoError(t, err)
	objectsBefore, _, err := s.ExportObjects(ctx)
	require.NoError(t, err)

	// Re-committing identical contents adds a commit but no new blob or tree.
	_, err = s.CommitFiles(ctx, map[string]string{"a": "same"}, nil, "second")
	require.NoError(t, err)
	objectsAfter, head, err := s.ExportObjects(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, head)
	assert.Equal(t, len(objectsBefore)+1, len(objectsAfter))
}

func TestExportObjectsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	head, err := s.CommitFiles(ctx, map[string]string{"a": "1"}, nil, "first")
	require.NoError(t, err)

	objects, exportedHead, err := s.ExportObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, exportedHead)
	// One blob, one tree, one commit.
	require.Len(t, objects, 3)
	kinds := map[string]int{}
	for _, o := range objects {
		kinds[o.Kind]++
	}
	assert.Equal(t, map[string]int{KindBlob: 1, KindTree: 1, KindCommit: 1}, kinds)
}

func TestReadCommitRejectsWrongKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	head, err := s.CommitFiles(ctx, map[string]string{"a": "1"}, nil, "first")
	require.NoError(t, err)
	tree, err := s.TreeFiles(ctx, head)
	require.NoError(t, err)

	_, err = s.ReadCommit(ctx, tree["a"])
	assert.ErrorContains(t, err, "not a commit")
	_, err = s.BlobContents(ctx, head)
	assert.ErrorContains(t, err, "not a blob")
	_, err = s.ReadCommit(ctx, "deadbeef")
	assert.ErrorContains(t, err, "not found")
}
