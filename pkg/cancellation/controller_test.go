package cancellation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAndCancel(t *testing.T) {
	c := NewController()
	ctx := c.Begin(context.Background(), ScopeGeneration)
	require.True(t, c.Active(ScopeGeneration))

	assert.True(t, c.Cancel(ScopeGeneration))
	assert.Error(t, ctx.Err())
	assert.False(t, c.Active(ScopeGeneration))
}

func TestCancelIsIdempotent(t *testing.T) {
	c := NewController()
	c.Begin(context.Background(), ScopeGeneration)

	assert.True(t, c.Cancel(ScopeGeneration))
	assert.False(t, c.Cancel(ScopeGeneration))
	assert.False(t, c.Cancel(ScopeGeneration))
}

func TestCancelInactiveScopeIsNoOp(t *testing.T) {
	c := NewController()
	assert.False(t, c.Cancel(ScopeDeepDebug))
}

func TestBeginReplacesPreviousScope(t *testing.T) {
	c := NewController()
	first := c.Begin(context.Background(), ScopeGeneration)
	second := c.Begin(context.Background(), ScopeGeneration)

	assert.Error(t, first.Err())
	assert.NoError(t, second.Err())
}

func TestScopesAreIndependent(t *testing.T) {
	c := NewController()
	gen := c.Begin(context.Background(), ScopeGeneration)
	dbg := c.Begin(context.Background(), ScopeDeepDebug)

	c.Cancel(ScopeGeneration)

	assert.Error(t, gen.Err())
	assert.NoError(t, dbg.Err())
}

func TestCancelAll(t *testing.T) {
	c := NewController()
	gen := c.Begin(context.Background(), ScopeGeneration)
	dbg := c.Begin(context.Background(), ScopeDeepDebug)

	c.CancelAll()

	assert.Error(t, gen.Err())
	assert.Error(t, dbg.Err())
	assert.False(t, c.Active(ScopeGeneration))
	assert.False(t, c.Active(ScopeDeepDebug))
}
