package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink collects frames in memory.
type memSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   bool
}

func (m *memSink) Send(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink failure")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.frames = append(m.frames, cp)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) snapshot() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

func waitFrames(t *testing.T, s *memSink, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames := s.snapshot()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, got %d", n, len(s.snapshot()))
	return nil
}

func TestBroadcastInjectsType(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()
	sink := &memSink{}
	bus.Attach(sink)

	bus.Broadcast(TypeFileGenerated, map[string]any{"filePath": "src/index.ts"})

	frames := waitFrames(t, sink, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, "file_generated", got["type"])
	assert.Equal(t, "src/index.ts", got["filePath"])
}

func TestBroadcastReachesAllChannels(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()
	a := &memSink{}
	b := &memSink{}
	bus.Attach(a)
	bus.Attach(b)
	require.Equal(t, 2, bus.ChannelCount())

	bus.Broadcast(TypeGenerationStarted, nil)

	waitFrames(t, a, 1)
	waitFrames(t, b, 1)
}

func TestPerChannelFIFO(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()
	sink := &memSink{}
	bus.Attach(sink)

	const n = 50
	for i := 0; i < n; i++ {
		bus.Broadcast(TypeTextDelta, map[string]any{"seq": i})
	}

	frames := waitFrames(t, sink, n)
	for i := 0; i < n; i++ {
		var got map[string]any
		require.NoError(t, json.Unmarshal(frames[i], &got))
		assert.Equal(t, float64(i), got["seq"], "frame %d out of order", i)
	}
}

func TestSendErrorTargetsOneChannel(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()
	a := &memSink{}
	b := &memSink{}
	idA := bus.Attach(a)
	bus.Attach(b)

	bus.SendError(idA, "bad frame")

	frames := waitFrames(t, a, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "bad frame", got["error"])
	assert.Empty(t, b.snapshot())
}

func TestDetachClosesSink(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()
	sink := &memSink{}
	id := bus.Attach(sink)

	bus.Detach(id)

	assert.Equal(t, 0, bus.ChannelCount())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
}

func TestWriteFailureDetachesOnlyFailingChannel(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()
	bad := &memSink{fail: true}
	good := &memSink{}
	bus.Attach(bad)
	bus.Attach(good)

	bus.Broadcast(TypeGenerationCompleted, nil)

	waitFrames(t, good, 1)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && bus.ChannelCount() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, bus.ChannelCount())
}

func TestCloseDetachesEverything(t *testing.T) {
	bus := NewBus(slog.Default())
	a := &memSink{}
	bus.Attach(a)

	bus.Close()

	assert.Equal(t, 0, bus.ChannelCount())
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	assert.True(t, closed)
}
