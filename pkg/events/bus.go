package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// defaultWriteTimeout bounds a single channel write. A stalled client is
// detached rather than allowed to block the sender.
const defaultWriteTimeout = 10 * time.Second

// sendQueueDepth buffers frames per channel so one slow reader does not
// backpressure the session actor.
const sendQueueDepth = 256

// Sink is one attached client channel. Implemented by the WebSocket adapter;
// tests attach in-memory sinks.
type Sink interface {
	// Send writes one frame. Must respect ctx cancellation.
	Send(ctx context.Context, data []byte) error
	// Close releases the underlying transport.
	Close() error
}

// channel pairs a sink with its writer goroutine state. All frames for the
// channel pass through sendQ, which guarantees FIFO per channel.
type channel struct {
	id     string
	sink   Sink
	sendQ  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// Bus broadcasts typed events to all channels attached to one session.
// Subscribers hold a non-owning reference to the session: detaching a channel
// never mutates session state.
type Bus struct {
	mu           sync.Mutex
	channels     map[string]*channel
	log          *slog.Logger
	writeTimeout time.Duration
	closed       bool
}

// NewBus creates an event bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		channels:     make(map[string]*channel),
		log:          log,
		writeTimeout: defaultWriteTimeout,
	}
}

// Attach registers a sink and returns its channel id. The writer goroutine
// drains the channel's queue until Detach, Close, or a write failure.
func (b *Bus) Attach(sink Sink) string {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		id:     id,
		sink:   sink,
		sendQ:  make(chan []byte, sendQueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = sink.Close()
		return id
	}
	b.channels[id] = ch
	b.mu.Unlock()

	go b.writeLoop(ch)
	return id
}

// Detach removes a channel and closes its sink.
func (b *Bus) Detach(id string) {
	b.mu.Lock()
	ch, ok := b.channels[id]
	if ok {
		delete(b.channels, id)
	}
	b.mu.Unlock()
	if ok {
		ch.cancel()
		_ = ch.sink.Close()
	}
}

// ChannelCount returns the number of attached channels.
func (b *Bus) ChannelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// Broadcast serializes {type, ...data} once and enqueues it on every channel.
// A full queue or serialization failure on one channel never blocks others.
func (b *Bus) Broadcast(t Type, data any) {
	frame, err := encodeFrame(t, data)
	if err != nil {
		b.log.Error("Failed to encode event frame", "type", string(t), "error", err)
		return
	}
	b.mu.Lock()
	targets := make([]*channel, 0, len(b.channels))
	for _, ch := range b.channels {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch.sendQ <- frame:
		default:
			// Queue overflow: the client cannot keep up. Drop the channel, not
			// the event stream for everyone else.
			b.log.Warn("Event channel queue overflow, detaching", "channel_id", ch.id, "type", string(t))
			b.Detach(ch.id)
		}
	}
}

// SendError delivers a per-channel error frame to a single channel.
func (b *Bus) SendError(channelID, msg string) {
	frame, err := encodeFrame(TypeError, map[string]string{"error": msg})
	if err != nil {
		b.log.Error("Failed to encode error frame", "error", err)
		return
	}
	b.mu.Lock()
	ch, ok := b.channels[channelID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch.sendQ <- frame:
	default:
		b.Detach(ch.id)
	}
}

// SendTo delivers a typed frame to a single channel (replies to control
// frames go only to the channel that sent them).
func (b *Bus) SendTo(channelID string, t Type, data any) {
	frame, err := encodeFrame(t, data)
	if err != nil {
		b.log.Error("Failed to encode event frame", "type", string(t), "error", err)
		return
	}
	b.mu.Lock()
	ch, ok := b.channels[channelID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch.sendQ <- frame:
	default:
		b.Detach(ch.id)
	}
}

// Close detaches every channel and rejects future attaches.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	chans := make([]*channel, 0, len(b.channels))
	for _, ch := range b.channels {
		chans = append(chans, ch)
	}
	b.channels = make(map[string]*channel)
	b.mu.Unlock()
	for _, ch := range chans {
		ch.cancel()
		_ = ch.sink.Close()
	}
}

func (b *Bus) writeLoop(ch *channel) {
	for {
		select {
		case <-ch.ctx.Done():
			return
		case frame := <-ch.sendQ:
			wctx, cancel := context.WithTimeout(ch.ctx, b.writeTimeout)
			err := ch.sink.Send(wctx, frame)
			cancel()
			if err != nil {
				b.log.Debug("Event channel write failed, detaching", "channel_id", ch.id, "error", err)
				b.Detach(ch.id)
				return
			}
		}
	}
}

// encodeFrame marshals data and injects the type discriminator at the top
// level, so the wire frame is {type, ...data}.
func encodeFrame(t Type, data any) ([]byte, error) {
	m := map[string]any{}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	m["type"] = string(t)
	return json.Marshal(m)
}

// WSSink adapts a WebSocket connection to the Sink interface.
type WSSink struct {
	Conn *websocket.Conn
}

// Send writes one text frame.
func (s *WSSink) Send(ctx context.Context, data []byte) error {
	return s.Conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the connection with a normal status.
func (s *WSSink) Close() error {
	return s.Conn.Close(websocket.StatusNormalClosure, "")
}
