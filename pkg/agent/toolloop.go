package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/tools"
)

// runToolLoop alternates inference and tool dispatch until the model stops
// requesting tools or the iteration cap is reached. A partial transcript from
// a broken stream is kept as the final answer. Text deltas stream to all
// channels.
func (s *Session) runToolLoop(ctx context.Context, registry *tools.Registry, system string, messages []inference.Message) (string, error) {
	defs := registry.Definitions()

	for i := 0; i < maxToolIterations; i++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		resp, err := s.llm.Complete(ctx, inference.Request{
			Model:    s.model,
			System:   system,
			Messages: messages,
			Tools:    defs,
			OnChunk: func(text string) {
				s.bus.Broadcast(events.TypeTextDelta, map[string]string{"text": text})
			},
		})
		if err != nil {
			if pe, ok := inference.AsPartial(err); ok && pe.Text != "" {
				s.log.Warn("Keeping partial transcript after stream failure", "error", err)
				return pe.Text, nil
			}
			return "", fmt.Errorf("tool loop inference failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		messages = append(messages, inference.Message{
			Role:      inference.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		results := make([]inference.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.log.Info("Dispatching tool", "tool", call.Name)
			results = append(results, registry.Dispatch(ctx, call))
		}
		messages = append(messages, inference.Message{
			Role:        inference.RoleUser,
			ToolResults: results,
		})
	}

	s.log.Warn("Tool loop hit iteration cap", "iterations", maxToolIterations)
	return "", nil
}

// toolEventRecorder accumulates tool activity during a loop for attachment to
// the closing assistant conversation message.
type toolEventRecorder struct {
	mu     sync.Mutex
	events []models.ToolEvent
}

// instrumentTools installs dispatch observers on every registered tool so the
// client can render a tool activity feed alongside the transcript.
func (s *Session) instrumentTools(r *tools.Registry) *toolEventRecorder {
	rec := &toolEventRecorder{}
	r.Each(func(def *tools.Definition) {
		name := def.Name
		def.OnStart = func(_ context.Context, _ json.RawMessage) {
			rec.add(models.ToolEvent{Name: name, Status: "start"})
		}
		def.OnComplete = func(_ context.Context, result string, err error) {
			ev := models.ToolEvent{Name: name, Status: "success", Detail: truncate(result, 200)}
			if err != nil {
				ev.Status = "error"
				ev.Detail = err.Error()
			}
			rec.add(ev)
		}
	})
	return rec
}

func (rec *toolEventRecorder) add(ev models.ToolEvent) {
	rec.mu.Lock()
	rec.events = append(rec.events, ev)
	rec.mu.Unlock()
}

// drain returns the recorded events and resets the recorder.
func (rec *toolEventRecorder) drain() []models.ToolEvent {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := rec.events
	rec.events = nil
	return out
}
