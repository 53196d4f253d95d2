package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/cancellation"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/tools"
)

// maxDebugIterations bounds the diagnostic tool loop.
const maxDebugIterations = 12

const debugSystemPrompt = `You are a debugging assistant investigating a live preview of this project.
Use the available tools to read files, run commands, and pull logs. Finish with
a diagnosis and a concrete fix plan. Do not modify files.`

// debugToolNames is the read-only subset exposed to the debug assistant.
var debugToolNames = map[string]bool{
	"read_files":    true,
	"exec_commands": true,
	"get_logs":      true,
}

// runDeepDebug runs one diagnostic investigation. Concurrent calls share one
// run: the second caller blocks until the first finishes and receives the same
// transcript.
func (s *Session) runDeepDebug(ctx context.Context, issue string, focusPaths []string) (string, error) {
	s.mu.Lock()
	if done := s.debugRun; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
			s.mu.Lock()
			transcript, err := s.debugResult, s.debugErr
			s.mu.Unlock()
			return transcript, err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	done := make(chan struct{})
	s.debugRun = done
	s.mu.Unlock()

	dctx := s.cancels.Begin(ctx, cancellation.ScopeDeepDebug)
	transcript, err := s.investigate(dctx, issue, focusPaths)
	s.cancels.Finish(cancellation.ScopeDeepDebug)

	s.mu.Lock()
	s.debugResult, s.debugErr = transcript, err
	s.debugRun = nil
	s.mu.Unlock()
	close(done)
	return transcript, err
}

// investigate gathers runtime errors, then lets the model work through the
// project in a read-only tool loop. Each run continues from the persisted
// transcript of the previous one, and focusPaths narrow the file index to the
// area under suspicion.
func (s *Session) investigate(ctx context.Context, issue string, focusPaths []string) (string, error) {
	registry := tools.NewRegistry(s.log)
	for _, def := range tools.CommonTools(s) {
		if debugToolNames[def.Name] {
			if err := registry.Register(def); err != nil {
				return "", err
			}
		}
	}

	runtimeErrs, err := s.deploy.FetchRuntimeErrors(ctx, true)
	if err != nil {
		s.log.Warn("Could not fetch runtime errors for debug run", "error", err)
	}

	snap := s.state.Get()
	paths := make([]string, 0, len(snap.GeneratedFilesMap))
	for p := range snap.GeneratedFilesMap {
		if matchesFocus(p, focusPaths) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "Investigate this issue: %s\n\nProject files:\n", issue)
	for _, p := range paths {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	if prev := snap.LastDeepDebugTranscript; prev != "" {
		fmt.Fprintf(&b, "\nFindings from the previous investigation, continue from here:\n%s\n", prev)
	}
	if len(runtimeErrs) > 0 {
		b.WriteString("\nRecent runtime errors:\n")
		for _, e := range runtimeErrs {
			fmt.Fprintf(&b, "  %s\n", e.Message)
			if e.Stack != "" {
				fmt.Fprintf(&b, "    %s\n", e.Stack)
			}
		}
	}

	messages := []inference.Message{{Role: inference.RoleUser, Content: b.String()}}
	defs := registry.Definitions()
	var transcript strings.Builder

	for i := 0; i < maxDebugIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		resp, err := s.llm.Complete(ctx, inference.Request{
			Model:    s.model,
			System:   debugSystemPrompt,
			Messages: messages,
			Tools:    defs,
			OnChunk: func(text string) {
				s.bus.Broadcast(events.TypeTextDelta, map[string]string{"text": text})
			},
		})
		if err != nil {
			if pe, ok := inference.AsPartial(err); ok && pe.Text != "" {
				transcript.WriteString(pe.Text)
				break
			}
			return "", fmt.Errorf("debug inference failed: %w", err)
		}
		if resp.Text != "" {
			transcript.WriteString(resp.Text)
			transcript.WriteString("\n")
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, inference.Message{
			Role:      inference.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		results := make([]inference.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, registry.Dispatch(ctx, call))
		}
		messages = append(messages, inference.Message{
			Role:        inference.RoleUser,
			ToolResults: results,
		})
	}

	out := strings.TrimSpace(transcript.String())
	if out != "" {
		s.state.Update(ctx, func(st *models.SessionState) {
			st.LastDeepDebugTranscript = out
		})
	}
	return out, nil
}

// matchesFocus reports whether path falls under any of the focus prefixes.
// No prefixes means everything matches.
func matchesFocus(path string, focusPaths []string) bool {
	if len(focusPaths) == 0 {
		return true
	}
	for _, prefix := range focusPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
