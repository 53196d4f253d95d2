package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/tools"
)

// appController drives phasic app generation: plan a blueprint, implement
// phases one at a time with a commit and deploy per phase, then review.
type appController struct {
	s *Session
}

func (c *appController) Generate(ctx context.Context) error {
	s := c.s
	if err := s.plugins.onGenerationStart(ctx, s); err != nil {
		s.log.Warn("onGenerationStart hooks reported errors", "error", err)
	}
	s.bus.Broadcast(events.TypeGenerationStarted, map[string]string{"projectType": "app"})

	if err := c.ensureBlueprint(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			// Cancelled outcome: leave the in-flight phase incomplete and
			// stop without emitting completion events.
			return nil
		}
		snap := s.state.Get()
		if !snap.ShouldBeGenerating {
			return nil
		}
		phase, idx := nextPhase(snap)
		if phase == nil || snap.App.PhasesCounter >= models.MaxPhases {
			break
		}
		if err := c.implementPhase(ctx, *phase, idx); err != nil {
			if isCancelled(err) {
				return nil
			}
			return err
		}
	}

	if err := c.review(ctx); err != nil {
		if isCancelled(err) {
			return nil
		}
		return err
	}
	c.finalize(ctx)
	return nil
}

// ensureBlueprint plans the project when no blueprint exists yet, seeding the
// phase records from the plan.
func (c *appController) ensureBlueprint(ctx context.Context) error {
	s := c.s
	if s.state.Get().App.Blueprint != nil {
		return nil
	}

	s.state.Update(ctx, func(st *models.SessionState) {
		st.App.CurrentDevState = models.DevStatePhaseGenerating
	})
	s.bus.Broadcast(events.TypePhaseGenerating, map[string]string{"phase": "blueprint"})

	snap := s.state.Get()
	prompt := fmt.Sprintf(`Plan a web application for this request:

%s

The project scaffold already exists. Plan an initial MVP phase plus follow-up
phases, at most %d phases total.%s`, snap.Query, models.MaxPhases, blueprintOutputContract)

	resp, err := s.llm.Complete(ctx, inference.Request{
		Model:  s.model,
		System: "You are an expert software architect planning incremental builds.",
		Messages: []inference.Message{
			{Role: inference.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return fmt.Errorf("blueprint inference failed: %w", err)
	}
	bp, err := parseBlueprint(resp.Text)
	if err != nil {
		return fmt.Errorf("failed to parse blueprint: %w", err)
	}

	s.state.Update(ctx, func(st *models.SessionState) {
		st.App.Blueprint = bp
		st.App.GeneratedPhases = seedPhases(bp)
	})
	s.bus.Broadcast(events.TypePhaseGenerated, map[string]any{
		"title":  bp.Title,
		"phases": len(seedPhases(bp)),
	})
	return nil
}

const blueprintOutputContract = `

Respond with ONLY a JSON object:
{"title": "...", "description": "...", "frameworks": ["..."],
 "initialPhase": {"name": "...", "description": "...", "files": [{"path": "...", "purpose": "..."}]},
 "phases": [{"name": "...", "description": "...", "files": [{"path": "...", "purpose": "..."}], "lastPhase": false}]}`

// seedPhases flattens the blueprint into ordered phase records, bounded by
// the phase cap.
func seedPhases(bp *models.Blueprint) []models.PhaseRecord {
	var out []models.PhaseRecord
	if bp.InitialPhase != nil {
		out = append(out, models.PhaseRecord{PhaseConcept: bp.InitialPhase.Clone()})
	}
	for _, p := range bp.Phases {
		if len(out) >= models.MaxPhases {
			break
		}
		out = append(out, models.PhaseRecord{PhaseConcept: p.Clone()})
	}
	if len(out) > 0 {
		out[len(out)-1].LastPhase = true
	}
	return out
}

// nextPhase returns the first non-completed phase record, or nil when all
// phases are done.
func nextPhase(snap models.SessionState) (*models.PhaseRecord, int) {
	for i, p := range snap.App.GeneratedPhases {
		if !p.Completed {
			rec := p.Clone()
			return &rec, i
		}
	}
	return nil, -1
}

// implementPhase generates the phase's files, marks it complete, commits, and
// refreshes the preview. Queued user suggestions are drained into the prompt
// at this boundary.
func (c *appController) implementPhase(ctx context.Context, phase models.PhaseRecord, idx int) error {
	s := c.s

	s.state.Update(ctx, func(st *models.SessionState) {
		st.App.CurrentDevState = models.DevStatePhaseImplementing
		cp := phase.PhaseConcept.Clone()
		st.App.CurrentPhase = &cp
	})
	s.bus.Broadcast(events.TypePhaseImplementing, map[string]string{"phase": phase.Name})
	if err := s.plugins.beforeFilesGenerated(ctx, s, phase.Name); err != nil {
		s.log.Warn("beforeFilesGenerated hooks reported errors", "error", err)
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Implement phase %q: %s\n", phase.Name, phase.Description)
	for _, input := range s.drainPendingInputs(ctx) {
		fmt.Fprintf(&prompt, "\nUser request to incorporate: %s\n", input.Text)
	}

	paths := make([]string, 0, len(phase.Files))
	for _, f := range phase.Files {
		paths = append(paths, f.Path)
	}

	written, err := s.generateFiles(ctx, prompt.String(), paths, "phase: "+phase.Name)
	if err != nil {
		return err
	}
	if err := s.plugins.afterFilesGenerated(ctx, s, phase.Name, written); err != nil {
		s.log.Warn("afterFilesGenerated hooks reported errors", "error", err)
	}

	s.state.Update(ctx, func(st *models.SessionState) {
		if idx < len(st.App.GeneratedPhases) {
			st.App.GeneratedPhases[idx].Completed = true
		}
		st.App.PhasesCounter++
		st.App.CurrentPhase = nil
		if idx == 0 {
			st.App.MVPGenerated = true
		}
	})
	s.bus.Broadcast(events.TypePhaseImplemented, map[string]any{
		"phase": phase.Name,
		"files": written,
	})
	s.drainProjectUpdates(ctx)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := s.DeployPreview(ctx); err != nil {
		// A failed preview refresh does not fail the phase.
		s.log.Warn("Preview refresh after phase failed", "phase", phase.Name, "error", err)
	}
	return nil
}

// review runs diagnostics and regenerates offending files, bounded by the
// review-cycle cap.
func (c *appController) review(ctx context.Context) error {
	s := c.s
	s.state.Update(ctx, func(st *models.SessionState) {
		st.App.CurrentDevState = models.DevStateReviewing
		st.App.ReviewingInitiated = true
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snap := s.state.Get()
		if snap.App.ReviewCycles >= models.MaxReviewCycles {
			return nil
		}

		report, err := s.deploy.RunStaticAnalysis(ctx, nil)
		if err != nil {
			s.log.Warn("Static analysis unavailable during review", "error", err)
			return nil
		}
		runtimeErrs, _ := s.deploy.FetchRuntimeErrors(ctx, true)

		issues := collectIssues(report.LintIssues, report.TypeCheckIssues, runtimeErrs)
		if len(issues) == 0 {
			return nil
		}
		if snap.AgentMode == models.AgentModeSmart {
			s.state.Update(ctx, func(st *models.SessionState) {
				st.App.ReviewCycles++
			})
			if err := c.smartReview(ctx, issues); err != nil {
				if isCancelled(err) {
					return err
				}
				s.log.Warn("Smart review pass failed", "error", err)
			}
			return nil
		}

		s.state.Update(ctx, func(st *models.SessionState) {
			st.App.ReviewCycles++
		})
		cycle := s.state.Get().App.ReviewCycles
		prompt := fmt.Sprintf("Fix these issues found during review:\n%s", strings.Join(issues, "\n"))
		if _, err := s.generateFiles(ctx, prompt, nil, fmt.Sprintf("review cycle %d", cycle)); err != nil {
			if isCancelled(err) {
				return err
			}
			s.log.Warn("Review regeneration failed", "error", err)
			return nil
		}
	}
}

const smartReviewSystemPrompt = `You are a pragmatic code reviewer finishing a generated web application.
Decide which of the reported findings are worth fixing now; drop stylistic
nits and anything that does not affect correctness. Fix the ones that matter
using the available tools, then reply without calling any tool. Reply
immediately when nothing needs fixing.`

// smartReview hands the review findings to the model with the full app tool
// set, letting it fix what it judges worth fixing and end the review in one
// pass. Deterministic mode never takes this path; it fixes everything the
// analyzers report.
func (c *appController) smartReview(ctx context.Context, issues []string) error {
	s := c.s
	registry := tools.NewRegistry(s.log)
	if err := tools.BuildRegistry(models.ProjectTypeApp, s, registry); err != nil {
		return fmt.Errorf("failed to build review tool registry: %w", err)
	}
	recorder := s.instrumentTools(registry)

	prompt := fmt.Sprintf("These issues were found while reviewing the application:\n%s",
		strings.Join(issues, "\n"))
	finalText, err := s.runToolLoop(ctx, registry, smartReviewSystemPrompt,
		[]inference.Message{{Role: inference.RoleUser, Content: prompt}})
	if err != nil {
		return err
	}
	if finalText != "" {
		s.recordConversation(ctx, models.ConversationMessage{
			Role:       models.RoleAssistant,
			Content:    finalText,
			ToolEvents: recorder.drain(),
		})
	}
	return nil
}

func collectIssues(lint, typecheck []sandbox.Issue, runtimeErrs []sandbox.RuntimeError) []string {
	var out []string
	for _, i := range lint {
		out = append(out, fmt.Sprintf("%s:%d %s", i.FilePath, i.Line, i.Message))
	}
	for _, i := range typecheck {
		out = append(out, fmt.Sprintf("%s:%d %s", i.FilePath, i.Line, i.Message))
	}
	for _, e := range runtimeErrs {
		out = append(out, "runtime: "+e.Message)
	}
	return out
}

// finalize returns the state machine to IDLE and emits completion.
func (c *appController) finalize(ctx context.Context) {
	s := c.s
	s.state.Update(ctx, func(st *models.SessionState) {
		st.App.CurrentDevState = models.DevStateFinalizing
	})
	s.state.Update(ctx, func(st *models.SessionState) {
		st.App.CurrentDevState = models.DevStateIdle
		st.ShouldBeGenerating = false
	})
	s.bus.Broadcast(events.TypeGenerationCompleted, map[string]any{
		"phasesCompleted": s.state.Get().App.PhasesCounter,
	})
	if err := s.plugins.onGenerationComplete(ctx, s); err != nil {
		s.log.Warn("onGenerationComplete hooks reported errors", "error", err)
	}
}

// parseBlueprint extracts the JSON blueprint object from model output.
func parseBlueprint(text string) (*models.Blueprint, error) {
	raw := strings.TrimSpace(text)
	if i := strings.Index(raw, "```"); i >= 0 {
		raw = raw[i+3:]
		raw = strings.TrimPrefix(raw, "json")
		if j := strings.Index(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
		raw = strings.TrimSpace(raw)
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object found in model output")
	}
	var bp models.Blueprint
	if err := json.Unmarshal([]byte(raw[start:end+1]), &bp); err != nil {
		return nil, err
	}
	if bp.InitialPhase == nil && len(bp.Phases) == 0 {
		return nil, errors.New("blueprint has no phases")
	}
	return &bp, nil
}
