package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/scaffold"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/tools"
)

// maxToolIterations bounds the workflow tool loop so a model that keeps
// requesting tools cannot run forever.
const maxToolIterations = 24

// workflowController drives conversational workflow generation: a tool loop
// where the model reads, edits, and deploys through the registered tools
// until it answers without requesting any.
type workflowController struct {
	s *Session
}

const workflowSystemPrompt = `You are an expert Cloudflare Workers engineer building a durable Workflow.
The project lives in src/index.ts and exports a class extending WorkflowEntrypoint.
Use the available tools to inspect files, generate code, configure workflow metadata
and resource bindings, run commands, and deploy previews. When the workflow is
complete and its metadata is configured, reply without calling any tool.`

func (c *workflowController) Generate(ctx context.Context) error {
	s := c.s
	if err := s.plugins.onGenerationStart(ctx, s); err != nil {
		s.log.Warn("onGenerationStart hooks reported errors", "error", err)
	}
	s.bus.Broadcast(events.TypeGenerationStarted, map[string]string{"projectType": "workflow"})

	registry := tools.NewRegistry(s.log)
	if err := tools.BuildRegistry(models.ProjectTypeWorkflow, s, registry); err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}
	recorder := s.instrumentTools(registry)

	messages := c.seedMessages(ctx)
	finalText, err := s.runToolLoop(ctx, registry, workflowSystemPrompt, messages)
	if err != nil {
		if isCancelled(err) {
			return nil
		}
		return err
	}
	if finalText != "" {
		s.recordConversation(ctx, models.ConversationMessage{
			Role:       models.RoleAssistant,
			Content:    finalText,
			ToolEvents: recorder.drain(),
		})
	}

	if err := c.regenerateArtifacts(ctx); err != nil {
		s.log.Warn("Failed to regenerate workflow artifacts", "error", err)
	}

	s.state.Update(ctx, func(st *models.SessionState) {
		st.ShouldBeGenerating = false
	})
	s.bus.Broadcast(events.TypeGenerationCompleted, map[string]string{"projectType": "workflow"})
	if err := s.plugins.onGenerationComplete(ctx, s); err != nil {
		s.log.Warn("onGenerationComplete hooks reported errors", "error", err)
	}
	return nil
}

// seedMessages builds the opening transcript from the session query and any
// suggestions queued while idle.
func (c *workflowController) seedMessages(ctx context.Context) []inference.Message {
	s := c.s
	snap := s.state.Get()

	var b strings.Builder
	fmt.Fprintf(&b, "Build this workflow: %s\n\nCurrent project files:\n", snap.Query)
	for _, rec := range snap.GeneratedFilesMap {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", rec.FilePath, rec.FileContents)
	}
	for _, input := range s.drainPendingInputs(ctx) {
		fmt.Fprintf(&b, "\nUser request to incorporate: %s\n", input.Text)
	}

	s.addConversationMessage(ctx, models.RoleUser, snap.Query)
	return []inference.Message{{Role: inference.RoleUser, Content: b.String()}}
}

// regenerateArtifacts rebuilds wrangler.jsonc and README.md from the current
// workflow code and metadata so they always reflect the latest bindings.
func (c *workflowController) regenerateArtifacts(ctx context.Context) error {
	s := c.s
	snap := s.state.Get()
	if snap.Workflow == nil {
		return nil
	}

	code := ""
	if rec, ok := snap.GeneratedFilesMap["src/index.ts"]; ok {
		code = rec.FileContents
	}
	var meta models.WorkflowMetadata
	if snap.Workflow.WorkflowMetadata != nil {
		meta = snap.Workflow.WorkflowMetadata.Clone()
	}

	artifacts := scaffold.WorkflowArtifacts(meta, code, snap.ProjectName)
	records := make([]models.FileRecord, 0, len(artifacts))
	for path, contents := range artifacts {
		records = append(records, models.FileRecord{FilePath: path, FileContents: contents})
	}
	_, err := s.files.SaveGeneratedFiles(ctx, records, "regenerate workflow artifacts")
	return err
}
