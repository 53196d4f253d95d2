package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/tools"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/vcs"
)

// Session exposes a trimmed capability surface to tools rather than its full
// internals.
var _ tools.Host = (*Session)(nil)

func (s *Session) WebSearch(ctx context.Context, query string) (string, error) {
	return s.search.Search(ctx, query)
}

func (s *Session) RecordFeedback(ctx context.Context, text string) error {
	s.state.Update(ctx, func(st *models.SessionState) {
		st.ProjectUpdates = append(st.ProjectUpdates, text)
	})
	s.bus.Broadcast(events.TypeTextDelta, map[string]string{"text": text})
	return nil
}

func (s *Session) QueueUserRequest(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("request text is required")
	}
	s.state.Update(ctx, func(st *models.SessionState) {
		st.PendingUserInputs = append(st.PendingUserInputs, models.UserInput{Text: text})
	})
	return nil
}

func (s *Session) GetLogs(ctx context.Context, reset bool) (string, error) {
	snap := s.state.Get()
	if snap.SandboxInstanceID == "" {
		return "", errors.New("no running preview instance")
	}
	return s.sandbox.GetLogs(ctx, snap.SandboxInstanceID, reset)
}

func (s *Session) DeployPreview(ctx context.Context) (string, error) {
	if err := s.plugins.beforeDeployment(ctx, s); err != nil {
		s.log.Warn("beforeDeployment hooks reported errors", "error", err)
	}
	result, err := s.deploy.DeployToSandbox(ctx, false)
	if err != nil {
		return "", err
	}
	if err := s.plugins.afterDeployment(ctx, s, result.PreviewURL); err != nil {
		s.log.Warn("afterDeployment hooks reported errors", "error", err)
	}
	return result.PreviewURL, nil
}

func (s *Session) WaitForGeneration(ctx context.Context) error {
	s.mu.Lock()
	done := s.generationRun
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	// A tool dispatched from inside the active run would wait on itself
	// forever.
	if own, ok := ctx.Value(generationRunKey{}).(chan struct{}); ok && own == done {
		return errors.New("wait_for_generation cannot be called from inside the generation run it would wait for")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) WaitForDebug(ctx context.Context) (string, error) {
	s.mu.Lock()
	done := s.debugRun
	s.mu.Unlock()
	if done == nil {
		return s.state.Get().LastDeepDebugTranscript, nil
	}
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

func (s *Session) RenameProject(ctx context.Context, name string) (string, error) {
	if !models.ProjectNameRe.MatchString(name) {
		return "", fmt.Errorf("project name %q must match %s", name, models.ProjectNameRe.String())
	}
	s.state.Update(ctx, func(st *models.SessionState) {
		st.ProjectName = name
	})
	// The running instance keeps its own notion of the project name; a stale
	// one would surface in build output and deploy targets.
	if instanceID := s.state.Get().SandboxInstanceID; instanceID != "" {
		if err := s.sandbox.UpdateProjectName(ctx, instanceID, name); err != nil {
			s.log.Warn("Could not propagate project name to sandbox", "error", err)
		}
	}
	s.bus.Broadcast(events.TypeProjectNameUpdated, map[string]string{"projectName": name})
	return name, nil
}

func (s *Session) ReadFiles(paths []string) []models.FileRecord {
	out := make([]models.FileRecord, 0, len(paths))
	for _, p := range paths {
		if rec, ok := s.files.GetGeneratedFile(p); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Session) ExecCommands(ctx context.Context, commands []string) ([]sandbox.CommandResult, error) {
	return s.deploy.ExecuteCommands(ctx, commands)
}

func (s *Session) GenerateFiles(ctx context.Context, instructions string, paths []string) ([]string, error) {
	return s.generateFiles(ctx, instructions, paths, "generate files: "+truncate(instructions, 60))
}

func (s *Session) GitLog(ctx context.Context, limit int) ([]vcs.Commit, error) {
	return s.vcs.Log(ctx, limit)
}

func (s *Session) GitShow(ctx context.Context, commitHash string) (map[string]string, error) {
	tree, err := s.vcs.TreeFiles(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tree))
	for path, blobHash := range tree {
		contents, err := s.vcs.BlobContents(ctx, blobHash)
		if err != nil {
			return nil, err
		}
		out[path] = contents
	}
	return out, nil
}

func (s *Session) GitDiff(ctx context.Context, base, commit string) (string, error) {
	if commit == "" {
		head, err := s.vcs.Head(ctx)
		if err != nil {
			return "", err
		}
		if head == "" {
			return "", errors.New("no commits yet")
		}
		commit = head
	}
	if base == "" {
		rec, err := s.vcs.ReadCommit(ctx, commit)
		if err != nil {
			return "", err
		}
		base = rec.Parent
	}

	newTree, err := s.GitShow(ctx, commit)
	if err != nil {
		return "", err
	}
	oldTree := map[string]string{}
	if base != "" {
		if oldTree, err = s.GitShow(ctx, base); err != nil {
			return "", err
		}
	}

	paths := make([]string, 0, len(newTree)+len(oldTree))
	for p := range newTree {
		paths = append(paths, p)
	}
	for p := range oldTree {
		if _, ok := newTree[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	dmp := diffmatchpatch.New()
	var out strings.Builder
	for _, p := range paths {
		old, new := oldTree[p], newTree[p]
		if old == new {
			continue
		}
		patches := dmp.PatchMake(old, new)
		if len(patches) == 0 {
			continue
		}
		fmt.Fprintf(&out, "--- %s\n%s", p, dmp.PatchToText(patches))
	}
	return out.String(), nil
}

func (s *Session) AlterBlueprint(ctx context.Context, patch json.RawMessage) (*models.Blueprint, error) {
	var result *models.Blueprint
	var applyErr error
	s.state.Update(ctx, func(st *models.SessionState) {
		if st.App == nil {
			applyErr = errors.New("blueprint is only available in app sessions")
			return
		}
		var bp models.Blueprint
		if st.App.Blueprint != nil {
			bp = st.App.Blueprint.Clone()
		}
		if err := json.Unmarshal(patch, &bp); err != nil {
			applyErr = fmt.Errorf("invalid blueprint patch: %w", err)
			return
		}
		st.App.Blueprint = &bp
		clone := bp.Clone()
		result = &clone
	})
	if applyErr != nil {
		return nil, applyErr
	}
	return result, nil
}

func (s *Session) RegenerateFile(ctx context.Context, path, issues string) (models.FileRecord, error) {
	rec, ok := s.files.GetGeneratedFile(path)
	if !ok {
		return models.FileRecord{}, fmt.Errorf("unknown file %q", path)
	}
	instructions := fmt.Sprintf(
		"Rewrite %s to address these issues:\n%s\n\nCurrent contents:\n%s",
		path, issues, rec.FileContents)
	written, err := s.generateFiles(ctx, instructions, []string{path}, "regenerate "+path)
	if err != nil {
		return models.FileRecord{}, err
	}
	if len(written) == 0 {
		return models.FileRecord{}, fmt.Errorf("regeneration produced no files for %q", path)
	}
	updated, _ := s.files.GetGeneratedFile(path)
	return updated, nil
}

func (s *Session) ConfigureWorkflowMetadata(ctx context.Context, patch models.WorkflowMetadata) (models.WorkflowMetadata, error) {
	var merged models.WorkflowMetadata
	var applyErr error
	s.state.Update(ctx, func(st *models.SessionState) {
		if st.Workflow == nil {
			applyErr = errors.New("workflow metadata is only available in workflow sessions")
			return
		}
		if st.Workflow.WorkflowMetadata == nil {
			st.Workflow.WorkflowMetadata = &models.WorkflowMetadata{}
		}
		st.Workflow.WorkflowMetadata.Merge(patch)
		merged = st.Workflow.WorkflowMetadata.Clone()
	})
	if applyErr != nil {
		return models.WorkflowMetadata{}, applyErr
	}
	return merged, nil
}

func (s *Session) DeepDebug(ctx context.Context, issue string, focusPaths []string) (string, error) {
	return s.runDeepDebug(ctx, issue, focusPaths)
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
