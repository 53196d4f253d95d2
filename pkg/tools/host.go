package tools

import (
	"context"
	"encoding/json"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/vcs"
)

// Host is the capability surface the session exposes to tools. Tools never
// touch session internals directly; everything goes through this interface so
// tool behavior stays testable with a fake host.
type Host interface {
	// WebSearch runs a search and returns rendered results.
	WebSearch(ctx context.Context, query string) (string, error)

	// RecordFeedback stores user-visible feedback produced by the model.
	RecordFeedback(ctx context.Context, text string) error

	// QueueUserRequest enqueues work for the generation pipeline.
	QueueUserRequest(ctx context.Context, text string) error

	// GetLogs returns accumulated sandbox logs, optionally resetting them.
	GetLogs(ctx context.Context, reset bool) (string, error)

	// DeployPreview pushes current files to the sandbox and returns the
	// preview URL.
	DeployPreview(ctx context.Context) (string, error)

	// WaitForGeneration blocks until the active generation run settles.
	// Calling it from within that run is an error, never a wait.
	WaitForGeneration(ctx context.Context) error

	// WaitForDebug blocks until the active debug run settles and returns its
	// transcript.
	WaitForDebug(ctx context.Context) (string, error)

	// RenameProject validates and applies a new project name.
	RenameProject(ctx context.Context, name string) (string, error)

	// ReadFiles returns the records for the requested paths; unknown paths
	// are skipped.
	ReadFiles(paths []string) []models.FileRecord

	// ExecCommands runs shell commands in the sandbox.
	ExecCommands(ctx context.Context, commands []string) ([]sandbox.CommandResult, error)

	// GenerateFiles asks the code generator to produce or rewrite files per
	// the instructions and returns the written paths.
	GenerateFiles(ctx context.Context, instructions string, paths []string) ([]string, error)

	// DeepDebug runs the debug assistant on the issue and returns its
	// transcript. Non-empty focusPaths narrow the investigation to files
	// under those path prefixes.
	DeepDebug(ctx context.Context, issue string, focusPaths []string) (string, error)

	// GitLog returns recent commits, newest first.
	GitLog(ctx context.Context, limit int) ([]vcs.Commit, error)

	// GitShow returns the file tree of a commit as path to contents.
	GitShow(ctx context.Context, commitHash string) (map[string]string, error)

	// GitDiff renders a patch between two commits. An empty commit means
	// HEAD; an empty base means the commit's parent.
	GitDiff(ctx context.Context, base, commit string) (string, error)

	// AlterBlueprint applies a partial blueprint update (app sessions).
	AlterBlueprint(ctx context.Context, patch json.RawMessage) (*models.Blueprint, error)

	// RegenerateFile rewrites one file addressing the reported issues (app
	// sessions).
	RegenerateFile(ctx context.Context, path, issues string) (models.FileRecord, error)

	// ConfigureWorkflowMetadata merges a metadata patch and returns the
	// merged result (workflow sessions).
	ConfigureWorkflowMetadata(ctx context.Context, patch models.WorkflowMetadata) (models.WorkflowMetadata, error)
}
