package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

// CommonTools returns the tool set shared by both project types.
func CommonTools(h Host) []*Definition {
	return []*Definition{
		{
			Name:        "web_search",
			Description: "Search the web and return rendered results for a query.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"query": {"type": "string", "minLength": 1}},
				"required": ["query"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Query string `json:"query"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				return h.WebSearch(ctx, args.Query)
			},
		},
		{
			Name:        "feedback",
			Description: "Record feedback or a status update to surface to the user.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"text": {"type": "string", "minLength": 1}},
				"required": ["text"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				return nil, h.RecordFeedback(ctx, args.Text)
			},
		},
		{
			Name:        "queue_request",
			Description: "Queue a change request for the generation pipeline to pick up at the next safe point.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"request": {"type": "string", "minLength": 1}},
				"required": ["request"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Request string `json:"request"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				return nil, h.QueueUserRequest(ctx, args.Request)
			},
		},
		{
			Name:        "get_logs",
			Description: "Fetch accumulated logs from the running preview instance.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"reset": {"type": "boolean"}},
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Reset bool `json:"reset"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				logs, err := h.GetLogs(ctx, args.Reset)
				if err != nil {
					return nil, err
				}
				return map[string]string{"logs": logs}, nil
			},
		},
		{
			Name:        "deploy_preview",
			Description: "Deploy the current generated files to the sandbox preview.",
			Schema:      json.RawMessage(`{"type": "object", "additionalProperties": false}`),
			Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
				url, err := h.DeployPreview(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{"previewUrl": url}, nil
			},
		},
		{
			Name:        "wait_for_generation",
			Description: "Wait for the active code generation run to finish before continuing.",
			Schema:      json.RawMessage(`{"type": "object", "additionalProperties": false}`),
			Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return nil, h.WaitForGeneration(ctx)
			},
		},
		{
			Name:        "wait_for_debug",
			Description: "Wait for the active debug run to finish and return its transcript.",
			Schema:      json.RawMessage(`{"type": "object", "additionalProperties": false}`),
			Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
				transcript, err := h.WaitForDebug(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{"transcript": transcript}, nil
			},
		},
		{
			Name:        "rename_project",
			Description: "Rename the project. Names are lowercase alphanumeric with dashes or underscores, 3 to 50 characters.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"projectName": {"type": "string", "minLength": 3, "maxLength": 50}},
				"required": ["projectName"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					ProjectName string `json:"projectName"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				name, err := h.RenameProject(ctx, args.ProjectName)
				if err != nil {
					return nil, err
				}
				return map[string]string{"projectName": name}, nil
			},
		},
		{
			Name:        "read_files",
			Description: "Read the current contents of one or more generated files.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"paths": {"type": "array", "items": {"type": "string"}, "minItems": 1}},
				"required": ["paths"],
				"additionalProperties": false
			}`),
			Run: func(_ context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Paths []string `json:"paths"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				records := h.ReadFiles(args.Paths)
				out := make([]map[string]string, 0, len(records))
				for _, rec := range records {
					out = append(out, map[string]string{
						"filePath":     rec.FilePath,
						"fileContents": rec.FileContents,
					})
				}
				return map[string]any{"files": out}, nil
			},
		},
		{
			Name:        "exec_commands",
			Description: "Execute shell commands in the preview sandbox and return their output.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"commands": {"type": "array", "items": {"type": "string"}, "minItems": 1}},
				"required": ["commands"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Commands []string `json:"commands"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				results, err := h.ExecCommands(ctx, args.Commands)
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": results}, nil
			},
		},
		{
			Name:        "generate_files",
			Description: "Generate or rewrite project files according to the instructions.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"instructions": {"type": "string", "minLength": 1},
					"paths": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["instructions"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Instructions string   `json:"instructions"`
					Paths        []string `json:"paths"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				written, err := h.GenerateFiles(ctx, args.Instructions, args.Paths)
				if err != nil {
					return nil, err
				}
				return map[string]any{"writtenPaths": written}, nil
			},
		},
		{
			Name:        "deep_debugger",
			Description: "Run the autonomous debug assistant on a described issue and return its findings. Later runs continue from the previous transcript; focusPaths narrow the investigation to matching file prefixes.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"issue": {"type": "string", "minLength": 1},
					"focusPaths": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["issue"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Issue      string   `json:"issue"`
					FocusPaths []string `json:"focusPaths"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				transcript, err := h.DeepDebug(ctx, args.Issue, args.FocusPaths)
				if err != nil {
					return nil, err
				}
				return map[string]string{"transcript": transcript}, nil
			},
		},
		{
			Name:        "git",
			Description: "Inspect project history. Supported subcommands: log, show, diff.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"subcommand": {"type": "string", "enum": ["log", "show", "diff"]},
					"commit": {"type": "string"},
					"base": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50}
				},
				"required": ["subcommand"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Subcommand string `json:"subcommand"`
					Commit     string `json:"commit"`
					Base       string `json:"base"`
					Limit      int    `json:"limit"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				switch args.Subcommand {
				case "log":
					limit := args.Limit
					if limit <= 0 {
						limit = 20
					}
					commits, err := h.GitLog(ctx, limit)
					if err != nil {
						return nil, err
					}
					return map[string]any{"commits": commits}, nil
				case "show":
					if args.Commit == "" {
						return nil, fmt.Errorf("git show requires a commit hash")
					}
					files, err := h.GitShow(ctx, args.Commit)
					if err != nil {
						return nil, err
					}
					return map[string]any{"files": files}, nil
				case "diff":
					patch, err := h.GitDiff(ctx, args.Base, args.Commit)
					if err != nil {
						return nil, err
					}
					return map[string]string{"patch": patch}, nil
				default:
					return nil, fmt.Errorf("unsupported git subcommand %q", args.Subcommand)
				}
			},
		},
	}
}

// AppTools returns the tools only available in app sessions.
func AppTools(h Host) []*Definition {
	return []*Definition{
		{
			Name:        "alter_blueprint",
			Description: "Apply a partial update to the app blueprint.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"patch": {"type": "object"}},
				"required": ["patch"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Patch json.RawMessage `json:"patch"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				bp, err := h.AlterBlueprint(ctx, args.Patch)
				if err != nil {
					return nil, err
				}
				return map[string]any{"blueprint": bp}, nil
			},
		},
		{
			Name:        "regenerate_file",
			Description: "Regenerate one file to address reported issues.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"issues": {"type": "string", "minLength": 1}
				},
				"required": ["path", "issues"],
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var args struct {
					Path   string `json:"path"`
					Issues string `json:"issues"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, err
				}
				rec, err := h.RegenerateFile(ctx, args.Path, args.Issues)
				if err != nil {
					return nil, err
				}
				return map[string]string{"filePath": rec.FilePath, "lastDiff": rec.LastDiff}, nil
			},
		},
	}
}

// WorkflowTools returns the tools only available in workflow sessions.
func WorkflowTools(h Host) []*Definition {
	return []*Definition{
		{
			Name:        "configure_workflow_metadata",
			Description: "Merge a partial update into the workflow metadata. Scalars replace, maps merge per key, nothing is deleted.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"description": {"type": "string"},
					"paramsSchema": {"type": "object"},
					"envVars": {"type": "object", "additionalProperties": {"type": "string"}},
					"secrets": {"type": "object", "additionalProperties": {"type": "string"}},
					"resources": {
						"type": "object",
						"additionalProperties": {
							"type": "object",
							"properties": {
								"kind": {"type": "string", "enum": ["kv", "r2", "d1", "queue", "ai"]},
								"name": {"type": "string"}
							},
							"required": ["kind"],
							"additionalProperties": false
						}
					}
				},
				"additionalProperties": false
			}`),
			Run: func(ctx context.Context, input json.RawMessage) (any, error) {
				var patch models.WorkflowMetadata
				if err := json.Unmarshal(input, &patch); err != nil {
					return nil, err
				}
				merged, err := h.ConfigureWorkflowMetadata(ctx, patch)
				if err != nil {
					return nil, err
				}
				return map[string]any{"workflowMetadata": merged}, nil
			},
		},
	}
}

// BuildRegistry assembles the full registry for a project type.
func BuildRegistry(projectType models.ProjectType, h Host, r *Registry) error {
	if err := r.RegisterAll(CommonTools(h)); err != nil {
		return err
	}
	switch projectType {
	case models.ProjectTypeApp:
		return r.RegisterAll(AppTools(h))
	case models.ProjectTypeWorkflow:
		return r.RegisterAll(WorkflowTools(h))
	default:
		return fmt.Errorf("unknown project type %q", projectType)
	}
}
