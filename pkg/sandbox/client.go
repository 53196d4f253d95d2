// Package sandbox defines the client contract for the remote execution
// service that hosts generated projects: instance provisioning, file sync,
// command execution, log and error retrieval, static analysis, and the
// external-cloud deploy endpoint.
package sandbox

import "context"

// ErrPreviewExpired is the sentinel error string the service returns when a
// sandbox instance has been reclaimed. Callers re-provision and retry once.
const ErrPreviewExpired = "PREVIEW_EXPIRED"

// CreateInstanceRequest provisions a new instance from a template.
type CreateInstanceRequest struct {
	TemplateName string            `json:"templateName"`
	ProjectName  string            `json:"projectName"`
	EnvVars      map[string]string `json:"envVars,omitempty"`
}

// Instance describes a provisioned sandbox.
type Instance struct {
	ID          string `json:"id"`
	PreviewURL  string `json:"previewUrl"`
	TunnelURL   string `json:"tunnelUrl,omitempty"`
	ProcessID   string `json:"processId,omitempty"`
	Pending     bool   `json:"pending"`
}

// File is one file to write into the instance.
type File struct {
	FilePath     string `json:"filePath"`
	FileContents string `json:"fileContents"`
}

// WriteResult reports the outcome for one file path.
type WriteResult struct {
	FilePath string `json:"filePath"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// CommandResult reports one executed command.
type CommandResult struct {
	Command  string `json:"command"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode"`
}

// RuntimeError is one captured runtime failure from the running instance.
type RuntimeError struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Issue is one static-analysis finding.
type Issue struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
	RuleID   string `json:"ruleId,omitempty"`
}

// AnalysisReport bundles lint and type-check results.
type AnalysisReport struct {
	LintIssues      []Issue `json:"lintIssues"`
	TypeCheckIssues []Issue `json:"typeCheckIssues"`
}

// CloudflareDeployRequest promotes an instance's build to the external cloud.
// Account credentials ride along so the service can act on the user's behalf.
type CloudflareDeployRequest struct {
	InstanceID  string `json:"-"`
	ProjectName string `json:"projectName"`
	AccountID   string `json:"accountId,omitempty"`
	APIToken    string `json:"apiToken,omitempty"`
}

// CloudflareDeployResult is the outcome of an external-cloud deploy request.
type CloudflareDeployResult struct {
	Success     bool   `json:"success"`
	DeployedURL string `json:"deployedUrl,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Client is the sandbox service contract. Implementations must be safe for
// concurrent use; every call respects ctx cancellation.
type Client interface {
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error)
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	WriteFiles(ctx context.Context, instanceID string, files []File) ([]WriteResult, error)
	// GetFiles reads files back from the instance. Paths the instance does
	// not have are omitted from the result.
	GetFiles(ctx context.Context, instanceID string, paths []string) ([]File, error)
	// UpdateProjectName renames the project inside the instance so build
	// output and deploy targets follow the session's name.
	UpdateProjectName(ctx context.Context, instanceID string, name string) error
	ExecuteCommands(ctx context.Context, instanceID string, commands []string) ([]CommandResult, error)
	GetLogs(ctx context.Context, instanceID string, reset bool) (string, error)
	GetErrors(ctx context.Context, instanceID string, clear bool) ([]RuntimeError, error)
	RunAnalysis(ctx context.Context, instanceID string, files []string) (*AnalysisReport, error)
	DeployToCloudflare(ctx context.Context, req CloudflareDeployRequest) (*CloudflareDeployResult, error)
	Shutdown(ctx context.Context, instanceID string) error
}
