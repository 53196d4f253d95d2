// Package events implements the per-session event bus: typed JSON frames
// broadcast to every client channel attached to the session, with per-channel
// error delivery. Frames on a single channel are FIFO; ordering across
// channels is not guaranteed.
package events

// Type discriminates outbound frames. The set is closed: controllers emit
// only these.
type Type string

// Generation lifecycle.
const (
	TypeGenerationStarted   Type = "generation_started"
	TypeGenerationCompleted Type = "generation_completed"
	TypeGenerationStopped   Type = "generation_stopped"
	TypeGenerationResumed   Type = "generation_resumed"
)

// Phase lifecycle (app sessions).
const (
	TypePhaseGenerating   Type = "phase_generating"
	TypePhaseGenerated    Type = "phase_generated"
	TypePhaseImplementing Type = "phase_implementing"
	TypePhaseImplemented  Type = "phase_implemented"
)

// File generation.
const (
	TypeFileGenerating     Type = "file_generating"
	TypeFileChunkGenerated Type = "file_chunk_generated"
	TypeFileGenerated      Type = "file_generated"
)

// Sandbox deployment.
const (
	TypeDeploymentStarted   Type = "deployment_started"
	TypeDeploymentCompleted Type = "deployment_completed"
	TypeDeploymentFailed    Type = "deployment_failed"
	TypePreviewForceRefresh Type = "preview_force_refresh"
)

// External-cloud deployment.
const (
	TypeCloudflareDeploymentStarted   Type = "cloudflare_deployment_started"
	TypeCloudflareDeploymentCompleted Type = "cloudflare_deployment_completed"
	TypeCloudflareDeploymentError     Type = "cloudflare_deployment_error"
)

// Diagnostics.
const (
	TypeRuntimeErrorFound     Type = "runtime_error_found"
	TypeStaticAnalysisResults Type = "static_analysis_results"
)

// Conversation and project.
const (
	TypeConversationCleared Type = "conversation_cleared"
	TypeConversationState   Type = "conversation_state"
	TypeProjectNameUpdated  Type = "project_name_updated"
	TypeModelConfigsInfo    Type = "model_configs_info"
)

// GitHub export lifecycle.
const (
	TypeGitHubExportStarted   Type = "github_export_started"
	TypeGitHubExportProgress  Type = "github_export_progress"
	TypeGitHubExportCompleted Type = "github_export_completed"
	TypeGitHubExportError     Type = "github_export_error"
)

// Streaming and errors.
const (
	TypeTextDelta Type = "text_delta"
	TypeError     Type = "error"
)
