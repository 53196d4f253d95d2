// Package models defines the session data model shared by every component:
// session state variants, conversation messages, generated file records, and
// workflow metadata. All types are plain structs with JSON tags; the state
// store serializes the whole session record as one opaque row.
package models

// ProjectType selects the concrete controller for a session.
// Chosen at session creation; immutable thereafter.
type ProjectType string

const (
	ProjectTypeApp      ProjectType = "app"
	ProjectTypeWorkflow ProjectType = "workflow"
)

// Valid reports whether t is a known project type.
func (t ProjectType) Valid() bool {
	return t == ProjectTypeApp || t == ProjectTypeWorkflow
}

// AgentMode controls how much latitude the controller gives the LLM.
type AgentMode string

const (
	AgentModeDeterministic AgentMode = "deterministic"
	AgentModeSmart         AgentMode = "smart"
)

// DevState is the app controller's generation state machine position.
type DevState string

const (
	DevStateIdle              DevState = "IDLE"
	DevStatePhaseGenerating   DevState = "PHASE_GENERATING"
	DevStatePhaseImplementing DevState = "PHASE_IMPLEMENTING"
	DevStateReviewing         DevState = "REVIEWING"
	DevStateFinalizing        DevState = "FINALIZING"
)

// DeploymentStatus tracks the workflow session's cloud deployment lifecycle.
type DeploymentStatus string

const (
	DeploymentStatusIdle      DeploymentStatus = "idle"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusDeployed  DeploymentStatus = "deployed"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// InferenceContext carries user/agent identity for LLM calls. The cancellation
// handle lives on the session (in-memory only), not in the persisted record.
type InferenceContext struct {
	UserID  string `json:"userId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

// ImageAttachment is a user-supplied image on a suggestion message.
type ImageAttachment struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// UserInput is a queued user suggestion awaiting a safe merge point.
type UserInput struct {
	Text   string            `json:"text"`
	Images []ImageAttachment `json:"images,omitempty"`
}

// BaseSessionState holds the fields common to both project types.
type BaseSessionState struct {
	ProjectName  string      `json:"projectName"`
	Query        string      `json:"query"`
	SessionID    string      `json:"sessionId"`
	Hostname     string      `json:"hostname"`
	TemplateName string      `json:"templateName"`
	ProjectType  ProjectType `json:"projectType"`

	// Conversation is the compact (running) message log. The full log is
	// stored out-of-band in the conversation store.
	Conversation []ConversationMessage `json:"conversation"`

	InferenceContext InferenceContext `json:"inferenceContext"`

	ShouldBeGenerating bool      `json:"shouldBeGenerating"`
	AgentMode          AgentMode `json:"agentMode"`

	// GeneratedFilesMap is keyed by relative path.
	GeneratedFilesMap map[string]FileRecord `json:"generatedFilesMap"`

	SandboxInstanceID string   `json:"sandboxInstanceId,omitempty"`
	CommandsHistory   []string `json:"commandsHistory,omitempty"`
	LastPackageJSON   string   `json:"lastPackageJson,omitempty"`

	PendingUserInputs []UserInput `json:"pendingUserInputs,omitempty"`
	ProjectUpdates    []string    `json:"projectUpdates,omitempty"`

	LastDeepDebugTranscript string `json:"lastDeepDebugTranscript,omitempty"`
}

// AppState holds the phasic app controller's extension fields.
type AppState struct {
	Blueprint          *Blueprint    `json:"blueprint,omitempty"`
	GeneratedPhases    []PhaseRecord `json:"generatedPhases,omitempty"`
	MVPGenerated       bool          `json:"mvpGenerated"`
	ReviewingInitiated bool          `json:"reviewingInitiated"`
	PhasesCounter      int           `json:"phasesCounter"`
	CurrentDevState    DevState      `json:"currentDevState"`
	CurrentPhase       *PhaseConcept `json:"currentPhase,omitempty"`
	ReviewCycles       int           `json:"reviewCycles"`
}

// WorkflowState holds the workflow controller's extension fields.
// Workflow code is derived, never stored here: it is always the contents of
// src/index.ts in GeneratedFilesMap.
type WorkflowState struct {
	WorkflowMetadata *WorkflowMetadata `json:"workflowMetadata,omitempty"`
	DeploymentURL    string            `json:"deploymentUrl,omitempty"`
	DeploymentStatus DeploymentStatus  `json:"deploymentStatus"`
	DeploymentError  string            `json:"deploymentError,omitempty"`
}

// SessionState is the single authoritative session record. Exactly one of
// App/Workflow is non-nil, matching ProjectType.
type SessionState struct {
	BaseSessionState

	App      *AppState      `json:"app,omitempty"`
	Workflow *WorkflowState `json:"workflow,omitempty"`
}

// Clone returns a deep copy. Snapshot readers must never observe later writes.
func (s SessionState) Clone() SessionState {
	out := s

	if s.Conversation != nil {
		out.Conversation = make([]ConversationMessage, len(s.Conversation))
		for i, m := range s.Conversation {
			out.Conversation[i] = m.Clone()
		}
	}
	if s.GeneratedFilesMap != nil {
		out.GeneratedFilesMap = make(map[string]FileRecord, len(s.GeneratedFilesMap))
		for k, v := range s.GeneratedFilesMap {
			out.GeneratedFilesMap[k] = v
		}
	}
	if s.CommandsHistory != nil {
		out.CommandsHistory = append([]string(nil), s.CommandsHistory...)
	}
	if s.ProjectUpdates != nil {
		out.ProjectUpdates = append([]string(nil), s.ProjectUpdates...)
	}
	if s.PendingUserInputs != nil {
		out.PendingUserInputs = make([]UserInput, len(s.PendingUserInputs))
		for i, in := range s.PendingUserInputs {
			cp := in
			if in.Images != nil {
				cp.Images = append([]ImageAttachment(nil), in.Images...)
			}
			out.PendingUserInputs[i] = cp
		}
	}

	if s.App != nil {
		app := *s.App
		if s.App.Blueprint != nil {
			bp := s.App.Blueprint.Clone()
			app.Blueprint = &bp
		}
		if s.App.GeneratedPhases != nil {
			app.GeneratedPhases = make([]PhaseRecord, len(s.App.GeneratedPhases))
			for i, p := range s.App.GeneratedPhases {
				app.GeneratedPhases[i] = p.Clone()
			}
		}
		if s.App.CurrentPhase != nil {
			cp := s.App.CurrentPhase.Clone()
			app.CurrentPhase = &cp
		}
		out.App = &app
	}
	if s.Workflow != nil {
		wf := *s.Workflow
		if s.Workflow.WorkflowMetadata != nil {
			md := s.Workflow.WorkflowMetadata.Clone()
			wf.WorkflowMetadata = &md
		}
		out.Workflow = &wf
	}
	return out
}
