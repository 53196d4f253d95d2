package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/scaffold"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/state"
)

// InitArgs are the session creation parameters.
type InitArgs struct {
	Query            string
	ProjectType      models.ProjectType
	TemplateName     string
	Hostname         string
	AgentMode        models.AgentMode
	InferenceContext models.InferenceContext

	// SessionID pins the session id; a random id is assigned when empty.
	// The API layer supplies it so the per-session database can be opened
	// before initialization.
	SessionID string
}

// Initialize creates a new session: picks a project name, seeds state,
// commits the scaffold, and runs the first sandbox deploy.
func Initialize(ctx context.Context, args InitArgs, deps Deps) (*Session, error) {
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if !args.ProjectType.Valid() {
		return nil, fmt.Errorf("unknown project type %q", args.ProjectType)
	}
	if args.AgentMode == "" {
		args.AgentMode = models.AgentModeDeterministic
	}

	sessionID := args.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	projectName := deriveProjectName(args.Query)

	initial := models.SessionState{
		BaseSessionState: models.BaseSessionState{
			ProjectName:       projectName,
			Query:             args.Query,
			SessionID:         sessionID,
			Hostname:          args.Hostname,
			TemplateName:      args.TemplateName,
			ProjectType:       args.ProjectType,
			InferenceContext:  args.InferenceContext,
			AgentMode:         args.AgentMode,
			GeneratedFilesMap: map[string]models.FileRecord{},
		},
	}
	var starter map[string]string
	switch args.ProjectType {
	case models.ProjectTypeWorkflow:
		initial.Workflow = &models.WorkflowState{DeploymentStatus: models.DeploymentStatusIdle}
		starter = scaffold.WorkflowScaffold(projectName)
	default:
		initial.App = &models.AppState{CurrentDevState: models.DevStateIdle}
		starter = scaffold.AppScaffold(projectName)
	}

	st := state.New(deps.DB, initial, deps.Log)
	st.Set(ctx, initial)

	s := newSession(sessionID, st, deps)
	s.log = s.log.With(
		"agent_id", args.InferenceContext.AgentID,
		"user_id", args.InferenceContext.UserID,
	)

	if err := s.vcs.Init(ctx); err != nil {
		return nil, err
	}
	records := make([]models.FileRecord, 0, len(starter))
	for path, contents := range starter {
		records = append(records, models.FileRecord{FilePath: path, FileContents: contents})
	}
	if _, err := s.files.SaveGeneratedFiles(ctx, records, "initial scaffold"); err != nil {
		return nil, fmt.Errorf("failed to commit scaffold: %w", err)
	}

	// The first deploy is best-effort: a sandbox outage must not block
	// session creation.
	if _, err := s.deploy.DeployToSandbox(ctx, false); err != nil {
		s.log.Warn("Initial sandbox deploy failed", "error", err)
	}

	if err := s.plugins.onInitialize(ctx, s); err != nil {
		s.log.Warn("onInitialize hooks reported errors", "error", err)
	}
	return s, nil
}

// Rehydrate reconstructs a session from its persisted record. In-memory
// caches (operation handles, pending images, debug transcript promise) start
// empty; durable state and version history carry over.
func Rehydrate(ctx context.Context, sessionID string, deps Deps) (*Session, error) {
	st, found, err := state.Load(ctx, deps.DB, sessionID, deps.Log)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no persisted state for session %s", sessionID)
	}
	s := newSession(sessionID, st, deps)
	s.log.Info("Session rehydrated",
		"project_name", st.Get().ProjectName,
		"project_type", string(st.Get().ProjectType))
	return s, nil
}

// deriveProjectName builds a valid project name from the query: a slugified
// prefix capped at 20 characters plus a short random suffix.
func deriveProjectName(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
		if b.Len() >= 20 {
			break
		}
	}
	prefix := strings.Trim(b.String(), "-")
	if prefix == "" {
		prefix = "project"
	}
	name := prefix + "-" + uuid.New().String()[:6]
	if !models.ProjectNameRe.MatchString(name) {
		name = "project-" + uuid.New().String()[:6]
	}
	return name
}
