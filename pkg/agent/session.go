// Package agent implements the per-session runtime: the session actor, its
// project-type controllers, the control-frame handler, and the deep-debug
// assistant. A session owns its state store, conversation logs, version
// history, sandbox instance, and event bus; nothing is shared across
// sessions.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/cancellation"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/deploy"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/files"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/state"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/vcs"
)

// Searcher runs web searches for the web_search tool.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// NoSearch is the default searcher when none is configured.
type NoSearch struct{}

func (NoSearch) Search(context.Context, string) (string, error) {
	return "", errors.New("web search is not configured")
}

// controller is the project-type-specific generation brain.
type controller interface {
	Generate(ctx context.Context) error
}

// generationRunKey marks contexts that belong to an active generation run.
// The value is the run's done channel.
type generationRunKey struct{}

// Deps bundles everything a session needs.
type Deps struct {
	DB          *store.DB
	Sandbox     sandbox.Client
	LLM         inference.Client
	Search      Searcher
	Credentials deploy.CredentialsProvider
	Model       string
	Log         *slog.Logger
}

// Session is one per-session agent runtime.
type Session struct {
	id  string
	log *slog.Logger

	db      *store.DB
	state   *state.Store
	conv    *store.ConversationStore
	files   *files.Manager
	vcs     *vcs.Store
	bus     *events.Bus
	cancels *cancellation.Controller
	deploy  *deploy.Manager
	llm     inference.Client
	sandbox sandbox.Client
	search  Searcher
	plugins *PluginManager
	model   string

	mu            sync.Mutex
	ctrl          controller
	startDeferred bool
	generationRun chan struct{}
	debugRun      chan struct{}
	debugResult   string
	debugErr      error
}

// newSession wires a session around an existing state store. Callers go
// through Initialize or Rehydrate.
func newSession(id string, st *state.Store, deps Deps) *Session {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", id)
	search := deps.Search
	if search == nil {
		search = NoSearch{}
	}

	s := &Session{
		id:      id,
		log:     log,
		db:      deps.DB,
		state:   st,
		conv:    store.NewConversationStore(deps.DB, id, log),
		vcs:     vcs.New(deps.DB),
		bus:     events.NewBus(log),
		cancels: cancellation.NewController(),
		llm:     deps.LLM,
		sandbox: deps.Sandbox,
		search:  search,
		plugins: NewPluginManager(log),
		model:   deps.Model,
	}
	s.files = files.NewManager(st, s.vcs, log)
	s.deploy = deploy.NewManager(st, deps.Sandbox, s.bus, deps.Credentials, deploy.Callbacks{
		OnAfterSetupCommands: func(results []sandbox.CommandResult) {
			for _, r := range results {
				if !r.Success {
					log.Warn("Setup command replay failed",
						"command", r.Command, "exit_code", r.ExitCode, "error", r.Error)
				}
			}
		},
	}, log)

	st.OnChange(func(old, new models.SessionState) {
		s.plugins.onStateUpdate(context.Background(), s, old, new)
	})

	s.attachController()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the session state store.
func (s *Session) State() *state.Store { return s.state }

// Bus returns the session event bus.
func (s *Session) Bus() *events.Bus { return s.bus }

// Plugins returns the plugin manager.
func (s *Session) Plugins() *PluginManager { return s.plugins }

// VCS returns the version-control store.
func (s *Session) VCS() *vcs.Store { return s.vcs }

// Deploy returns the deployment manager.
func (s *Session) Deploy() *deploy.Manager { return s.deploy }

// attachController instantiates the controller matching the project type and
// replays a deferred start request, if any.
func (s *Session) attachController() {
	snap := s.state.Get()

	s.mu.Lock()
	switch snap.ProjectType {
	case models.ProjectTypeWorkflow:
		s.ctrl = &workflowController{s: s}
	default:
		s.ctrl = &appController{s: s}
	}
	deferred := s.startDeferred
	s.startDeferred = false
	s.mu.Unlock()

	if deferred {
		s.StartGeneration()
	}
}

// StartGeneration kicks off the controller's generate entry point in the
// background. A second call while a run is active is ignored. A call before
// the controller is attached is queued (single slot) and replayed on attach.
func (s *Session) StartGeneration() {
	s.mu.Lock()
	if s.ctrl == nil {
		s.startDeferred = true
		s.mu.Unlock()
		return
	}
	if s.generationRun != nil {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.generationRun = done
	ctrl := s.ctrl
	s.mu.Unlock()

	ctx := s.cancels.Begin(context.Background(), cancellation.ScopeGeneration)
	// Tools dispatched inside this run must not wait on it; the marker lets
	// WaitForGeneration recognize its own run and refuse.
	ctx = context.WithValue(ctx, generationRunKey{}, done)
	go func() {
		defer func() {
			s.cancels.Finish(cancellation.ScopeGeneration)
			s.mu.Lock()
			s.generationRun = nil
			s.mu.Unlock()
			close(done)
		}()
		if err := ctrl.Generate(ctx); err != nil && !isCancelled(err) {
			s.log.Error("Generation failed", "error", err)
			s.plugins.onError(context.Background(), s, err, "generation")
			s.bus.Broadcast(events.TypeError, map[string]string{"error": err.Error()})
		}
	}()
}

// Generating reports whether a generation run is active.
func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generationRun != nil
}

// Close cancels in-flight work, detaches all channels, and closes the
// session database.
func (s *Session) Close() error {
	s.cancels.CancelAll()
	s.bus.Close()
	return s.db.Close()
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// addConversationMessage appends to both persisted logs and the in-memory
// compact log.
func (s *Session) addConversationMessage(ctx context.Context, role models.Role, content string) models.ConversationMessage {
	return s.recordConversation(ctx, models.ConversationMessage{
		Role:    role,
		Content: content,
	})
}

// recordConversation persists one message in both logs, assigning a
// conversation id when the caller has none.
func (s *Session) recordConversation(ctx context.Context, msg models.ConversationMessage) models.ConversationMessage {
	if msg.ConversationID == "" {
		msg.ConversationID = uuid.New().String()
	}
	s.conv.AddMessage(ctx, msg)
	s.state.Update(ctx, func(st *models.SessionState) {
		st.Conversation = append(st.Conversation, msg)
	})
	s.compactConversation(ctx)
	return msg
}

// compactConversation folds the oldest compact-log messages into a single
// summary message once the log grows past the history cap. The compact log is
// replaced wholesale; the full log is untouched.
func (s *Session) compactConversation(ctx context.Context) {
	snap := s.state.Get()
	if len(snap.Conversation) <= models.MaxConversationHistory {
		return
	}

	cut := len(snap.Conversation) - models.ConversationCompactTail
	head := snap.Conversation[:cut]
	tail := snap.Conversation[cut:]

	var summary strings.Builder
	fmt.Fprintf(&summary, "Conversation compacted: %d earlier messages folded in. User requests so far:\n", len(head))
	for _, m := range head {
		if m.Role != models.RoleUser {
			continue
		}
		summary.WriteString("- ")
		summary.WriteString(truncate(strings.TrimSpace(m.Content), 120))
		summary.WriteString("\n")
	}

	compacted := make([]models.ConversationMessage, 0, len(tail)+1)
	compacted = append(compacted, models.ConversationMessage{
		ConversationID: uuid.New().String(),
		Role:           models.RoleAssistant,
		Content:        summary.String(),
	})
	for _, m := range tail {
		compacted = append(compacted, m.Clone())
	}

	s.conv.ReplaceCompact(ctx, compacted)
	s.state.Update(ctx, func(st *models.SessionState) {
		st.Conversation = compacted
	})
	s.log.Info("Conversation compacted", "folded", len(head), "kept", len(tail))
}

// drainPendingInputs removes and returns queued user suggestions. Called by
// controllers at phase boundaries only.
func (s *Session) drainPendingInputs(ctx context.Context) []models.UserInput {
	var drained []models.UserInput
	s.state.Update(ctx, func(st *models.SessionState) {
		drained = st.PendingUserInputs
		st.PendingUserInputs = nil
	})
	return drained
}

// drainProjectUpdates flushes accumulated progress notes into one assistant
// conversation message. Called at phase boundaries.
func (s *Session) drainProjectUpdates(ctx context.Context) {
	var updates []string
	s.state.Update(ctx, func(st *models.SessionState) {
		updates = st.ProjectUpdates
		st.ProjectUpdates = nil
	})
	if len(updates) == 0 {
		return
	}
	s.addConversationMessage(ctx, models.RoleAssistant, "Progress:\n"+strings.Join(updates, "\n"))
}

// generatedFile is the wire shape the generator model returns per file.
type generatedFile struct {
	FilePath     string `json:"filePath"`
	FilePurpose  string `json:"filePurpose,omitempty"`
	FileContents string `json:"fileContents"`
}

// generateFiles runs one code-generation inference and persists the returned
// files. File lifecycle events stream to all channels.
func (s *Session) generateFiles(ctx context.Context, instructions string, paths []string, commitMessage string) ([]string, error) {
	snap := s.state.Get()

	var prompt strings.Builder
	prompt.WriteString(instructions)
	if len(paths) > 0 {
		prompt.WriteString("\n\nOnly produce these files: ")
		prompt.WriteString(strings.Join(paths, ", "))
	}
	prompt.WriteString("\n\nCurrent project files:\n")
	for _, rec := range snap.GeneratedFilesMap {
		fmt.Fprintf(&prompt, "--- %s ---\n%s\n", rec.FilePath, rec.FileContents)
	}
	prompt.WriteString(filesOutputContract)

	for _, p := range paths {
		s.bus.Broadcast(events.TypeFileGenerating, map[string]string{"filePath": p})
	}

	resp, err := s.llm.Complete(ctx, inference.Request{
		Model:  s.model,
		System: "You are an expert software engineer generating complete project files.",
		Messages: []inference.Message{
			{Role: inference.RoleUser, Content: prompt.String()},
		},
		OnChunk: func(text string) {
			s.bus.Broadcast(events.TypeFileChunkGenerated, map[string]string{"chunk": text})
		},
	})
	if err != nil {
		// A partial transcript may still contain complete files.
		if pe, ok := inference.AsPartial(err); ok {
			if parsed, perr := parseGeneratedFiles(pe.Text); perr == nil && len(parsed) > 0 {
				return s.persistGeneratedFiles(ctx, parsed, commitMessage)
			}
		}
		return nil, fmt.Errorf("file generation inference failed: %w", err)
	}

	parsed, err := parseGeneratedFiles(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated files: %w", err)
	}
	return s.persistGeneratedFiles(ctx, parsed, commitMessage)
}

const filesOutputContract = `

Respond with ONLY a JSON array of files:
[{"filePath": "...", "filePurpose": "...", "fileContents": "..."}]`

func (s *Session) persistGeneratedFiles(ctx context.Context, parsed []generatedFile, commitMessage string) ([]string, error) {
	records := make([]models.FileRecord, 0, len(parsed))
	for _, f := range parsed {
		if f.FilePath == "" {
			continue
		}
		records = append(records, models.FileRecord{
			FilePath:     f.FilePath,
			FileContents: f.FileContents,
			FilePurpose:  f.FilePurpose,
		})
	}
	if len(records) == 0 {
		return nil, errors.New("the model produced no files")
	}
	saved, err := s.files.SaveGeneratedFiles(ctx, records, commitMessage)
	if err != nil {
		return nil, err
	}
	written := make([]string, len(saved))
	for i, rec := range saved {
		written[i] = rec.FilePath
		s.bus.Broadcast(events.TypeFileGenerated, map[string]string{
			"filePath": rec.FilePath,
			"purpose":  rec.FilePurpose,
		})
	}
	return written, nil
}

// parseGeneratedFiles extracts the JSON file array from model output,
// tolerating fenced code blocks and surrounding prose.
func parseGeneratedFiles(text string) ([]generatedFile, error) {
	raw := strings.TrimSpace(text)
	if i := strings.Index(raw, "```"); i >= 0 {
		raw = raw[i+3:]
		raw = strings.TrimPrefix(raw, "json")
		if j := strings.Index(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
		raw = strings.TrimSpace(raw)
	}
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array found in model output")
	}
	var out []generatedFile
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}
