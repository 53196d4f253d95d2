// Package deploy orchestrates pushing generated code into the sandbox
// preview, promoting it to the external cloud, and running the diagnostic
// round-trips (static analysis, runtime error retrieval) against the running
// instance.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/state"
)

// ErrDeployInFlight is returned when a deploy is requested while another is
// still running. Requests are rejected, not queued.
var ErrDeployInFlight = errors.New("a deployment is already in progress")

const (
	previewWaitTimeout  = 90 * time.Second
	previewPollInterval = 2 * time.Second
)

// Callbacks observe deploy milestones. All fields are optional.
type Callbacks struct {
	OnStarted            func()
	OnCompleted          func(previewURL string)
	OnError              func(err error)
	OnAfterSetupCommands func(results []sandbox.CommandResult)
}

// Result describes a completed sandbox deploy.
type Result struct {
	InstanceID string
	PreviewURL string
	Fresh      bool
}

// Manager owns the session's sandbox instance lifecycle. At most one sandbox
// deploy and one cloud deploy run at a time.
type Manager struct {
	state     *state.Store
	sandbox   sandbox.Client
	bus       *events.Bus
	creds     CredentialsProvider
	log       *slog.Logger
	callbacks Callbacks

	mu         sync.Mutex
	inFlight   bool
	cfInFlight bool
}

// NewManager creates a deploy manager. creds may be nil when no cloud
// credentials are configured; cloud deploys then fail with a named error.
func NewManager(st *state.Store, sb sandbox.Client, bus *events.Bus, creds CredentialsProvider, cb Callbacks, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{state: st, sandbox: sb, bus: bus, creds: creds, log: log, callbacks: cb}
}

// DeployToSandbox pushes the current generated files into the sandbox,
// provisioning a fresh instance when none exists or forceRedeploy is set.
// Fresh instances replay the recorded setup commands before serving.
func (m *Manager) DeployToSandbox(ctx context.Context, forceRedeploy bool) (*Result, error) {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil, ErrDeployInFlight
	}
	m.inFlight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	m.bus.Broadcast(events.TypeDeploymentStarted, map[string]any{})
	if m.callbacks.OnStarted != nil {
		m.callbacks.OnStarted()
	}

	result, err := m.deploy(ctx, forceRedeploy)
	if err != nil {
		m.log.Error("Sandbox deployment failed", "error", err)
		m.bus.Broadcast(events.TypeDeploymentFailed, map[string]any{"error": err.Error()})
		if m.callbacks.OnError != nil {
			m.callbacks.OnError(err)
		}
		return nil, err
	}

	m.bus.Broadcast(events.TypeDeploymentCompleted, map[string]any{
		"previewUrl": result.PreviewURL,
		"instanceId": result.InstanceID,
	})
	if m.callbacks.OnCompleted != nil {
		m.callbacks.OnCompleted(result.PreviewURL)
	}
	return result, nil
}

func (m *Manager) deploy(ctx context.Context, forceRedeploy bool) (*Result, error) {
	snap := m.state.Get()

	inst, fresh, err := m.ensureInstance(ctx, snap, forceRedeploy)
	if err != nil {
		return nil, err
	}

	files := make([]sandbox.File, 0, len(snap.GeneratedFilesMap))
	for _, rec := range snap.GeneratedFilesMap {
		files = append(files, sandbox.File{FilePath: rec.FilePath, FileContents: rec.FileContents})
	}
	if len(files) > 0 {
		results, err := m.sandbox.WriteFiles(ctx, inst.ID, files)
		if err != nil {
			return nil, fmt.Errorf("failed to sync files to sandbox: %w", err)
		}
		for _, r := range results {
			if !r.Success {
				m.log.Warn("File write failed in sandbox", "file_path", r.FilePath, "error", r.Error)
			}
		}
	}

	if fresh && len(snap.CommandsHistory) > 0 {
		results, err := m.sandbox.ExecuteCommands(ctx, inst.ID, snap.CommandsHistory)
		if err != nil {
			return nil, fmt.Errorf("failed to replay setup commands: %w", err)
		}
		if m.callbacks.OnAfterSetupCommands != nil {
			m.callbacks.OnAfterSetupCommands(results)
		}
		// The replay just installed everything; what the sandbox ended up
		// with is the new drift baseline, not the pre-replay contents.
		m.refreshPackageJSON(ctx, inst.ID)
	} else if err := m.syncDependencies(ctx, inst.ID, snap); err != nil {
		return nil, err
	}

	previewURL, err := m.waitForPreview(ctx, inst)
	if err != nil {
		return nil, err
	}

	m.state.Update(ctx, func(s *models.SessionState) {
		s.SandboxInstanceID = inst.ID
	})
	return &Result{InstanceID: inst.ID, PreviewURL: previewURL, Fresh: fresh}, nil
}

// ensureInstance reuses the recorded instance when it is still reachable,
// otherwise provisions a fresh one from the session template.
func (m *Manager) ensureInstance(ctx context.Context, snap models.SessionState, forceRedeploy bool) (*sandbox.Instance, bool, error) {
	if snap.SandboxInstanceID != "" && !forceRedeploy {
		inst, err := m.sandbox.GetInstance(ctx, snap.SandboxInstanceID)
		if err == nil {
			return inst, false, nil
		}
		m.log.Info("Recorded sandbox instance unreachable, provisioning fresh",
			"instance_id", snap.SandboxInstanceID, "error", err)
	}
	inst, err := m.sandbox.CreateInstance(ctx, sandbox.CreateInstanceRequest{
		TemplateName: snap.TemplateName,
		ProjectName:  snap.ProjectName,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to provision sandbox instance: %w", err)
	}
	return inst, true, nil
}

// refreshPackageJSON reads package.json back from the instance after a setup
// replay. Install commands can rewrite it, and the drift check has to compare
// against what the sandbox actually installed, not the pre-replay contents.
// Best-effort: a failed read just leaves the last known contents in place.
func (m *Manager) refreshPackageJSON(ctx context.Context, instanceID string) {
	files, err := m.sandbox.GetFiles(ctx, instanceID, []string{"package.json"})
	if err != nil {
		m.log.Warn("Could not read package.json back from sandbox", "error", err)
		return
	}
	for _, f := range files {
		if f.FilePath == "package.json" && f.FileContents != "" {
			m.state.Update(ctx, func(s *models.SessionState) {
				s.LastPackageJSON = f.FileContents
			})
			return
		}
	}
}

// syncDependencies re-runs the recorded dependency commands when package.json
// drifted from the last contents the sandbox installed against.
func (m *Manager) syncDependencies(ctx context.Context, instanceID string, snap models.SessionState) error {
	pkg, ok := snap.GeneratedFilesMap["package.json"]
	if !ok || pkg.FileContents == snap.LastPackageJSON {
		return nil
	}
	depCmds := make([]string, 0, len(snap.CommandsHistory))
	for _, cmd := range snap.CommandsHistory {
		if IsDependencyCommand(cmd) {
			depCmds = append(depCmds, cmd)
		}
	}
	if len(depCmds) > 0 {
		if _, err := m.sandbox.ExecuteCommands(ctx, instanceID, depCmds); err != nil {
			return fmt.Errorf("failed to sync dependencies: %w", err)
		}
	}
	m.state.Update(ctx, func(s *models.SessionState) {
		s.LastPackageJSON = pkg.FileContents
	})
	return nil
}

// waitForPreview polls until the instance stops reporting pending, bounded by
// previewWaitTimeout. A still-pending instance at timeout is an error.
func (m *Manager) waitForPreview(ctx context.Context, inst *sandbox.Instance) (string, error) {
	if !inst.Pending {
		return inst.PreviewURL, nil
	}
	deadline := time.Now().Add(previewWaitTimeout)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(previewPollInterval):
		}
		cur, err := m.sandbox.GetInstance(ctx, inst.ID)
		if err != nil {
			return "", fmt.Errorf("failed to poll sandbox instance: %w", err)
		}
		if !cur.Pending {
			return cur.PreviewURL, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("sandbox instance %s not ready after %s", inst.ID, previewWaitTimeout)
		}
	}
}

// ExecuteCommands runs commands in the current instance and records
// dependency-mutating commands so fresh instances can replay them. The
// history is capped at the most recent entries.
func (m *Manager) ExecuteCommands(ctx context.Context, commands []string) ([]sandbox.CommandResult, error) {
	snap := m.state.Get()
	if snap.SandboxInstanceID == "" {
		return nil, errors.New("no sandbox instance to execute commands in")
	}
	results, err := m.sandbox.ExecuteCommands(ctx, snap.SandboxInstanceID, commands)
	if err != nil {
		return nil, fmt.Errorf("failed to execute commands: %w", err)
	}
	var recorded []string
	for _, cmd := range commands {
		if IsDependencyCommand(cmd) {
			recorded = append(recorded, cmd)
		}
	}
	if len(recorded) > 0 {
		m.state.Update(ctx, func(s *models.SessionState) {
			s.CommandsHistory = append(s.CommandsHistory, recorded...)
			if over := len(s.CommandsHistory) - models.MaxCommandsHistory; over > 0 {
				s.CommandsHistory = s.CommandsHistory[over:]
			}
		})
	}
	return results, nil
}

// DeployToCloudflare promotes the sandbox build to the external cloud. When
// the service reports the preview expired, the sandbox is redeployed once and
// the promotion retried.
func (m *Manager) DeployToCloudflare(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.cfInFlight {
		m.mu.Unlock()
		return "", ErrDeployInFlight
	}
	m.cfInFlight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cfInFlight = false
		m.mu.Unlock()
	}()

	m.bus.Broadcast(events.TypeCloudflareDeploymentStarted, map[string]any{})
	m.setDeploymentStatus(ctx, models.DeploymentStatusDeploying, "", "")

	url, err := m.promote(ctx)
	if err != nil {
		m.setDeploymentStatus(ctx, models.DeploymentStatusFailed, "", err.Error())
		m.bus.Broadcast(events.TypeCloudflareDeploymentError, map[string]any{"error": err.Error()})
		return "", err
	}

	m.setDeploymentStatus(ctx, models.DeploymentStatusDeployed, url, "")
	m.bus.Broadcast(events.TypeCloudflareDeploymentCompleted, map[string]any{"deploymentUrl": url})
	return url, nil
}

func (m *Manager) promote(ctx context.Context) (string, error) {
	snap := m.state.Get()

	creds, err := m.resolveCredentials(ctx, snap.InferenceContext.UserID)
	if err != nil {
		return "", err
	}

	instanceID := snap.SandboxInstanceID
	if instanceID == "" {
		result, err := m.DeployToSandbox(ctx, false)
		if err != nil {
			return "", fmt.Errorf("sandbox deploy before promotion failed: %w", err)
		}
		instanceID = result.InstanceID
	}

	req := sandbox.CloudflareDeployRequest{
		InstanceID:  instanceID,
		ProjectName: snap.ProjectName,
		AccountID:   creds.AccountID,
		APIToken:    creds.APIToken,
	}
	result, err := m.sandbox.DeployToCloudflare(ctx, req)
	if err != nil {
		return "", err
	}
	if result.Error == sandbox.ErrPreviewExpired {
		m.log.Info("Preview expired during promotion, redeploying sandbox")
		fresh, err := m.DeployToSandbox(ctx, true)
		if err != nil {
			return "", fmt.Errorf("redeploy after expired preview failed: %w", err)
		}
		req.InstanceID = fresh.InstanceID
		result, err = m.sandbox.DeployToCloudflare(ctx, req)
		if err != nil {
			return "", err
		}
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		return "", fmt.Errorf("cloud deployment failed: %s", msg)
	}
	return result.DeployedURL, nil
}

// resolveCredentials looks up the user's cloud credentials. Missing fields are
// reported by name so the surfaced error tells the user what to configure.
func (m *Manager) resolveCredentials(ctx context.Context, userID string) (*CloudflareCredentials, error) {
	var creds *CloudflareCredentials
	if m.creds != nil {
		var err error
		creds, err = m.creds.CloudflareCredentials(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("cloudflare credential lookup failed: %w", err)
		}
	}
	var missing []string
	if creds == nil || creds.AccountID == "" {
		missing = append(missing, "accountId")
	}
	if creds == nil || creds.APIToken == "" {
		missing = append(missing, "apiToken")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing cloudflare credentials: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}

func (m *Manager) setDeploymentStatus(ctx context.Context, status models.DeploymentStatus, url, errMsg string) {
	m.state.Update(ctx, func(s *models.SessionState) {
		if s.Workflow == nil {
			return
		}
		s.Workflow.DeploymentStatus = status
		if url != "" {
			s.Workflow.DeploymentURL = url
		}
		s.Workflow.DeploymentError = errMsg
	})
}

// RunStaticAnalysis lints and type-checks the given files (all files when
// empty) and broadcasts the findings.
func (m *Manager) RunStaticAnalysis(ctx context.Context, files []string) (*sandbox.AnalysisReport, error) {
	snap := m.state.Get()
	if snap.SandboxInstanceID == "" {
		return nil, errors.New("no sandbox instance to analyze")
	}
	report, err := m.sandbox.RunAnalysis(ctx, snap.SandboxInstanceID, files)
	if err != nil {
		return nil, fmt.Errorf("static analysis failed: %w", err)
	}
	m.bus.Broadcast(events.TypeStaticAnalysisResults, map[string]any{
		"lintIssues":      report.LintIssues,
		"typeCheckIssues": report.TypeCheckIssues,
	})
	return report, nil
}

// FetchRuntimeErrors retrieves captured runtime errors from the instance.
// A fetch failure usually means the instance died; the sandbox is redeployed
// and an empty result returned so callers can continue.
func (m *Manager) FetchRuntimeErrors(ctx context.Context, clear bool) ([]sandbox.RuntimeError, error) {
	snap := m.state.Get()
	if snap.SandboxInstanceID == "" {
		return nil, nil
	}
	errs, err := m.sandbox.GetErrors(ctx, snap.SandboxInstanceID, clear)
	if err != nil {
		m.log.Warn("Runtime error fetch failed, redeploying sandbox", "error", err)
		if _, derr := m.DeployToSandbox(ctx, true); derr != nil && !errors.Is(derr, ErrDeployInFlight) {
			m.log.Error("Redeploy after failed error fetch failed", "error", derr)
		}
		return nil, nil
	}
	for _, re := range errs {
		m.bus.Broadcast(events.TypeRuntimeErrorFound, map[string]any{
			"message": re.Message,
			"stack":   re.Stack,
			"source":  re.Source,
		})
	}
	return errs, nil
}

// IsDependencyCommand reports whether cmd mutates installed dependencies and
// so must be replayed on fresh instances.
func IsDependencyCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	return strings.Contains(lower, "install") ||
		strings.Contains(lower, " add ") ||
		strings.Contains(lower, "remove") ||
		strings.Contains(lower, "uninstall")
}
