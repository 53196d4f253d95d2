package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/state"
)

// fakeSandbox is a scripted in-memory sandbox service.
type fakeSandbox struct {
	mu             sync.Mutex
	instances      map[string]*sandbox.Instance
	nextID         int
	writtenFiles   map[string][]sandbox.File
	executed       map[string][][]string
	fileOverrides  map[string]string
	renames        map[string]string
	getInstanceErr error
	getErrorsErr   error
	runtimeErrors  []sandbox.RuntimeError
	cfResults      []sandbox.CloudflareDeployResult
	cfRequests     []sandbox.CloudflareDeployRequest
	cfCalls        int
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		instances:     make(map[string]*sandbox.Instance),
		writtenFiles:  make(map[string][]sandbox.File),
		executed:      make(map[string][][]string),
		fileOverrides: make(map[string]string),
		renames:       make(map[string]string),
	}
}

func (f *fakeSandbox) CreateInstance(_ context.Context, _ sandbox.CreateInstanceRequest) (*sandbox.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("inst-%d", f.nextID)
	inst := &sandbox.Instance{ID: id, PreviewURL: "https://" + id + ".preview"}
	f.instances[id] = inst
	return inst, nil
}

func (f *fakeSandbox) GetInstance(_ context.Context, id string) (*sandbox.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getInstanceErr != nil {
		return nil, f.getInstanceErr
	}
	inst, ok := f.instances[id]
	if !ok {
		return nil, errors.New("instance not found")
	}
	return inst, nil
}

func (f *fakeSandbox) WriteFiles(_ context.Context, id string, files []sandbox.File) ([]sandbox.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writtenFiles[id] = append(f.writtenFiles[id], files...)
	out := make([]sandbox.WriteResult, len(files))
	for i, file := range files {
		out[i] = sandbox.WriteResult{FilePath: file.FilePath, Success: true}
	}
	return out, nil
}

// GetFiles serves overrides first, then whatever was last written for the
// path, mimicking a sandbox whose setup commands rewrote a file.
func (f *fakeSandbox) GetFiles(_ context.Context, id string, paths []string) ([]sandbox.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sandbox.File
	for _, p := range paths {
		if contents, ok := f.fileOverrides[p]; ok {
			out = append(out, sandbox.File{FilePath: p, FileContents: contents})
			continue
		}
		for i := len(f.writtenFiles[id]) - 1; i >= 0; i-- {
			if f.writtenFiles[id][i].FilePath == p {
				out = append(out, f.writtenFiles[id][i])
				break
			}
		}
	}
	return out, nil
}

func (f *fakeSandbox) UpdateProjectName(_ context.Context, id string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames[id] = name
	return nil
}

func (f *fakeSandbox) ExecuteCommands(_ context.Context, id string, commands []string) ([]sandbox.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed[id] = append(f.executed[id], commands)
	out := make([]sandbox.CommandResult, len(commands))
	for i, cmd := range commands {
		out[i] = sandbox.CommandResult{Command: cmd, Success: true}
	}
	return out, nil
}

func (f *fakeSandbox) GetLogs(_ context.Context, _ string, _ bool) (string, error) {
	return "", nil
}

func (f *fakeSandbox) GetErrors(_ context.Context, _ string, _ bool) ([]sandbox.RuntimeError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErrorsErr != nil {
		return nil, f.getErrorsErr
	}
	return f.runtimeErrors, nil
}

func (f *fakeSandbox) RunAnalysis(_ context.Context, _ string, _ []string) (*sandbox.AnalysisReport, error) {
	return &sandbox.AnalysisReport{}, nil
}

func (f *fakeSandbox) DeployToCloudflare(_ context.Context, req sandbox.CloudflareDeployRequest) (*sandbox.CloudflareDeployResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfRequests = append(f.cfRequests, req)
	if f.cfCalls < len(f.cfResults) {
		r := f.cfResults[f.cfCalls]
		f.cfCalls++
		return &r, nil
	}
	f.cfCalls++
	return &sandbox.CloudflareDeployResult{Success: true, DeployedURL: "https://app.workers.dev"}, nil
}

func (f *fakeSandbox) Shutdown(_ context.Context, _ string) error { return nil }

func (f *fakeSandbox) commandsRun(id string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executed[id]
}

func newTestManager(t *testing.T, seed models.SessionState, sb sandbox.Client) (*Manager, *state.Store) {
	t.Helper()
	st := state.New(nil, seed, slog.Default())
	bus := events.NewBus(slog.Default())
	t.Cleanup(bus.Close)
	creds := StaticCredentials{AccountID: "acct-test", APIToken: "tok-test"}
	return NewManager(st, sb, bus, creds, Callbacks{}, slog.Default()), st
}

func appSeed() models.SessionState {
	return models.SessionState{
		BaseSessionState: models.BaseSessionState{
			SessionID:    "sess-1",
			ProjectName:  "my-app",
			TemplateName: "vite-react",
			ProjectType:  models.ProjectTypeApp,
			GeneratedFilesMap: map[string]models.FileRecord{
				"src/index.ts": {FilePath: "src/index.ts", FileContents: "export {}"},
			},
		},
		App: &models.AppState{CurrentDevState: models.DevStateIdle},
	}
}

func TestDeployToSandboxProvisionsAndSyncs(t *testing.T) {
	sb := newFakeSandbox()
	m, st := newTestManager(t, appSeed(), sb)

	result, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Fresh)
	assert.NotEmpty(t, result.PreviewURL)

	assert.Equal(t, result.InstanceID, st.Get().SandboxInstanceID)
	assert.Len(t, sb.writtenFiles[result.InstanceID], 1)
}

func TestDeployToSandboxReusesLiveInstance(t *testing.T) {
	sb := newFakeSandbox()
	m, _ := newTestManager(t, appSeed(), sb)

	first, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)

	second, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, first.InstanceID, second.InstanceID)
	assert.False(t, second.Fresh)
}

func TestDeployToSandboxReplaysSetupCommandsOnFreshInstance(t *testing.T) {
	seed := appSeed()
	seed.CommandsHistory = []string{"bun install", "bun add zod"}
	sb := newFakeSandbox()
	m, _ := newTestManager(t, seed, sb)

	result, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)

	runs := sb.commandsRun(result.InstanceID)
	require.NotEmpty(t, runs)
	assert.Equal(t, []string{"bun install", "bun add zod"}, runs[0])
}

func TestFreshDeployReadsBackPackageJSON(t *testing.T) {
	seed := appSeed()
	seed.GeneratedFilesMap["package.json"] = models.FileRecord{
		FilePath:     "package.json",
		FileContents: `{"dependencies":{"zod":"^3"}}`,
	}
	seed.CommandsHistory = []string{"bun install"}
	sb := newFakeSandbox()
	// The replayed install rewrites package.json inside the instance.
	sb.fileOverrides["package.json"] = `{"dependencies":{"zod":"^3.23.8"}}`
	m, st := newTestManager(t, seed, sb)

	_, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)

	// The drift baseline is what the sandbox actually installed against.
	assert.Equal(t, `{"dependencies":{"zod":"^3.23.8"}}`, st.Get().LastPackageJSON)
}

func TestDeployToSandboxSyncsPackageJSONDrift(t *testing.T) {
	seed := appSeed()
	seed.GeneratedFilesMap["package.json"] = models.FileRecord{
		FilePath:     "package.json",
		FileContents: `{"dependencies":{"zod":"^3"}}`,
	}
	seed.CommandsHistory = []string{"bun install", "bun run dev"}
	sb := newFakeSandbox()
	m, st := newTestManager(t, seed, sb)

	first, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, `{"dependencies":{"zod":"^3"}}`, st.Get().LastPackageJSON)

	// A new dependency lands in package.json; the reused instance re-runs
	// only the dependency-altering commands.
	st.Update(context.Background(), func(s *models.SessionState) {
		s.GeneratedFilesMap["package.json"] = models.FileRecord{
			FilePath:     "package.json",
			FileContents: `{"dependencies":{"zod":"^3","dayjs":"^1"}}`,
		}
	})
	second, err := m.DeployToSandbox(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, second.Fresh)

	runs := sb.commandsRun(first.InstanceID)
	require.Len(t, runs, 2)
	assert.Equal(t, []string{"bun install"}, runs[1])
	assert.Equal(t, `{"dependencies":{"zod":"^3","dayjs":"^1"}}`, st.Get().LastPackageJSON)
}

func TestExecuteCommandsRecordsDependencyCommands(t *testing.T) {
	seed := appSeed()
	seed.SandboxInstanceID = "inst-live"
	sb := newFakeSandbox()
	sb.instances["inst-live"] = &sandbox.Instance{ID: "inst-live", PreviewURL: "https://x"}
	m, st := newTestManager(t, seed, sb)

	_, err := m.ExecuteCommands(context.Background(), []string{"bun add lodash", "ls -la"})
	require.NoError(t, err)

	history := st.Get().CommandsHistory
	assert.Equal(t, []string{"bun add lodash"}, history)
}

func TestExecuteCommandsCapsHistory(t *testing.T) {
	seed := appSeed()
	seed.SandboxInstanceID = "inst-live"
	for i := 0; i < models.MaxCommandsHistory; i++ {
		seed.CommandsHistory = append(seed.CommandsHistory, "bun install")
	}
	sb := newFakeSandbox()
	sb.instances["inst-live"] = &sandbox.Instance{ID: "inst-live"}
	m, st := newTestManager(t, seed, sb)

	_, err := m.ExecuteCommands(context.Background(), []string{"bun add extra"})
	require.NoError(t, err)

	history := st.Get().CommandsHistory
	assert.Len(t, history, models.MaxCommandsHistory)
	assert.Equal(t, "bun add extra", history[len(history)-1])
}

func TestDeployToCloudflareRetriesAfterPreviewExpired(t *testing.T) {
	seed := models.SessionState{
		BaseSessionState: models.BaseSessionState{
			SessionID:         "sess-1",
			ProjectName:       "my-workflow",
			TemplateName:      "workflow",
			ProjectType:       models.ProjectTypeWorkflow,
			SandboxInstanceID: "inst-old",
			GeneratedFilesMap: map[string]models.FileRecord{},
		},
		Workflow: &models.WorkflowState{DeploymentStatus: models.DeploymentStatusIdle},
	}
	sb := newFakeSandbox()
	sb.instances["inst-old"] = &sandbox.Instance{ID: "inst-old", PreviewURL: "https://old"}
	sb.cfResults = []sandbox.CloudflareDeployResult{
		{Success: false, Error: sandbox.ErrPreviewExpired},
		{Success: true, DeployedURL: "https://app.workers.dev"},
	}
	m, st := newTestManager(t, seed, sb)

	url, err := m.DeployToCloudflare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://app.workers.dev", url)
	assert.Equal(t, 2, sb.cfCalls)

	wf := st.Get().Workflow
	require.NotNil(t, wf)
	assert.Equal(t, models.DeploymentStatusDeployed, wf.DeploymentStatus)
	assert.Equal(t, "https://app.workers.dev", wf.DeploymentURL)

	require.Len(t, sb.cfRequests, 2)
	assert.Equal(t, "acct-test", sb.cfRequests[0].AccountID)
	assert.Equal(t, "tok-test", sb.cfRequests[0].APIToken)
}

func TestDeployToCloudflareMissingCredentials(t *testing.T) {
	seed := models.SessionState{
		BaseSessionState: models.BaseSessionState{
			SessionID:         "sess-1",
			ProjectName:       "my-workflow",
			ProjectType:       models.ProjectTypeWorkflow,
			SandboxInstanceID: "inst-live",
			GeneratedFilesMap: map[string]models.FileRecord{},
		},
		Workflow: &models.WorkflowState{DeploymentStatus: models.DeploymentStatusIdle},
	}
	sb := newFakeSandbox()
	sb.instances["inst-live"] = &sandbox.Instance{ID: "inst-live"}
	st := state.New(nil, seed, slog.Default())
	bus := events.NewBus(slog.Default())
	t.Cleanup(bus.Close)
	m := NewManager(st, sb, bus, nil, Callbacks{}, slog.Default())

	_, err := m.DeployToCloudflare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accountId")
	assert.Contains(t, err.Error(), "apiToken")
	assert.Zero(t, sb.cfCalls)

	wf := st.Get().Workflow
	require.NotNil(t, wf)
	assert.Equal(t, models.DeploymentStatusFailed, wf.DeploymentStatus)
	assert.Contains(t, wf.DeploymentError, "missing cloudflare credentials")
}

func TestEnvCredentialsPartial(t *testing.T) {
	t.Setenv("TEST_CF_ACCOUNT_ID", "acct-env")
	t.Setenv("TEST_CF_API_TOKEN", "")
	creds, err := EnvCredentials{
		AccountIDVar: "TEST_CF_ACCOUNT_ID",
		APITokenVar:  "TEST_CF_API_TOKEN",
	}.CloudflareCredentials(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "acct-env", creds.AccountID)
	assert.Empty(t, creds.APIToken)
}

func TestDeployToCloudflareRecordsFailure(t *testing.T) {
	seed := models.SessionState{
		BaseSessionState: models.BaseSessionState{
			SessionID:         "sess-1",
			ProjectName:       "my-workflow",
			ProjectType:       models.ProjectTypeWorkflow,
			SandboxInstanceID: "inst-live",
			GeneratedFilesMap: map[string]models.FileRecord{},
		},
		Workflow: &models.WorkflowState{DeploymentStatus: models.DeploymentStatusIdle},
	}
	sb := newFakeSandbox()
	sb.instances["inst-live"] = &sandbox.Instance{ID: "inst-live"}
	sb.cfResults = []sandbox.CloudflareDeployResult{
		{Success: false, Error: "quota exceeded"},
	}
	m, st := newTestManager(t, seed, sb)

	_, err := m.DeployToCloudflare(context.Background())
	require.Error(t, err)

	wf := st.Get().Workflow
	require.NotNil(t, wf)
	assert.Equal(t, models.DeploymentStatusFailed, wf.DeploymentStatus)
	assert.Contains(t, wf.DeploymentError, "quota exceeded")
}

func TestFetchRuntimeErrorsRedeploysOnFetchFailure(t *testing.T) {
	seed := appSeed()
	seed.SandboxInstanceID = "inst-dead"
	sb := newFakeSandbox()
	sb.getErrorsErr = errors.New("connection refused")
	m, st := newTestManager(t, seed, sb)

	errs, err := m.FetchRuntimeErrors(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, errs)

	// A fresh instance replaced the dead one.
	assert.NotEqual(t, "inst-dead", st.Get().SandboxInstanceID)
	assert.NotEmpty(t, st.Get().SandboxInstanceID)
}

func TestIsDependencyCommand(t *testing.T) {
	assert.True(t, IsDependencyCommand("bun install"))
	assert.True(t, IsDependencyCommand("npm install zod"))
	assert.True(t, IsDependencyCommand("bun add react"))
	assert.True(t, IsDependencyCommand("npm uninstall lodash"))
	assert.True(t, IsDependencyCommand("yarn remove left-pad"))
	assert.False(t, IsDependencyCommand("bun run dev"))
	assert.False(t, IsDependencyCommand("ls -la"))
}
