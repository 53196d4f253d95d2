package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/config"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
)

// stubSandbox is a minimal in-memory sandbox service.
type stubSandbox struct {
	mu        sync.Mutex
	instances map[string]*sandbox.Instance
	nextID    int
}

func newStubSandbox() *stubSandbox {
	return &stubSandbox{instances: make(map[string]*sandbox.Instance)}
}

func (f *stubSandbox) CreateInstance(_ context.Context, _ sandbox.CreateInstanceRequest) (*sandbox.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("inst-%d", f.nextID)
	inst := &sandbox.Instance{ID: id, PreviewURL: "https://" + id + ".preview"}
	f.instances[id] = inst
	return inst, nil
}

func (f *stubSandbox) GetInstance(_ context.Context, id string) (*sandbox.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, errors.New("instance not found")
	}
	return inst, nil
}

func (f *stubSandbox) WriteFiles(_ context.Context, _ string, files []sandbox.File) ([]sandbox.WriteResult, error) {
	out := make([]sandbox.WriteResult, len(files))
	for i, file := range files {
		out[i] = sandbox.WriteResult{FilePath: file.FilePath, Success: true}
	}
	return out, nil
}

func (f *stubSandbox) GetFiles(_ context.Context, _ string, _ []string) ([]sandbox.File, error) {
	return nil, nil
}

func (f *stubSandbox) UpdateProjectName(_ context.Context, _ string, _ string) error { return nil }

func (f *stubSandbox) ExecuteCommands(_ context.Context, _ string, commands []string) ([]sandbox.CommandResult, error) {
	out := make([]sandbox.CommandResult, len(commands))
	for i, cmd := range commands {
		out[i] = sandbox.CommandResult{Command: cmd, Success: true}
	}
	return out, nil
}

func (f *stubSandbox) GetLogs(_ context.Context, _ string, _ bool) (string, error) { return "", nil }

func (f *stubSandbox) GetErrors(_ context.Context, _ string, _ bool) ([]sandbox.RuntimeError, error) {
	return nil, nil
}

func (f *stubSandbox) RunAnalysis(_ context.Context, _ string, _ []string) (*sandbox.AnalysisReport, error) {
	return &sandbox.AnalysisReport{}, nil
}

func (f *stubSandbox) DeployToCloudflare(_ context.Context, _ sandbox.CloudflareDeployRequest) (*sandbox.CloudflareDeployResult, error) {
	return &sandbox.CloudflareDeployResult{Success: true, DeployedURL: "https://app.workers.dev"}, nil
}

func (f *stubSandbox) Shutdown(_ context.Context, _ string) error { return nil }

// idleLLM refuses every call; the API tests never reach inference.
type idleLLM struct{}

func (idleLLM) Complete(context.Context, inference.Request) (*inference.Response, error) {
	return nil, errors.New("no inference expected in this test")
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	manager, err := NewSessionManager(t.TempDir(), SessionDeps{
		Sandbox: newStubSandbox(),
		LLM:     idleLLM{},
		Model:   "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(manager.CloseAll)

	cfg := &config.Config{Hostname: "localhost:8080", GitHubTokenVar: "GITHUB_TOKEN"}
	srv := NewServer(cfg, manager, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func createTestSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body := `{"query": "build a todo list", "projectType": "app"}`
	resp, err := http.Post(ts.URL+"/api/agent", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var agentID string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var line struct {
			AgentID string `json:"agentId"`
			Error   string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		require.Empty(t, line.Error)
		if line.AgentID != "" {
			agentID = line.AgentID
		}
	}
	require.NotEmpty(t, agentID)
	return agentID
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateSessionStreamsNDJSON(t *testing.T) {
	_, ts := newTestServer(t)
	agentID := createTestSession(t, ts)
	assert.NotEmpty(t, agentID)
}

func TestCreateSessionRejectsMissingQuery(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/agent", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSession(t *testing.T) {
	_, ts := newTestServer(t)
	agentID := createTestSession(t, ts)

	resp, err := http.Get(ts.URL + "/api/agent/" + agentID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		AgentID     string `json:"agentId"`
		ProjectName string `json:"projectName"`
		ProjectType string `json:"projectType"`
		FileCount   int    `json:"fileCount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, agentID, payload.AgentID)
	assert.NotEmpty(t, payload.ProjectName)
	assert.Equal(t, "app", payload.ProjectType)
	assert.Greater(t, payload.FileCount, 0)
}

func TestGetUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/agent/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketControlFrames(t *testing.T) {
	_, ts := newTestServer(t)
	agentID := createTestSession(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/api/agent/" + agentID + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	err = conn.Write(ctx, websocket.MessageText, []byte(`{"type": "get_conversation_state"}`))
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "conversation_state", frame.Type)
}

func TestWebSocketReportsUnknownFrame(t *testing.T) {
	_, ts := newTestServer(t)
	agentID := createTestSession(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/api/agent/" + agentID + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type": "bogus"}`)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unknown control frame")
}

func TestExportBundle(t *testing.T) {
	_, ts := newTestServer(t)
	agentID := createTestSession(t, ts)

	resp, err := http.Get(ts.URL + "/api/agent/" + agentID + "/export/bundle")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bundle struct {
		Head    string            `json:"head"`
		Objects []json.RawMessage `json:"objects"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bundle))
	assert.NotEmpty(t, bundle.Head)
	assert.NotEmpty(t, bundle.Objects)
}

func TestExportRequiresRepository(t *testing.T) {
	_, ts := newTestServer(t)
	agentID := createTestSession(t, ts)

	resp, err := http.Post(ts.URL+"/api/agent/"+agentID+"/export", "application/json",
		bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCloseAndRehydrateSession(t *testing.T) {
	srv, ts := newTestServer(t)
	agentID := createTestSession(t, ts)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/agent/"+agentID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, srv.sessions.Count())

	// The database file survives; a later request rehydrates the session.
	resp, err = http.Get(ts.URL + "/api/agent/" + agentID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, srv.sessions.Count())
}
