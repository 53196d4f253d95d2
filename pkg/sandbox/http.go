package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 120 * time.Second

// HTTPClient talks to the sandbox service over its JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at baseURL. The token is
// sent as a bearer credential when non-empty.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (c *HTTPClient) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error) {
	var inst Instance
	if err := c.do(ctx, http.MethodPost, "/instances", req, &inst); err != nil {
		return nil, fmt.Errorf("failed to create sandbox instance: %w", err)
	}
	return &inst, nil
}

func (c *HTTPClient) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	var inst Instance
	if err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(instanceID), nil, &inst); err != nil {
		return nil, fmt.Errorf("failed to get sandbox instance: %w", err)
	}
	return &inst, nil
}

func (c *HTTPClient) WriteFiles(ctx context.Context, instanceID string, files []File) ([]WriteResult, error) {
	body := struct {
		Files []File `json:"files"`
	}{Files: files}
	var out struct {
		Results []WriteResult `json:"results"`
	}
	path := "/instances/" + url.PathEscape(instanceID) + "/files"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("failed to write files to sandbox: %w", err)
	}
	return out.Results, nil
}

func (c *HTTPClient) GetFiles(ctx context.Context, instanceID string, paths []string) ([]File, error) {
	body := struct {
		Paths []string `json:"paths"`
	}{Paths: paths}
	var out struct {
		Files []File `json:"files"`
	}
	path := "/instances/" + url.PathEscape(instanceID) + "/files/read"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("failed to read files from sandbox: %w", err)
	}
	return out.Files, nil
}

func (c *HTTPClient) UpdateProjectName(ctx context.Context, instanceID string, name string) error {
	body := struct {
		ProjectName string `json:"projectName"`
	}{ProjectName: name}
	path := "/instances/" + url.PathEscape(instanceID) + "/project-name"
	if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("failed to update sandbox project name: %w", err)
	}
	return nil
}

func (c *HTTPClient) ExecuteCommands(ctx context.Context, instanceID string, commands []string) ([]CommandResult, error) {
	body := struct {
		Commands []string `json:"commands"`
	}{Commands: commands}
	var out struct {
		Results []CommandResult `json:"results"`
	}
	path := "/instances/" + url.PathEscape(instanceID) + "/commands"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("failed to execute sandbox commands: %w", err)
	}
	return out.Results, nil
}

func (c *HTTPClient) GetLogs(ctx context.Context, instanceID string, reset bool) (string, error) {
	path := "/instances/" + url.PathEscape(instanceID) + "/logs"
	if reset {
		path += "?reset=true"
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("failed to fetch sandbox logs: %w", err)
	}
	return out.Logs, nil
}

func (c *HTTPClient) GetErrors(ctx context.Context, instanceID string, clear bool) ([]RuntimeError, error) {
	path := "/instances/" + url.PathEscape(instanceID) + "/errors"
	if clear {
		path += "?clear=true"
	}
	var out struct {
		Errors []RuntimeError `json:"errors"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch sandbox errors: %w", err)
	}
	return out.Errors, nil
}

func (c *HTTPClient) RunAnalysis(ctx context.Context, instanceID string, files []string) (*AnalysisReport, error) {
	body := struct {
		Files []string `json:"files,omitempty"`
	}{Files: files}
	var report AnalysisReport
	path := "/instances/" + url.PathEscape(instanceID) + "/analysis"
	if err := c.do(ctx, http.MethodPost, path, body, &report); err != nil {
		return nil, fmt.Errorf("failed to run static analysis: %w", err)
	}
	return &report, nil
}

func (c *HTTPClient) DeployToCloudflare(ctx context.Context, req CloudflareDeployRequest) (*CloudflareDeployResult, error) {
	var result CloudflareDeployResult
	path := "/instances/" + url.PathEscape(req.InstanceID) + "/deploy"
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, fmt.Errorf("failed to request cloud deployment: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) Shutdown(ctx context.Context, instanceID string) error {
	path := "/instances/" + url.PathEscape(instanceID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to shut down sandbox instance: %w", err)
	}
	return nil
}

// do issues one JSON request. Non-2xx responses are decoded as
// {"error": "..."} when possible and surfaced as errors.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("sandbox service returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("sandbox service returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
