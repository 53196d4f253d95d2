// Package export publishes the session's version history: raw object bundles
// for download and pushes to a GitHub repository via the Git database API.
package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/events"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/vcs"
)

// Bundle is the downloadable export of the session history: every raw object
// plus the HEAD hash.
type Bundle struct {
	Head    string       `json:"head"`
	Objects []vcs.Object `json:"objects"`
}

// ExportBundle snapshots the full object store.
func ExportBundle(ctx context.Context, store *vcs.Store) (*Bundle, error) {
	objects, head, err := store.ExportObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export history: %w", err)
	}
	return &Bundle{Head: head, Objects: objects}, nil
}

// CredentialsProvider supplies the GitHub token for pushes.
type CredentialsProvider interface {
	Token(ctx context.Context) (string, error)
}

// EnvCredentials reads the token from an environment variable.
type EnvCredentials struct {
	// Var is the variable name; GITHUB_TOKEN when empty.
	Var string
}

func (e EnvCredentials) Token(_ context.Context) (string, error) {
	name := e.Var
	if name == "" {
		name = "GITHUB_TOKEN"
	}
	token := os.Getenv(name)
	if token == "" {
		return "", fmt.Errorf("no GitHub token in %s", name)
	}
	return token, nil
}

// GitHubExporter pushes the current HEAD tree to a GitHub repository.
type GitHubExporter struct {
	vcs    *vcs.Store
	bus    *events.Bus
	creds  CredentialsProvider
	log    *slog.Logger
	apiURL string
	client *http.Client
}

// NewGitHubExporter creates an exporter. apiURL overrides the GitHub API base
// when non-empty (tests point it at a local server).
func NewGitHubExporter(store *vcs.Store, bus *events.Bus, creds CredentialsProvider, apiURL string, log *slog.Logger) *GitHubExporter {
	if log == nil {
		log = slog.Default()
	}
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	return &GitHubExporter{
		vcs:    store,
		bus:    bus,
		creds:  creds,
		log:    log,
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Push exports the HEAD tree to repo ("owner/name") on branch, creating the
// repository when it does not exist. Progress is broadcast as export events.
func (e *GitHubExporter) Push(ctx context.Context, repo, branch string) (string, error) {
	if branch == "" {
		branch = "main"
	}
	e.bus.Broadcast(events.TypeGitHubExportStarted, map[string]string{"repository": repo})

	url, err := e.push(ctx, repo, branch)
	if err != nil {
		e.log.Error("GitHub export failed", "repository", repo, "error", err)
		e.bus.Broadcast(events.TypeGitHubExportError, map[string]string{"error": err.Error()})
		return "", err
	}

	e.bus.Broadcast(events.TypeGitHubExportCompleted, map[string]string{"repositoryUrl": url})
	return url, nil
}

func (e *GitHubExporter) push(ctx context.Context, repo, branch string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("repository must be owner/name, got %q", repo)
	}

	token, err := e.creds.Token(ctx)
	if err != nil {
		return "", err
	}

	head, err := e.vcs.Head(ctx)
	if err != nil {
		return "", err
	}
	if head == "" {
		return "", errors.New("nothing to export: no commits")
	}
	commit, err := e.vcs.ReadCommit(ctx, head)
	if err != nil {
		return "", err
	}
	tree, err := e.vcs.TreeFiles(ctx, head)
	if err != nil {
		return "", err
	}

	if err := e.ensureRepo(ctx, token, name); err != nil {
		return "", err
	}

	base := fmt.Sprintf("%s/repos/%s/%s", e.apiURL, owner, name)

	// One blob per file, then one tree, one commit, one ref update.
	type treeEntry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	entries := make([]treeEntry, 0, len(tree))
	done := 0
	for path, blobHash := range tree {
		contents, err := e.vcs.BlobContents(ctx, blobHash)
		if err != nil {
			return "", err
		}
		var blob struct {
			SHA string `json:"sha"`
		}
		err = e.call(ctx, token, http.MethodPost, base+"/git/blobs", map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte(contents)),
			"encoding": "base64",
		}, &blob)
		if err != nil {
			return "", fmt.Errorf("failed to upload blob for %s: %w", path, err)
		}
		entries = append(entries, treeEntry{Path: path, Mode: "100644", Type: "blob", SHA: blob.SHA})
		done++
		e.bus.Broadcast(events.TypeGitHubExportProgress, map[string]any{
			"uploaded": done,
			"total":    len(tree),
		})
	}

	var ghTree struct {
		SHA string `json:"sha"`
	}
	if err := e.call(ctx, token, http.MethodPost, base+"/git/trees", map[string]any{"tree": entries}, &ghTree); err != nil {
		return "", fmt.Errorf("failed to create tree: %w", err)
	}

	message := commit.Message
	if message == "" {
		message = "Export generated project"
	}
	var ghCommit struct {
		SHA string `json:"sha"`
	}
	if err := e.call(ctx, token, http.MethodPost, base+"/git/commits", map[string]any{
		"message": message,
		"tree":    ghTree.SHA,
	}, &ghCommit); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	ref := "refs/heads/" + branch
	err = e.call(ctx, token, http.MethodPatch, base+"/git/"+ref, map[string]any{
		"sha":   ghCommit.SHA,
		"force": true,
	}, nil)
	if err != nil {
		// The ref does not exist on a fresh repository.
		if err := e.call(ctx, token, http.MethodPost, base+"/git/refs", map[string]any{
			"ref": ref,
			"sha": ghCommit.SHA,
		}, nil); err != nil {
			return "", fmt.Errorf("failed to update branch %s: %w", branch, err)
		}
	}

	return fmt.Sprintf("https://github.com/%s/%s", owner, name), nil
}

// ensureRepo creates the repository, tolerating the already-exists response.
func (e *GitHubExporter) ensureRepo(ctx context.Context, token, name string) error {
	err := e.call(ctx, token, http.MethodPost, e.apiURL+"/user/repos", map[string]any{
		"name":    name,
		"private": true,
	}, nil)
	if err != nil && !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "422") {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

func (e *GitHubExporter) call(ctx context.Context, token, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ghErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &ghErr) == nil && ghErr.Message != "" {
			return fmt.Errorf("github returned %d: %s", resp.StatusCode, ghErr.Message)
		}
		return fmt.Errorf("github returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
