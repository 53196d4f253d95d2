// Package vcs implements the session's embedded version-control store: an
// append-only, content-addressed object model of blobs, trees, and commits
// with a HEAD pointer, backed by the session database. Objects are exportable
// as raw bytes for external publishing.
package vcs

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
)

// Object kinds.
const (
	KindBlob   = "blob"
	KindTree   = "tree"
	KindCommit = "commit"
)

const headRef = "HEAD"

// Object is one raw object row.
type Object struct {
	Hash    string `json:"hash"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// TreeEntry maps a path to its blob hash.
type TreeEntry struct {
	Path string `json:"path"`
	Blob string `json:"blob"`
}

// Commit is the decoded commit payload.
type Commit struct {
	Tree       string    `json:"tree"`
	Parent     string    `json:"parent,omitempty"`
	Message    string    `json:"message"`
	AuthoredAt time.Time `json:"authoredAt"`
}

// Store is the version-control store for one session.
type Store struct {
	db *store.DB
}

// New creates a store over the session database.
func New(db *store.DB) *Store {
	return &Store{db: db}
}

// Init is idempotent; the schema is bootstrapped by the database open and no
// initial objects are required. It exists so callers can assert the store is
// reachable before the first commit.
func (s *Store) Init(ctx context.Context) error {
	var n int
	if err := s.db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM vcs_refs`).Scan(&n); err != nil {
		return fmt.Errorf("vcs init: %w", err)
	}
	return nil
}

// Head returns the current HEAD commit hash, or "" when no commits exist.
// Callers must tolerate the empty result.
func (s *Store) Head(ctx context.Context) (string, error) {
	var hash string
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT hash FROM vcs_refs WHERE name = $1`, headRef).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return hash, nil
}

// CommitFiles hashes blobs for upserts, builds a tree delta over the previous
// HEAD (carrying forward unchanged entries, dropping deletes), writes a new
// commit, and advances HEAD. Returns the new commit hash.
func (s *Store) CommitFiles(ctx context.Context, upserts map[string]string, deletes []string, message string) (string, error) {
	prev, err := s.Head(ctx)
	if err != nil {
		return "", err
	}

	entries := map[string]string{}
	if prev != "" {
		c, err := s.ReadCommit(ctx, prev)
		if err != nil {
			return "", err
		}
		prevEntries, err := s.readTree(ctx, c.Tree)
		if err != nil {
			return "", err
		}
		for p, b := range prevEntries {
			entries[p] = b
		}
	}
	for _, p := range deletes {
		delete(entries, p)
	}
	for path, contents := range upserts {
		blobHash, err := s.writeObject(ctx, KindBlob, []byte(contents))
		if err != nil {
			return "", err
		}
		entries[path] = blobHash
	}

	treeHash, err := s.writeTree(ctx, entries)
	if err != nil {
		return "", err
	}

	commit := Commit{
		Tree:       treeHash,
		Parent:     prev,
		Message:    message,
		AuthoredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(commit)
	if err != nil {
		return "", fmt.Errorf("failed to encode commit: %w", err)
	}
	commitHash, err := s.writeObject(ctx, KindCommit, payload)
	if err != nil {
		return "", err
	}
	if err := s.setHead(ctx, commitHash); err != nil {
		return "", err
	}
	return commitHash, nil
}

// ReadCommit decodes the commit object at hash.
func (s *Store) ReadCommit(ctx context.Context, hash string) (*Commit, error) {
	payload, kind, err := s.readObject(ctx, hash)
	if err != nil {
		return nil, err
	}
	if kind != KindCommit {
		return nil, fmt.Errorf("object %s is a %s, not a commit", hash, kind)
	}
	var c Commit
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", hash, err)
	}
	return &c, nil
}

// TreeFiles returns path → blob hash for the tree of the given commit.
func (s *Store) TreeFiles(ctx context.Context, commitHash string) (map[string]string, error) {
	c, err := s.ReadCommit(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	return s.readTree(ctx, c.Tree)
}

// BlobContents returns the raw contents of a blob.
func (s *Store) BlobContents(ctx context.Context, hash string) (string, error) {
	payload, kind, err := s.readObject(ctx, hash)
	if err != nil {
		return "", err
	}
	if kind != KindBlob {
		return "", fmt.Errorf("object %s is a %s, not a blob", hash, kind)
	}
	return string(payload), nil
}

// Log walks the commit chain from HEAD, newest first, up to limit entries
// (limit <= 0 means unbounded).
func (s *Store) Log(ctx context.Context, limit int) ([]Commit, error) {
	head, err := s.Head(ctx)
	if err != nil {
		return nil, err
	}
	var out []Commit
	for hash := head; hash != ""; {
		c, err := s.ReadCommit(ctx, hash)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
		if limit > 0 && len(out) >= limit {
			break
		}
		hash = c.Parent
	}
	return out, nil
}

// ExportObjects returns every raw object plus the HEAD hash ("" when no
// commits exist).
func (s *Store) ExportObjects(ctx context.Context) ([]Object, string, error) {
	head, err := s.Head(ctx)
	if err != nil {
		return nil, "", err
	}
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT hash, kind, payload FROM vcs_objects ORDER BY hash`)
	if err != nil {
		return nil, "", fmt.Errorf("failed to export objects: %w", err)
	}
	defer rows.Close()
	var objects []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Hash, &o.Kind, &o.Payload); err != nil {
			return nil, "", fmt.Errorf("failed to scan object row: %w", err)
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	return objects, head, nil
}

func (s *Store) writeTree(ctx context.Context, entries map[string]string) (string, error) {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	tree := make([]TreeEntry, 0, len(paths))
	for _, p := range paths {
		tree = append(tree, TreeEntry{Path: p, Blob: entries[p]})
	}
	payload, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("failed to encode tree: %w", err)
	}
	return s.writeObject(ctx, KindTree, payload)
}

func (s *Store) readTree(ctx context.Context, hash string) (map[string]string, error) {
	payload, kind, err := s.readObject(ctx, hash)
	if err != nil {
		return nil, err
	}
	if kind != KindTree {
		return nil, fmt.Errorf("object %s is a %s, not a tree", hash, kind)
	}
	var tree []TreeEntry
	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree %s: %w", hash, err)
	}
	out := make(map[string]string, len(tree))
	for _, e := range tree {
		out[e.Path] = e.Blob
	}
	return out, nil
}

// writeObject stores the object if absent and returns its hash. The store is
// append-only: identical content hashes to the identical row.
func (s *Store) writeObject(ctx context.Context, kind string, payload []byte) (string, error) {
	hash := hashObject(kind, payload)
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO vcs_objects (hash, kind, payload) VALUES ($1, $2, $3)
		 ON CONFLICT(hash) DO NOTHING`,
		hash, kind, payload)
	if err != nil {
		return "", fmt.Errorf("failed to write %s object: %w", kind, err)
	}
	return hash, nil
}

func (s *Store) readObject(ctx context.Context, hash string) ([]byte, string, error) {
	var kind string
	var payload []byte
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT kind, payload FROM vcs_objects WHERE hash = $1`, hash).Scan(&kind, &payload)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("object %s not found", hash)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object %s: %w", hash, err)
	}
	return payload, kind, nil
}

func (s *Store) setHead(ctx context.Context, hash string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO vcs_refs (name, hash) VALUES ($1, $2)
		 ON CONFLICT(name) DO UPDATE SET hash = excluded.hash`,
		headRef, hash)
	if err != nil {
		return fmt.Errorf("failed to advance HEAD: %w", err)
	}
	return nil
}

func hashObject(kind string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
