// Package files implements the file manager: it maintains the session's
// generated-file map and commits every change to the embedded version-control
// store so the map and HEAD never diverge.
package files

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/state"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/vcs"
)

// Manager owns the generated-file map. All writes commit to the VCS first;
// the map update is rolled back if the commit fails, so a path never appears
// in the map without a commit containing it.
type Manager struct {
	state *state.Store
	vcs   *vcs.Store
	log   *slog.Logger
}

// NewManager creates a file manager.
func NewManager(st *state.Store, vc *vcs.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{state: st, vcs: vc, log: log}
}

// SaveGeneratedFile writes one file record and commits it. Returns the
// persisted record (with LastDiff computed against the previous contents).
func (m *Manager) SaveGeneratedFile(ctx context.Context, file models.FileRecord, commitMessage string) (models.FileRecord, error) {
	saved, err := m.SaveGeneratedFiles(ctx, []models.FileRecord{file}, commitMessage)
	if err != nil {
		return models.FileRecord{}, err
	}
	return saved[0], nil
}

// SaveGeneratedFiles atomically updates the map and creates one commit
// containing all files. On commit failure the map is left untouched.
func (m *Manager) SaveGeneratedFiles(ctx context.Context, incoming []models.FileRecord, commitMessage string) ([]models.FileRecord, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	prev := m.state.Get().GeneratedFilesMap

	records := make([]models.FileRecord, len(incoming))
	upserts := make(map[string]string, len(incoming))
	for i, f := range incoming {
		rec := f
		if old, ok := prev[f.FilePath]; ok {
			rec.LastDiff = computeDiff(old.FileContents, f.FileContents)
			if rec.FilePurpose == "" {
				rec.FilePurpose = old.FilePurpose
			}
		} else {
			rec.LastDiff = computeDiff("", f.FileContents)
		}
		records[i] = rec
		upserts[f.FilePath] = f.FileContents
	}

	// Commit before updating the map so every path in the map has a
	// committed blob behind it.
	if _, err := m.vcs.CommitFiles(ctx, upserts, nil, commitMessage); err != nil {
		return nil, fmt.Errorf("failed to commit generated files: %w", err)
	}

	m.state.Update(ctx, func(s *models.SessionState) {
		if s.GeneratedFilesMap == nil {
			s.GeneratedFilesMap = make(map[string]models.FileRecord, len(records))
		}
		for _, rec := range records {
			s.GeneratedFilesMap[rec.FilePath] = rec
		}
	})
	return records, nil
}

// GetGeneratedFile returns the record at path, or false when absent.
func (m *Manager) GetGeneratedFile(path string) (models.FileRecord, bool) {
	rec, ok := m.state.Get().GeneratedFilesMap[path]
	return rec, ok
}

// GetGeneratedFiles returns a snapshot of all records.
func (m *Manager) GetGeneratedFiles() []models.FileRecord {
	fm := m.state.Get().GeneratedFilesMap
	out := make([]models.FileRecord, 0, len(fm))
	for _, rec := range fm {
		out = append(out, rec)
	}
	return out
}

// DeleteFiles removes the given paths from the map and commits the deletion.
// Unknown paths are ignored.
func (m *Manager) DeleteFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := m.vcs.CommitFiles(ctx, nil, paths, fmt.Sprintf("delete %d files", len(paths))); err != nil {
		return fmt.Errorf("failed to commit file deletion: %w", err)
	}
	m.state.Update(ctx, func(s *models.SessionState) {
		for _, p := range paths {
			delete(s.GeneratedFilesMap, p)
		}
	})
	return nil
}

// computeDiff renders a compact patch from old to new contents.
func computeDiff(old, new string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(old, new)
	if len(patches) == 0 {
		return ""
	}
	return dmp.PatchToText(patches)
}
