// Package store owns the canonical avatar assets, the per-job temp
// workspaces, the external encoding tools, and the persisted job ledger.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/media"
)

// Store manages filesystem state for the service. All transient writes are
// confined to per-job workspaces below the temp root; the avatar assets are
// never mutated.
type Store struct {
	root      string
	avatar    domain.AvatarAsset
	avatarDir string
	log       infra.Logger
}

// New validates the canonical avatar asset and prepares the temp root.
// Failures here are startup failures: the process must not serve without a
// readable asset and a writable scratch area.
func New(tempRoot, avatarVideoPath, avatarDir string, log infra.Logger) (*Store, error) {
	tempRoot = strings.TrimSpace(tempRoot)
	if tempRoot == "" {
		return nil, errors.New("store: temp root is required")
	}
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure temp root: %w", err)
	}

	info, err := os.Stat(avatarVideoPath)
	if err != nil {
		return nil, fmt.Errorf("store: avatar asset: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("store: avatar asset %s is not a usable video file", avatarVideoPath)
	}

	if avatarDir != "" {
		if _, err := os.Stat(avatarDir); err != nil {
			return nil, fmt.Errorf("store: avatar dir: %w", err)
		}
	}

	return &Store{
		root: tempRoot,
		avatar: domain.AvatarAsset{
			Name: filepath.Base(avatarVideoPath),
			Path: avatarVideoPath,
		},
		avatarDir: avatarDir,
		log:       log,
	}, nil
}

// Root returns the temp root directory.
func (s *Store) Root() string { return s.root }

// DefaultAvatar returns the bundled avatar asset.
func (s *Store) DefaultAvatar() domain.AvatarAsset { return s.avatar }

// ResolveAvatar maps an optional override name to an asset. Overrides only
// resolve inside the configured avatar directory; names are flattened to
// their base so a request can never reach outside it.
func (s *Store) ResolveAvatar(name string) (domain.AvatarAsset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.avatar, nil
	}
	if s.avatarDir == "" {
		return domain.AvatarAsset{}, domain.E(domain.KindValidation, "avatar overrides are not enabled")
	}

	base := filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return domain.AvatarAsset{}, domain.E(domain.KindValidation, "invalid avatar name %q", name)
	}

	path := filepath.Join(s.avatarDir, base)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return domain.AvatarAsset{}, domain.E(domain.KindValidation, "unknown avatar %q", base)
	}

	return domain.AvatarAsset{Name: base, Path: path}, nil
}

// Workspace is an isolated scratch directory scoped to one job. At most one
// job ever holds a given path because the directory is named after the job's
// unique ID and creation fails if it already exists.
type Workspace struct {
	JobID string
	Dir   string

	log      infra.Logger
	released atomic.Bool
}

// Allocate creates an empty workspace for the job.
func (s *Store) Allocate(jobID string) (*Workspace, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || jobID != filepath.Base(jobID) {
		return nil, domain.E(domain.KindInternal, "invalid job id %q", jobID)
	}

	dir := filepath.Join(s.root, jobID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, domain.WrapE(domain.KindResource, err, "failed to allocate workspace")
	}

	return &Workspace{JobID: jobID, Dir: dir, log: s.log}, nil
}

// Path returns the location of a named artifact inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// WriteInputAudio persists the inbound audio payload and returns its path.
// Empty or unrecognized payloads are rejected before anything touches disk.
func (w *Workspace) WriteInputAudio(data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.E(domain.KindValidation, "empty audio payload")
	}
	format := media.DetectFormat(data)
	if format == media.FormatUnknown {
		return "", domain.E(domain.KindValidation, "unrecognized audio format")
	}

	path := w.Path("input" + format.Ext())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", domain.WrapE(domain.KindResource, err, "failed to persist input audio")
	}
	return path, nil
}

// Release deletes the workspace. It is safe to call more than once and on
// every exit path; deletion failures are logged, never raised.
func (w *Workspace) Release() {
	if w == nil || !w.released.CompareAndSwap(false, true) {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		w.log.Warn().Err(err).Str("job_id", w.JobID).Msg("failed to release workspace")
		return
	}
	w.log.Debug().Str("job_id", w.JobID).Msg("workspace released")
}

// SweepOrphans removes workspace directories left behind by crashed or
// interrupted jobs. Only directories untouched since the cutoff are removed,
// which keeps in-flight workspaces safe. The jobs database file is skipped.
func (s *Store) SweepOrphans(cutoff int64) int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.Warn().Err(err).Msg("orphan sweep: cannot read temp root")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Unix() >= cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			s.log.Warn().Err(err).Str("dir", entry.Name()).Msg("orphan sweep: remove failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("orphan workspaces swept")
	}
	return removed
}
