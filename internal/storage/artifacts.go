// Package storage keeps synthesized reply audio until the client fetches it.
//
// Artifacts are WAV files in a process-scoped directory. Each one belongs to
// the turn that wrote it, is served once and then deleted. Anything never
// fetched is removed by the janitor after the configured TTL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/valperai/valper-gateway/internal/observability"
)

// ErrNotFound is returned for unknown, expired or already served artifacts
var ErrNotFound = errors.New("artifact not found")

const artifactExt = ".wav"

// Artifact describes one stored audio file
type Artifact struct {
	ID        string
	Path      string
	Size      int
	CreatedAt time.Time
	// URL is the presigned object storage URL when an uploader is configured
	URL string
}

// Store manages artifacts in a local directory
type Store struct {
	dir      string
	ttl      time.Duration
	uploader Uploader
	logger   zerolog.Logger
}

// NewStore creates dir if needed. uploader may be nil.
func NewStore(dir string, ttl time.Duration, uploader Uploader, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "valper-audio")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		dir:      dir,
		ttl:      ttl,
		uploader: uploader,
		logger:   logger.With().Str("component", "artifacts").Logger(),
	}, nil
}

// Dir returns the artifact directory
func (s *Store) Dir() string {
	return s.dir
}

// Save writes wav as a new artifact. An upload failure is logged and leaves
// the artifact available locally.
func (s *Store) Save(ctx context.Context, wav []byte) (Artifact, error) {
	id := uuid.New().String()
	path := s.path(id)

	// write then rename so a concurrent Take never sees a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, wav, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Artifact{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	artifact := Artifact{ID: id, Path: path, Size: len(wav), CreatedAt: time.Now()}
	observability.RecordArtifactEvent("created")

	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, id+artifactExt, wav, "audio/wav")
		if err != nil {
			s.logger.Warn().Err(err).Str("artifact_id", id).Msg("Artifact upload failed")
			observability.RecordArtifactEvent("upload_failed")
		} else {
			artifact.URL = url
			observability.RecordArtifactEvent("uploaded")
		}
	}

	if err := ctx.Err(); err != nil {
		s.Remove(id)
		return Artifact{}, err
	}
	return artifact, nil
}

// Take returns the artifact's bytes and deletes it. A second Take of the same
// id returns ErrNotFound.
func (s *Store) Take(id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	path := s.path(id)

	// claim the file first so two concurrent requests cannot both serve it
	claimed := path + ".serving." + uuid.New().String()
	if err := os.Rename(path, claimed); err != nil {
		return nil, ErrNotFound
	}
	defer os.Remove(claimed)

	data, err := os.ReadFile(claimed)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	observability.RecordArtifactEvent("served")
	return data, nil
}

// Remove deletes an artifact that will not be served
func (s *Store) Remove(id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	observability.RecordArtifactEvent("removed")
	return nil
}

// Sweep deletes artifacts older than the TTL and returns how many it removed
func (s *Store) Sweep(now time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list artifact dir")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), artifactExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < s.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
			observability.RecordArtifactEvent("expired")
		}
	}
	if removed > 0 {
		s.logger.Info().Int("count", removed).Msg("Expired artifacts removed")
	}
	return removed
}

// RunJanitor sweeps expired artifacts every interval until ctx is done
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+artifactExt)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && !strings.ContainsAny(id, `/\.`)
}
