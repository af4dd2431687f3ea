package tracking

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/animus-labs/basic-cleaning/internal/platform/lineageevent"
	"github.com/animus-labs/basic-cleaning/internal/repo"
	"github.com/animus-labs/basic-cleaning/internal/storage/objectstore"
	"github.com/google/uuid"
)

// Registry keeps artifact metadata in Postgres and payloads in object storage.
type Registry struct {
	runs      repo.RunRepository
	artifacts repo.ArtifactRepository
	store     objectstore.Store
	bucket    string
	now       func() time.Time
}

func NewRegistry(runs repo.RunRepository, artifacts repo.ArtifactRepository, store objectstore.Store, bucket string) (*Registry, error) {
	if runs == nil {
		return nil, errors.New("run repository is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact repository is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Registry{runs: runs, artifacts: artifacts, store: store, bucket: bucket, now: time.Now}, nil
}

func (r *Registry) CreateRun(ctx context.Context, run domain.Run) error {
	return r.runs.CreateRun(ctx, run)
}

func (r *Registry) FinishRun(ctx context.Context, run domain.Run) error {
	return r.runs.FinishRun(ctx, run)
}

func (r *Registry) ResolveVersion(ctx context.Context, ref domain.Ref) (domain.ArtifactVersion, error) {
	version, err := r.artifacts.GetVersion(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ArtifactVersion{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	if err != nil {
		return domain.ArtifactVersion{}, err
	}
	return version, nil
}

func (r *Registry) Download(ctx context.Context, version domain.ArtifactVersion, dest string) error {
	err := r.store.GetFile(ctx, r.bucket, version.ObjectKey, dest)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return fmt.Errorf("%w: payload of %s missing from bucket %s", ErrArtifactNotFound, version.Ref(), r.bucket)
	}
	return err
}

func (r *Registry) RecordUse(ctx context.Context, run domain.Run, version domain.ArtifactVersion) error {
	return r.artifacts.RecordLineage(ctx, lineageevent.Event{
		OccurredAt: r.now().UTC(),
		RunID:      run.ID,
		Direction:  lineageevent.Used,
		VersionID:  version.ID,
		Metadata: map[string]any{
			"ref":            version.Ref().String(),
			"content_sha256": version.ContentSHA256,
		},
	})
}

func (r *Registry) Register(ctx context.Context, run domain.Run, upload Upload) (domain.ArtifactVersion, bool, error) {
	now := r.now().UTC()
	artifact, err := r.artifacts.EnsureArtifact(ctx, domain.Artifact{
		ID:        uuid.NewString(),
		Project:   upload.Project,
		Name:      upload.Name,
		Type:      upload.Type,
		CreatedAt: now,
	})
	if err != nil {
		return domain.ArtifactVersion{}, false, fmt.Errorf("ensure artifact: %w", err)
	}
	if artifact.Type != upload.Type {
		return domain.ArtifactVersion{}, false, fmt.Errorf("%w: %s/%s is %q, not %q", ErrTypeConflict, upload.Project, upload.Name, artifact.Type, upload.Type)
	}

	existing, err := r.artifacts.FindVersionByDigest(ctx, artifact, upload.ContentSHA256)
	if err == nil {
		return r.reuse(ctx, run, existing)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.ArtifactVersion{}, false, fmt.Errorf("find version: %w", err)
	}

	versionID := uuid.NewString()
	objectKey := fmt.Sprintf("%s/%s/%s/%s", artifact.Project, artifact.Name, versionID, upload.Filename)
	if _, err := r.store.PutFile(ctx, r.bucket, objectKey, upload.Path, contentType(upload.Filename)); err != nil {
		return domain.ArtifactVersion{}, false, fmt.Errorf("upload payload: %w", err)
	}

	version, err := r.artifacts.CreateVersion(ctx, domain.ArtifactVersion{
		ID:            versionID,
		ArtifactID:    artifact.ID,
		Project:       artifact.Project,
		Name:          artifact.Name,
		Type:          artifact.Type,
		Description:   upload.Description,
		Filename:      upload.Filename,
		ContentSHA256: upload.ContentSHA256,
		ObjectKey:     objectKey,
		SizeBytes:     upload.SizeBytes,
		Metadata:      upload.Metadata,
		CreatedAt:     now,
		CreatedByRun:  run.ID,
	})
	if err != nil {
		_ = r.store.Delete(ctx, r.bucket, objectKey)
		if errors.Is(err, repo.ErrConflict) {
			// Lost a race against an identical upload.
			if existing, findErr := r.artifacts.FindVersionByDigest(ctx, artifact, upload.ContentSHA256); findErr == nil {
				return r.reuse(ctx, run, existing)
			}
		}
		return domain.ArtifactVersion{}, false, fmt.Errorf("create version: %w", err)
	}
	return version, true, nil
}

// reuse returns an already stored version as this run's output.
func (r *Registry) reuse(ctx context.Context, run domain.Run, version domain.ArtifactVersion) (domain.ArtifactVersion, bool, error) {
	if err := r.artifacts.ReuseVersion(ctx, version, run.ID); err != nil {
		return domain.ArtifactVersion{}, false, fmt.Errorf("reuse version %s: %w", version.Ref(), err)
	}
	return version, false, nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
