package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/dustin/go-humanize"
)

// Run is the handle for one execution. It is created by Tracker.StartRun and
// must be closed with Finish.
type Run struct {
	tracker     *Tracker
	run         domain.Run
	downloadDir string
	finished    bool
}

func (r *Run) ID() string {
	return r.run.ID
}

func (r *Run) Project() string {
	return r.run.Project
}

// UseArtifact resolves ref, downloads the payload and records the run as a
// consumer. It returns the local path of the payload file.
func (r *Run) UseArtifact(ctx context.Context, ref string) (string, error) {
	if r.finished {
		return "", ErrRunFinished
	}
	parsed, err := domain.ParseRef(ref, r.run.Project)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}

	backend := r.tracker.backend
	version, err := backend.ResolveVersion(ctx, parsed)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(r.downloadDir, version.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(version.Filename))
	if err := backend.Download(ctx, version, dest); err != nil {
		return "", fmt.Errorf("download %s: %w", version.Ref(), err)
	}

	sum, size, err := fileDigest(dest)
	if err != nil {
		return "", fmt.Errorf("verify %s: %w", version.Ref(), err)
	}
	if sum != version.ContentSHA256 {
		return "", fmt.Errorf("verify %s: content sha256 %s does not match registered %s", version.Ref(), sum, version.ContentSHA256)
	}

	if err := backend.RecordUse(ctx, r.run, version); err != nil {
		return "", fmt.Errorf("record use of %s: %w", version.Ref(), err)
	}

	r.tracker.logger.Info("artifact resolved",
		"run_id", r.run.ID,
		"ref", version.Ref().String(),
		"version_id", version.ID,
		"size", humanize.Bytes(uint64(size)),
	)
	return dest, nil
}

// LogArtifact registers artifact as an output of the run.
func (r *Run) LogArtifact(ctx context.Context, artifact *Artifact) (Reference, error) {
	if r.finished {
		return Reference{}, ErrRunFinished
	}
	if artifact == nil {
		return Reference{}, fmt.Errorf("artifact is required")
	}
	if err := artifact.Validate(); err != nil {
		return Reference{}, err
	}

	sum, size, err := fileDigest(artifact.File())
	if err != nil {
		return Reference{}, fmt.Errorf("hash %s: %w", artifact.File(), err)
	}

	version, created, err := r.tracker.backend.Register(ctx, r.run, Upload{
		Project:       r.run.Project,
		Name:          artifact.Name,
		Type:          artifact.Type,
		Description:   artifact.Description,
		Filename:      filepath.Base(artifact.File()),
		Path:          artifact.File(),
		ContentSHA256: sum,
		SizeBytes:     size,
		Metadata:      artifact.Metadata.Clone(),
	})
	if err != nil {
		return Reference{}, err
	}

	r.tracker.logger.Info("artifact logged",
		"run_id", r.run.ID,
		"ref", version.Ref().String(),
		"version_id", version.ID,
		"created", created,
		"size", humanize.Bytes(uint64(size)),
	)
	return Reference{
		Ref:       version.Ref(),
		VersionID: version.ID,
		Type:      version.Type,
		Digest:    version.ContentSHA256,
		SizeBytes: version.SizeBytes,
		Created:   created,
	}, nil
}

// Finish marks the run finished, or failed when runErr is non-nil, and removes
// the run's downloaded inputs.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	if r.finished {
		return ErrRunFinished
	}
	r.finished = true

	r.run.Status = domain.RunFinished
	if runErr != nil {
		r.run.Status = domain.RunFailed
		r.run.Error = runErr.Error()
	}
	r.run.FinishedAt = r.tracker.now().UTC()

	cleanupErr := os.RemoveAll(r.downloadDir)
	if err := r.tracker.backend.FinishRun(ctx, r.run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if cleanupErr != nil {
		return fmt.Errorf("remove downloads: %w", cleanupErr)
	}
	r.tracker.logger.Info("run finished", "run_id", r.run.ID, "status", string(r.run.Status))
	return nil
}
