package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/animus-labs/basic-cleaning/internal/platform/lineageevent"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run) error
	FinishRun(ctx context.Context, run domain.Run) error
}

type ArtifactRepository interface {
	// EnsureArtifact creates the artifact row unless one with the same project and
	// name exists, and returns the stored row either way.
	EnsureArtifact(ctx context.Context, artifact domain.Artifact) (domain.Artifact, error)
	GetVersion(ctx context.Context, ref domain.Ref) (domain.ArtifactVersion, error)
	FindVersionByDigest(ctx context.Context, artifact domain.Artifact, sha256 string) (domain.ArtifactVersion, error)
	// CreateVersion assigns the next ordinal, stores the version, makes it the
	// artifact's latest and records the produced lineage edge atomically.
	CreateVersion(ctx context.Context, version domain.ArtifactVersion) (domain.ArtifactVersion, error)
	// ReuseVersion makes an existing version the artifact's latest again and
	// records runID as having produced it.
	ReuseVersion(ctx context.Context, version domain.ArtifactVersion, runID string) error
	RecordLineage(ctx context.Context, event lineageevent.Event) error
}
