// Package tracking is the client side of the experiment-tracking service: it
// starts runs, resolves input artifacts to local files and registers output
// artifacts with lineage back to the run.
package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrTypeConflict     = errors.New("artifact already registered with a different type")
	ErrRunFinished      = errors.New("run already finished")
)

// Backend is the storage side of the tracking service.
type Backend interface {
	CreateRun(ctx context.Context, run domain.Run) error
	FinishRun(ctx context.Context, run domain.Run) error
	// ResolveVersion returns an error wrapping ErrArtifactNotFound when ref does
	// not name a stored version.
	ResolveVersion(ctx context.Context, ref domain.Ref) (domain.ArtifactVersion, error)
	Download(ctx context.Context, version domain.ArtifactVersion, dest string) error
	RecordUse(ctx context.Context, run domain.Run, version domain.ArtifactVersion) error
	// Register stores upload as a new version of its artifact. When a version with
	// the same content already exists it is returned with created=false.
	Register(ctx context.Context, run domain.Run, upload Upload) (version domain.ArtifactVersion, created bool, err error)
}

// Upload is a file ready to be registered as an artifact version.
type Upload struct {
	Project       string
	Name          string
	Type          string
	Description   string
	Filename      string
	Path          string
	ContentSHA256 string
	SizeBytes     int64
	Metadata      domain.Metadata
}

type Options struct {
	Project string
	Actor   string
	// CacheDir receives downloaded input artifacts, one subdirectory per run.
	CacheDir string
	Logger   *slog.Logger
}

type Tracker struct {
	backend  Backend
	project  string
	actor    string
	cacheDir string
	logger   *slog.Logger
	now      func() time.Time
}

func New(backend Backend, opts Options) (*Tracker, error) {
	if backend == nil {
		return nil, errors.New("tracking backend is required")
	}
	project := strings.TrimSpace(opts.Project)
	if err := domain.ValidateProject(project); err != nil {
		return nil, err
	}
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		return nil, errors.New("actor is required")
	}
	cacheDir := strings.TrimSpace(opts.CacheDir)
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "basic-cleaning", "artifacts")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		backend:  backend,
		project:  project,
		actor:    actor,
		cacheDir: cacheDir,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// StartRun registers a new run of jobType with its configuration snapshot.
func (t *Tracker) StartRun(ctx context.Context, jobType string, config map[string]any) (*Run, error) {
	run := domain.Run{
		ID:        uuid.NewString(),
		Project:   t.project,
		JobType:   strings.TrimSpace(jobType),
		Config:    domain.Metadata(config).Clone(),
		Status:    domain.RunRunning,
		StartedAt: t.now().UTC(),
		CreatedBy: t.actor,
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if err := t.backend.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	t.logger.Info("run started", "run_id", run.ID, "project", run.Project, "job_type", run.JobType)
	return &Run{
		tracker:     t,
		run:         run,
		downloadDir: filepath.Join(t.cacheDir, run.ID),
	}, nil
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
