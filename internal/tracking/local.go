package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Local is a directory-backed tracking backend for offline runs:
//
//	<root>/runs/<run_id>.yaml
//	<root>/artifacts/<project>/<name>/artifact.yaml
//	<root>/artifacts/<project>/<name>/v<N>/manifest.yaml
//	<root>/artifacts/<project>/<name>/v<N>/<filename>
type Local struct {
	root string
	now  func() time.Time
}

type localArtifact struct {
	ID        string    `yaml:"id"`
	Project   string    `yaml:"project"`
	Name      string    `yaml:"name"`
	Type      string    `yaml:"type"`
	CreatedAt time.Time `yaml:"created_at"`

	// LatestOrdinal is the most recently logged version; it moves back to an
	// older version when that content is logged again.
	LatestOrdinal int64 `yaml:"latest_ordinal,omitempty"`
}

type localVersion struct {
	ID              string          `yaml:"id"`
	ArtifactID      string          `yaml:"artifact_id"`
	Ordinal         int64           `yaml:"ordinal"`
	Description     string          `yaml:"description,omitempty"`
	Filename        string          `yaml:"filename"`
	ContentSHA256   string          `yaml:"content_sha256"`
	SizeBytes       int64           `yaml:"size_bytes"`
	Metadata        domain.Metadata `yaml:"metadata,omitempty"`
	CreatedAt       time.Time       `yaml:"created_at"`
	CreatedByRun    string          `yaml:"created_by_run"`
	IntegritySHA256 string          `yaml:"integrity_sha256"`
}

type localLineage struct {
	VersionID  string    `yaml:"version_id"`
	Ref        string    `yaml:"ref"`
	OccurredAt time.Time `yaml:"occurred_at"`
}

type localRun struct {
	ID         string          `yaml:"id"`
	Project    string          `yaml:"project"`
	JobType    string          `yaml:"job_type"`
	Config     domain.Metadata `yaml:"config,omitempty"`
	Status     string          `yaml:"status"`
	Error      string          `yaml:"error,omitempty"`
	StartedAt  time.Time       `yaml:"started_at"`
	FinishedAt *time.Time      `yaml:"finished_at,omitempty"`
	CreatedBy  string          `yaml:"created_by"`
	Used       []localLineage  `yaml:"used,omitempty"`
	Produced   []localLineage  `yaml:"produced,omitempty"`
}

func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("tracking dir is required")
	}
	for _, dir := range []string{filepath.Join(root, "runs"), filepath.Join(root, "artifacts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Local{root: root, now: time.Now}, nil
}

func (l *Local) CreateRun(ctx context.Context, run domain.Run) error {
	path := l.runPath(run.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	return writeYAML(path, localRun{
		ID:        run.ID,
		Project:   run.Project,
		JobType:   run.JobType,
		Config:    run.Config,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.UTC(),
		CreatedBy: run.CreatedBy,
	})
}

func (l *Local) FinishRun(ctx context.Context, run domain.Run) error {
	return l.updateRun(run.ID, func(m *localRun) error {
		if m.FinishedAt != nil {
			return ErrRunFinished
		}
		finished := run.FinishedAt.UTC()
		m.Status = string(run.Status)
		m.Error = run.Error
		m.FinishedAt = &finished
		return nil
	})
}

func (l *Local) ResolveVersion(ctx context.Context, ref domain.Ref) (domain.ArtifactVersion, error) {
	artifact, err := l.readArtifact(ref.Project, ref.Name)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ArtifactVersion{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	if err != nil {
		return domain.ArtifactVersion{}, err
	}

	ordinal, pinned, err := ref.Ordinal()
	if err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	if !pinned {
		ordinal = artifact.LatestOrdinal
		if ordinal == 0 {
			ordinal, err = l.latestOrdinal(ref.Project, ref.Name)
			if err != nil {
				return domain.ArtifactVersion{}, err
			}
		}
		if ordinal == 0 {
			return domain.ArtifactVersion{}, fmt.Errorf("%w: %s has no versions", ErrArtifactNotFound, ref)
		}
	}

	version, err := l.readVersion(artifact, ordinal)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ArtifactVersion{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	return version, err
}

func (l *Local) Download(ctx context.Context, version domain.ArtifactVersion, dest string) error {
	src := filepath.Join(l.artifactDir(version.Project, version.Name), version.ObjectKey)
	err := copyFile(src, dest)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: payload of %s missing", ErrArtifactNotFound, version.Ref())
	}
	return err
}

func (l *Local) RecordUse(ctx context.Context, run domain.Run, version domain.ArtifactVersion) error {
	return l.updateRun(run.ID, func(m *localRun) error {
		m.Used = append(m.Used, localLineage{VersionID: version.ID, Ref: version.Ref().String(), OccurredAt: l.now().UTC()})
		return nil
	})
}

func (l *Local) Register(ctx context.Context, run domain.Run, upload Upload) (domain.ArtifactVersion, bool, error) {
	now := l.now().UTC()
	artifact, err := l.readArtifact(upload.Project, upload.Name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		artifact = localArtifact{
			ID:        uuid.NewString(),
			Project:   upload.Project,
			Name:      upload.Name,
			Type:      upload.Type,
			CreatedAt: now,
		}
		if err := domainArtifact(artifact).Validate(); err != nil {
			return domain.ArtifactVersion{}, false, err
		}
		if err := writeYAML(filepath.Join(l.artifactDir(upload.Project, upload.Name), "artifact.yaml"), artifact); err != nil {
			return domain.ArtifactVersion{}, false, err
		}
	case err != nil:
		return domain.ArtifactVersion{}, false, err
	}
	if artifact.Type != upload.Type {
		return domain.ArtifactVersion{}, false, fmt.Errorf("%w: %s/%s is %q, not %q", ErrTypeConflict, upload.Project, upload.Name, artifact.Type, upload.Type)
	}

	latest, err := l.latestOrdinal(upload.Project, upload.Name)
	if err != nil {
		return domain.ArtifactVersion{}, false, err
	}
	for ordinal := int64(1); ordinal <= latest; ordinal++ {
		existing, err := l.readVersion(artifact, ordinal)
		if err != nil {
			return domain.ArtifactVersion{}, false, err
		}
		if existing.ContentSHA256 == upload.ContentSHA256 {
			if err := l.markProduced(run, artifact, existing, now); err != nil {
				return domain.ArtifactVersion{}, false, err
			}
			return existing, false, nil
		}
	}

	version := domain.ArtifactVersion{
		ID:            uuid.NewString(),
		ArtifactID:    artifact.ID,
		Project:       artifact.Project,
		Name:          artifact.Name,
		Type:          artifact.Type,
		Ordinal:       latest + 1,
		Description:   upload.Description,
		Filename:      upload.Filename,
		ContentSHA256: upload.ContentSHA256,
		SizeBytes:     upload.SizeBytes,
		Metadata:      upload.Metadata.Clone(),
		CreatedAt:     now,
		CreatedByRun:  run.ID,
	}
	version.ObjectKey = filepath.ToSlash(filepath.Join(version.Alias(), version.Filename))
	if err := version.Validate(); err != nil {
		return domain.ArtifactVersion{}, false, err
	}
	if version.IntegritySHA256, err = version.ComputeIntegritySHA256(); err != nil {
		return domain.ArtifactVersion{}, false, err
	}

	dir := filepath.Join(l.artifactDir(version.Project, version.Name), version.Alias())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return domain.ArtifactVersion{}, false, fmt.Errorf("create version dir: %w", err)
	}
	if err := copyFile(upload.Path, filepath.Join(dir, version.Filename)); err != nil {
		_ = os.RemoveAll(dir)
		return domain.ArtifactVersion{}, false, fmt.Errorf("store payload: %w", err)
	}
	if err := writeYAML(filepath.Join(dir, "manifest.yaml"), localVersion{
		ID:              version.ID,
		ArtifactID:      version.ArtifactID,
		Ordinal:         version.Ordinal,
		Description:     version.Description,
		Filename:        version.Filename,
		ContentSHA256:   version.ContentSHA256,
		SizeBytes:       version.SizeBytes,
		Metadata:        version.Metadata,
		CreatedAt:       version.CreatedAt,
		CreatedByRun:    version.CreatedByRun,
		IntegritySHA256: version.IntegritySHA256,
	}); err != nil {
		_ = os.RemoveAll(dir)
		return domain.ArtifactVersion{}, false, err
	}

	if err := l.markProduced(run, artifact, version, now); err != nil {
		return domain.ArtifactVersion{}, false, err
	}
	return version, true, nil
}

// markProduced points latest at version and records it as an output of run.
func (l *Local) markProduced(run domain.Run, artifact localArtifact, version domain.ArtifactVersion, at time.Time) error {
	artifact.LatestOrdinal = version.Ordinal
	if err := writeYAML(filepath.Join(l.artifactDir(artifact.Project, artifact.Name), "artifact.yaml"), artifact); err != nil {
		return err
	}
	return l.updateRun(run.ID, func(m *localRun) error {
		m.Produced = append(m.Produced, localLineage{VersionID: version.ID, Ref: version.Ref().String(), OccurredAt: at})
		return nil
	})
}

func (l *Local) runPath(runID string) string {
	return filepath.Join(l.root, "runs", runID+".yaml")
}

func (l *Local) artifactDir(project, name string) string {
	return filepath.Join(l.root, "artifacts", filepath.FromSlash(project), name)
}

func (l *Local) readArtifact(project, name string) (localArtifact, error) {
	var a localArtifact
	err := readYAML(filepath.Join(l.artifactDir(project, name), "artifact.yaml"), &a)
	return a, err
}

func (l *Local) readVersion(artifact localArtifact, ordinal int64) (domain.ArtifactVersion, error) {
	var m localVersion
	path := filepath.Join(l.artifactDir(artifact.Project, artifact.Name), "v"+strconv.FormatInt(ordinal, 10), "manifest.yaml")
	if err := readYAML(path, &m); err != nil {
		return domain.ArtifactVersion{}, err
	}
	v := domain.ArtifactVersion{
		ID:              m.ID,
		ArtifactID:      m.ArtifactID,
		Project:         artifact.Project,
		Name:            artifact.Name,
		Type:            artifact.Type,
		Ordinal:         m.Ordinal,
		Description:     m.Description,
		Filename:        m.Filename,
		ContentSHA256:   m.ContentSHA256,
		SizeBytes:       m.SizeBytes,
		Metadata:        m.Metadata,
		CreatedAt:       m.CreatedAt,
		CreatedByRun:    m.CreatedByRun,
		IntegritySHA256: m.IntegritySHA256,
	}
	v.ObjectKey = filepath.ToSlash(filepath.Join(v.Alias(), v.Filename))
	return v, nil
}

// latestOrdinal returns the highest vN directory under the artifact, or 0.
func (l *Local) latestOrdinal(project, name string) (int64, error) {
	entries, err := os.ReadDir(l.artifactDir(project, name))
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "v") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), "v"), 10, 64)
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

func (l *Local) updateRun(runID string, mutate func(*localRun) error) error {
	path := l.runPath(runID)
	var m localRun
	if err := readYAML(path, &m); err != nil {
		return fmt.Errorf("read run %s: %w", runID, err)
	}
	if err := mutate(&m); err != nil {
		return err
	}
	return writeYAML(path, m)
}

func domainArtifact(a localArtifact) domain.Artifact {
	return domain.Artifact{ID: a.ID, Project: a.Project, Name: a.Name, Type: a.Type, CreatedAt: a.CreatedAt}
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeYAML replaces path atomically.
func writeYAML(path string, in any) error {
	raw, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
