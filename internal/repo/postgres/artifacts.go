package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/animus-labs/basic-cleaning/internal/platform/lineageevent"
	"github.com/animus-labs/basic-cleaning/internal/repo"
)

const selectVersionColumns = `SELECT
		v.version_id,
		v.artifact_id,
		a.project,
		a.name,
		a.type,
		v.ordinal,
		v.description,
		v.filename,
		v.content_sha256,
		v.object_key,
		v.size_bytes,
		v.metadata,
		v.created_at,
		v.created_by_run,
		v.integrity_sha256
	FROM tracked_artifact_versions v
	JOIN tracked_artifacts a ON a.artifact_id = v.artifact_id`

type ArtifactStore struct {
	db DB
}

func NewArtifactStore(db DB) *ArtifactStore {
	if db == nil {
		return nil
	}
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) EnsureArtifact(ctx context.Context, artifact domain.Artifact) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	if err := artifact.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tracked_artifacts (
			artifact_id,
			project,
			name,
			type,
			created_at
		) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (project, name) DO NOTHING`,
		strings.TrimSpace(artifact.ID),
		strings.TrimSpace(artifact.Project),
		strings.TrimSpace(artifact.Name),
		strings.TrimSpace(artifact.Type),
		normalizeTime(artifact.CreatedAt),
	)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("insert artifact: %w", err)
	}

	var out domain.Artifact
	err = s.db.QueryRowContext(
		ctx,
		`SELECT artifact_id, project, name, type, created_at
		 FROM tracked_artifacts
		 WHERE project = $1 AND name = $2`,
		strings.TrimSpace(artifact.Project),
		strings.TrimSpace(artifact.Name),
	).Scan(&out.ID, &out.Project, &out.Name, &out.Type, &out.CreatedAt)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("select artifact: %w", handleNotFound(err))
	}
	return out, nil
}

func (s *ArtifactStore) GetVersion(ctx context.Context, ref domain.Ref) (domain.ArtifactVersion, error) {
	if s == nil || s.db == nil {
		return domain.ArtifactVersion{}, fmt.Errorf("artifact store not initialized")
	}
	ordinal, pinned, err := ref.Ordinal()
	if err != nil {
		return domain.ArtifactVersion{}, err
	}

	var row *sql.Row
	if pinned {
		row = s.db.QueryRowContext(
			ctx,
			selectVersionColumns+` WHERE a.project = $1 AND a.name = $2 AND v.ordinal = $3`,
			ref.Project, ref.Name, ordinal,
		)
	} else {
		row = s.db.QueryRowContext(
			ctx,
			selectVersionColumns+` WHERE a.project = $1 AND a.name = $2
			ORDER BY COALESCE(v.version_id = a.latest_version_id, false) DESC, v.ordinal DESC
			LIMIT 1`,
			ref.Project, ref.Name,
		)
	}
	version, err := scanVersion(row)
	if err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("get version %s: %w", ref, handleNotFound(err))
	}
	return version, nil
}

func (s *ArtifactStore) FindVersionByDigest(ctx context.Context, artifact domain.Artifact, sha256 string) (domain.ArtifactVersion, error) {
	if s == nil || s.db == nil {
		return domain.ArtifactVersion{}, fmt.Errorf("artifact store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		selectVersionColumns+` WHERE v.artifact_id = $1 AND v.content_sha256 = $2`,
		strings.TrimSpace(artifact.ID),
		strings.ToLower(strings.TrimSpace(sha256)),
	)
	version, err := scanVersion(row)
	if err != nil {
		return domain.ArtifactVersion{}, handleNotFound(err)
	}
	return version, nil
}

func (s *ArtifactStore) CreateVersion(ctx context.Context, version domain.ArtifactVersion) (domain.ArtifactVersion, error) {
	if s == nil || s.db == nil {
		return domain.ArtifactVersion{}, fmt.Errorf("artifact store not initialized")
	}
	if err := version.Validate(); err != nil {
		return domain.ArtifactVersion{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(
		ctx,
		`SELECT artifact_id FROM tracked_artifacts WHERE artifact_id = $1 FOR UPDATE`,
		version.ArtifactID,
	).Scan(&locked); err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("lock artifact: %w", handleNotFound(err))
	}

	var ordinal int64
	if err := tx.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(ordinal), 0) FROM tracked_artifact_versions WHERE artifact_id = $1`,
		version.ArtifactID,
	).Scan(&ordinal); err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("next ordinal: %w", err)
	}
	version.Ordinal = ordinal + 1
	version.CreatedAt = normalizeTime(version.CreatedAt)

	integrity, err := version.ComputeIntegritySHA256()
	if err != nil {
		return domain.ArtifactVersion{}, err
	}
	version.IntegritySHA256 = integrity

	metadataJSON, err := encodeMetadata(version.Metadata)
	if err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("encode metadata: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO tracked_artifact_versions (
			version_id,
			artifact_id,
			ordinal,
			description,
			filename,
			content_sha256,
			object_key,
			size_bytes,
			metadata,
			created_at,
			created_by_run,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		version.ID,
		version.ArtifactID,
		version.Ordinal,
		nullIfEmpty(version.Description),
		version.Filename,
		strings.ToLower(version.ContentSHA256),
		version.ObjectKey,
		version.SizeBytes,
		metadataJSON,
		version.CreatedAt,
		version.CreatedByRun,
		version.IntegritySHA256,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ArtifactVersion{}, fmt.Errorf("insert version: %w", repo.ErrConflict)
		}
		return domain.ArtifactVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if err := markProduced(ctx, tx, version, version.CreatedByRun, version.CreatedAt); err != nil {
		return domain.ArtifactVersion{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("commit: %w", err)
	}
	return version, nil
}

func (s *ArtifactStore) ReuseVersion(ctx context.Context, version domain.ArtifactVersion, runID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	if strings.TrimSpace(version.ID) == "" || strings.TrimSpace(version.ArtifactID) == "" {
		return fmt.Errorf("version and artifact ids are required")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := markProduced(ctx, tx, version, runID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// markProduced moves the artifact's latest pointer to version and inserts the
// produced lineage edge for runID.
func markProduced(ctx context.Context, tx *sql.Tx, version domain.ArtifactVersion, runID string, at time.Time) error {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE tracked_artifacts SET latest_version_id = $2 WHERE artifact_id = $1`,
		version.ArtifactID,
		version.ID,
	)
	if err != nil {
		return fmt.Errorf("update latest version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update latest version: %w", repo.ErrNotFound)
	}

	if _, err := lineageevent.Insert(ctx, tx, lineageevent.Event{
		OccurredAt: at,
		RunID:      runID,
		Direction:  lineageevent.Produced,
		VersionID:  version.ID,
		Metadata: map[string]any{
			"ref":            version.Ref().String(),
			"content_sha256": version.ContentSHA256,
			"size_bytes":     version.SizeBytes,
		},
	}); err != nil {
		return err
	}
	return nil
}

func (s *ArtifactStore) RecordLineage(ctx context.Context, event lineageevent.Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	_, err := lineageevent.Insert(ctx, s.db, event)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (domain.ArtifactVersion, error) {
	var (
		v           domain.ArtifactVersion
		description sql.NullString
		metadata    []byte
	)
	err := row.Scan(
		&v.ID,
		&v.ArtifactID,
		&v.Project,
		&v.Name,
		&v.Type,
		&v.Ordinal,
		&description,
		&v.Filename,
		&v.ContentSHA256,
		&v.ObjectKey,
		&v.SizeBytes,
		&metadata,
		&v.CreatedAt,
		&v.CreatedByRun,
		&v.IntegritySHA256,
	)
	if err != nil {
		return domain.ArtifactVersion{}, err
	}
	v.Description = description.String
	meta, err := decodeMetadata(metadata)
	if err != nil {
		return domain.ArtifactVersion{}, fmt.Errorf("decode metadata: %w", err)
	}
	v.Metadata = meta
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

var (
	_ repo.ArtifactRepository = (*ArtifactStore)(nil)
	_ repo.RunRepository      = (*RunStore)(nil)
)
