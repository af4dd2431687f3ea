package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Artifact is a named, typed, versioned bundle owned by a project.
type Artifact struct {
	ID        string
	Project   string
	Name      string
	Type      string
	CreatedAt time.Time
}

// ArtifactVersion is one immutable payload registered under an artifact name.
type ArtifactVersion struct {
	ID              string
	ArtifactID      string
	Project         string
	Name            string
	Type            string
	Ordinal         int64
	Description     string
	Filename        string
	ContentSHA256   string
	ObjectKey       string
	SizeBytes       int64
	Metadata        Metadata
	CreatedAt       time.Time
	CreatedByRun    string
	IntegritySHA256 string
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if err := ValidateProject(a.Project); err != nil {
		return err
	}
	if err := ValidateName(a.Name); err != nil {
		return err
	}
	if strings.TrimSpace(a.Type) == "" {
		return errors.New("artifact type is required")
	}
	return nil
}

func (v ArtifactVersion) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return errors.New("version id is required")
	}
	if strings.TrimSpace(v.ArtifactID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(v.Filename) == "" {
		return errors.New("filename is required")
	}
	if len(strings.TrimSpace(v.ContentSHA256)) != 64 {
		return errors.New("content sha256 must be 64 hex chars")
	}
	if strings.TrimSpace(v.CreatedByRun) == "" {
		return errors.New("created by run is required")
	}
	if v.SizeBytes < 0 {
		return errors.New("size bytes must be >= 0")
	}
	return nil
}

// Alias is the version tag, v1 for the first version.
func (v ArtifactVersion) Alias() string {
	return fmt.Sprintf("v%d", v.Ordinal)
}

// Ref returns the fully-qualified reference of this exact version.
func (v ArtifactVersion) Ref() Ref {
	return Ref{Project: v.Project, Name: v.Name, Alias: v.Alias()}
}

// ComputeIntegritySHA256 hashes the immutable fields of the version. It must be
// called after the ordinal is assigned.
func (v ArtifactVersion) ComputeIntegritySHA256() (string, error) {
	type integrityInput struct {
		VersionID     string    `json:"version_id"`
		ArtifactID    string    `json:"artifact_id"`
		Ordinal       int64     `json:"ordinal"`
		Description   string    `json:"description,omitempty"`
		Filename      string    `json:"filename"`
		ContentSHA256 string    `json:"content_sha256"`
		ObjectKey     string    `json:"object_key"`
		SizeBytes     int64     `json:"size_bytes"`
		Metadata      Metadata  `json:"metadata"`
		CreatedAt     time.Time `json:"created_at"`
		CreatedByRun  string    `json:"created_by_run"`
	}
	blob, err := json.Marshal(integrityInput{
		VersionID:     v.ID,
		ArtifactID:    v.ArtifactID,
		Ordinal:       v.Ordinal,
		Description:   v.Description,
		Filename:      v.Filename,
		ContentSHA256: v.ContentSHA256,
		ObjectKey:     v.ObjectKey,
		SizeBytes:     v.SizeBytes,
		Metadata:      v.Metadata.Clone(),
		CreatedAt:     v.CreatedAt.UTC(),
		CreatedByRun:  v.CreatedByRun,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
