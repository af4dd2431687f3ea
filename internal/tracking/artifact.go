package tracking

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/domain"
)

// Artifact collects what will be registered: identity, description, metadata
// and exactly one payload file.
type Artifact struct {
	Name        string
	Type        string
	Description string
	Metadata    domain.Metadata
	path        string
}

func NewArtifact(name, artifactType, description string) *Artifact {
	return &Artifact{
		Name:        strings.TrimSpace(name),
		Type:        strings.TrimSpace(artifactType),
		Description: strings.TrimSpace(description),
		Metadata:    domain.Metadata{},
	}
}

// AddFile attaches the payload. The file is read when the artifact is logged,
// so it must stay in place until then.
func (a *Artifact) AddFile(path string) error {
	if a.path != "" {
		return fmt.Errorf("artifact %s already has file %s", a.Name, a.path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("add file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("add file: %s is not a regular file", path)
	}
	a.path = path
	return nil
}

func (a *Artifact) File() string {
	return a.path
}

func (a *Artifact) Validate() error {
	if err := domain.ValidateName(a.Name); err != nil {
		return err
	}
	if a.Type == "" {
		return errors.New("artifact type is required")
	}
	if a.path == "" {
		return errors.New("artifact has no file")
	}
	return nil
}

// Reference identifies a registered artifact version.
type Reference struct {
	Ref       domain.Ref
	VersionID string
	Type      string
	Digest    string
	SizeBytes int64
	// Created is false when identical content was already registered under the name.
	Created bool
}

func (r Reference) String() string {
	return r.Ref.String()
}
