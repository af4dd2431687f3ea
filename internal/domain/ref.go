package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const AliasLatest = "latest"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Ref addresses an artifact version as [project/]name[:alias]. Alias is
// "latest" or "vN".
type Ref struct {
	Project string
	Name    string
	Alias   string
}

// ParseRef parses s, filling in defaultProject when s carries no project part.
func ParseRef(s string, defaultProject string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("artifact reference is empty")
	}

	ref := Ref{Project: strings.TrimSpace(defaultProject), Alias: AliasLatest}
	rest := s
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		ref.Project = strings.Trim(rest[:i], "/")
		rest = rest[i+1:]
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		ref.Alias = rest[i+1:]
		rest = rest[:i]
	}
	ref.Name = rest

	if err := ValidateProject(ref.Project); err != nil {
		return Ref{}, fmt.Errorf("artifact reference %q: %w", s, err)
	}
	if err := ValidateName(ref.Name); err != nil {
		return Ref{}, fmt.Errorf("artifact reference %q: %w", s, err)
	}
	if _, _, err := ref.Ordinal(); err != nil {
		return Ref{}, fmt.Errorf("artifact reference %q: %w", s, err)
	}
	return ref, nil
}

// Ordinal returns the pinned version number; latest is false for "latest".
func (r Ref) Ordinal() (ordinal int64, pinned bool, err error) {
	if r.Alias == "" || r.Alias == AliasLatest {
		return 0, false, nil
	}
	if !strings.HasPrefix(r.Alias, "v") {
		return 0, false, fmt.Errorf("alias must be %q or vN, got %q", AliasLatest, r.Alias)
	}
	n, err := strconv.ParseInt(r.Alias[1:], 10, 64)
	if err != nil || n < 1 {
		return 0, false, fmt.Errorf("alias must be %q or vN, got %q", AliasLatest, r.Alias)
	}
	return n, true, nil
}

func (r Ref) String() string {
	alias := r.Alias
	if alias == "" {
		alias = AliasLatest
	}
	return fmt.Sprintf("%s/%s:%s", r.Project, r.Name, alias)
}

func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("artifact name is required")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("artifact name %q must match %s", name, namePattern.String())
	}
	return nil
}

// ValidateProject accepts one or more slash-separated name segments.
func ValidateProject(project string) error {
	if strings.TrimSpace(project) == "" {
		return fmt.Errorf("project is required")
	}
	for _, segment := range strings.Split(project, "/") {
		if !namePattern.MatchString(segment) {
			return fmt.Errorf("project %q: segment %q must match %s", project, segment, namePattern.String())
		}
	}
	return nil
}
