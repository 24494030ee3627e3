package plugin

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Metadata is a plugin's immutable identity record, produced by a
// loader from the artifact's manifest at load time. The jsonschema
// tags keep the generated metadata schema in sync with Validate.
type Metadata struct {
	Name         string       `json:"name" yaml:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string       `json:"version" yaml:"version" jsonschema:"minLength=1"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Authors      []string     `json:"authors,omitempty" yaml:"authors,omitempty"`
	Website      string       `json:"website,omitempty" yaml:"website,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Dependency declares that a plugin needs another plugin present.
// Required dependencies must be active and satisfy Constraint before
// the dependent plugin loads.
type Dependency struct {
	Name string `json:"name" yaml:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	// Constraint is a semver range ("^1.2", ">=0.4 <2"). Empty accepts
	// any version.
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	Optional   bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with a lowercase
// letter, followed by lowercase letters, digits, or hyphens, and must
// not end with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks metadata constraints.
func (m Metadata) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	for i, dep := range m.Dependencies {
		if dep.Name == "" || !namePattern.MatchString(dep.Name) {
			return fmt.Errorf("dependency[%d]: name %q is not a valid plugin name", i, dep.Name)
		}
		if dep.Constraint != "" {
			if _, err := semver.NewConstraint(dep.Constraint); err != nil {
				return fmt.Errorf("dependency %q: constraint %q is not a valid semver range: %w", dep.Name, dep.Constraint, err)
			}
		}
	}

	return nil
}

// SemVer returns the parsed version. Call Validate first; an invalid
// version yields the zero value.
func (m Metadata) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return &semver.Version{}
	}
	return v
}

// String renders "name v1.2.3" for logs.
func (m Metadata) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
