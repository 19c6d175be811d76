package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned by Identifier.Validate.
var ErrInvalidIdentifier = errors.New("invalid repository identifier")

// Identifier is the canonical (platform, owner, name) triple of a repository.
// Equality is exact and case-sensitive.
type Identifier struct {
	Platform Platform
	Owner    string
	Name     string
}

// String renders the identifier as "platform:owner/name".
func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s/%s", id.Platform, id.Owner, id.Name)
}

// FullName returns "owner/name".
func (id Identifier) FullName() string {
	return id.Owner + "/" + id.Name
}

// URL returns the canonical web URL for the repository.
func (id Identifier) URL() string {
	if id.Platform == SourceForge {
		return id.Platform.WebBaseURL() + "/projects/" + id.Name + "/"
	}
	return id.Platform.WebBaseURL() + "/" + id.Owner + "/" + id.Name
}

// Validate checks the invariants of an identifier. GitLab owners may be
// nested group paths and are the only component allowed to contain '/'.
func (id Identifier) Validate() error {
	if !id.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidIdentifier, id.Platform)
	}
	if id.Owner == "" || id.Name == "" {
		return fmt.Errorf("%w: owner and name are required", ErrInvalidIdentifier)
	}
	if strings.Contains(id.Name, "/") {
		return fmt.Errorf("%w: name %q contains '/'", ErrInvalidIdentifier, id.Name)
	}
	if id.Platform != GitLab && strings.Contains(id.Owner, "/") {
		return fmt.Errorf("%w: owner %q contains '/'", ErrInvalidIdentifier, id.Owner)
	}
	for _, segment := range strings.Split(id.Owner, "/") {
		if segment == "" {
			return fmt.Errorf("%w: empty owner segment in %q", ErrInvalidIdentifier, id.Owner)
		}
	}
	return nil
}
