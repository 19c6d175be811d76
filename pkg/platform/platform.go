package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Platform identifies a source-code hosting platform.
type Platform string

const (
	GitHub      Platform = "github"
	GitLab      Platform = "gitlab"
	Bitbucket   Platform = "bitbucket"
	SourceForge Platform = "sourceforge"
)

// Capabilities lists the operations a platform supports.
type Capabilities struct {
	TokenAuth        bool
	Releases         bool
	Issues           bool
	UserRepositories bool
}

type descriptor struct {
	displayName string
	webBaseURL  string
	apiBaseURL  string
	hostMatch   string
	caps        Capabilities
}

var descriptors = map[Platform]descriptor{
	GitHub: {
		displayName: "GitHub",
		webBaseURL:  "https://github.com",
		apiBaseURL:  "https://api.github.com",
		hostMatch:   "github.com",
		caps:        Capabilities{TokenAuth: true, Releases: true, Issues: true, UserRepositories: true},
	},
	GitLab: {
		displayName: "GitLab",
		webBaseURL:  "https://gitlab.com",
		apiBaseURL:  "https://gitlab.com/api/v4",
		hostMatch:   "gitlab",
		caps:        Capabilities{TokenAuth: true, Releases: true, Issues: true, UserRepositories: true},
	},
	Bitbucket: {
		displayName: "Bitbucket",
		webBaseURL:  "https://bitbucket.org",
		apiBaseURL:  "https://api.bitbucket.org/2.0",
		hostMatch:   "bitbucket.org",
		caps:        Capabilities{Issues: true},
	},
	SourceForge: {
		displayName: "SourceForge",
		webBaseURL:  "https://sourceforge.net",
		apiBaseURL:  "https://sourceforge.net",
		hostMatch:   "sourceforge.net",
		caps:        Capabilities{Releases: true},
	},
}

// ErrUnknownPlatform is returned by ParsePlatform for unrecognized names.
var ErrUnknownPlatform = errors.New("unknown platform")

// All returns every supported platform in a stable order.
func All() []Platform {
	return []Platform{GitHub, GitLab, Bitbucket, SourceForge}
}

// ParsePlatform converts a case-insensitive name into a Platform.
func ParsePlatform(value string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, value)
	}
	return p, nil
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	_, ok := descriptors[p]
	return ok
}

func (p Platform) String() string { return string(p) }

// DisplayName returns the human readable platform name.
func (p Platform) DisplayName() string { return descriptors[p].displayName }

// WebBaseURL returns the public web root, without a trailing slash.
func (p Platform) WebBaseURL() string { return descriptors[p].webBaseURL }

// APIBaseURL returns the default REST API root.
func (p Platform) APIBaseURL() string { return descriptors[p].apiBaseURL }

// Capabilities returns the capability set declared for p.
func (p Platform) Capabilities() Capabilities { return descriptors[p].caps }

// FromHost maps a hostname onto a platform using substring matching.
func FromHost(host string) (Platform, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", false
	}
	for _, p := range All() {
		if strings.Contains(host, descriptors[p].hostMatch) {
			return p, true
		}
	}
	return "", false
}
