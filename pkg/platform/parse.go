package platform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidFormat is returned when input matches no recognized repository pattern.
var ErrInvalidFormat = errors.New("unrecognized repository format")

// Parse resolves free-form user input (web URL, SSH remote or "owner/repo"
// shorthand) into an Identifier. Only the first whitespace-delimited token of
// the input is considered.
func Parse(input string) (Identifier, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Identifier{}, fmt.Errorf("%w: empty input", ErrInvalidFormat)
	}
	token := fields[0]

	if u, ok := parseURL(token); ok {
		if id, ok := fromURL(u); ok {
			return id, nil
		}
	}

	if strings.Contains(token, "git@") {
		if id, ok := fromSSH(token); ok {
			return id, nil
		}
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
	}

	if segments := strings.Split(token, "/"); len(segments) == 2 {
		owner, name := segments[0], trimGitSuffix(segments[1])
		if owner != "" && name != "" {
			return Identifier{Platform: GitHub, Owner: owner, Name: name}, nil
		}
	}

	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
}

// parseURL accepts absolute URLs and scheme-less input whose first segment is
// a known hosting platform ("github.com/owner/repo").
func parseURL(token string) (*url.URL, bool) {
	if !strings.Contains(token, "://") {
		head, _, found := strings.Cut(token, "/")
		if !found || strings.Contains(head, "@") || !strings.Contains(head, ".") {
			return nil, false
		}
		if _, known := FromHost(head); !known {
			return nil, false
		}
		token = "https://" + token
	}
	u, err := url.Parse(token)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u, true
}

func fromURL(u *url.URL) (Identifier, bool) {
	p, ok := FromHost(u.Hostname())
	if !ok {
		return Identifier{}, false
	}
	segments := pathSegments(u.Path)
	switch p {
	case GitHub, Bitbucket:
		return twoSegment(p, segments)
	case GitLab:
		return groupPath(segments)
	case SourceForge:
		for i, segment := range segments {
			if (segment == "projects" || segment == "p") && i+1 < len(segments) {
				project := segments[i+1]
				return Identifier{Platform: SourceForge, Owner: project, Name: project}, true
			}
		}
	}
	return Identifier{}, false
}

func fromSSH(token string) (Identifier, bool) {
	host, path, found := strings.Cut(token, ":")
	if !found {
		return Identifier{}, false
	}
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	segments := pathSegments(path)
	p, known := FromHost(host)
	switch {
	case known && p == GitLab:
		return groupPath(segments)
	case known && (p == GitHub || p == Bitbucket):
		return twoSegment(p, segments)
	case !known && len(segments) == 2:
		return twoSegment(GitHub, segments)
	}
	return Identifier{}, false
}

func twoSegment(p Platform, segments []string) (Identifier, bool) {
	if len(segments) < 2 {
		return Identifier{}, false
	}
	name := trimGitSuffix(segments[1])
	if name == "" {
		return Identifier{}, false
	}
	return Identifier{Platform: p, Owner: segments[0], Name: name}, true
}

// groupPath applies the GitLab rule: the last segment is the project, every
// preceding segment forms the (possibly nested) group path.
func groupPath(segments []string) (Identifier, bool) {
	for i, segment := range segments {
		if segment == "-" {
			segments = segments[:i]
			break
		}
	}
	if len(segments) < 2 {
		return Identifier{}, false
	}
	last := len(segments) - 1
	name := trimGitSuffix(segments[last])
	if name == "" {
		return Identifier{}, false
	}
	return Identifier{
		Platform: GitLab,
		Owner:    strings.Join(segments[:last], "/"),
		Name:     name,
	}, true
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, segment := range raw {
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

func trimGitSuffix(name string) string {
	return strings.TrimSuffix(name, ".git")
}
