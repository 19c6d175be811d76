package scm

import (
	"testing"

	"repowatch/pkg/auth"
	"repowatch/pkg/platform"
)

type staticResolver map[platform.Platform]string

func (s staticResolver) Token(p platform.Platform) (string, error) { return s[p], nil }

func TestCreateClientPerPlatform(t *testing.T) {
	factory := NewFactory(auth.Config{}, staticResolver{}, nil, nil)
	for _, p := range platform.All() {
		client := factory.CreateClient(p)
		if client == nil {
			t.Fatalf("expected client for %s", p)
		}
		if client.Platform() != p {
			t.Fatalf("expected %s client, got %s", p, client.Platform())
		}
		if factory.CreateClient(p) != client {
			t.Fatalf("expected cached client for %s", p)
		}
	}
	if factory.CreateClient(platform.Platform("gitea")) != nil {
		t.Fatalf("expected nil for unknown platform")
	}
}

func TestClientForHosts(t *testing.T) {
	factory := NewFactory(auth.Config{}, nil, nil, nil)
	cases := map[string]platform.Platform{
		"https://github.com/octocat/Hello-World":    platform.GitHub,
		"gitlab.example.com/group/project":          platform.GitLab,
		"https://bitbucket.org/atlassian/repo":      platform.Bitbucket,
		"https://sourceforge.net/projects/sevenzip/": platform.SourceForge,
	}
	for raw, want := range cases {
		client := factory.ClientFor(raw)
		if client == nil {
			t.Fatalf("expected client for %s", raw)
		}
		if client.Platform() != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, client.Platform())
		}
	}
	if factory.ClientFor("https://example.com/a/b") != nil {
		t.Fatalf("expected nil for unknown host")
	}
	if factory.ClientFor("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
