package scm

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"repowatch/pkg/auth"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/providers/bitbucket"
	"repowatch/pkg/providers/github"
	"repowatch/pkg/providers/gitlab"
	"repowatch/pkg/providers/sourceforge"
)

// Factory builds one client per platform, resolving credentials on first use.
type Factory struct {
	cfg      auth.Config
	resolver auth.Resolver
	http     *http.Client
	logger   Logger

	mu      sync.Mutex
	clients map[platform.Platform]providers.Client
}

// Logger is the minimal logging surface the factory needs.
type Logger interface {
	Printf(format string, args ...interface{})
}

// NewFactory creates a new Factory. resolver and httpClient may be nil.
func NewFactory(cfg auth.Config, resolver auth.Resolver, httpClient *http.Client, logger Logger) *Factory {
	return &Factory{
		cfg:      cfg,
		resolver: resolver,
		http:     httpClient,
		logger:   logger,
		clients:  make(map[platform.Platform]providers.Client),
	}
}

// CreateClient returns the client for p, or nil when p is not a known platform.
func (f *Factory) CreateClient(p platform.Platform) providers.Client {
	if !p.Valid() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[p]; ok {
		return client
	}
	client := f.build(p, f.token(p))
	f.clients[p] = client
	return client
}

// ClientFor picks the client from the host of rawURL. Unrecognised hosts
// yield nil so callers can choose their own fallback.
func (f *Factory) ClientFor(rawURL string) providers.Client {
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}
	p, ok := platform.FromHost(host)
	if !ok {
		return nil
	}
	return f.CreateClient(p)
}

// SetToken swaps the credential of an already created client.
func (f *Factory) SetToken(p platform.Platform, token string) {
	f.CreateClient(p).SetAccessToken(token)
}

func (f *Factory) build(p platform.Platform, token string) providers.Client {
	pc := f.cfg.For(p)
	switch p {
	case platform.GitHub:
		return github.NewTokenClient(pc, token, f.http)
	case platform.GitLab:
		return gitlab.NewTokenClient(pc, token, f.http)
	case platform.Bitbucket:
		return bitbucket.NewTokenClient(pc, token, f.http)
	default:
		return sourceforge.NewClient(pc, f.http)
	}
}

func (f *Factory) token(p platform.Platform) string {
	if f.resolver == nil {
		return f.cfg.For(p).Token
	}
	token, err := f.resolver.Token(p)
	if err != nil && f.logger != nil {
		f.logger.Printf("credential lookup for %s failed: %v", p, err)
	}
	return token
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
