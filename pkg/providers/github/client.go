package github

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"repowatch/pkg/auth"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.github.com"

// userAffiliation lists owned, collaborator and organization repositories.
const userAffiliation = "owner,collaborator,organization_member"

// fallbackPageSize is the page size of the issues listing used when search fails.
const fallbackPageSize = 10

// Client implements providers.Client on top of the GitHub SDK.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time

	mu    sync.RWMutex
	token string
	api   *gh.Client
}

var (
	_ providers.Client         = (*Client)(nil)
	_ providers.MetricsFetcher = (*Client)(nil)
)

// NewTokenClient returns a GitHub client. token overrides cfg.Token when set;
// httpClient supplies timeout and pooling and may be nil.
func NewTokenClient(cfg auth.ProviderConfig, token string, httpClient *http.Client) *Client {
	if token == "" {
		token = cfg.Token
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		baseURL: normalizeBaseURL(cfg.BaseURL),
		http:    httpClient,
		now:     time.Now,
	}
	c.SetAccessToken(token)
	return c
}

func (c *Client) Platform() platform.Platform { return platform.GitHub }

// SetAccessToken rebuilds the SDK client around the new credential.
func (c *Client) SetAccessToken(token string) {
	api := c.build(strings.TrimSpace(token))
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.api = api
	c.mu.Unlock()
}

func (c *Client) build(token string) *gh.Client {
	next := c.http.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	var rt http.RoundTripper = &headerTransport{next: next}
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   rt,
		}
	}
	api := gh.NewClient(&http.Client{
		Transport:     rt,
		Timeout:       c.http.Timeout,
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
	})
	if c.baseURL != defaultBaseURL {
		if parsed, err := url.Parse(c.baseURL + "/"); err == nil {
			api.BaseURL = parsed
		}
	}
	return api
}

func (c *Client) client() (*gh.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api, c.token
}

// VerifyToken returns the login of the authenticated user.
func (c *Client) VerifyToken(ctx context.Context) (string, error) {
	api, token := c.client()
	if token == "" {
		return "", &providers.Error{Kind: providers.ErrInvalidToken, Platform: platform.GitHub, Op: "verify token", Message: "no access token configured"}
	}
	user, _, err := api.Users.Get(ctx, "")
	if err != nil {
		return "", mapError(ctx, "verify token", err)
	}
	if user.GetLogin() == "" {
		return "", providers.NewError(providers.ErrInvalidResponse, platform.GitHub, "verify token", errors.New("login missing"))
	}
	return user.GetLogin(), nil
}

func (c *Client) FetchRepository(ctx context.Context, owner, name string) (*providers.RepositoryInfo, error) {
	api, _ := c.client()
	repo, _, err := api.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, mapError(ctx, "repository", err)
	}
	return toRepositoryInfo(repo)
}

// FetchLatestRelease treats the platform's 404 as "no releases".
func (c *Client) FetchLatestRelease(ctx context.Context, owner, name string) (*providers.ReleaseInfo, error) {
	api, _ := c.client()
	release, _, err := api.Repositories.GetLatestRelease(ctx, owner, name)
	if err != nil {
		mapped := mapError(ctx, "latest release", err)
		if errors.Is(mapped, providers.ErrNotFound) {
			return nil, nil
		}
		return nil, mapped
	}
	return &providers.ReleaseInfo{
		Tag:         release.GetTagName(),
		Name:        release.GetName(),
		URL:         release.GetHTMLURL(),
		PublishedAt: timestamp(release.PublishedAt),
	}, nil
}

// FetchLatestIssue queries the search API first because it excludes pull
// requests server side. Any search failure falls back to the issues listing,
// which is throttled less aggressively.
func (c *Client) FetchLatestIssue(ctx context.Context, owner, name string) (*providers.IssueInfo, error) {
	issue, err := c.searchLatestIssue(ctx, owner, name)
	if err == nil {
		return issue, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return c.listLatestIssue(ctx, owner, name)
}

func (c *Client) searchLatestIssue(ctx context.Context, owner, name string) (*providers.IssueInfo, error) {
	api, _ := c.client()
	query := "repo:" + owner + "/" + name + " is:issue"
	result, _, err := api.Search.Issues(ctx, query, &gh.SearchOptions{
		Sort:        "created",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, mapError(ctx, "search issues", err)
	}
	for _, issue := range result.Issues {
		if issue.IsPullRequest() {
			continue
		}
		return toIssueInfo(issue), nil
	}
	return nil, nil
}

func (c *Client) listLatestIssue(ctx context.Context, owner, name string) (*providers.IssueInfo, error) {
	api, _ := c.client()
	issues, _, err := api.Issues.ListByRepo(ctx, owner, name, &gh.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: fallbackPageSize},
	})
	if err != nil {
		return nil, mapError(ctx, "list issues", err)
	}
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		return toIssueInfo(issue), nil
	}
	return nil, nil
}

// FetchUserRepositories lists repositories the token owner can access.
func (c *Client) FetchUserRepositories(ctx context.Context, page, perPage int) ([]providers.RepositoryInfo, error) {
	if _, token := c.client(); token == "" {
		return nil, &providers.Error{Kind: providers.ErrInvalidToken, Platform: platform.GitHub, Op: "user repositories", Message: "no access token configured"}
	}
	return providers.CollectPages(ctx, page, perPage, c.listUserRepositories)
}

func (c *Client) listUserRepositories(ctx context.Context, page, perPage int) ([]providers.RepositoryInfo, error) {
	api, _ := c.client()
	repos, _, err := api.Repositories.List(ctx, "", &gh.RepositoryListOptions{
		Affiliation: userAffiliation,
		Sort:        "updated",
		ListOptions: gh.ListOptions{Page: page, PerPage: providers.ClampPerPage(perPage)},
	})
	if err != nil {
		return nil, mapError(ctx, "user repositories", err)
	}
	out := make([]providers.RepositoryInfo, 0, len(repos))
	for _, repo := range repos {
		info, err := toRepositoryInfo(repo)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, nil
}

func (c *Client) UpdateRepository(ctx context.Context, record *storage.RepositoryRecord) error {
	return providers.UpdateRecord(ctx, c, record, c.now())
}

func toRepositoryInfo(repo *gh.Repository) (*providers.RepositoryInfo, error) {
	if repo == nil || repo.GetName() == "" || repo.GetOwner().GetLogin() == "" {
		return nil, providers.NewError(providers.ErrInvalidResponse, platform.GitHub, "repository", errors.New("owner or name missing"))
	}
	return &providers.RepositoryInfo{
		Owner:          repo.GetOwner().GetLogin(),
		Name:           repo.GetName(),
		FullName:       repo.GetFullName(),
		Description:    repo.GetDescription(),
		URL:            repo.GetHTMLURL(),
		StarCount:      repo.GetStargazersCount(),
		ForkCount:      repo.GetForksCount(),
		OpenIssueCount: repo.GetOpenIssuesCount(),
		Private:        repo.GetPrivate(),
		UpdatedAt:      timestamp(repo.UpdatedAt),
	}, nil
}

func toIssueInfo(issue *gh.Issue) *providers.IssueInfo {
	return &providers.IssueInfo{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: timestamp(issue.CreatedAt),
	}
}

func timestamp(ts *gh.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
