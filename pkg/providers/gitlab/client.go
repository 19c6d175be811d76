package gitlab

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

	gl "github.com/xanzy/go-gitlab"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://gitlab.com/api/v4"

// Client implements providers.Client on top of the GitLab SDK.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time

	mu    sync.RWMutex
	token string
	api   *gl.Client
	err   error
}

var (
	_ providers.Client         = (*Client)(nil)
	_ providers.MetricsFetcher = (*Client)(nil)
)

// NewTokenClient returns a GitLab client. token overrides cfg.Token when set.
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

func (c *Client) Platform() platform.Platform { return platform.GitLab }

// SetAccessToken rebuilds the SDK client with the new PRIVATE-TOKEN.
func (c *Client) SetAccessToken(token string) {
	token = strings.TrimSpace(token)
	next := c.http.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	hc := &http.Client{
		Transport: &tokenTransport{next: next},
		Timeout:   c.http.Timeout,
	}
	api, err := gl.NewClient(token,
		gl.WithBaseURL(c.baseURL),
		gl.WithHTTPClient(hc),
		gl.WithoutRetries(),
		gl.WithCustomLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
	c.mu.Lock()
	c.token = token
	c.api = api
	c.err = err
	c.mu.Unlock()
}

func (c *Client) client(op string) (*gl.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, providers.NewError(providers.ErrInvalidURL, platform.GitLab, op, c.err)
	}
	return c.api, nil
}

func (c *Client) hasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// VerifyToken returns the username of the token owner.
func (c *Client) VerifyToken(ctx context.Context) (string, error) {
	if !c.hasToken() {
		return "", &providers.Error{Kind: providers.ErrInvalidToken, Platform: platform.GitLab, Op: "verify token", Message: "no access token configured"}
	}
	api, err := c.client("verify token")
	if err != nil {
		return "", err
	}
	user, resp, err := api.Users.CurrentUser(gl.WithContext(ctx))
	if err != nil {
		return "", mapError(ctx, "verify token", resp, err)
	}
	if user.Username == "" {
		return "", providers.NewError(providers.ErrInvalidResponse, platform.GitLab, "verify token", errors.New("username missing"))
	}
	return user.Username, nil
}

func (c *Client) FetchRepository(ctx context.Context, owner, name string) (*providers.RepositoryInfo, error) {
	api, err := c.client("repository")
	if err != nil {
		return nil, err
	}
	project, resp, err := api.Projects.GetProject(projectPath(owner, name), nil, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "repository", resp, err)
	}
	return toRepositoryInfo(project)
}

// FetchLatestRelease returns the most recently released entry, or nil.
func (c *Client) FetchLatestRelease(ctx context.Context, owner, name string) (*providers.ReleaseInfo, error) {
	api, err := c.client("latest release")
	if err != nil {
		return nil, err
	}
	pid := projectPath(owner, name)
	releases, resp, err := api.Releases.ListReleases(pid, &gl.ListReleasesOptions{
		ListOptions: gl.ListOptions{PerPage: 1},
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "latest release", resp, err)
	}
	if len(releases) == 0 {
		return nil, nil
	}
	release := releases[0]
	published := release.ReleasedAt
	if published == nil {
		published = release.CreatedAt
	}
	return &providers.ReleaseInfo{
		Tag:         release.TagName,
		Name:        release.Name,
		URL:         c.webBaseURL() + "/" + pid + "/-/releases/" + url.PathEscape(release.TagName),
		PublishedAt: utc(published),
	}, nil
}

// FetchLatestIssue lists issues newest first. The issues endpoint never
// returns merge requests.
func (c *Client) FetchLatestIssue(ctx context.Context, owner, name string) (*providers.IssueInfo, error) {
	api, err := c.client("latest issue")
	if err != nil {
		return nil, err
	}
	issues, resp, err := api.Issues.ListProjectIssues(projectPath(owner, name), &gl.ListProjectIssuesOptions{
		ListOptions: gl.ListOptions{PerPage: 1},
		OrderBy:     gl.Ptr("created_at"),
		Sort:        gl.Ptr("desc"),
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "latest issue", resp, err)
	}
	if len(issues) == 0 {
		return nil, nil
	}
	issue := issues[0]
	return &providers.IssueInfo{
		Number:    issue.IID,
		Title:     issue.Title,
		URL:       issue.WebURL,
		CreatedAt: utc(issue.CreatedAt),
	}, nil
}

// FetchUserRepositories lists projects the token owner is a member of.
func (c *Client) FetchUserRepositories(ctx context.Context, page, perPage int) ([]providers.RepositoryInfo, error) {
	if !c.hasToken() {
		return nil, &providers.Error{Kind: providers.ErrInvalidToken, Platform: platform.GitLab, Op: "user repositories", Message: "no access token configured"}
	}
	return providers.CollectPages(ctx, page, perPage, c.listProjects)
}

func (c *Client) listProjects(ctx context.Context, page, perPage int) ([]providers.RepositoryInfo, error) {
	api, err := c.client("user repositories")
	if err != nil {
		return nil, err
	}
	projects, resp, err := api.Projects.ListProjects(&gl.ListProjectsOptions{
		ListOptions: gl.ListOptions{Page: page, PerPage: providers.ClampPerPage(perPage)},
		Membership:  gl.Ptr(true),
		OrderBy:     gl.Ptr("last_activity_at"),
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "user repositories", resp, err)
	}
	out := make([]providers.RepositoryInfo, 0, len(projects))
	for _, project := range projects {
		info, err := toRepositoryInfo(project)
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

func toRepositoryInfo(project *gl.Project) (*providers.RepositoryInfo, error) {
	if project == nil || project.Path == "" {
		return nil, providers.NewError(providers.ErrInvalidResponse, platform.GitLab, "repository", errors.New("project path missing"))
	}
	owner := ""
	if project.Namespace != nil {
		owner = project.Namespace.FullPath
	}
	if owner == "" {
		if idx := strings.LastIndex(project.PathWithNamespace, "/"); idx > 0 {
			owner = project.PathWithNamespace[:idx]
		}
	}
	if owner == "" {
		return nil, providers.NewError(providers.ErrInvalidResponse, platform.GitLab, "repository", errors.New("namespace missing"))
	}
	return &providers.RepositoryInfo{
		Owner:          owner,
		Name:           project.Path,
		FullName:       project.PathWithNamespace,
		Description:    project.Description,
		URL:            project.WebURL,
		StarCount:      project.StarCount,
		ForkCount:      project.ForksCount,
		OpenIssueCount: project.OpenIssuesCount,
		Private:        project.Visibility == gl.PrivateVisibility,
		UpdatedAt:      utc(project.LastActivityAt),
	}, nil
}

// webBaseURL derives the web host from the API base.
func (c *Client) webBaseURL() string {
	return strings.TrimSuffix(c.baseURL, "/api/v4")
}

// projectPath is the namespaced path; the SDK sends it as one encoded segment.
func projectPath(owner, name string) string {
	return owner + "/" + name
}

func utc(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func normalizeBaseURL(base string) string {
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
