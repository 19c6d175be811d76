package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"repowatch/pkg/auth"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"
)

const defaultBaseURL = "https://api.bitbucket.org/2.0"

// Client talks to the Bitbucket Cloud REST 2.0 API. Bitbucket has no
// releases, and token verification and repository listing are not offered.
type Client struct {
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu    sync.RWMutex
	token string
}

var _ providers.Client = (*Client)(nil)

// NewTokenClient returns a Bitbucket client. token overrides cfg.Token when set.
func NewTokenClient(cfg auth.ProviderConfig, token string, httpClient *http.Client) *Client {
	if token == "" {
		token = cfg.Token
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: normalizeBaseURL(cfg.BaseURL),
		client:  httpClient,
		now:     time.Now,
		token:   strings.TrimSpace(token),
	}
}

func (c *Client) Platform() platform.Platform { return platform.Bitbucket }

func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) VerifyToken(context.Context) (string, error) {
	return "", providers.Unsupported(platform.Bitbucket, "verify token")
}

type repositoryPayload struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	FullName  string `json:"full_name"`
	IsPrivate bool   `json:"is_private"`
	Desc      string `json:"description"`
	UpdatedOn string `json:"updated_on"`
	Workspace struct {
		Slug string `json:"slug"`
	} `json:"workspace"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

type pagePayload struct {
	Size int `json:"size"`
}

type issuesPayload struct {
	Values []struct {
		ID        int    `json:"id"`
		Title     string `json:"title"`
		CreatedOn string `json:"created_on"`
		Links     struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	} `json:"values"`
}

// FetchRepository combines repository metadata with watcher and fork totals.
// Watchers stand in for stars.
func (c *Client) FetchRepository(ctx context.Context, owner, name string) (*providers.RepositoryInfo, error) {
	base := c.repoURL(owner, name)
	var repo repositoryPayload
	if err := c.getJSON(ctx, "repository", base, &repo); err != nil {
		return nil, err
	}
	if repo.FullName == "" {
		return nil, providers.NewError(providers.ErrInvalidResponse, platform.Bitbucket, "repository", errors.New("full_name missing"))
	}
	var watchers, forks pagePayload
	if err := c.getJSON(ctx, "watchers", base+"/watchers?pagelen=1", &watchers); err != nil {
		return nil, err
	}
	if err := c.getJSON(ctx, "forks", base+"/forks?pagelen=1", &forks); err != nil {
		return nil, err
	}
	info := &providers.RepositoryInfo{
		Owner:       repo.Workspace.Slug,
		Name:        repo.Slug,
		FullName:    repo.FullName,
		Description: repo.Desc,
		URL:         repo.Links.HTML.Href,
		StarCount:   watchers.Size,
		ForkCount:   forks.Size,
		Private:     repo.IsPrivate,
		UpdatedAt:   parseTime(repo.UpdatedOn),
	}
	if info.Owner == "" || info.Name == "" {
		if ws, slug, ok := strings.Cut(repo.FullName, "/"); ok {
			info.Owner, info.Name = ws, slug
		}
	}
	return info, nil
}

// FetchLatestRelease always reports no release.
func (c *Client) FetchLatestRelease(context.Context, string, string) (*providers.ReleaseInfo, error) {
	return nil, nil
}

// FetchLatestIssue reads the issue tracker newest first. A disabled tracker
// answers 404, which means no issue.
func (c *Client) FetchLatestIssue(ctx context.Context, owner, name string) (*providers.IssueInfo, error) {
	endpoint := c.repoURL(owner, name) + "/issues?sort=-created_on&pagelen=1"
	var payload issuesPayload
	if err := c.getJSON(ctx, "latest issue", endpoint, &payload); err != nil {
		if errors.Is(err, providers.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(payload.Values) == 0 {
		return nil, nil
	}
	issue := payload.Values[0]
	return &providers.IssueInfo{
		Number:    issue.ID,
		Title:     issue.Title,
		URL:       issue.Links.HTML.Href,
		CreatedAt: parseTime(issue.CreatedOn),
	}, nil
}

func (c *Client) FetchUserRepositories(context.Context, int, int) ([]providers.RepositoryInfo, error) {
	return nil, providers.Unsupported(platform.Bitbucket, "user repositories")
}

func (c *Client) UpdateRepository(ctx context.Context, record *storage.RepositoryRecord) error {
	return providers.UpdateRecord(ctx, c, record, c.now())
}

func (c *Client) repoURL(owner, name string) string {
	return fmt.Sprintf("%s/repositories/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(name))
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.NewError(providers.ErrInvalidURL, platform.Bitbucket, op, err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return providers.FromTransport(ctx, platform.Bitbucket, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return providers.FromStatus(platform.Bitbucket, op, resp.StatusCode, errorMessage(raw), false)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return providers.NewError(providers.ErrInvalidResponse, platform.Bitbucket, op, err)
	}
	return nil
}

// errorMessage extracts error.message from a Bitbucket error body.
func errorMessage(raw []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return defaultBaseURL
	}
	return base
}
