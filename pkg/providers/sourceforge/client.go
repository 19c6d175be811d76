// Package sourceforge reads project metadata and the recommended download
// from SourceForge. Projects have no owner separate from the project name.
package sourceforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"repowatch/pkg/auth"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"
)

const (
	defaultBaseURL = "https://sourceforge.net"
	releaseLayout  = "2006-01-02 15:04:05"
)

// Client implements providers.Client for SourceForge. Issues, token
// verification and repository listing are unsupported.
type Client struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

var _ providers.Client = (*Client)(nil)

// NewClient returns a SourceForge client. SourceForge needs no credential.
func NewClient(cfg auth.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{baseURL: base, client: httpClient, now: time.Now}
}

func (c *Client) Platform() platform.Platform { return platform.SourceForge }

// SetAccessToken is accepted for contract parity; the public API is anonymous.
func (c *Client) SetAccessToken(string) {}

func (c *Client) VerifyToken(context.Context) (string, error) {
	return "", providers.Unsupported(platform.SourceForge, "verify token")
}

type projectPayload struct {
	Name             string `json:"name"`
	ShortName        string `json:"shortname"`
	URL              string `json:"url"`
	Summary          string `json:"summary"`
	ShortDescription string `json:"short_description"`
	Private          bool   `json:"private"`
}

type bestReleasePayload struct {
	Release *struct {
		Filename string `json:"filename"`
		Date     string `json:"date"`
		URL      string `json:"url"`
	} `json:"release"`
}

// FetchRepository reads the Allura project endpoint. name is the project's
// unix name; owner is ignored because it always equals name.
func (c *Client) FetchRepository(ctx context.Context, _, name string) (*providers.RepositoryInfo, error) {
	var project projectPayload
	if err := c.getJSON(ctx, "repository", c.baseURL+"/rest/p/"+url.PathEscape(name), &project); err != nil {
		return nil, err
	}
	short := project.ShortName
	if short == "" {
		return nil, providers.NewError(providers.ErrInvalidResponse, platform.SourceForge, "repository", errors.New("shortname missing"))
	}
	desc := project.ShortDescription
	if desc == "" {
		desc = project.Summary
	}
	web := project.URL
	if web == "" {
		web = fmt.Sprintf("%s/projects/%s/", c.baseURL, short)
	}
	return &providers.RepositoryInfo{
		Owner:       short,
		Name:        short,
		FullName:    project.Name,
		Description: desc,
		URL:         web,
		Private:     project.Private,
	}, nil
}

// FetchLatestRelease reports the project's recommended download. The tag is
// the folder holding the file, which by convention is the version.
func (c *Client) FetchLatestRelease(ctx context.Context, _, name string) (*providers.ReleaseInfo, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/best_release.json", c.baseURL, url.PathEscape(name))
	var payload bestReleasePayload
	if err := c.getJSON(ctx, "latest release", endpoint, &payload); err != nil {
		if errors.Is(err, providers.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if payload.Release == nil || payload.Release.Filename == "" {
		return nil, nil
	}
	file := payload.Release.Filename
	tag := path.Base(path.Dir(file))
	if tag == "/" || tag == "." {
		tag = path.Base(file)
	}
	info := &providers.ReleaseInfo{
		Tag:  tag,
		Name: path.Base(file),
		URL:  payload.Release.URL,
	}
	if t, err := time.ParseInLocation(releaseLayout, payload.Release.Date, time.UTC); err == nil {
		info.PublishedAt = &t
	}
	return info, nil
}

func (c *Client) FetchLatestIssue(context.Context, string, string) (*providers.IssueInfo, error) {
	return nil, providers.Unsupported(platform.SourceForge, "latest issue")
}

func (c *Client) FetchUserRepositories(context.Context, int, int) ([]providers.RepositoryInfo, error) {
	return nil, providers.Unsupported(platform.SourceForge, "user repositories")
}

func (c *Client) UpdateRepository(ctx context.Context, record *storage.RepositoryRecord) error {
	return providers.UpdateRecord(ctx, c, record, c.now())
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.NewError(providers.ErrInvalidURL, platform.SourceForge, op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return providers.FromTransport(ctx, platform.SourceForge, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return providers.FromStatus(platform.SourceForge, op, resp.StatusCode, strings.TrimSpace(string(raw)), false)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return providers.NewError(providers.ErrInvalidResponse, platform.SourceForge, op, err)
	}
	return nil
}
