// Package providers defines the contract every hosting-platform client implements.
package providers

import (
	"context"
	"time"

	"repowatch/pkg/platform"
	"repowatch/pkg/storage"
)

// MaxPerPage is the largest page size any supported platform accepts.
const MaxPerPage = 100

// RepositoryInfo is the platform-neutral view of repository metadata.
type RepositoryInfo struct {
	Owner          string
	Name           string
	FullName       string
	Description    string
	URL            string
	StarCount      int
	ForkCount      int
	OpenIssueCount int
	Private        bool
	UpdatedAt      *time.Time
}

// ReleaseInfo describes the most recent published release.
type ReleaseInfo struct {
	Tag         string
	Name        string
	URL         string
	PublishedAt *time.Time
}

// IssueInfo describes the most recently created issue, never a pull request.
type IssueInfo struct {
	Number    int
	Title     string
	URL       string
	CreatedAt *time.Time
}

// MetricsInfo carries the extended counters used by analytics.
type MetricsInfo struct {
	OpenPullCount      int
	CommitCount        int
	ContributorCount   int
	LastCommitDate     *time.Time
	ClosedIssueCount   int
	TotalIssueCount    int
	RecentClosedIssues int
	RecentMergedPulls  int
}

// Client is implemented once per platform.
type Client interface {
	Platform() platform.Platform
	// SetAccessToken replaces the credential used by later calls. An empty token clears it.
	SetAccessToken(token string)
	// VerifyToken returns the username the credential belongs to.
	VerifyToken(ctx context.Context) (string, error)
	FetchRepository(ctx context.Context, owner, name string) (*RepositoryInfo, error)
	// FetchLatestRelease returns nil without error when no release exists.
	FetchLatestRelease(ctx context.Context, owner, name string) (*ReleaseInfo, error)
	// FetchLatestIssue returns nil without error when no issue exists.
	FetchLatestIssue(ctx context.Context, owner, name string) (*IssueInfo, error)
	FetchUserRepositories(ctx context.Context, page, perPage int) ([]RepositoryInfo, error)
	// UpdateRepository refreshes the snapshot fields of record in place.
	UpdateRepository(ctx context.Context, record *storage.RepositoryRecord) error
}

// MetricsFetcher is implemented by clients able to report extended metrics.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, owner, name string, since time.Time) (*MetricsInfo, error)
}

// ClampPerPage bounds a requested page size to [1, MaxPerPage].
func ClampPerPage(perPage int) int {
	if perPage < 1 {
		return 1
	}
	if perPage > MaxPerPage {
		return MaxPerPage
	}
	return perPage
}

// PageFunc fetches one platform page of at most MaxPerPage items.
type PageFunc func(ctx context.Context, page, perPage int) ([]RepositoryInfo, error)

// CollectPages serves a (page, perPage) request whose perPage may exceed the
// platform limit by re-issuing platform pages and slicing the result.
func CollectPages(ctx context.Context, page, perPage int, fetch PageFunc) ([]RepositoryInfo, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage <= MaxPerPage {
		return fetch(ctx, page, perPage)
	}
	start := (page - 1) * perPage
	end := start + perPage
	out := make([]RepositoryInfo, 0, perPage)
	for platformPage := start/MaxPerPage + 1; ; platformPage++ {
		items, err := fetch(ctx, platformPage, MaxPerPage)
		if err != nil {
			return nil, err
		}
		offset := (platformPage - 1) * MaxPerPage
		for i, item := range items {
			idx := offset + i
			if idx >= start && idx < end {
				out = append(out, item)
			}
		}
		if len(items) < MaxPerPage || offset+len(items) >= end {
			return out, nil
		}
	}
}
