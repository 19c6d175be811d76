package github

import (
	"context"
	"fmt"
	"time"

	"repowatch/pkg/providers"

	gh "github.com/google/go-github/v57/github"
)

// FetchMetrics gathers the counters used by analytics. Counts come from
// search totals and from the last page number of single-item listings.
func (c *Client) FetchMetrics(ctx context.Context, owner, name string, since time.Time) (*providers.MetricsInfo, error) {
	repo := "repo:" + owner + "/" + name
	day := since.UTC().Format("2006-01-02")
	out := &providers.MetricsInfo{}

	counts := []struct {
		query string
		dst   *int
	}{
		{repo + " is:pr is:open", &out.OpenPullCount},
		{repo + " is:issue is:closed", &out.ClosedIssueCount},
		{repo + " is:issue", &out.TotalIssueCount},
		{fmt.Sprintf("%s is:issue is:closed closed:>=%s", repo, day), &out.RecentClosedIssues},
		{fmt.Sprintf("%s is:pr is:merged merged:>=%s", repo, day), &out.RecentMergedPulls},
	}
	for _, item := range counts {
		total, err := c.searchTotal(ctx, item.query)
		if err != nil {
			return nil, err
		}
		*item.dst = total
	}

	api, _ := c.client()
	commits, resp, err := api.Repositories.ListCommits(ctx, owner, name, &gh.CommitsListOptions{ListOptions: gh.ListOptions{PerPage: 1}})
	if err != nil {
		return nil, mapError(ctx, "commits", err)
	}
	out.CommitCount = pageTotal(resp, len(commits))
	if len(commits) > 0 {
		committed := commits[0].GetCommit().GetCommitter().GetDate()
		if committed.IsZero() {
			committed = commits[0].GetCommit().GetAuthor().GetDate()
		}
		out.LastCommitDate = timestamp(&committed)
	}

	contributors, resp, err := api.Repositories.ListContributors(ctx, owner, name, &gh.ListContributorsOptions{ListOptions: gh.ListOptions{PerPage: 1}})
	if err != nil {
		return nil, mapError(ctx, "contributors", err)
	}
	out.ContributorCount = pageTotal(resp, len(contributors))
	return out, nil
}

func (c *Client) searchTotal(ctx context.Context, query string) (int, error) {
	api, _ := c.client()
	result, _, err := api.Search.Issues(ctx, query, &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: 1}})
	if err != nil {
		return 0, mapError(ctx, "search count", err)
	}
	return result.GetTotal(), nil
}

// pageTotal reads the item count of a PerPage=1 listing from its Link header.
func pageTotal(resp *gh.Response, fallback int) int {
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage
	}
	return fallback
}
