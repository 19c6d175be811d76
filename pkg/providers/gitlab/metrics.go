package gitlab

import (
	"context"
	"time"

	"repowatch/pkg/providers"

	gl "github.com/xanzy/go-gitlab"
)

// FetchMetrics reads counters from the X-Total header of single-item listings.
func (c *Client) FetchMetrics(ctx context.Context, owner, name string, since time.Time) (*providers.MetricsInfo, error) {
	api, err := c.client("metrics")
	if err != nil {
		return nil, err
	}
	pid := projectPath(owner, name)
	one := gl.ListOptions{PerPage: 1}
	since = since.UTC()
	out := &providers.MetricsInfo{}

	_, resp, err := api.MergeRequests.ListProjectMergeRequests(pid, &gl.ListProjectMergeRequestsOptions{
		ListOptions: one,
		State:       gl.Ptr("opened"),
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "open merge requests", resp, err)
	}
	out.OpenPullCount = resp.TotalItems

	out.RecentMergedPulls, err = recentlyMerged(ctx, api, pid, since)
	if err != nil {
		return nil, err
	}

	issueCounts := []struct {
		state *string
		after *time.Time
		dst   *int
	}{
		{nil, nil, &out.TotalIssueCount},
		{gl.Ptr("closed"), nil, &out.ClosedIssueCount},
	}
	for _, item := range issueCounts {
		_, resp, err := api.Issues.ListProjectIssues(pid, &gl.ListProjectIssuesOptions{
			ListOptions:  one,
			State:        item.state,
			UpdatedAfter: item.after,
		}, gl.WithContext(ctx))
		if err != nil {
			return nil, mapError(ctx, "issue counts", resp, err)
		}
		*item.dst = resp.TotalItems
	}
	out.RecentClosedIssues, err = recentlyClosed(ctx, api, pid, since)
	if err != nil {
		return nil, err
	}

	commits, resp, err := api.Commits.ListCommits(pid, &gl.ListCommitsOptions{ListOptions: one}, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "commits", resp, err)
	}
	out.CommitCount = resp.TotalItems
	if len(commits) > 0 {
		out.LastCommitDate = utc(commits[0].CommittedDate)
	}

	_, resp, err = api.Repositories.Contributors(pid, &gl.ListContributorsOptions{ListOptions: one}, gl.WithContext(ctx))
	if err != nil {
		return nil, mapError(ctx, "contributors", resp, err)
	}
	out.ContributorCount = resp.TotalItems
	return out, nil
}

// recentScanPages bounds the listings scanned for recent activity. Counts on
// very busy projects are a lower bound.
const recentScanPages = 3

// recentlyClosed counts issues closed since the cutoff. GitLab only filters
// on updated_at, so closed_at is checked here; an issue closed long ago and
// edited recently is not counted.
func recentlyClosed(ctx context.Context, api *gl.Client, pid string, since time.Time) (int, error) {
	opts := &gl.ListProjectIssuesOptions{
		ListOptions:  gl.ListOptions{PerPage: providers.MaxPerPage},
		State:        gl.Ptr("closed"),
		UpdatedAfter: &since,
		OrderBy:      gl.Ptr("updated_at"),
		Sort:         gl.Ptr("desc"),
	}
	count := 0
	for page := 1; page <= recentScanPages; page++ {
		opts.Page = page
		issues, resp, err := api.Issues.ListProjectIssues(pid, opts, gl.WithContext(ctx))
		if err != nil {
			return 0, mapError(ctx, "closed issues", resp, err)
		}
		for _, issue := range issues {
			if issue.ClosedAt != nil && !issue.ClosedAt.Before(since) {
				count++
			}
		}
		if resp.NextPage == 0 {
			break
		}
	}
	return count, nil
}

// recentlyMerged counts merge requests merged since the cutoff, checking
// merged_at the same way.
func recentlyMerged(ctx context.Context, api *gl.Client, pid string, since time.Time) (int, error) {
	opts := &gl.ListProjectMergeRequestsOptions{
		ListOptions:  gl.ListOptions{PerPage: providers.MaxPerPage},
		State:        gl.Ptr("merged"),
		UpdatedAfter: &since,
		OrderBy:      gl.Ptr("updated_at"),
		Sort:         gl.Ptr("desc"),
	}
	count := 0
	for page := 1; page <= recentScanPages; page++ {
		opts.Page = page
		mrs, resp, err := api.MergeRequests.ListProjectMergeRequests(pid, opts, gl.WithContext(ctx))
		if err != nil {
			return 0, mapError(ctx, "merged merge requests", resp, err)
		}
		for _, mr := range mrs {
			if mr.MergedAt != nil && !mr.MergedAt.Before(since) {
				count++
			}
		}
		if resp.NextPage == 0 {
			break
		}
	}
	return count, nil
}
