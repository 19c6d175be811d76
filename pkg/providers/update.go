package providers

import (
	"context"
	"errors"
	"time"

	"repowatch/pkg/storage"
)

// UpdateRecord is the composite refresh shared by every client's
// UpdateRepository. Repository metadata is required. Release and issue
// lookups are best effort: rate-limit, credential and cancellation failures
// abort, absence clears the fields, anything else keeps the previous values.
func UpdateRecord(ctx context.Context, client Client, record *storage.RepositoryRecord, now time.Time) error {
	if record == nil {
		return errors.New("record is required")
	}
	owner, name := record.Identifier.Owner, record.Identifier.Name

	info, err := client.FetchRepository(ctx, owner, name)
	if err != nil {
		return err
	}
	release, releaseErr := client.FetchLatestRelease(ctx, owner, name)
	if fatal(ctx, releaseErr) {
		return releaseErr
	}
	issue, issueErr := client.FetchLatestIssue(ctx, owner, name)
	if fatal(ctx, issueErr) {
		return issueErr
	}

	ApplyRepository(record, info)
	if releaseErr == nil || IsAbsent(releaseErr) {
		ApplyRelease(record, release)
	}
	if issueErr == nil || IsAbsent(issueErr) {
		ApplyIssue(record, issue)
	}
	ts := now.UTC()
	record.LastUpdated = &ts
	return nil
}

func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrInvalidToken)
}

// ApplyRepository copies metadata into record. The previous star count is
// captured before it is overwritten.
func ApplyRepository(record *storage.RepositoryRecord, info *RepositoryInfo) {
	if info == nil {
		return
	}
	record.PreviousStarCount = record.StarCount
	record.StarCount = info.StarCount
	record.ForkCount = info.ForkCount
	record.OpenIssueCount = info.OpenIssueCount
	if info.FullName != "" {
		record.FullName = info.FullName
	}
	if info.URL != "" {
		record.URL = info.URL
	}
}

// ApplyRelease stores release, clearing the fields when it is nil.
func ApplyRelease(record *storage.RepositoryRecord, release *ReleaseInfo) {
	if release == nil {
		record.LatestReleaseTag = ""
		record.LatestReleaseName = ""
		record.LatestReleaseURL = ""
		record.LatestReleaseDate = nil
		return
	}
	record.LatestReleaseTag = release.Tag
	record.LatestReleaseName = release.Name
	record.LatestReleaseURL = release.URL
	record.LatestReleaseDate = release.PublishedAt
}

// ApplyIssue stores issue, clearing the fields when it is nil.
func ApplyIssue(record *storage.RepositoryRecord, issue *IssueInfo) {
	if issue == nil {
		record.LatestIssueTitle = ""
		record.LatestIssueURL = ""
		record.LatestIssueDate = nil
		return
	}
	record.LatestIssueTitle = issue.Title
	record.LatestIssueURL = issue.URL
	record.LatestIssueDate = issue.CreatedAt
}

// ApplyMetrics copies extended metrics into record.
func ApplyMetrics(record *storage.RepositoryRecord, metrics *MetricsInfo) {
	if metrics == nil {
		return
	}
	record.OpenPullCount = metrics.OpenPullCount
	record.CommitCount = metrics.CommitCount
	record.ContributorCount = metrics.ContributorCount
	if metrics.LastCommitDate != nil {
		record.LastCommitDate = metrics.LastCommitDate
	}
	record.ClosedIssueCount = metrics.ClosedIssueCount
	record.TotalIssueCount = metrics.TotalIssueCount
	record.RecentClosedIssues = metrics.RecentClosedIssues
	record.RecentMergedPulls = metrics.RecentMergedPulls
}
