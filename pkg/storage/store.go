package storage

import (
	"context"
	"errors"
	"time"

	"repowatch/pkg/platform"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when inserting a record whose identifier is already stored.
var ErrDuplicate = errors.New("record already exists")

// RepositoryRecord is one tracked repository plus its last-known snapshot.
type RepositoryRecord struct {
	ID         string
	Identifier platform.Identifier
	FullName   string
	URL        string

	StarCount         int
	PreviousStarCount int
	LatestReleaseTag  string
	LatestReleaseName string
	LatestReleaseURL  string
	LatestReleaseDate *time.Time
	LatestIssueTitle  string
	LatestIssueURL    string
	LatestIssueDate   *time.Time

	ForkCount          int
	OpenIssueCount     int
	OpenPullCount      int
	CommitCount        int
	ContributorCount   int
	LastCommitDate     *time.Time
	ClosedIssueCount   int
	TotalIssueCount    int
	RecentClosedIssues int
	RecentMergedPulls  int

	// LastUpdated is the time of the last successful sync.
	LastUpdated *time.Time
	// LastChecked is the time notification evaluation last ran for this record.
	LastChecked          *time.Time
	NotificationsEnabled bool
	CreatedAt            time.Time
}

// StarDelta is the star change observed by the most recent sync. It may be negative.
func (r *RepositoryRecord) StarDelta() int {
	return r.StarCount - r.PreviousStarCount
}

// HasNewRelease reports whether the latest release was published after the
// last notification check. A record that was never checked treats any known
// release as new.
func (r *RepositoryRecord) HasNewRelease() bool {
	return newerThanCheck(r.LatestReleaseDate, r.LastChecked)
}

// HasNewIssue applies the same rule as HasNewRelease to the latest issue.
func (r *RepositoryRecord) HasNewIssue() bool {
	return newerThanCheck(r.LatestIssueDate, r.LastChecked)
}

// DisplayName prefers the platform's canonical full name.
func (r *RepositoryRecord) DisplayName() string {
	if r.FullName != "" {
		return r.FullName
	}
	return r.Identifier.FullName()
}

func newerThanCheck(ts, checked *time.Time) bool {
	if ts == nil {
		return false
	}
	if checked == nil {
		return true
	}
	return ts.After(*checked)
}

// ActivityLevel is a 5-point ordinal activity scale.
type ActivityLevel int

const (
	ActivityVeryLow ActivityLevel = iota
	ActivityLow
	ActivityModerate
	ActivityHigh
	ActivityVeryHigh
)

func (l ActivityLevel) String() string {
	switch l {
	case ActivityLow:
		return "low"
	case ActivityModerate:
		return "moderate"
	case ActivityHigh:
		return "high"
	case ActivityVeryHigh:
		return "very-high"
	default:
		return "very-low"
	}
}

// AnalyticsSnapshot holds derived, rebuildable analytics for one repository.
type AnalyticsSnapshot struct {
	RepositoryID        string
	DailyStars          []int
	DailyCommits        []int
	DailyIssues         []int
	LastSampleDay       string
	HealthScore         int
	PreviousHealthScore int
	ActivityLevel       ActivityLevel
	PreviousActivity    ActivityLevel
	UpdatedAt           time.Time
}

// MilestoneMarker records that a threshold notification was already delivered.
type MilestoneMarker struct {
	RepositoryID string
	Metric       string
	Threshold    int
	NotifiedAt   time.Time
}

// RepositoryStore persists tracked repositories.
type RepositoryStore interface {
	InsertRepository(ctx context.Context, record RepositoryRecord) error
	SaveRepository(ctx context.Context, record RepositoryRecord) error
	GetRepository(ctx context.Context, id string) (*RepositoryRecord, error)
	ListRepositories(ctx context.Context) ([]RepositoryRecord, error)
	DeleteRepository(ctx context.Context, id string) error
}

// AnalyticsStore persists analytics snapshots keyed by repository ID.
type AnalyticsStore interface {
	GetAnalytics(ctx context.Context, repositoryID string) (*AnalyticsSnapshot, error)
	SaveAnalytics(ctx context.Context, snapshot AnalyticsSnapshot) error
	DeleteAnalytics(ctx context.Context, repositoryID string) error
}

// MilestoneStore persists milestone markers.
type MilestoneStore interface {
	HasMilestone(ctx context.Context, repositoryID, metric string, threshold int) (bool, error)
	MarkMilestone(ctx context.Context, marker MilestoneMarker) error
	DeleteMilestones(ctx context.Context, repositoryID string) error
}

// Store combines every persistence concern of the sync layer.
type Store interface {
	RepositoryStore
	AnalyticsStore
	MilestoneStore
	Close() error
}
