// Package analytics derives health and activity scores from repository snapshots.
package analytics

import (
	"math"
	"time"

	"repowatch/pkg/storage"
)

// DefaultWindow is the number of daily samples kept per series.
const DefaultWindow = 30

// HealthSwingThreshold is the score change that raises a health notification.
const HealthSwingThreshold = 20

const dayLayout = "2006-01-02"

// Milestone thresholds per metric.
var (
	StarMilestones   = []int{100, 500, 1000, 5000, 10000, 50000, 100000}
	ForkMilestones   = []int{50, 100, 500, 1000, 5000}
	HealthMilestones = []int{80, 90}
)

// Metric names used in milestone markers.
const (
	MetricStars  = "stars"
	MetricForks  = "forks"
	MetricHealth = "health"
)

// Aggregator maintains analytics snapshots. The zero value uses DefaultWindow.
type Aggregator struct {
	Window int
}

// New returns an Aggregator with the default window.
func New() *Aggregator {
	return &Aggregator{Window: DefaultWindow}
}

func (a *Aggregator) window() int {
	if a == nil || a.Window <= 0 {
		return DefaultWindow
	}
	return a.Window
}

// Update folds the record's current values into a copy of prev and
// recomputes the scores. prev may be nil for a repository without analytics.
// Samples are keyed by UTC day: a second update on the same day replaces
// that day's sample.
func (a *Aggregator) Update(prev *storage.AnalyticsSnapshot, record *storage.RepositoryRecord, now time.Time) storage.AnalyticsSnapshot {
	now = now.UTC()
	day := now.Format(dayLayout)

	var snap storage.AnalyticsSnapshot
	if prev != nil {
		snap = *prev
		snap.DailyStars = append([]int(nil), prev.DailyStars...)
		snap.DailyCommits = append([]int(nil), prev.DailyCommits...)
		snap.DailyIssues = append([]int(nil), prev.DailyIssues...)
	}
	snap.RepositoryID = record.ID

	sameDay := prev != nil && prev.LastSampleDay == day
	limit := a.window()
	snap.DailyStars = addSample(snap.DailyStars, record.StarCount, sameDay, limit)
	snap.DailyCommits = addSample(snap.DailyCommits, record.CommitCount, sameDay, limit)
	snap.DailyIssues = addSample(snap.DailyIssues, record.OpenIssueCount, sameDay, limit)
	snap.LastSampleDay = day

	score := HealthScore(record, gained(snap.DailyStars, limit), now)
	level := Level(gained(snap.DailyStars, 7) + record.RecentClosedIssues)
	if prev == nil {
		snap.PreviousHealthScore = score
		snap.PreviousActivity = level
	} else {
		snap.PreviousHealthScore = prev.HealthScore
		snap.PreviousActivity = prev.ActivityLevel
	}
	snap.HealthScore = score
	snap.ActivityLevel = level
	snap.UpdatedAt = now
	return snap
}

func addSample(series []int, value int, replace bool, limit int) []int {
	if replace && len(series) > 0 {
		series[len(series)-1] = value
		return series
	}
	series = append(series, value)
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series
}

// gained is the increase of a cumulative series over its last n samples.
func gained(series []int, n int) int {
	if len(series) < 2 {
		return 0
	}
	from := len(series) - 1 - n
	if from < 0 {
		from = 0
	}
	delta := series[len(series)-1] - series[from]
	if delta < 0 {
		return 0
	}
	return delta
}

// HealthScore computes the 0-100 health score. recentStars is the number of
// stars gained over the sample window.
func HealthScore(record *storage.RepositoryRecord, recentStars int, now time.Time) int {
	score := 50

	volume := recentStars + record.RecentClosedIssues + record.RecentMergedPulls
	switch {
	case volume > 100:
		score += 25
	case volume > 50:
		score += 15
	case volume > 10:
		score += 5
	}

	if record.TotalIssueCount > 0 {
		rate := float64(record.ClosedIssueCount) / float64(record.TotalIssueCount)
		score += int(math.Round(math.Min(rate, 1) * 15))
	}

	switch {
	case record.StarCount > 1000:
		score += 10
	case record.StarCount > 100:
		score += 5
	case record.StarCount > 10:
		score += 2
	}

	if record.LastCommitDate != nil {
		age := now.Sub(*record.LastCommitDate)
		switch {
		case age < 7*24*time.Hour:
			score += 10
		case age < 30*24*time.Hour:
			score += 5
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Level maps a short-window activity count onto the five-point scale.
func Level(activity int) storage.ActivityLevel {
	switch {
	case activity < 1:
		return storage.ActivityVeryLow
	case activity < 5:
		return storage.ActivityLow
	case activity < 20:
		return storage.ActivityModerate
	case activity < 50:
		return storage.ActivityHigh
	default:
		return storage.ActivityVeryHigh
	}
}
