package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"repowatch/pkg/storage"
)

// Bump names the size of a version change between two release tags.
type Bump string

const (
	BumpMajor      Bump = "major"
	BumpMinor      Bump = "minor"
	BumpPatch      Bump = "patch"
	BumpPrerelease Bump = "prerelease"
	BumpUnknown    Bump = ""
)

// ClassifyBump compares two release tags. Tags that do not parse as semantic
// versions, or that do not move forward, yield BumpUnknown.
func ClassifyBump(previous, next string) Bump {
	if previous == "" || next == "" {
		return BumpUnknown
	}
	prev, err := semver.NewVersion(previous)
	if err != nil {
		return BumpUnknown
	}
	cur, err := semver.NewVersion(next)
	if err != nil {
		return BumpUnknown
	}
	if !cur.GreaterThan(prev) {
		return BumpUnknown
	}
	switch {
	case cur.Major() != prev.Major():
		return BumpMajor
	case cur.Minor() != prev.Minor():
		return BumpMinor
	case cur.Patch() != prev.Patch():
		return BumpPatch
	default:
		return BumpPrerelease
	}
}

func base(kind Kind, record *storage.RepositoryRecord) Notification {
	return Notification{
		Kind:         kind,
		RepositoryID: record.ID,
		Repository:   record.DisplayName(),
		Platform:     record.Identifier.Platform.String(),
		TargetURL:    record.URL,
		Data:         map[string]interface{}{},
	}
}

// Release builds the new-release notification. previousTag is the tag known
// before the sync that observed the release and may be empty.
func Release(record *storage.RepositoryRecord, previousTag string) Notification {
	n := base(KindRelease, record)
	tag := record.LatestReleaseTag
	n.Title = fmt.Sprintf("New release: %s", record.DisplayName())
	label := tag
	if record.LatestReleaseName != "" && record.LatestReleaseName != tag {
		label = fmt.Sprintf("%s (%s)", tag, record.LatestReleaseName)
	}
	n.Body = fmt.Sprintf("%s was released", label)
	bump := ClassifyBump(previousTag, tag)
	if bump != BumpUnknown {
		n.Body = fmt.Sprintf("%s was released (%s update from %s)", label, bump, previousTag)
	}
	if record.LatestReleaseURL != "" {
		n.TargetURL = record.LatestReleaseURL
	}
	n.DedupID = dedup(KindRelease, record.ID, tag)
	n.Data["tag"] = tag
	n.Data["previous_tag"] = previousTag
	n.Data["bump"] = string(bump)
	return n
}

// Star builds the star-delta notification. Callers only emit it for positive deltas.
func Star(record *storage.RepositoryRecord) Notification {
	n := base(KindStar, record)
	delta := record.StarDelta()
	noun := "stars"
	if delta == 1 {
		noun = "star"
	}
	n.Title = fmt.Sprintf("%s gained %d %s", record.DisplayName(), delta, noun)
	n.Body = fmt.Sprintf("Now at %d stars", record.StarCount)
	n.DedupID = dedup(KindStar, record.ID, strconv.Itoa(record.StarCount))
	n.Data["delta"] = delta
	n.Data["stars"] = record.StarCount
	return n
}

// Issue builds the new-issue notification.
func Issue(record *storage.RepositoryRecord) Notification {
	n := base(KindIssue, record)
	n.Title = fmt.Sprintf("New issue in %s", record.DisplayName())
	n.Body = record.LatestIssueTitle
	if record.LatestIssueURL != "" {
		n.TargetURL = record.LatestIssueURL
	}
	stamp := ""
	if record.LatestIssueDate != nil {
		stamp = strconv.FormatInt(record.LatestIssueDate.Unix(), 10)
	}
	n.DedupID = dedup(KindIssue, record.ID, stamp)
	n.Data["title"] = record.LatestIssueTitle
	return n
}

// HealthSwing builds the health-score change notification.
func HealthSwing(record *storage.RepositoryRecord, snapshot *storage.AnalyticsSnapshot) Notification {
	n := base(KindHealth, record)
	direction := "improved"
	if snapshot.HealthScore < snapshot.PreviousHealthScore {
		direction = "dropped"
	}
	n.Title = fmt.Sprintf("%s health %s", record.DisplayName(), direction)
	n.Body = fmt.Sprintf("Health score went from %d to %d", snapshot.PreviousHealthScore, snapshot.HealthScore)
	n.DedupID = dedup(KindHealth, record.ID, snapshot.LastSampleDay, strconv.Itoa(snapshot.HealthScore))
	n.Data["score"] = snapshot.HealthScore
	n.Data["previous_score"] = snapshot.PreviousHealthScore
	return n
}

// Activity builds the high-activity notification.
func Activity(record *storage.RepositoryRecord, snapshot *storage.AnalyticsSnapshot) Notification {
	n := base(KindActivity, record)
	level := snapshot.ActivityLevel.String()
	n.Title = fmt.Sprintf("%s is busy", record.DisplayName())
	n.Body = fmt.Sprintf("Activity level is now %s", level)
	n.DedupID = dedup(KindActivity, record.ID, snapshot.LastSampleDay, level)
	n.Data["level"] = level
	return n
}

// Milestone builds the threshold-crossed notification.
func Milestone(record *storage.RepositoryRecord, metric string, threshold int) Notification {
	n := base(KindMilestone, record)
	n.Title = fmt.Sprintf("%s reached %d %s", record.DisplayName(), threshold, metricLabel(metric))
	n.Body = fmt.Sprintf("Milestone: %s %s", formatThreshold(threshold), metricLabel(metric))
	n.DedupID = dedup(KindMilestone, record.ID, metric, strconv.Itoa(threshold))
	n.Data["metric"] = metric
	n.Data["threshold"] = threshold
	return n
}

func metricLabel(metric string) string {
	switch metric {
	case "health":
		return "health score"
	default:
		return metric
	}
}

func formatThreshold(v int) string {
	if v >= 1000 && v%1000 == 0 {
		return strconv.Itoa(v/1000) + "k"
	}
	return strconv.Itoa(v)
}

func dedup(kind Kind, parts ...string) string {
	return string(kind) + ":" + strings.Join(parts, ":")
}
