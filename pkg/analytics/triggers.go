package analytics

import "repowatch/pkg/storage"

// Milestone is a threshold a metric has reached.
type Milestone struct {
	Metric    string
	Threshold int
}

// Triggers lists the analytics notifications a snapshot change qualifies for.
// Milestones holds every reached threshold; callers filter them against the
// persisted markers.
type Triggers struct {
	HealthSwing bool
	Activity    bool
	Milestones  []Milestone
}

// Triggers evaluates snap against the snapshot it replaced. prev is nil on
// the first analytics pass for a repository.
func (a *Aggregator) Triggers(prev *storage.AnalyticsSnapshot, snap storage.AnalyticsSnapshot, record *storage.RepositoryRecord) Triggers {
	var t Triggers
	if prev != nil {
		swing := snap.HealthScore - prev.HealthScore
		if swing < 0 {
			swing = -swing
		}
		t.HealthSwing = swing > HealthSwingThreshold
	}

	wasHigh := prev != nil && prev.ActivityLevel >= storage.ActivityHigh
	t.Activity = snap.ActivityLevel >= storage.ActivityHigh && !wasHigh

	t.Milestones = append(t.Milestones, reached(MetricStars, StarMilestones, record.StarCount)...)
	t.Milestones = append(t.Milestones, reached(MetricForks, ForkMilestones, record.ForkCount)...)
	t.Milestones = append(t.Milestones, reached(MetricHealth, HealthMilestones, snap.HealthScore)...)
	return t
}

func reached(metric string, thresholds []int, value int) []Milestone {
	var out []Milestone
	for _, threshold := range thresholds {
		if value >= threshold {
			out = append(out, Milestone{Metric: metric, Threshold: threshold})
		}
	}
	return out
}
