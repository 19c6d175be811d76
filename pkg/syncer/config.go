package syncer

import "time"

const (
	DefaultInterval      = 15 * time.Minute
	DefaultFreeTierLimit = 3
	// DefaultMetricsWindow bounds the "recent" counters fetched for analytics.
	DefaultMetricsWindow = 7 * 24 * time.Hour
)

// Config controls scheduling, notification toggles and tracking limits.
type Config struct {
	Interval time.Duration
	// RunOnStart triggers a cycle as soon as Start is called.
	RunOnStart bool

	NotifyReleases  bool
	NotifyStars     bool
	NotifyIssues    bool
	NotifyAnalytics bool

	// FreeTierLimit caps tracked repositories for users without an entitlement.
	// Zero or less disables the cap.
	FreeTierLimit int
	// Concurrency is the number of repositories updated in parallel.
	Concurrency   int
	MetricsWindow time.Duration
}

// DefaultConfig enables every notification kind.
func DefaultConfig() Config {
	return Config{
		Interval:        DefaultInterval,
		RunOnStart:      true,
		NotifyReleases:  true,
		NotifyStars:     true,
		NotifyIssues:    true,
		NotifyAnalytics: true,
		FreeTierLimit:   DefaultFreeTierLimit,
		Concurrency:     1,
		MetricsWindow:   DefaultMetricsWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = DefaultMetricsWindow
	}
	return c
}
