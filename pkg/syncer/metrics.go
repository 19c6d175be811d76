package syncer

import "expvar"

var syncStats = expvar.NewMap("repowatch_sync_total")

const (
	statCycles        = "cycles"
	statUpdates       = "updates"
	statFailures      = "failures"
	statRateLimits    = "rate_limits"
	statNotifications = "notifications"
)

func incStat(name string, delta int64) {
	if delta != 0 {
		syncStats.Add(name, delta)
	}
}
