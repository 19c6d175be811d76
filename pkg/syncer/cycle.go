package syncer

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"repowatch/pkg/notify"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"
)

var errStopCycle = errors.New("cycle stopped by rate limit")

type outcome struct {
	attempted   bool
	updated     bool
	record      storage.RepositoryRecord
	previousTag string
}

// RunCycle updates every tracked repository once and emits the resulting
// notifications. A cycle requested while another runs returns
// ErrCycleInProgress and a Busy result.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return CycleResult{Busy: true}, ErrCycleInProgress
	}
	defer e.busy.Store(false)

	started := e.now()
	for _, l := range e.listeners {
		if l.OnCycleStart != nil {
			l.OnCycleStart(ctx)
		}
	}

	result, err := e.runCycle(ctx)
	result.Duration = e.now().Sub(started)

	incStat(statCycles, 1)
	if err == nil && result.RateLimited {
		e.rateLimited.Store(true)
	}
	for _, l := range e.listeners {
		if l.OnCycleFinish != nil {
			l.OnCycleFinish(ctx, result, err)
		}
	}
	return result, err
}

func (e *Engine) runCycle(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	records, err := e.store.ListRepositories(ctx)
	if err != nil {
		return result, err
	}
	if len(records) == 0 {
		return result, nil
	}

	entitled := e.Entitled(ctx)
	outcomes, rateLimited := e.updateAll(ctx, records, entitled)
	result.RateLimited = rateLimited
	if rateLimited {
		incStat(statRateLimits, 1)
	}

	now := e.now().UTC()
	for i := range outcomes {
		o := &outcomes[i]
		if !o.attempted {
			continue
		}
		result.Attempted++
		if !o.updated {
			result.Failed++
			continue
		}
		result.Updated++
		result.Notifications += e.notifyChanges(ctx, &o.record, o.previousTag)
		checked := now
		o.record.LastChecked = &checked
		if err := e.store.SaveRepository(ctx, o.record); err != nil {
			e.logger.Printf("save %s after notification pass failed: %v", o.record.DisplayName(), err)
		}
		if entitled {
			result.Notifications += e.analyticsPass(ctx, &o.record, now)
		}
	}
	incStat(statUpdates, int64(result.Updated))
	incStat(statFailures, int64(result.Failed))
	return result, nil
}

// updateAll refreshes records with at most cfg.Concurrency requests in
// flight. A rate limit cancels the remaining work; those records are left
// untouched.
func (e *Engine) updateAll(ctx context.Context, records []storage.RepositoryRecord, entitled bool) ([]outcome, bool) {
	outcomes := make([]outcome, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	var metricsOff atomic.Bool
	metricsOff.Store(!entitled)

	for i := range records {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			record := records[i]
			outcomes[i] = outcome{attempted: true, previousTag: record.LatestReleaseTag}
			err := e.updateOne(gctx, &record, &metricsOff)
			switch {
			case err == nil:
				outcomes[i].updated = true
				outcomes[i].record = record
				return nil
			case providers.IsRateLimited(err):
				e.logger.Printf("rate limited while updating %s: %v", record.DisplayName(), err)
				outcomes[i].attempted = false
				return errStopCycle
			case errors.Is(err, context.Canceled) && ctx.Err() == nil:
				// Canceled by a sibling's rate limit.
				outcomes[i].attempted = false
				return nil
			default:
				e.logger.Printf("update %s failed: %v", record.DisplayName(), err)
				for _, l := range e.listeners {
					if l.OnRepositoryError != nil {
						l.OnRepositoryError(ctx, records[i], err)
					}
				}
				return nil
			}
		})
	}
	err := g.Wait()
	return outcomes, errors.Is(err, errStopCycle)
}

// updateOne refreshes and saves the core snapshot of record, then adds
// extended metrics unless metricsOff is set. Metrics failures never fail the
// update.
func (e *Engine) updateOne(ctx context.Context, record *storage.RepositoryRecord, metricsOff *atomic.Bool) error {
	client, err := e.client(record.Identifier.Platform)
	if err != nil {
		return err
	}
	if err := client.UpdateRepository(ctx, record); err != nil {
		return err
	}
	if err := e.store.SaveRepository(ctx, *record); err != nil {
		return err
	}
	if !e.fetchMetrics(ctx, client, record, metricsOff) {
		return nil
	}
	if err := e.store.SaveRepository(ctx, *record); err != nil {
		e.logger.Printf("save metrics for %s failed: %v", record.DisplayName(), err)
	}
	return nil
}

// fetchMetrics applies extended counters to record and reports whether it
// did. On failure the previous counters stay. A rate limit sets metricsOff so
// the remaining repositories skip metrics; it does not stop the cycle.
func (e *Engine) fetchMetrics(ctx context.Context, client providers.Client, record *storage.RepositoryRecord, metricsOff *atomic.Bool) bool {
	if metricsOff.Load() {
		return false
	}
	fetcher, ok := client.(providers.MetricsFetcher)
	if !ok {
		return false
	}
	since := e.now().Add(-e.cfg.MetricsWindow)
	metrics, err := fetcher.FetchMetrics(ctx, record.Identifier.Owner, record.Identifier.Name, since)
	switch {
	case err == nil:
		providers.ApplyMetrics(record, metrics)
		return true
	case providers.IsRateLimited(err):
		if metricsOff.CompareAndSwap(false, true) {
			e.logger.Printf("metrics rate limited at %s, skipping analytics metrics for the rest of this pass: %v", record.DisplayName(), err)
		}
	case ctx.Err() == nil:
		e.logger.Printf("metrics for %s unavailable: %v", record.DisplayName(), err)
	}
	return false
}

// notifyChanges emits release, star and issue notifications for record, in
// that order, and returns how many were accepted.
func (e *Engine) notifyChanges(ctx context.Context, record *storage.RepositoryRecord, previousTag string) int {
	if !record.NotificationsEnabled {
		return 0
	}
	sent := 0
	if e.cfg.NotifyReleases && record.HasNewRelease() {
		if e.emit(ctx, notify.Release(record, previousTag)) {
			sent++
		}
	}
	if e.cfg.NotifyStars && record.StarDelta() > 0 {
		if e.emit(ctx, notify.Star(record)) {
			sent++
		}
	}
	if e.cfg.NotifyIssues && record.HasNewIssue() {
		if e.emit(ctx, notify.Issue(record)) {
			sent++
		}
	}
	return sent
}

// analyticsPass recomputes the snapshot for record and emits health swing,
// activity and milestone notifications. The first snapshot of a repository
// is a baseline: reached milestones are marked silently.
func (e *Engine) analyticsPass(ctx context.Context, record *storage.RepositoryRecord, now time.Time) int {
	prev, err := e.store.GetAnalytics(ctx, record.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Printf("load analytics for %s failed: %v", record.DisplayName(), err)
		return 0
	}
	if errors.Is(err, storage.ErrNotFound) {
		prev = nil
	}

	snap := e.aggregator.Update(prev, record, now)
	if err := e.store.SaveAnalytics(ctx, snap); err != nil {
		e.logger.Printf("save analytics for %s failed: %v", record.DisplayName(), err)
		return 0
	}

	triggers := e.aggregator.Triggers(prev, snap, record)
	loud := prev != nil && e.cfg.NotifyAnalytics && record.NotificationsEnabled

	sent := 0
	if loud && triggers.HealthSwing {
		if e.emit(ctx, notify.HealthSwing(record, &snap)) {
			sent++
		}
	}
	if loud && triggers.Activity {
		if e.emit(ctx, notify.Activity(record, &snap)) {
			sent++
		}
	}

	// Every newly reached threshold is marked; only the highest per metric is announced.
	highest := make(map[string]int)
	for _, m := range triggers.Milestones {
		seen, err := e.store.HasMilestone(ctx, record.ID, m.Metric, m.Threshold)
		if err != nil {
			e.logger.Printf("milestone lookup for %s failed: %v", record.DisplayName(), err)
			continue
		}
		if seen {
			continue
		}
		marker := storage.MilestoneMarker{RepositoryID: record.ID, Metric: m.Metric, Threshold: m.Threshold, NotifiedAt: now}
		if err := e.store.MarkMilestone(ctx, marker); err != nil {
			e.logger.Printf("mark milestone for %s failed: %v", record.DisplayName(), err)
			continue
		}
		if m.Threshold > highest[m.Metric] {
			highest[m.Metric] = m.Threshold
		}
	}
	if !loud {
		return sent
	}
	metrics := make([]string, 0, len(highest))
	for metric := range highest {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	for _, metric := range metrics {
		if e.emit(ctx, notify.Milestone(record, metric, highest[metric])) {
			sent++
		}
	}
	return sent
}
