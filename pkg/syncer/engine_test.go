package syncer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repowatch/pkg/entitlement"
	"repowatch/pkg/notify"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"
)

type fakeRepo struct {
	info    providers.RepositoryInfo
	release *providers.ReleaseInfo
	issue   *providers.IssueInfo
	metrics *providers.MetricsInfo
	err     error

	metricsErr error
}

type fakeClient struct {
	mu      sync.Mutex
	repos   map[string]*fakeRepo
	calls   map[string]int
	metrics map[string]int
	now     func() time.Time
	entered chan struct{}
	block   chan struct{}
}

func newFakeClient(now func() time.Time) *fakeClient {
	return &fakeClient{repos: map[string]*fakeRepo{}, calls: map[string]int{}, metrics: map[string]int{}, now: now}
}

func (c *fakeClient) add(owner, name string, stars int) *fakeRepo {
	c.mu.Lock()
	defer c.mu.Unlock()
	repo := &fakeRepo{info: providers.RepositoryInfo{
		Owner:     owner,
		Name:      name,
		FullName:  owner + "/" + name,
		URL:       "https://github.com/" + owner + "/" + name,
		StarCount: stars,
	}}
	c.repos[owner+"/"+name] = repo
	return repo
}

func (c *fakeClient) set(owner, name string, fn func(*fakeRepo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.repos[owner+"/"+name])
}

func (c *fakeClient) callCount(owner, name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[owner+"/"+name]
}

func (c *fakeClient) metricsCount(owner, name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics[owner+"/"+name]
}

func (c *fakeClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *fakeClient) lookup(owner, name string) (fakeRepo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	repo, ok := c.repos[owner+"/"+name]
	if !ok {
		return fakeRepo{}, false
	}
	return *repo, true
}

func (c *fakeClient) Platform() platform.Platform { return platform.GitHub }

func (c *fakeClient) SetAccessToken(string) {}

func (c *fakeClient) VerifyToken(context.Context) (string, error) { return "octocat", nil }

func (c *fakeClient) FetchRepository(ctx context.Context, owner, name string) (*providers.RepositoryInfo, error) {
	c.mu.Lock()
	c.calls[owner+"/"+name]++
	c.mu.Unlock()
	if c.entered != nil {
		c.entered <- struct{}{}
		<-c.block
	}
	repo, ok := c.lookup(owner, name)
	if !ok {
		return nil, providers.NewError(providers.ErrNotFound, platform.GitHub, "repository", nil)
	}
	if repo.err != nil {
		return nil, repo.err
	}
	info := repo.info
	return &info, nil
}

func (c *fakeClient) FetchLatestRelease(_ context.Context, owner, name string) (*providers.ReleaseInfo, error) {
	repo, _ := c.lookup(owner, name)
	return repo.release, nil
}

func (c *fakeClient) FetchLatestIssue(_ context.Context, owner, name string) (*providers.IssueInfo, error) {
	repo, _ := c.lookup(owner, name)
	return repo.issue, nil
}

func (c *fakeClient) FetchUserRepositories(_ context.Context, page, perPage int) ([]providers.RepositoryInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []providers.RepositoryInfo
	for _, repo := range c.repos {
		out = append(out, repo.info)
	}
	return out, nil
}

func (c *fakeClient) UpdateRepository(ctx context.Context, record *storage.RepositoryRecord) error {
	return providers.UpdateRecord(ctx, c, record, c.now())
}

func (c *fakeClient) FetchMetrics(_ context.Context, owner, name string, _ time.Time) (*providers.MetricsInfo, error) {
	c.mu.Lock()
	c.metrics[owner+"/"+name]++
	c.mu.Unlock()
	repo, _ := c.lookup(owner, name)
	if repo.metricsErr != nil {
		return nil, repo.metricsErr
	}
	return repo.metrics, nil
}

type fakeSource struct{ client providers.Client }

func (s fakeSource) CreateClient(p platform.Platform) providers.Client {
	if p != platform.GitHub {
		return nil
	}
	return s.client
}

type memoryStore struct {
	mu         sync.Mutex
	order      []string
	records    map[string]storage.RepositoryRecord
	analytics  map[string]storage.AnalyticsSnapshot
	milestones map[string]storage.MilestoneMarker
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records:    map[string]storage.RepositoryRecord{},
		analytics:  map[string]storage.AnalyticsSnapshot{},
		milestones: map[string]storage.MilestoneMarker{},
	}
}

func (s *memoryStore) InsertRepository(_ context.Context, record storage.RepositoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Identifier == record.Identifier {
			return storage.ErrDuplicate
		}
	}
	s.order = append(s.order, record.ID)
	s.records[record.ID] = record
	return nil
}

func (s *memoryStore) SaveRepository(_ context.Context, record storage.RepositoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return storage.ErrNotFound
	}
	s.records[record.ID] = record
	return nil
}

func (s *memoryStore) GetRepository(_ context.Context, id string) (*storage.RepositoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &record, nil
}

func (s *memoryStore) ListRepositories(context.Context) ([]storage.RepositoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.RepositoryRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *memoryStore) DeleteRepository(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryStore) GetAnalytics(_ context.Context, id string) (*storage.AnalyticsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.analytics[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *memoryStore) SaveAnalytics(_ context.Context, snap storage.AnalyticsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics[snap.RepositoryID] = snap
	return nil
}

func (s *memoryStore) DeleteAnalytics(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.analytics, id)
	return nil
}

func markerKey(id, metric string, threshold int) string {
	return id + "|" + metric + "|" + strconv.Itoa(threshold)
}

func (s *memoryStore) HasMilestone(_ context.Context, id, metric string, threshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.milestones[markerKey(id, metric, threshold)]
	return ok, nil
}

func (s *memoryStore) MarkMilestone(_ context.Context, m storage.MilestoneMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.milestones[markerKey(m.RepositoryID, m.Metric, m.Threshold)] = m
	return nil
}

func (s *memoryStore) DeleteMilestones(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.milestones {
		if m.RepositoryID == id {
			delete(s.milestones, key)
		}
	}
	return nil
}

func (s *memoryStore) Close() error { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) take() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.notes
	n.notes = nil
	return out
}

func kinds(notes []notify.Notification) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, string(n.Kind)+":"+n.Repository)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	engine   *Engine
	client   *fakeClient
	store    *memoryStore
	notifier *recordingNotifier
	clock    *clock
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		client:   newFakeClient(clk.now),
		store:    newMemoryStore(),
		notifier: &recordingNotifier{},
		clock:    clk,
	}
	ids := 0
	base := []Option{
		WithNotifier(h.notifier),
		WithClock(clk.now),
		WithIDGenerator(func() string {
			ids++
			return "repo-" + strconv.Itoa(ids)
		}),
	}
	h.engine = New(cfg, h.store, fakeSource{client: h.client}, append(base, opts...)...)
	return h
}

func (h *harness) track(t *testing.T, names ...string) []*storage.RepositoryRecord {
	t.Helper()
	out := make([]*storage.RepositoryRecord, 0, len(names))
	for _, name := range names {
		record, err := h.engine.AddRepository(context.Background(), "octocat/"+name)
		require.NoError(t, err)
		out = append(out, record)
	}
	return out
}

func TestAddRepositoryRejectsDuplicates(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.client.add("octocat", "Hello-World", 10)

	record, err := h.engine.AddRepository(context.Background(), "github:octocat/Hello-World")
	require.NoError(t, err)
	assert.Equal(t, "octocat/Hello-World", record.FullName)
	assert.Equal(t, 10, record.StarCount)
	assert.Zero(t, record.StarDelta())
	assert.True(t, record.NotificationsEnabled)

	_, err = h.engine.AddRepository(context.Background(), "https://github.com/octocat/Hello-World")
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	records, err := h.engine.ListRepositories(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAddRepositoryUsesCanonicalCasing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.client.add("octocat", "Hello-World", 1)
	h.client.repos["octocat/hello-world"] = h.client.repos["octocat/Hello-World"]

	record, err := h.engine.AddRepository(context.Background(), "octocat/hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Hello-World", record.Identifier.Name)

	_, err = h.engine.AddRepository(context.Background(), "octocat/hello-world")
	assert.ErrorIs(t, err, ErrAlreadyTracked)
}

func TestAddRepositoryEnforcesFreeTierWithoutNetwork(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for _, name := range []string{"a", "b", "c", "d"} {
		h.client.add("octocat", name, 1)
	}
	h.track(t, "a", "b", "c")
	before := h.client.totalCalls()

	_, err := h.engine.AddRepository(context.Background(), "octocat/d")
	assert.ErrorIs(t, err, ErrCapacityReached)
	assert.Equal(t, before, h.client.totalCalls())

	h.engine.entitlement = entitlement.Static(true)
	_, err = h.engine.AddRepository(context.Background(), "octocat/d")
	assert.NoError(t, err)
}

func TestAddRepositoryPersistsNothingOnFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.engine.AddRepository(context.Background(), "octocat/missing")
	assert.ErrorIs(t, err, providers.ErrNotFound)

	_, err = h.engine.AddRepository(context.Background(), "not a repository")
	assert.Error(t, err)

	records, _ := h.engine.ListRepositories(context.Background())
	assert.Empty(t, records)
}

func TestRunCycleStopsOnRateLimit(t *testing.T) {
	h := newHarness(t, Config{FreeTierLimit: 0})
	for _, name := range []string{"a", "b", "c"} {
		h.client.add("octocat", name, 1)
	}
	h.track(t, "a", "b", "c")
	for _, name := range []string{"a", "b", "c"} {
		h.client.set("octocat", name, func(r *fakeRepo) { r.info.StarCount = 5 })
	}
	h.client.set("octocat", "b", func(r *fakeRepo) {
		r.err = providers.NewError(providers.ErrRateLimited, platform.GitHub, "repository", nil)
	})
	callsC := h.client.callCount("octocat", "c")

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.RateLimited)
	assert.Equal(t, 1, result.Updated)
	assert.Zero(t, result.Failed)
	assert.True(t, h.engine.RateLimited())
	assert.Equal(t, callsC, h.client.callCount("octocat", "c"))

	records, _ := h.store.ListRepositories(context.Background())
	assert.Equal(t, 5, records[0].StarCount)
	assert.Equal(t, 1, records[1].StarCount)
	assert.Equal(t, 1, records[2].StarCount)
	assert.Nil(t, records[2].LastChecked)

	h.client.set("octocat", "b", func(r *fakeRepo) { r.err = nil })
	result, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, result.RateLimited)
	assert.Equal(t, 3, result.Updated)
	assert.True(t, h.engine.RateLimited(), "a clean cycle keeps the flag until credentials change")

	h.engine.ClearRateLimit()
	assert.False(t, h.engine.RateLimited())
}

func TestMetricsRateLimitKeepsCoreCycle(t *testing.T) {
	h := newHarness(t, DefaultConfig(), WithEntitlement(entitlement.Static(true)))
	for _, name := range []string{"a", "b", "c"} {
		h.client.add("octocat", name, 1).metrics = &providers.MetricsInfo{CommitCount: 3}
	}
	h.track(t, "a", "b", "c")
	for _, name := range []string{"a", "b", "c"} {
		h.client.set("octocat", name, func(r *fakeRepo) { r.info.StarCount = 50 })
	}
	h.client.set("octocat", "b", func(r *fakeRepo) {
		r.metricsErr = providers.NewError(providers.ErrRateLimited, platform.GitHub, "search", nil)
	})
	metricsC := h.client.metricsCount("octocat", "c")

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, result.RateLimited)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Updated)
	assert.False(t, h.engine.RateLimited())
	assert.Equal(t, metricsC, h.client.metricsCount("octocat", "c"), "metrics stay off for the rest of the pass")

	records, _ := h.store.ListRepositories(context.Background())
	for _, record := range records {
		assert.Equal(t, 50, record.StarCount, record.Identifier.Name)
		assert.NotNil(t, record.LastChecked, record.Identifier.Name)
	}

	h.client.set("octocat", "b", func(r *fakeRepo) { r.metricsErr = nil })
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, metricsC+1, h.client.metricsCount("octocat", "c"))
}

func TestAddRepositorySurvivesMetricsFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), WithEntitlement(entitlement.Static(true)))
	repo := h.client.add("octocat", "a", 7)
	repo.metricsErr = providers.NewError(providers.ErrRateLimited, platform.GitHub, "search", nil)

	record, err := h.engine.AddRepository(context.Background(), "octocat/a")
	require.NoError(t, err)
	assert.Equal(t, 7, record.StarCount)
	assert.Equal(t, 1, h.client.metricsCount("octocat", "a"))
	assert.False(t, h.engine.RateLimited())

	records, _ := h.store.ListRepositories(context.Background())
	assert.Len(t, records, 1)
}

func TestRunCycleCountsOtherFailures(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.client.add("octocat", "a", 1)
	h.client.add("octocat", "b", 1)
	h.track(t, "a", "b")
	boom := errors.New("boom")
	h.client.set("octocat", "a", func(r *fakeRepo) { r.err = boom })

	var failed []string
	h.engine.listeners = append(h.engine.listeners, Listener{
		OnRepositoryError: func(_ context.Context, record storage.RepositoryRecord, err error) {
			failed = append(failed, record.Identifier.Name)
			assert.ErrorIs(t, err, boom)
		},
	})

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.AllFailed())
	assert.Equal(t, []string{"a"}, failed)
}

func TestNotificationsFireOncePerChange(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	published := h.clock.now().Add(-48 * time.Hour)
	repo := h.client.add("octocat", "Hello-World", 100)
	repo.release = &providers.ReleaseInfo{Tag: "v1.0.0", PublishedAt: &published}
	repo.issue = &providers.IssueInfo{Title: "Crash", CreatedAt: &published}
	h.track(t, "Hello-World")

	h.clock.advance(time.Minute)
	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"release:octocat/Hello-World", "issue:octocat/Hello-World"}, kinds(h.notifier.take()))

	h.clock.advance(time.Minute)
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.take())

	h.client.set("octocat", "Hello-World", func(r *fakeRepo) { r.info.StarCount = 103 })
	h.clock.advance(time.Minute)
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	notes := h.notifier.take()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindStar, notes[0].Kind)
	assert.Equal(t, 3, notes[0].Data["delta"])

	h.clock.advance(time.Minute)
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.take())
}

func TestStarLossIsSilent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.client.add("octocat", "a", 50)
	h.track(t, "a")
	h.client.set("octocat", "a", func(r *fakeRepo) { r.info.StarCount = 42 })

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.take())

	records, _ := h.store.ListRepositories(context.Background())
	assert.Equal(t, -8, records[0].StarDelta())
}

func TestNotificationOrderFollowsTrackingOrder(t *testing.T) {
	h := newHarness(t, Config{FreeTierLimit: 0, NotifyReleases: true, NotifyStars: true, NotifyIssues: true, Concurrency: 3})
	for _, name := range []string{"a", "b", "c"} {
		h.client.add("octocat", name, 1)
	}
	h.track(t, "a", "b", "c")

	h.clock.advance(time.Hour)
	published := h.clock.now().Add(-time.Minute)
	for _, name := range []string{"c", "a"} {
		h.client.set("octocat", name, func(r *fakeRepo) {
			r.info.StarCount = 9
			r.release = &providers.ReleaseInfo{Tag: "v2", PublishedAt: &published}
			r.issue = &providers.IssueInfo{Title: "x", CreatedAt: &published}
		})
	}

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 6, result.Notifications)
	assert.Equal(t, []string{
		"release:octocat/a", "star:octocat/a", "issue:octocat/a",
		"release:octocat/c", "star:octocat/c", "issue:octocat/c",
	}, kinds(h.notifier.take()))
}

func TestNotificationToggles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NotifyStars = false
	h := newHarness(t, cfg)
	h.client.add("octocat", "a", 1)
	records := h.track(t, "a")
	h.client.set("octocat", "a", func(r *fakeRepo) { r.info.StarCount = 10 })

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.take())

	stored, _ := h.store.GetRepository(context.Background(), records[0].ID)
	stored.NotificationsEnabled = false
	require.NoError(t, h.store.SaveRepository(context.Background(), *stored))
	h.engine.cfg.NotifyStars = true
	h.client.set("octocat", "a", func(r *fakeRepo) { r.info.StarCount = 20 })

	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.take())
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.client.add("octocat", "a", 1)
	h.track(t, "a")
	h.client.entered = make(chan struct{})
	h.client.block = make(chan struct{})

	done := make(chan CycleResult)
	go func() {
		result, _ := h.engine.RunCycle(context.Background())
		done <- result
	}()
	<-h.client.entered

	result, err := h.engine.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.True(t, result.Busy)

	close(h.client.block)
	first := <-done
	assert.Equal(t, 1, first.Updated)
}

func TestAnalyticsBaselineThenMilestone(t *testing.T) {
	h := newHarness(t, DefaultConfig(), WithEntitlement(entitlement.Static(true)))
	repo := h.client.add("octocat", "a", 600)
	repo.metrics = &providers.MetricsInfo{CommitCount: 10}
	h.track(t, "a")

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.take())

	records, _ := h.store.ListRepositories(context.Background())
	id := records[0].ID
	seen, _ := h.store.HasMilestone(context.Background(), id, "stars", 500)
	assert.True(t, seen)

	h.clock.advance(24 * time.Hour)
	h.client.set("octocat", "a", func(r *fakeRepo) { r.info.StarCount = 5200 })
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	starMilestones := func(notes []notify.Notification) []notify.Notification {
		var out []notify.Notification
		for _, n := range notes {
			if n.Kind == notify.KindMilestone && strings.Contains(n.DedupID, ":stars:") {
				out = append(out, n)
			}
		}
		return out
	}
	milestones := starMilestones(h.notifier.take())
	require.Len(t, milestones, 1)
	assert.Equal(t, "milestone:"+id+":stars:5000", milestones[0].DedupID)
	for _, threshold := range []int{1000, 5000} {
		seen, _ := h.store.HasMilestone(context.Background(), id, "stars", threshold)
		assert.True(t, seen, "threshold %d", threshold)
	}

	h.clock.advance(24 * time.Hour)
	_, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, starMilestones(h.notifier.take()))
}

func TestAnalyticsSkippedWithoutEntitlement(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.client.add("octocat", "a", 600)
	records := h.track(t, "a")

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	snap, _ := h.store.GetAnalytics(context.Background(), records[0].ID)
	assert.Nil(t, snap)
}

func TestRemoveRepositoryDropsDerivedData(t *testing.T) {
	h := newHarness(t, DefaultConfig(), WithEntitlement(entitlement.Static(true)))
	h.client.add("octocat", "a", 600)
	records := h.track(t, "a")
	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	id := records[0].ID

	require.NoError(t, h.engine.RemoveRepository(context.Background(), id))
	_, err = h.store.GetRepository(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	snap, _ := h.store.GetAnalytics(context.Background(), id)
	assert.Nil(t, snap)
	seen, _ := h.store.HasMilestone(context.Background(), id, "stars", 500)
	assert.False(t, seen)

	assert.ErrorIs(t, h.engine.RemoveRepository(context.Background(), id), storage.ErrNotFound)
}

func TestVerifyTokenClearsRateLimit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.engine.rateLimited.Store(true)

	user, err := h.engine.VerifyToken(context.Background(), platform.GitHub)
	require.NoError(t, err)
	assert.Equal(t, "octocat", user)
	assert.False(t, h.engine.RateLimited())

	_, err = h.engine.VerifyToken(context.Background(), platform.GitLab)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestStartRunsOnRefresh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.RunOnStart = false
	cycles := make(chan CycleResult, 4)
	h := newHarness(t, cfg, WithListener(Listener{
		OnCycleFinish: func(_ context.Context, result CycleResult, _ error) { cycles <- result },
	}))
	h.client.add("octocat", "a", 1)
	h.track(t, "a")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- h.engine.Start(ctx) }()

	h.engine.Refresh()
	select {
	case result := <-cycles:
		assert.Equal(t, 1, result.Updated)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not trigger a cycle")
	}
	cancel()
	assert.NoError(t, <-stopped)
}

func TestRefreshWhileBusyIsDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.RunOnStart = false
	cycles := make(chan CycleResult, 4)
	h := newHarness(t, cfg, WithListener(Listener{
		OnCycleFinish: func(_ context.Context, result CycleResult, _ error) { cycles <- result },
	}))
	h.client.add("octocat", "a", 1)
	h.track(t, "a")
	before := h.client.callCount("octocat", "a")
	h.client.entered = make(chan struct{}, 4)
	h.client.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- h.engine.Start(ctx) }()

	h.engine.Refresh()
	<-h.client.entered
	h.engine.Refresh()
	h.engine.Refresh()
	close(h.client.block)

	select {
	case result := <-cycles:
		assert.Equal(t, 1, result.Updated)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not trigger a cycle")
	}
	select {
	case <-cycles:
		t.Fatal("refresh requested during a cycle started another one")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, before+1, h.client.callCount("octocat", "a"))

	cancel()
	assert.NoError(t, <-stopped)
}
