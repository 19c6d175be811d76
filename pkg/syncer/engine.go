// Package syncer keeps tracked repositories fresh and turns observed changes
// into notifications.
package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"repowatch/pkg/analytics"
	"repowatch/pkg/entitlement"
	"repowatch/pkg/notify"
	"repowatch/pkg/platform"
	"repowatch/pkg/providers"
	"repowatch/pkg/storage"
)

var (
	// ErrCycleInProgress is returned when a cycle is requested while one runs.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	// ErrAlreadyTracked is returned when adding a repository that is already stored.
	ErrAlreadyTracked = errors.New("repository already tracked")
	// ErrCapacityReached is returned when the free tier cap is hit.
	ErrCapacityReached = errors.New("tracking limit reached")
	// ErrUnsupportedPlatform is returned when no client exists for a platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Logger is the Printf surface the engine logs through.
type Logger interface {
	Printf(format string, args ...interface{})
}

// ClientSource hands out the platform client for p. scm.Factory satisfies it.
type ClientSource interface {
	CreateClient(p platform.Platform) providers.Client
}

// Notifier accepts composed notifications. notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Attempted     int
	Updated       int
	Failed        int
	RateLimited   bool
	Busy          bool
	Notifications int
	Duration      time.Duration
}

// AllFailed reports whether every attempted repository failed.
func (r CycleResult) AllFailed() bool {
	return r.Attempted > 0 && r.Updated == 0 && r.Failed == r.Attempted
}

// Engine runs sync cycles over the tracked repositories.
type Engine struct {
	cfg         Config
	store       storage.Store
	clients     ClientSource
	notifier    Notifier
	entitlement entitlement.Checker
	aggregator  *analytics.Aggregator
	logger      Logger
	now         func() time.Time
	newID       func() string
	listeners   []Listener

	busy        atomic.Bool
	rateLimited atomic.Bool
	refresh     chan struct{}
}

// New builds an engine over store and clients.
func New(cfg Config, store storage.Store, clients ClientSource, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg.withDefaults(),
		store:       store,
		clients:     clients,
		entitlement: entitlement.Static(false),
		aggregator:  analytics.New(),
		logger:      logrus.WithField("component", "repowatch/sync"),
		now:         time.Now,
		newID:       uuid.NewString,
		refresh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RateLimited reports whether a cycle hit a platform rate limit since the
// credentials last changed. Only ClearRateLimit and VerifyToken reset it.
func (e *Engine) RateLimited() bool {
	return e.rateLimited.Load()
}

// ClearRateLimit resets the sticky rate-limit flag, typically after a credential change.
func (e *Engine) ClearRateLimit() {
	e.rateLimited.Store(false)
}

// Entitled reports whether premium features are unlocked. Checker errors count as not entitled.
func (e *Engine) Entitled(ctx context.Context) bool {
	ok, err := e.entitlement.IsEntitled(ctx)
	if err != nil {
		e.logger.Printf("entitlement check failed: %v", err)
		return false
	}
	return ok
}

func (e *Engine) client(p platform.Platform) (providers.Client, error) {
	if e.clients == nil || !p.Valid() {
		return nil, ErrUnsupportedPlatform
	}
	client := e.clients.CreateClient(p)
	if client == nil {
		return nil, ErrUnsupportedPlatform
	}
	return client, nil
}

func (e *Engine) emit(ctx context.Context, n notify.Notification) bool {
	if e.notifier == nil {
		return false
	}
	err := e.notifier.Notify(ctx, n)
	if err != nil {
		e.logger.Printf("notify %s for %s failed: %v", n.Kind, n.Repository, err)
	} else {
		incStat(statNotifications, 1)
	}
	for _, l := range e.listeners {
		if l.OnNotification != nil {
			l.OnNotification(ctx, n, err)
		}
	}
	return err == nil
}
