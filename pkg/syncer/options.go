package syncer

import (
	"time"

	"repowatch/pkg/analytics"
	"repowatch/pkg/entitlement"
)

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where composed notifications go. Without one nothing is emitted.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithEntitlement sets the checker gating analytics and the tracking cap.
func WithEntitlement(c entitlement.Checker) Option {
	return func(e *Engine) {
		if c != nil {
			e.entitlement = c
		}
	}
}

// WithAggregator overrides the analytics aggregator.
func WithAggregator(a *analytics.Aggregator) Option {
	return func(e *Engine) {
		if a != nil {
			e.aggregator = a
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides how new repository IDs are minted.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithListener registers lifecycle hooks. Multiple listeners run in order.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		e.listeners = append(e.listeners, l)
	}
}
