package delivery

import (
	"context"
	"sync"
)

// RetryDecision tells the worker whether to redeliver a failed message.
type RetryDecision struct {
	Retry bool
	Nack  bool
}

// RetryPolicy decides what happens to a message whose delivery failed.
type RetryPolicy interface {
	OnError(ctx context.Context, env *Envelope, err error) RetryDecision
}

// NoRetry nacks every failure and leaves redelivery to the broker.
type NoRetry struct{}

func (NoRetry) OnError(context.Context, *Envelope, error) RetryDecision {
	return RetryDecision{Nack: true}
}

// MaxAttempts nacks a failing message until it has been tried Max times, then
// acks it so a broken sink cannot wedge the topic.
type MaxAttempts struct {
	Max int

	mu       sync.Mutex
	attempts map[string]int
}

func (m *MaxAttempts) OnError(_ context.Context, env *Envelope, _ error) RetryDecision {
	if env == nil {
		return RetryDecision{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.attempts[env.MessageID]++
	if m.attempts[env.MessageID] < m.Max {
		return RetryDecision{Retry: true, Nack: true}
	}
	delete(m.attempts, env.MessageID)
	return RetryDecision{}
}
