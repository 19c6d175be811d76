package delivery

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"repowatch/pkg/notify"
)

// Option configures a Worker.
type Option func(*Worker)

// WithSubscriber sets the watermill subscriber.
func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) {
		w.subscriber = sub
	}
}

// WithSink sets where notifications are delivered.
func WithSink(sink notify.Sink) Option {
	return func(w *Worker) {
		w.sink = sink
	}
}

// WithTopics adds topics to subscribe to. notify.DefaultTopic is used when none are set.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		w.topics = append(w.topics, topics...)
	}
}

// WithConcurrency sets the number of concurrent deliveries.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithCodec replaces JSONCodec.
func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithMiddleware adds middleware around delivery.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) {
		w.middleware = append(w.middleware, mw...)
	}
}

// WithRetry sets the retry policy.
func WithRetry(policy RetryPolicy) Option {
	return func(w *Worker) {
		if policy != nil {
			w.retry = policy
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithListener adds a lifecycle listener.
func WithListener(listener Listener) Option {
	return func(w *Worker) {
		w.listeners = append(w.listeners, listener)
	}
}

// WithDedupSize sets how many delivered dedup ids are remembered.
func WithDedupSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.dedupSize = n
		}
	}
}
