package notify

import (
	"context"
	"errors"
	"time"
)

// Logger is the minimal logging surface used by the notifier.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Notifier routes notifications through the rule set and hands them to the
// bus, or straight to a sink when no bus is configured.
type Notifier struct {
	publisher Publisher
	router    Router
	sink      Sink
	topic     string
	logger    Logger
	now       func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPublisher sends notifications to the message bus.
func WithPublisher(p Publisher) Option {
	return func(n *Notifier) { n.publisher = p }
}

// WithRouter applies routing rules before publishing.
func WithRouter(r Router) Option {
	return func(n *Notifier) { n.router = r }
}

// WithSink delivers directly when no publisher is set.
func WithSink(s Sink) Option {
	return func(n *Notifier) { n.sink = s }
}

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(n *Notifier) {
		if topic != "" {
			n.topic = topic
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp notifications.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNotifier creates a Notifier.
func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{
		topic:  DefaultTopic,
		logger: nopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify routes and emits one notification. A notification dropped by a rule
// is not an error.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.now().UTC()
	}

	var routes []Route
	if n.router != nil {
		var drop bool
		routes, drop = n.router.Route(note)
		if drop {
			n.logger.Printf("notification dropped by rule kind=%s repository=%s", note.Kind, note.Repository)
			return nil
		}
	}

	if n.publisher == nil {
		if n.sink == nil {
			return nil
		}
		return n.sink.Deliver(ctx, note)
	}

	if len(routes) == 0 {
		return n.publisher.Publish(ctx, n.topic, note)
	}
	var err error
	for _, route := range routes {
		topic := route.Topic
		if topic == "" {
			topic = n.topic
		}
		if publishErr := n.publisher.PublishForDrivers(ctx, topic, note, route.Drivers); publishErr != nil {
			err = errors.Join(err, publishErr)
		}
	}
	return err
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
