package notify

import (
	"context"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindRelease   Kind = "release"
	KindStar      Kind = "star"
	KindIssue     Kind = "issue"
	KindHealth    Kind = "health"
	KindActivity  Kind = "activity"
	KindMilestone Kind = "milestone"
)

// DefaultTopic is used when no routing rule matches a notification.
const DefaultTopic = "repowatch.notifications"

// Notification is the title/body/target triple handed to a Sink, plus the
// identifiers needed to route and de-duplicate it.
type Notification struct {
	Kind         Kind                   `json:"kind"`
	RepositoryID string                 `json:"repository_id"`
	Repository   string                 `json:"repository"`
	Platform     string                 `json:"platform"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	TargetURL    string                 `json:"target_url"`
	DedupID      string                 `json:"dedup_id"`
	Data         map[string]interface{} `json:"data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Fields exposes the notification as a map for rule evaluation.
func (n Notification) Fields() map[string]interface{} {
	data := make(map[string]interface{}, len(n.Data))
	for key, value := range n.Data {
		data[key] = value
	}
	return map[string]interface{}{
		"kind":       string(n.Kind),
		"repository": n.Repository,
		"platform":   n.Platform,
		"title":      n.Title,
		"body":       n.Body,
		"target_url": n.TargetURL,
		"data":       data,
	}
}

// Sink delivers a notification to the user. Delivery is fire-and-forget from
// the sync engine's point of view.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, n Notification) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Publisher hands notifications to the message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, n Notification) error
	PublishForDrivers(ctx context.Context, topic string, n Notification, drivers []string) error
}

// Route is one destination selected by a Router.
type Route struct {
	Topic   string
	Drivers []string
}

// Router selects destinations for a notification. drop reports that a rule
// suppressed the notification entirely.
type Router interface {
	Route(n Notification) (routes []Route, drop bool)
}
