package delivery

import "context"

// Listener provides hooks into the worker's lifecycle for logging and metrics.
type Listener struct {
	// OnStart is called once every topic is subscribed.
	OnStart     func(ctx context.Context)
	OnExit      func(ctx context.Context)
	OnDelivered func(ctx context.Context, env *Envelope)
	// OnDuplicate is called when an already delivered dedup id is seen again.
	OnDuplicate func(ctx context.Context, env *Envelope)
	// OnError receives decode and delivery failures. env is nil for decode failures.
	OnError func(ctx context.Context, env *Envelope, err error)
}
