package delivery

import "context"

// Handler processes one envelope.
type Handler func(ctx context.Context, env *Envelope) error

// Middleware wraps a handler.
type Middleware func(Handler) Handler
