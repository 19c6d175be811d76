package delivery

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
)

// MiddlewareFromWatermill runs a watermill handler middleware (for example
// middleware.Timeout or middleware.Recoverer) around a delivery handler.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) error {
			payload, err := json.Marshal(env.Notification)
			if err != nil {
				return err
			}
			msg := message.NewMessage(env.MessageID, payload)
			msg.SetContext(ctx)
			for key, value := range env.Metadata {
				msg.Metadata.Set(key, value)
			}
			wrapped := m(func(msg *message.Message) ([]*message.Message, error) {
				return nil, next(msg.Context(), env)
			})
			_, err = wrapped(msg)
			return err
		}
	}
}
