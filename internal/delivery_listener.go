package internal

import (
	"context"

	"repowatch/pkg/delivery"
)

// DeliveryListener counts delivery outcomes in expvar and logs failures.
func DeliveryListener(logger Logger) delivery.Listener {
	return delivery.Listener{
		OnDelivered: func(_ context.Context, env *delivery.Envelope) {
			IncDelivered(string(env.Notification.Kind))
		},
		OnDuplicate: func(_ context.Context, env *delivery.Envelope) {
			logger.Printf("duplicate notification %s skipped", env.Notification.DedupID)
		},
		OnError: func(_ context.Context, env *delivery.Envelope, err error) {
			if env == nil {
				IncDeliveryError("undecodable")
				logger.Printf("undecodable notification: %v", err)
				return
			}
			IncDeliveryError(string(env.Notification.Kind))
			logger.Printf("deliver %s to sink failed: %v", env.Notification.DedupID, err)
		},
	}
}
