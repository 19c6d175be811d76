package syncer

import (
	"context"

	"repowatch/pkg/notify"
	"repowatch/pkg/storage"
)

// Listener provides hooks into the engine's lifecycle for logging and metrics.
type Listener struct {
	OnCycleStart  func(ctx context.Context)
	OnCycleFinish func(ctx context.Context, result CycleResult, err error)
	// OnRepositoryError receives update failures other than rate limiting.
	OnRepositoryError func(ctx context.Context, record storage.RepositoryRecord, err error)
	// OnNotification is called after every emit attempt. err is the notifier's result.
	OnNotification func(ctx context.Context, n notify.Notification, err error)
}
