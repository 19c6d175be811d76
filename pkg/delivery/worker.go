package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"

	"repowatch/pkg/notify"
)

// DefaultDedupSize is the number of delivered dedup ids remembered.
const DefaultDedupSize = 4096

// Worker subscribes to notification topics, drops duplicates by dedup id and
// hands the rest to a notify.Sink.
type Worker struct {
	subscriber  message.Subscriber
	sink        notify.Sink
	codec       Codec
	retry       RetryPolicy
	logger      Logger
	concurrency int
	topics      []string
	middleware  []Middleware
	listeners   []Listener
	dedupSize   int

	mu       sync.Mutex
	seen     *lru.Cache[string, struct{}]
	inflight map[string]struct{}
}

// New creates a Worker with the given options.
func New(opts ...Option) *Worker {
	w := &Worker{
		codec:       JSONCodec{},
		retry:       NoRetry{},
		logger:      defaultLogger(),
		concurrency: 1,
		dedupSize:   DefaultDedupSize,
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.seen, _ = lru.New[string, struct{}](w.dedupSize)
	return w
}

// Run subscribes to every topic and delivers messages until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if w.sink == nil {
		return errors.New("sink is required")
	}
	topics := unique(w.topics)
	if len(topics) == 0 {
		topics = []string{notify.DefaultTopic}
	}

	defer w.notifyExit(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, topic := range topics {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			w.notifyError(ctx, nil, err)
			cancel()
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case sem <- struct{}{}:
					case <-ctx.Done():
						msg.Nack()
						return
					}
					wg.Add(1)
					go func(msg *message.Message) {
						defer wg.Done()
						defer func() { <-sem }()
						w.handleMessage(ctx, topic, msg)
					}(msg)
				}
			}
		}(topic, msgs)
	}

	w.notifyStart(ctx)
	<-ctx.Done()
	wg.Wait()
	return nil
}

// Close shuts down the subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	env, err := w.codec.Decode(topic, msg)
	if err != nil {
		w.logger.Printf("decode failed topic=%s: %v", topic, err)
		w.notifyError(ctx, nil, err)
		// A payload that cannot be decoded will never decode.
		msg.Ack()
		return
	}

	id := env.Notification.DedupID
	if !w.claim(id) {
		w.notifyDuplicate(ctx, env)
		msg.Ack()
		return
	}

	err = w.wrap(w.deliver)(ctx, env)
	w.release(id, err == nil)
	if err != nil {
		w.logger.Printf("delivery failed topic=%s dedup_id=%s: %v", topic, id, err)
		w.notifyError(ctx, env, err)
		decision := w.retry.OnError(ctx, env, err)
		if decision.Retry || decision.Nack {
			msg.Nack()
			return
		}
		msg.Ack()
		return
	}
	w.notifyDelivered(ctx, env)
	msg.Ack()
}

func (w *Worker) deliver(ctx context.Context, env *Envelope) error {
	return w.sink.Deliver(ctx, env.Notification)
}

// claim reserves id for delivery. It fails when id was already delivered or
// another goroutine is delivering it.
func (w *Worker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen.Contains(id) {
		return false
	}
	if _, busy := w.inflight[id]; busy {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) release(id string, delivered bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
	if delivered {
		w.seen.Add(id, struct{}{})
	}
}

func (w *Worker) wrap(h Handler) Handler {
	wrapped := h
	for i := len(w.middleware) - 1; i >= 0; i-- {
		wrapped = w.middleware[i](wrapped)
	}
	return wrapped
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func (w *Worker) notifyStart(ctx context.Context) {
	for _, listener := range w.listeners {
		if listener.OnStart != nil {
			listener.OnStart(ctx)
		}
	}
}

func (w *Worker) notifyExit(ctx context.Context) {
	for _, listener := range w.listeners {
		if listener.OnExit != nil {
			listener.OnExit(ctx)
		}
	}
}

func (w *Worker) notifyDelivered(ctx context.Context, env *Envelope) {
	for _, listener := range w.listeners {
		if listener.OnDelivered != nil {
			listener.OnDelivered(ctx, env)
		}
	}
}

func (w *Worker) notifyDuplicate(ctx context.Context, env *Envelope) {
	for _, listener := range w.listeners {
		if listener.OnDuplicate != nil {
			listener.OnDuplicate(ctx, env)
		}
	}
}

func (w *Worker) notifyError(ctx context.Context, env *Envelope, err error) {
	for _, listener := range w.listeners {
		if listener.OnError != nil {
			listener.OnError(ctx, env, err)
		}
	}
}
