package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"repowatch/pkg/delivery"
	"repowatch/pkg/notify"
)

// Publisher publishes notifications to one or more watermill drivers.
type Publisher interface {
	notify.Publisher
	Close() error
}

// PublisherFactory builds a raw watermill publisher for a registered driver.
// closeFn, when non-nil, runs after the publisher is closed.
type PublisherFactory func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var publisherFactories = map[string]PublisherFactory{}

// RegisterPublisherDriver adds or replaces a named driver. Registered drivers
// take precedence over the built-in ones.
func RegisterPublisherDriver(name string, factory PublisherFactory) {
	if name == "" || factory == nil {
		return
	}
	publisherFactories[strings.ToLower(name)] = factory
}

// NewPublisher builds a publisher for every configured driver. Drivers that
// fail to initialise are skipped; it is an error only when none succeed.
func NewPublisher(cfg WatermillConfig) (Publisher, error) {
	logger := WatermillLogger("publisher")

	drivers := cfg.Drivers
	if len(drivers) == 0 && cfg.Driver != "" {
		drivers = []string{cfg.Driver}
	}
	if len(drivers) == 0 {
		drivers = []string{"gochannel"}
	}

	mux := &publisherMux{publishers: make(map[string]Publisher, len(drivers))}
	var errs error
	for _, driver := range drivers {
		key := strings.ToLower(strings.TrimSpace(driver))
		if _, dup := mux.publishers[key]; dup {
			continue
		}
		pub, err := retryBuild(func() (Publisher, error) {
			return buildPublisher(cfg, key, logger)
		})
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{"driver": key})
			errs = errors.Join(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		mux.publishers[key] = pub
		mux.defaultDrivers = append(mux.defaultDrivers, key)
	}
	if len(mux.publishers) == 0 {
		return nil, errors.Join(errors.New("no publishers available"), errs)
	}
	return mux, nil
}

func buildPublisher(cfg WatermillConfig, driver string, logger watermill.LoggerAdapter) (Publisher, error) {
	if factory, ok := publisherFactories[driver]; ok {
		pub, closeFn, err := factory(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &watermillPublisher{publisher: pub, closeFn: closeFn, retry: cfg.PublishRetry}, nil
	}
	build, ok := builtinPublishers[driver]
	if !ok {
		return nil, invalidConfig("unsupported watermill driver: %s", driver)
	}
	return build(cfg, logger)
}

const (
	buildAttempts = 10
	buildDelay    = 2 * time.Second
)

// errInvalidConfig marks driver errors that retrying cannot fix.
var errInvalidConfig = errors.New("invalid publisher config")

func invalidConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidConfig, fmt.Sprintf(format, args...))
}

// retryBuild retries driver construction while a broker comes up.
func retryBuild(build func() (Publisher, error)) (Publisher, error) {
	var lastErr error
	for i := 0; i < buildAttempts; i++ {
		pub, err := build()
		if err == nil {
			return pub, nil
		}
		if errors.Is(err, errInvalidConfig) {
			return nil, err
		}
		lastErr = err
		if i < buildAttempts-1 {
			time.Sleep(buildDelay)
		}
	}
	return nil, lastErr
}

// watermillPublisher sends notifications as JSON messages through a
// watermill publisher, retrying failed sends per PublishRetryConfig.
type watermillPublisher struct {
	publisher message.Publisher
	closeFn   func() error
	retry     PublishRetryConfig
}

// newMessage encodes n as JSON with routing metadata.
func newMessage(n notify.Notification) (*message.Message, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(delivery.MetadataKind, string(n.Kind))
	msg.Metadata.Set(delivery.MetadataRepository, n.Repository)
	msg.Metadata.Set(delivery.MetadataDedupID, n.DedupID)
	return msg, nil
}

func (w *watermillPublisher) Publish(ctx context.Context, topic string, n notify.Notification) error {
	msg, err := newMessage(n)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	attempts := w.retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(w.retry.DelayMS) * time.Millisecond
	for i := 0; ; i++ {
		err = w.publisher.Publish(topic, msg)
		if err == nil || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (w *watermillPublisher) PublishForDrivers(ctx context.Context, topic string, n notify.Notification, _ []string) error {
	return w.Publish(ctx, topic, n)
}

func (w *watermillPublisher) Close() error {
	if w.publisher == nil {
		return nil
	}
	err := w.publisher.Close()
	if w.closeFn != nil {
		err = errors.Join(err, w.closeFn())
	}
	return err
}

// publisherMux fans a notification out to the built drivers and counts the
// outcome per driver.
type publisherMux struct {
	publishers     map[string]Publisher
	defaultDrivers []string
}

func (m *publisherMux) Publish(ctx context.Context, topic string, n notify.Notification) error {
	return m.PublishForDrivers(ctx, topic, n, nil)
}

// PublishForDrivers publishes to the named drivers, or to every built driver
// when drivers is empty. Failures are joined.
func (m *publisherMux) PublishForDrivers(ctx context.Context, topic string, n notify.Notification, drivers []string) error {
	targets := drivers
	if len(targets) == 0 {
		targets = m.defaultDrivers
	}

	var err error
	for _, driver := range targets {
		key := strings.ToLower(driver)
		pub, ok := m.publishers[key]
		if !ok {
			err = errors.Join(err, fmt.Errorf("unknown driver %s", driver))
			continue
		}
		if publishErr := pub.Publish(ctx, topic, n); publishErr != nil {
			IncPublishError(key)
			err = errors.Join(err, fmt.Errorf("%s: %w", key, publishErr))
			continue
		}
		IncPublished(key)
	}
	return err
}

func (m *publisherMux) Close() error {
	var err error
	for _, pub := range m.publishers {
		err = errors.Join(err, pub.Close())
	}
	return err
}
