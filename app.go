package main

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"

	"repowatch/internal"
	"repowatch/pkg/auth"
	"repowatch/pkg/delivery"
	"repowatch/pkg/entitlement"
	"repowatch/pkg/notify"
	"repowatch/pkg/scm"
	"repowatch/pkg/storage"
	"repowatch/pkg/storage/boltstore"
	"repowatch/pkg/storage/records"
	"repowatch/pkg/syncer"
	"repowatch/pkg/transport"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg       internal.Config
	logger    *logrus.Entry
	store     storage.Store
	tokens    auth.TokenStore
	resolver  auth.Resolver
	factory   *scm.Factory
	publisher internal.Publisher
	engine    *syncer.Engine

	// bus is the in-process channel shared by the publisher and the delivery
	// worker when the gochannel driver is active.
	bus *gochannel.GoChannel
}

func newApp(cfg internal.Config) (*app, error) {
	logger := internal.NewLogger("app")
	a := &app{cfg: cfg, logger: logger, tokens: auth.NewKeyringStore()}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store

	httpClient := transport.NewClient(transport.Options{
		Timeout:           cfg.Sync.RequestTimeout,
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		Burst:             cfg.Sync.Burst,
	})
	a.resolver = auth.NewResolver(cfg.Providers, a.tokens)
	a.factory = scm.NewFactory(cfg.Providers, a.resolver, httpClient, internal.NewLogger("scm"))

	rules, err := internal.NewRuleEngine(cfg.RulesConfig(internal.NewLogger("rules")))
	if err != nil {
		a.Close()
		return nil, err
	}

	if usesGoChannel(cfg.Watermill) {
		// Publishing waits for the console sink so one-shot commands print
		// every notification before exiting.
		a.bus = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            cfg.Watermill.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.Watermill.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: true,
		}, internal.WatermillLogger("bus"))
		bus := a.bus
		internal.RegisterPublisherDriver("gochannel", func(internal.WatermillConfig, watermill.LoggerAdapter) (message.Publisher, func() error, error) {
			return bus, nil, nil
		})
	}

	publisher, err := internal.NewPublisher(cfg.Watermill)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher

	notifier := notify.NewNotifier(
		notify.WithPublisher(publisher),
		notify.WithRouter(rules),
		notify.WithTopic(cfg.Watermill.Topic),
		notify.WithLogger(internal.NewLogger("notify")),
	)

	a.engine = syncer.New(syncConfig(cfg), store, a.factory,
		syncer.WithNotifier(notifier),
		syncer.WithEntitlement(entitlementChecker(cfg.Entitlement)),
		syncer.WithLogger(internal.NewLogger("sync")),
	)
	return a, nil
}

func syncConfig(cfg internal.Config) syncer.Config {
	sc := syncer.DefaultConfig()
	sc.Interval = cfg.Sync.Interval
	sc.Concurrency = cfg.Sync.Concurrency
	sc.FreeTierLimit = cfg.Sync.FreeTierLimit
	sc.NotifyReleases = internal.Enabled(cfg.Notifications.Releases)
	sc.NotifyStars = internal.Enabled(cfg.Notifications.Stars)
	sc.NotifyIssues = internal.Enabled(cfg.Notifications.Issues)
	sc.NotifyAnalytics = internal.Enabled(cfg.Notifications.Analytics)
	return sc
}

func entitlementChecker(cfg internal.EntitlementConfig) entitlement.Checker {
	checkers := entitlement.Any{entitlement.Static(cfg.Subscribed)}
	if cfg.LicenseKey != "" {
		checkers = append(checkers, entitlement.NewLicense(cfg.LicenseKey, []byte(cfg.LicenseSecret)))
	}
	return checkers
}

func openStore(cfg internal.StorageConfig) (storage.Store, error) {
	if strings.EqualFold(cfg.Driver, "bolt") {
		return boltstore.Open(cfg.DSN)
	}
	return records.Open(records.Config{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		TablePrefix: cfg.TablePrefix,
		AutoMigrate: internal.Enabled(cfg.AutoMigrate),
	})
}

func usesGoChannel(cfg internal.WatermillConfig) bool {
	drivers := cfg.Drivers
	if len(drivers) == 0 {
		drivers = []string{cfg.Driver}
	}
	for _, driver := range drivers {
		if strings.EqualFold(driver, "gochannel") {
			return true
		}
	}
	return false
}

// startDelivery runs the delivery worker until ctx is done and returns once
// it is subscribed. The returned wait blocks until the worker exits. The
// worker runs whenever notifications stay in process or delivery is enabled.
func (a *app) startDelivery(ctx context.Context) (func(), error) {
	if a.bus == nil && !a.cfg.Delivery.Enabled {
		return func() {}, nil
	}

	ready := make(chan struct{})
	opts := []delivery.Option{
		delivery.WithSink(notify.NewConsoleSink(nil)),
		delivery.WithTopics(a.cfg.DeliveryTopics()...),
		delivery.WithConcurrency(a.cfg.Delivery.Concurrency),
		delivery.WithDedupSize(a.cfg.Delivery.DedupSize),
		delivery.WithRetry(&delivery.MaxAttempts{Max: a.cfg.Delivery.MaxAttempts}),
		delivery.WithLogger(internal.NewLogger("delivery")),
		delivery.WithListener(internal.DeliveryListener(internal.NewLogger("delivery"))),
		delivery.WithListener(delivery.Listener{
			OnStart: func(context.Context) { close(ready) },
		}),
	}

	var (
		worker *delivery.Worker
		err    error
	)
	subscriber := a.cfg.Delivery.Subscriber
	if a.bus != nil && strings.EqualFold(subscriber.Driver, "gochannel") && len(subscriber.Drivers) == 0 {
		worker = delivery.New(append(opts, delivery.WithSubscriber(a.bus))...)
	} else {
		worker, err = delivery.NewFromConfig(subscriber, internal.WatermillLogger("delivery"), opts...)
		if err != nil {
			return nil, err
		}
	}

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	select {
	case <-ready:
	case err := <-done:
		return nil, errors.Join(err, errors.New("delivery worker exited before subscribing"))
	}
	return func() {
		if err := <-done; err != nil {
			a.logger.Printf("delivery worker: %v", err)
		}
		if a.bus == nil {
			_ = worker.Close()
		}
	}, nil
}

func (a *app) Close() error {
	var err error
	if a.publisher != nil {
		err = errors.Join(err, a.publisher.Close())
	}
	if a.bus != nil {
		err = errors.Join(err, a.bus.Close())
	}
	if a.store != nil {
		err = errors.Join(err, a.store.Close())
	}
	return err
}
