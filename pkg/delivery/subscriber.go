package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

type subscriberBuilder func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberDrivers = map[string]subscriberBuilder{
	"gochannel": func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
		}, logger), nil
	},
	"amqp":  amqpSubscriber,
	"nats":  natsSubscriber,
	"kafka": kafkaSubscriber,
	"sql":   sqlSubscriber,
}

// NewFromConfig builds the subscriber described by cfg and a worker reading from it.
func NewFromConfig(cfg SubscriberConfig, logger watermill.LoggerAdapter, opts ...Option) (*Worker, error) {
	sub, err := BuildSubscriber(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(append(opts, WithSubscriber(sub))...), nil
}

// BuildSubscriber creates the subscriber for cfg.Driver, or a fan-in over
// every driver in cfg.Drivers. In fan-in mode drivers that fail are skipped.
func BuildSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if len(cfg.Drivers) == 0 {
		return connect(cfg, logger, strings.ToLower(cfg.Driver))
	}

	multi := &multiSubscriber{bufferSize: cfg.GoChannel.OutputChannelBuffer}
	var errs error
	for _, driver := range unique(lowered(append(append([]string{}, cfg.Drivers...), cfg.Driver))) {
		sub, err := connect(cfg, logger, driver)
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			errs = errors.Join(errs, err)
			continue
		}
		multi.subscribers = append(multi.subscribers, namedSubscriber{driver: driver, sub: sub})
	}
	if len(multi.subscribers) == 0 {
		return nil, errors.Join(errors.New("no subscriber driver available"), errs)
	}
	return multi, nil
}

// connect builds driver, retrying while its broker comes up. Unknown drivers
// fail at once.
func connect(cfg SubscriberConfig, logger watermill.LoggerAdapter, driver string) (message.Subscriber, error) {
	build, ok := subscriberDrivers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported subscriber driver: %q", driver)
	}
	delay := time.Duration(cfg.ConnectDelayMS) * time.Millisecond
	var err error
	for attempt := 1; ; attempt++ {
		var sub message.Subscriber
		if sub, err = build(cfg, logger); err == nil {
			return sub, nil
		}
		if attempt >= cfg.ConnectAttempts {
			return nil, fmt.Errorf("%s: %w", driver, err)
		}
		time.Sleep(delay)
	}
}

func lowered(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func amqpSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.AMQP.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	var amqpCfg wmamaqp.Config
	switch strings.ToLower(cfg.AMQP.Mode) {
	case "", "durable_queue":
		amqpCfg = wmamaqp.NewDurableQueueConfig(cfg.AMQP.URL)
	case "nondurable_queue":
		amqpCfg = wmamaqp.NewNonDurableQueueConfig(cfg.AMQP.URL)
	case "durable_pubsub":
		amqpCfg = wmamaqp.NewDurablePubSubConfig(cfg.AMQP.URL, nil)
	case "nondurable_pubsub":
		amqpCfg = wmamaqp.NewNonDurablePubSubConfig(cfg.AMQP.URL, nil)
	default:
		return nil, fmt.Errorf("unsupported amqp mode: %s", cfg.AMQP.Mode)
	}
	return wmamaqp.NewSubscriber(amqpCfg, logger)
}

// natsSubscriber appends ClientIDSuffix so the worker can share a cluster
// with the publisher's client ID.
func natsSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + cfg.NATS.ClientIDSuffix,
		DurableName: cfg.NATS.Durable,
		Unmarshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = []stan.Option{stan.NatsURL(cfg.NATS.URL)}
	}
	return wmnats.NewStreamingSubscriber(natsCfg, logger)
}

func kafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
}

// sqlSubscriber owns its *sql.DB and closes it with the subscriber.
func sqlSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	subCfg := wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.SQL.ConsumerGroup,
		InitializeSchema: cfg.SQL.InitializeSchema || cfg.SQL.AutoInitializeSchema,
	}
	switch strings.ToLower(cfg.SQL.Dialect) {
	case "postgres", "postgresql":
		subCfg.SchemaAdapter, subCfg.OffsetsAdapter = wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}
	case "mysql":
		subCfg.SchemaAdapter, subCfg.OffsetsAdapter = wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", cfg.SQL.Dialect)
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, subCfg, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return dbSubscriber{Subscriber: sub, db: db}, nil
}

type dbSubscriber struct {
	message.Subscriber
	db *sql.DB
}

func (s dbSubscriber) Close() error {
	return errors.Join(s.Subscriber.Close(), s.db.Close())
}

type namedSubscriber struct {
	driver string
	sub    message.Subscriber
}

// multiSubscriber merges several drivers into one stream and records the
// source driver in each message's metadata.
type multiSubscriber struct {
	subscribers []namedSubscriber
	bufferSize  int64
}

func (m *multiSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if len(m.subscribers) == 0 {
		return nil, errors.New("no subscribers configured")
	}
	size := m.bufferSize
	if size <= 0 {
		size = 64
	}
	out := make(chan *message.Message, size)

	var wg sync.WaitGroup
	for _, entry := range m.subscribers {
		in, err := entry.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, errors.Join(err, m.Close())
		}
		wg.Add(1)
		go func(driver string, in <-chan *message.Message) {
			defer wg.Done()
			for msg := range in {
				if msg.Metadata == nil {
					msg.Metadata = message.Metadata{}
				}
				msg.Metadata.Set(MetadataDriver, driver)
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}(entry.driver, in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (m *multiSubscriber) Close() error {
	var err error
	for _, entry := range m.subscribers {
		err = errors.Join(err, entry.sub.Close())
	}
	return err
}
