package internal

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"

	"repowatch/pkg/delivery"
)

type publisherBuilder func(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error)

var builtinPublishers = map[string]publisherBuilder{
	"gochannel":  goChannelPublisher,
	"http":       httpPublisher,
	"kafka":      kafkaPublisher,
	"nats":       natsPublisher,
	"amqp":       amqpPublisher,
	"sql":        sqlPublisher,
	"riverqueue": func(cfg WatermillConfig, _ watermill.LoggerAdapter) (Publisher, error) { return newRiverQueuePublisher(cfg.RiverQueue) },
}

func wrap(cfg WatermillConfig, pub message.Publisher, closeFn func() error) *watermillPublisher {
	return &watermillPublisher{publisher: pub, closeFn: closeFn, retry: cfg.PublishRetry}
}

func goChannelPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	pub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger)
	return wrap(cfg, pub, nil), nil
}

// httpPublisher POSTs each notification to the topic URL, or to base_url/topic.
func httpPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	mode := strings.ToLower(cfg.HTTP.Mode)
	switch {
	case mode != "topic_url" && mode != "base_url":
		return nil, invalidConfig("unsupported http mode: %s", cfg.HTTP.Mode)
	case mode == "base_url" && cfg.HTTP.BaseURL == "":
		return nil, invalidConfig("http base_url is required for base_url mode")
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
			target, err := httpTargetURL(cfg.HTTP, topic)
			if err != nil {
				return nil, err
			}
			return wmhttp.DefaultMarshalMessageFunc(target, msg)
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return wrap(cfg, pub, nil), nil
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	if strings.ToLower(cfg.Mode) == "topic_url" {
		if topic == "" {
			return "", fmt.Errorf("http topic url is empty")
		}
		return topic, nil
	}
	if cfg.BaseURL == "" {
		return "", fmt.Errorf("http base_url is empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if topic == "" {
		return base, nil
	}
	return base + "/" + strings.TrimLeft(topic, "/"), nil
}

// kafkaPublisher partitions by repository so a repository's notifications
// stay ordered.
func kafkaPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, invalidConfig("kafka brokers are required")
	}
	marshaler := wmkafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(delivery.MetadataRepository), nil
	})
	pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, marshaler, nil, logger)
	if err != nil {
		return nil, err
	}
	return wrap(cfg, pub, nil), nil
}

func natsPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, invalidConfig("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingPublisherConfig{
		ClusterID: cfg.NATS.ClusterID,
		ClientID:  cfg.NATS.ClientID,
		Marshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
	if err != nil {
		return nil, err
	}
	return wrap(cfg, pub, nil), nil
}

func amqpPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if cfg.AMQP.URL == "" {
		return nil, invalidConfig("amqp url is required")
	}
	amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
	if err != nil {
		return nil, err
	}
	pub, err := wmamaqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, err
	}
	return wrap(cfg, pub, nil), nil
}

func amqpConfigFromMode(url, mode string) (wmamaqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamaqp.Config{}, invalidConfig("unsupported amqp mode: %s", mode)
	}
}

func sqlPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, invalidConfig("sql driver and dsn are required")
	}
	schema, err := sqlSchemaAdapter(cfg.SQL.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, invalidConfig("sql: %v", err)
	}
	pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
		SchemaAdapter:        schema,
		AutoInitializeSchema: cfg.SQL.AutoInitializeSchema || cfg.SQL.InitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return wrap(cfg, pub, db.Close), nil
}

func sqlSchemaAdapter(dialect string) (wmsql.SchemaAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, nil
	default:
		return nil, invalidConfig("unsupported sql dialect: %s", dialect)
	}
}
