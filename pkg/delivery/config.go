package delivery

// SubscriberConfig selects and configures the watermill subscriber the
// delivery worker reads notifications from.
type SubscriberConfig struct {
	Driver  string   `yaml:"driver"`
	Drivers []string `yaml:"drivers"`

	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	SQL       SQLConfig       `yaml:"sql"`

	// ConnectAttempts bounds how often a broker connection is retried at startup.
	ConnectAttempts int `yaml:"connect_attempts"`
	ConnectDelayMS  int `yaml:"connect_delay_ms"`
}

// GoChannelConfig holds configuration for the in-process gochannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka subscriber.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming subscriber.
type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
	Durable        string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP subscriber.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL subscriber.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	ConsumerGroup        string `yaml:"consumer_group"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// ApplyDefaults fills unset fields.
func (c *SubscriberConfig) ApplyDefaults() {
	if c.Driver == "" && len(c.Drivers) == 0 {
		c.Driver = "gochannel"
	}
	if c.GoChannel.OutputChannelBuffer == 0 {
		c.GoChannel.OutputChannelBuffer = 64
	}
	if c.NATS.ClientIDSuffix == "" {
		c.NATS.ClientIDSuffix = "-delivery"
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 10
	}
	if c.ConnectDelayMS == 0 {
		c.ConnectDelayMS = 2000
	}
}
