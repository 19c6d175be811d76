package delivery

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"repowatch/pkg/notify"
)

// Metadata keys set by the publisher and the fan-in subscriber.
const (
	MetadataKind       = "kind"
	MetadataRepository = "repository"
	MetadataDedupID    = "dedup_id"
	MetadataDriver     = "driver"
)

// Envelope is a decoded notification plus its transport details.
type Envelope struct {
	Notification notify.Notification
	MessageID    string
	Topic        string
	Driver       string
	Metadata     map[string]string
}

// Codec decodes watermill messages into envelopes.
type Codec interface {
	Decode(topic string, msg *message.Message) (*Envelope, error)
}

// JSONCodec decodes the JSON notification payload written by the publisher.
type JSONCodec struct{}

// Decode unmarshals msg. A payload without a dedup id falls back to the
// dedup_id metadata and then to the message UUID.
func (JSONCodec) Decode(topic string, msg *message.Message) (*Envelope, error) {
	var n notify.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}
	if n.Kind == "" {
		n.Kind = notify.Kind(metadata[MetadataKind])
	}
	if n.Repository == "" {
		n.Repository = metadata[MetadataRepository]
	}
	if n.DedupID == "" {
		n.DedupID = metadata[MetadataDedupID]
	}
	if n.DedupID == "" {
		n.DedupID = msg.UUID
	}

	return &Envelope{
		Notification: n,
		MessageID:    msg.UUID,
		Topic:        topic,
		Driver:       metadata[MetadataDriver],
		Metadata:     metadata,
	}, nil
}
