package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"repowatch/pkg/notify"
)

// stubPublisher records what it was asked to publish.
type stubPublisher struct {
	published    int
	lastTopic    string
	lastPayload  []byte
	lastMetadata message.Metadata
	failures     int
}

func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

func (s *stubPublisher) Close() error {
	return nil
}

func registerStub(t *testing.T, name string, stub *stubPublisher, closeFn func() error) {
	t.Helper()
	orig, had := publisherFactories[name]
	t.Cleanup(func() {
		if had {
			publisherFactories[name] = orig
		} else {
			delete(publisherFactories, name)
		}
	})
	RegisterPublisherDriver(name, func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, closeFn, nil
	})
}

func sampleNotification() notify.Notification {
	return notify.Notification{
		Kind:       notify.KindRelease,
		Repository: "octocat/Hello-World",
		Title:      "New release",
		DedupID:    "release:1:v1.0.0",
	}
}

// TestRegisterPublisherDriver tests that a custom publisher driver can be registered and used.
func TestRegisterPublisherDriver(t *testing.T) {
	stub := &stubPublisher{}
	closed := false
	registerStub(t, "custom", stub, func() error { closed = true; return nil })

	pub, err := NewPublisher(WatermillConfig{Driver: "custom"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.PublishForDrivers(context.Background(), "custom.topic", sampleNotification(), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stub.published != 1 || stub.lastTopic != "custom.topic" {
		t.Fatalf("expected publish to custom.topic once, got %d to %q", stub.published, stub.lastTopic)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed {
		t.Fatalf("expected custom close to be called")
	}
}

// TestHTTPURLTarget tests that the HTTP target URL is constructed correctly.
func TestHTTPURLTarget(t *testing.T) {
	url, err := httpTargetURL(HTTPConfig{Mode: "base_url", BaseURL: "http://localhost:8080/hooks"}, "topic")
	if err != nil {
		t.Fatalf("httpTargetURL: %v", err)
	}
	if url != "http://localhost:8080/hooks/topic" {
		t.Fatalf("unexpected url: %q", url)
	}
}

// TestMultipleDrivers tests that the publisher fans out to every driver.
func TestMultipleDrivers(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	registerStub(t, "multi-a", a, nil)
	registerStub(t, "multi-b", b, nil)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"multi-a", "multi-b"}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "multi.topic", sampleNotification()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected publish to both drivers, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", sampleNotification(), []string{"multi-b"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 2 {
		t.Fatalf("expected only multi-b, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", sampleNotification(), []string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// TestPublishEncodesNotificationAndMetadata checks the payload and routing metadata.
func TestPublishEncodesNotificationAndMetadata(t *testing.T) {
	stub := &stubPublisher{}
	registerStub(t, "payload", stub, nil)

	pub, err := NewPublisher(WatermillConfig{Driver: "payload"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "payload.topic", sampleNotification()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var decoded notify.Notification
	if err := json.Unmarshal(stub.lastPayload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.DedupID != "release:1:v1.0.0" || decoded.Kind != notify.KindRelease {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if stub.lastMetadata.Get("kind") != "release" {
		t.Fatalf("expected kind metadata")
	}
	if stub.lastMetadata.Get("repository") != "octocat/Hello-World" {
		t.Fatalf("expected repository metadata")
	}
	if stub.lastMetadata.Get("dedup_id") != "release:1:v1.0.0" {
		t.Fatalf("expected dedup_id metadata")
	}
}

// TestPublishRetries checks that transient publish failures are retried.
func TestPublishRetries(t *testing.T) {
	stub := &stubPublisher{failures: 2}
	registerStub(t, "flaky", stub, nil)

	pub, err := NewPublisher(WatermillConfig{Driver: "flaky", PublishRetry: PublishRetryConfig{Attempts: 3, DelayMS: 1}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "t", sampleNotification()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected one successful publish, got %d", stub.published)
	}
}

// TestUnknownDriverFailsFast checks that configuration errors are not retried.
func TestUnknownDriverFailsFast(t *testing.T) {
	if _, err := NewPublisher(WatermillConfig{Driver: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := buildPublisher(WatermillConfig{}, "riverqueue", watermill.NopLogger{}); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}
