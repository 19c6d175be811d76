package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"repowatch/pkg/notify"
)

const (
	riverMinPriority = 1
	riverMaxPriority = 4
)

// riverQueuePublisher enqueues each notification as a river job. The dedup
// id becomes the job's unique key, so a notification republished after a
// crash is not queued twice.
type riverQueuePublisher struct {
	db     *sql.DB
	cfg    RiverQueueConfig
	insert string
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, invalidConfig("riverqueue dsn is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, invalidConfig("riverqueue: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("riverqueue ping: %w", err)
	}
	return &riverQueuePublisher{db: db, cfg: cfg, insert: riverInsertQuery(cfg.Table)}, nil
}

func riverInsertQuery(table string) string {
	table = strings.TrimSpace(table)
	if table == "" {
		table = "river_job"
	}
	return fmt.Sprintf(`INSERT INTO %s
	(args, kind, max_attempts, metadata, priority, queue, state, scheduled_at, tags, unique_key)
VALUES ($1, $2, $3, $4, $5, $6, 'available', now(), $7, $8)
ON CONFLICT DO NOTHING`, pq.QuoteIdentifier(table))
}

func riverPriority(p int) int {
	switch {
	case p < riverMinPriority:
		return riverMinPriority
	case p > riverMaxPriority:
		return riverMaxPriority
	default:
		return p
	}
}

// Publish inserts one job whose args are the notification JSON.
func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, n notify.Notification) error {
	args, err := json.Marshal(n)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(riverMetadata(topic, n))
	if err != nil {
		return err
	}
	var uniqueKey []byte
	if n.DedupID != "" {
		uniqueKey = []byte(topic + "|" + n.DedupID)
	}
	tags := append([]string{string(n.Kind)}, p.cfg.Tags...)

	_, err = p.db.ExecContext(ctx, p.insert,
		string(args),
		p.cfg.Kind,
		p.cfg.MaxAttempts,
		string(metadata),
		riverPriority(p.cfg.Priority),
		p.cfg.Queue,
		pq.Array(tags),
		uniqueKey,
	)
	return err
}

func riverMetadata(topic string, n notify.Notification) map[string]string {
	return map[string]string{
		"kind":       string(n.Kind),
		"repository": n.Repository,
		"platform":   n.Platform,
		"dedup_id":   n.DedupID,
		"topic":      topic,
	}
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, n notify.Notification, _ []string) error {
	return p.Publish(ctx, topic, n)
}

func (p *riverQueuePublisher) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
