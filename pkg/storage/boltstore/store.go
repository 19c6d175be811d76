// Package boltstore is an embedded single-file storage.Store for CLI use.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"repowatch/pkg/storage"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRepositories = []byte("repositories")
	bucketIdentities   = []byte("identities")
	bucketAnalytics    = []byte("analytics")
	bucketMilestones   = []byte("milestones")
)

// Store persists records as JSON values in bbolt buckets.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRepositories, bucketIdentities, bucketAnalytics, bucketMilestones} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InsertRepository(ctx context.Context, record storage.RepositoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if err := record.Identifier.Validate(); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	identity := []byte(record.Identifier.String())
	return s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketIdentities)
		if ids.Get(identity) != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, record.Identifier)
		}
		repos := tx.Bucket(bucketRepositories)
		if repos.Get([]byte(record.ID)) != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, record.ID)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := repos.Put([]byte(record.ID), data); err != nil {
			return err
		}
		return ids.Put(identity, []byte(record.ID))
	})
}

func (s *Store) SaveRepository(ctx context.Context, record storage.RepositoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(bucketRepositories)
		existing := repos.Get([]byte(record.ID))
		if existing == nil {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, record.ID)
		}
		var prev storage.RepositoryRecord
		if err := json.Unmarshal(existing, &prev); err != nil {
			return err
		}
		if prev.Identifier != record.Identifier {
			ids := tx.Bucket(bucketIdentities)
			if ids.Get([]byte(record.Identifier.String())) != nil {
				return fmt.Errorf("%w: %s", storage.ErrDuplicate, record.Identifier)
			}
			if err := ids.Delete([]byte(prev.Identifier.String())); err != nil {
				return err
			}
			if err := ids.Put([]byte(record.Identifier.String()), []byte(record.ID)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return repos.Put([]byte(record.ID), data)
	})
}

func (s *Store) GetRepository(ctx context.Context, id string) (*storage.RepositoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record storage.RepositoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRepositories).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRepositories returns records ordered by creation time.
func (s *Store) ListRepositories(ctx context.Context) ([]storage.RepositoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.RepositoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepositories).ForEach(func(_, v []byte) error {
			var record storage.RepositoryRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			out = append(out, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(bucketRepositories)
		data := repos.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		var record storage.RepositoryRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIdentities).Delete([]byte(record.Identifier.String())); err != nil {
			return err
		}
		return repos.Delete([]byte(id))
	})
}

func (s *Store) GetAnalytics(ctx context.Context, repositoryID string) (*storage.AnalyticsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snapshot *storage.AnalyticsSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAnalytics).Get([]byte(repositoryID))
		if data == nil {
			return nil
		}
		snapshot = &storage.AnalyticsSnapshot{}
		return json.Unmarshal(data, snapshot)
	})
	return snapshot, err
}

func (s *Store) SaveAnalytics(ctx context.Context, snapshot storage.AnalyticsSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAnalytics).Put([]byte(snapshot.RepositoryID), data)
	})
}

func (s *Store) DeleteAnalytics(ctx context.Context, repositoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAnalytics).Delete([]byte(repositoryID))
	})
}

func (s *Store) HasMilestone(ctx context.Context, repositoryID, metric string, threshold int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketMilestones).Get(milestoneKey(repositoryID, metric, threshold)) != nil
		return nil
	})
	return found, err
}

func (s *Store) MarkMilestone(ctx context.Context, marker storage.MilestoneMarker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if marker.NotifiedAt.IsZero() {
		marker.NotifiedAt = time.Now().UTC()
	}
	key := milestoneKey(marker.RepositoryID, marker.Metric, marker.Threshold)
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMilestones)
		if bucket.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(marker)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

func (s *Store) DeleteMilestones(ctx context.Context, repositoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := []byte(repositoryID + "\x00")
	return s.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketMilestones).Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Seek(prefix) {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func milestoneKey(repositoryID, metric string, threshold int) []byte {
	return []byte(repositoryID + "\x00" + metric + "\x00" + strconv.Itoa(threshold))
}
