// Package natskv provides a types.JobStore on a JetStream key-value bucket.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/jobline/internal/kvutil"
	"github.com/arloliu/jobline/types"
)

// DefaultBucket is the bucket used when Config.Bucket is empty.
const DefaultBucket = "jobline-jobs"

// Config configures the KV bucket.
type Config struct {
	Bucket   string        `yaml:"bucket"`
	History  uint8         `yaml:"history"`
	TTL      time.Duration `yaml:"ttl"`
	Replicas int           `yaml:"replicas"`
}

func (c *Config) applyDefaults() {
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.History == 0 {
		c.History = 1
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
}

// Store keeps one JSON document per job in a KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

var _ types.JobStore = (*Store)(nil)

// New opens the bucket described by cfg, creating it if needed.
func New(ctx context.Context, js jetstream.JetStream, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "jobline job records",
		History:     cfg.History,
		TTL:         cfg.TTL,
		Replicas:    cfg.Replicas,
	}, kvutil.DefaultMaxRetries)
	if err != nil {
		return nil, err
	}

	return &Store{kv: kv}, nil
}

// Upsert writes the job document.
func (s *Store) Upsert(ctx context.Context, j *types.Job) error {
	if j == nil || j.ID == "" {
		return types.Persistence(errors.New("job id is required"))
	}

	data, err := json.Marshal(j)
	if err != nil {
		return types.Persistence(fmt.Errorf("encode job %s: %w", j.ID, err))
	}

	if _, err := s.kv.Put(ctx, jobKey(j.ID), data); err != nil {
		return types.Persistence(fmt.Errorf("put job %s: %w", j.ID, err))
	}

	return nil
}

// Get returns the job with the given id, or types.ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*types.Job, error) {
	entry, err := s.kv.Get(ctx, jobKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, types.ErrJobNotFound)
		}

		return nil, types.Persistence(fmt.Errorf("get job %s: %w", id, err))
	}

	var j types.Job
	if err := json.Unmarshal(entry.Value(), &j); err != nil {
		return nil, types.Persistence(fmt.Errorf("decode job %s: %w", id, err))
	}

	return &j, nil
}

// jobKey maps a job id to a valid KV key. Ids made only of key-safe
// characters are used as is; others are base64url encoded.
func jobKey(id string) string {
	if validKey(id) {
		return "job." + id
	}

	return "job.b64." + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func validKey(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '=':
		default:
			return false
		}
	}

	return true
}
