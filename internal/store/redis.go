package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spigell/autoapply/internal/posting"
)

const DefaultPrefix = "autoapply:"

// Redis keeps workflow state snapshots and applied posting sets.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// Connect parses a redis URL and verifies the connection.
func Connect(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Key returns a namespaced key.
func (r *Redis) Key(parts ...string) string {
	key := r.prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func (r *Redis) SaveState(ctx context.Context, userID string, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", userID, err)
	}
	if err := r.client.Set(ctx, r.Key("state", userID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving state for %s: %w", userID, err)
	}
	return nil
}

// LoadState decodes the stored snapshot into state. It reports false when nothing is stored.
func (r *Redis) LoadState(ctx context.Context, userID string, state any) (bool, error) {
	data, err := r.client.Get(ctx, r.Key("state", userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading state for %s: %w", userID, err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return false, fmt.Errorf("decoding state for %s: %w", userID, err)
	}
	return true, nil
}

func (r *Redis) RecordApplied(ctx context.Context, userID string, p *posting.Posting, at time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.Key("applied", userID), p.Key())
	pipe.HSet(ctx, r.Key("applied_at", userID), p.Key(), at.UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording application for %s: %w", userID, err)
	}
	return nil
}

func (r *Redis) AppliedURLs(ctx context.Context, userID string) ([]string, error) {
	urls, err := r.client.SMembers(ctx, r.Key("applied", userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading applied postings for %s: %w", userID, err)
	}
	return urls, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
