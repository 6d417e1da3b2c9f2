package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dealgraph/api/internal/graph"
)

// RedisStore keeps graph snapshots in Redis. Each workspace maps to one
// key whose value is the JSON-encoded state; SET replaces it atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "graph:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "graph:"}
}

func (s *RedisStore) key(workspaceID string) string {
	return s.prefix + workspaceID
}

// Save replaces the workspace's snapshot. Snapshots never expire; the
// latest sync stands until the next one.
func (s *RedisStore) Save(ctx context.Context, st graph.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal graph state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(st.WorkspaceID), data, 0).Err(); err != nil {
		return fmt.Errorf("save graph snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, workspaceID string) (graph.State, error) {
	data, err := s.client.Get(ctx, s.key(workspaceID)).Result()
	if err == redis.Nil {
		return graph.State{}, ErrNotFound
	}
	if err != nil {
		return graph.State{}, fmt.Errorf("load graph snapshot: %w", err)
	}

	var st graph.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return graph.State{}, fmt.Errorf("unmarshal graph state: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
