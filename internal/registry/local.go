package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"waitlist/api/internal/store"
)

// DefaultLocalKey is the single key holding the local entry list.
const DefaultLocalKey = "waitlist:local_entries"

// LocalStore holds the fallback copy of the entry list as one value.
// Callers read, modify and write the whole list; concurrent writers race
// and the last write wins.
type LocalStore interface {
	Load(ctx context.Context) ([]store.Entry, error)
	Save(ctx context.Context, entries []store.Entry) error
	Clear(ctx context.Context) error
}

// MemoryStore is a process-scoped LocalStore.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) ([]store.Entry, error) {
	m.mu.Lock()
	blob := m.blob
	m.mu.Unlock()
	return decodeEntries(blob)
}

func (m *MemoryStore) Save(_ context.Context, entries []store.Entry) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode local entries: %w", err)
	}
	m.mu.Lock()
	m.blob = blob
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.blob = nil
	m.mu.Unlock()
	return nil
}

// RedisLocalStore keeps the entry list as a JSON array under one Redis key,
// shared by every API instance pointed at the same Redis.
type RedisLocalStore struct {
	client *redis.Client
	key    string
}

func NewRedisLocalStore(client *redis.Client, key string) *RedisLocalStore {
	if key == "" {
		key = DefaultLocalKey
	}
	return &RedisLocalStore{client: client, key: key}
}

func (s *RedisLocalStore) Load(ctx context.Context) ([]store.Entry, error) {
	blob, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local entries: %w", err)
	}
	return decodeEntries(blob)
}

func (s *RedisLocalStore) Save(ctx context.Context, entries []store.Entry) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode local entries: %w", err)
	}
	if err := s.client.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("write local entries: %w", err)
	}
	return nil
}

func (s *RedisLocalStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear local entries: %w", err)
	}
	return nil
}

func decodeEntries(blob []byte) ([]store.Entry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var entries []store.Entry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("decode local entries: %w", err)
	}
	return entries, nil
}
