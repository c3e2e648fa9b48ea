// Package credential keeps per-visitor secrets such as the visitor's own
// transcription API key. Values stay on the server and are never echoed back.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpenAIKey is the credential name for the visitor's transcription API key.
const OpenAIKey = "openai_api_key"

var (
	ErrInvalidStoreType = errors.New("credential: invalid store type")
	ErrInvalidConfig    = errors.New("credential: invalid store configuration")
	ErrVisitorRequired  = errors.New("credential: visitor id is required")
	ErrKeyRequired      = errors.New("credential: key is required")
)

// StoreType selects the storage driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Store persists visitor credentials.
type Store interface {
	// Get returns "" with a nil error when nothing is stored.
	Get(ctx context.Context, visitorID, key string) (string, error)
	// Set stores value; an empty value removes the entry.
	Set(ctx context.Context, visitorID, key, value string) error
	Delete(ctx context.Context, visitorID, key string) error
	// Purge removes every credential of the visitor.
	Purge(ctx context.Context, visitorID string) error
	Close() error
}

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient redis.UniversalClient
	ttl         time.Duration
	now         func() time.Time
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client redis.UniversalClient) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL bounds how long a credential lives after its last write.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

func withClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// NewStore creates a Store for the given driver. The redis driver requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{ttl: 24 * time.Hour, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return &memoryStore{
			entries: make(map[string]map[string]memoryEntry),
			ttl:     cfg.ttl,
			now:     cfg.now,
		}, nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisStore{client: cfg.redisClient, ttl: cfg.ttl}, nil
	default:
		return nil, ErrInvalidStoreType
	}
}

func validate(visitorID, key string) error {
	if strings.TrimSpace(visitorID) == "" {
		return ErrVisitorRequired
	}
	if strings.TrimSpace(key) == "" {
		return ErrKeyRequired
	}
	return nil
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func (s *memoryStore) Get(_ context.Context, visitorID, key string) (string, error) {
	if err := validate(visitorID, key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[visitorID][key]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries[visitorID], key)
		return "", nil
	}
	return entry.value, nil
}

func (s *memoryStore) Set(ctx context.Context, visitorID, key, value string) error {
	if err := validate(visitorID, key); err != nil {
		return err
	}
	if value == "" {
		return s.Delete(ctx, visitorID, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		return ErrInvalidConfig
	}
	bucket, ok := s.entries[visitorID]
	if !ok {
		bucket = make(map[string]memoryEntry)
		s.entries[visitorID] = bucket
	}
	entry := memoryEntry{value: value}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	bucket[key] = entry
	return nil
}

func (s *memoryStore) Delete(_ context.Context, visitorID, key string) error {
	if err := validate(visitorID, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bucket, ok := s.entries[visitorID]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(s.entries, visitorID)
		}
	}
	return nil
}

func (s *memoryStore) Purge(_ context.Context, visitorID string) error {
	if strings.TrimSpace(visitorID) == "" {
		return ErrVisitorRequired
	}

	s.mu.Lock()
	delete(s.entries, visitorID)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return nil
}

// redisStore keeps every visitor in one hash: credential:{visitor} -> {key: value}.
type redisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func visitorKey(visitorID string) string {
	return "credential:" + visitorID
}

func (s *redisStore) Get(ctx context.Context, visitorID, key string) (string, error) {
	if err := validate(visitorID, key); err != nil {
		return "", err
	}

	val, err := s.client.HGet(ctx, visitorKey(visitorID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, visitorID, key, value string) error {
	if err := validate(visitorID, key); err != nil {
		return err
	}
	if value == "" {
		return s.Delete(ctx, visitorID, key)
	}

	hashKey := visitorKey(visitorID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, hashKey, s.ttl)
		}
		return nil
	})
	return err
}

func (s *redisStore) Delete(ctx context.Context, visitorID, key string) error {
	if err := validate(visitorID, key); err != nil {
		return err
	}
	return s.client.HDel(ctx, visitorKey(visitorID), key).Err()
}

func (s *redisStore) Purge(ctx context.Context, visitorID string) error {
	if strings.TrimSpace(visitorID) == "" {
		return ErrVisitorRequired
	}
	return s.client.Del(ctx, visitorKey(visitorID)).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
