package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Durable keys
const (
	KeyAccessToken  = "access_token"
	KeyUserInfo     = "user_info"
	KeyUserLanguage = "user_language"
)

// Storage is the client's durable key-value store. Get returns an empty
// string and no error for a missing key.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Manager manages different storage backends
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	metrics     *middleware.Metrics
	redisClient *redis.Client
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, metrics *middleware.Metrics, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{
		logger:  logger,
		metrics: metrics,
	}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(&cfg.Storage.Redis, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.redisClient = redisStorage.client
	case "file":
		fileStorage, err := NewFileStorage(cfg.Storage.File.Path, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = fileStorage
	case "memory":
		manager.storage = NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return manager, nil
}

// NewManagerWith wraps an existing backend
func NewManagerWith(storage Storage, metrics *middleware.Metrics, logger *logrus.Logger) *Manager {
	return &Manager{storage: storage, metrics: metrics, logger: logger}
}

func (m *Manager) record(operation string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordStorageOperation(operation, status, time.Since(start))
}

func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	value, err := m.storage.Get(ctx, key)
	m.record("get", start, err)
	return value, err
}

func (m *Manager) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := m.storage.Set(ctx, key, value)
	m.record("set", start, err)
	return err
}

func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := m.storage.Delete(ctx, keys...)
	m.record("delete", start, err)
	return err
}

// GetJSON decodes the value at key into v. It reports false when the key is missing.
func (m *Manager) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := m.Get(ctx, key)
	if err != nil || data == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key
func (m *Manager) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return m.Set(ctx, key, string(data))
}

// Close releases the backend connection, if any
func (m *Manager) Close() error {
	if m.redisClient != nil {
		return m.redisClient.Close()
	}
	return nil
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.Prefix, logger), nil
}

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client *redis.Client, prefix string, logger *logrus.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = r.prefix + key
	}
	return r.client.Del(ctx, prefixed...).Err()
}

// FileStorage is a go-cache store mirrored to one JSON document on disk.
// The document is written through a temp file and renamed, mode 0600.
type FileStorage struct {
	path   string
	mu     sync.Mutex // serializes writers so flushes land in order
	values *cache.Cache
	logger *logrus.Logger
}

func NewFileStorage(path string, logger *logrus.Logger) (*FileStorage, error) {
	doc := make(map[string]string)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &doc); err != nil {
			// A corrupt state file only costs the user a fresh sign-in
			logger.WithError(err).WithField("path", path).Warn("Ignoring unreadable state file")
			doc = make(map[string]string)
		}
	}

	items := make(map[string]cache.Item, len(doc))
	for key, value := range doc {
		items[key] = cache.Item{Object: value}
	}
	return &FileStorage{
		path:   path,
		values: cache.NewFrom(cache.NoExpiration, 0, items),
		logger: logger,
	}, nil
}

func (f *FileStorage) Get(ctx context.Context, key string) (string, error) {
	if val, found := f.values.Get(key); found {
		return val.(string), nil
	}
	return "", nil
}

func (f *FileStorage) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values.Set(key, value, cache.NoExpiration)
	return f.flush()
}

func (f *FileStorage) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		f.values.Delete(key)
	}
	return f.flush()
}

func (f *FileStorage) flush() error {
	items := f.values.Items()
	doc := make(map[string]string, len(items))
	for key, item := range items {
		if value, ok := item.Object.(string); ok {
			doc[key] = value
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// MemoryStorage implements storage using in-memory cache; nothing survives a restart
type MemoryStorage struct {
	values *cache.Cache
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (string, error) {
	if val, found := m.values.Get(key); found {
		return val.(string), nil
	}
	return "", nil
}

func (m *MemoryStorage) Set(ctx context.Context, key, value string) error {
	m.values.Set(key, value, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		m.values.Delete(key)
	}
	return nil
}
