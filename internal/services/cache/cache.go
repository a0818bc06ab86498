package cache

import (
	"context"

	"github.com/patrickmn/go-cache"
	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	keyLanguage = "pref:language"
	keyDarkMode = "pref:dark_mode"
)

// Service caches the last preferences fetched from the backend so a failed
// refresh can fall back to them.
type Service interface {
	Language(ctx context.Context) (string, bool)
	SetLanguage(ctx context.Context, code string)
	DarkMode(ctx context.Context) (models.DarkModePreference, bool)
	SetDarkMode(ctx context.Context, pref models.DarkModePreference)
	Clear(ctx context.Context)
}

// Cache implements the preference cache
type Cache struct {
	enabled bool
	cache   *cache.Cache
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewCache creates a new cache service
func NewCache(cfg *config.CacheConfig, metrics *middleware.Metrics, logger *logrus.Logger) Service {
	if !cfg.Enabled {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		metrics: metrics,
		logger:  logger,
	}
}

func (c *Cache) get(key string) (interface{}, bool) {
	if !c.enabled {
		return nil, false
	}
	val, found := c.cache.Get(key)
	if c.metrics != nil {
		if found {
			c.metrics.RecordCacheHit()
		} else {
			c.metrics.RecordCacheMiss()
		}
	}
	return val, found
}

// Language returns the cached language code
func (c *Cache) Language(ctx context.Context) (string, bool) {
	val, found := c.get(keyLanguage)
	if !found {
		return "", false
	}
	return val.(string), true
}

// SetLanguage caches a language code
func (c *Cache) SetLanguage(ctx context.Context, code string) {
	if !c.enabled {
		return
	}
	c.cache.SetDefault(keyLanguage, code)
}

// DarkMode returns the cached display preference
func (c *Cache) DarkMode(ctx context.Context) (models.DarkModePreference, bool) {
	val, found := c.get(keyDarkMode)
	if !found {
		return "", false
	}
	return val.(models.DarkModePreference), true
}

// SetDarkMode caches a display preference
func (c *Cache) SetDarkMode(ctx context.Context, pref models.DarkModePreference) {
	if !c.enabled {
		return
	}
	c.cache.SetDefault(keyDarkMode, pref)
	c.logger.WithField("dark_mode", pref).Debug("Preference cached")
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}

	c.cache.Flush()
	c.logger.Debug("Preference cache cleared")
}
