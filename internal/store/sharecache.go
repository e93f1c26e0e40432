package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
)

// DefaultShareCacheTTL bounds how stale a cached public view can be
const DefaultShareCacheTTL = 5 * time.Minute

// redisKV is the subset of the go-redis client the cache uses
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ShareCache wraps a ProjectStore with a Redis read-through cache for public
// share lookups. Writes through the wrapper evict the affected entry. Redis
// errors are logged and the inner store is used directly.
type ShareCache struct {
	ProjectStore
	rdb    redisKV
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewShareCache creates a ShareCache. A non-positive ttl uses DefaultShareCacheTTL.
func NewShareCache(inner ProjectStore, rdb redisKV, ttl time.Duration, logger *zap.Logger) *ShareCache {
	if ttl <= 0 {
		ttl = DefaultShareCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareCache{
		ProjectStore: inner,
		rdb:          rdb,
		ttl:          ttl,
		prefix:       "visionpath:share:",
		logger:       logger,
	}
}

func (c *ShareCache) viewKey(shareID string) string   { return c.prefix + "view:" + shareID }
func (c *ShareCache) ownerKey(projectID string) string { return c.prefix + "project:" + projectID }

// GetProjectByShareID serves from Redis when possible
func (c *ShareCache) GetProjectByShareID(ctx context.Context, shareID string) (*models.Project, error) {
	data, err := c.rdb.Get(ctx, c.viewKey(shareID)).Bytes()
	switch {
	case err == nil:
		var p models.Project
		if jerr := json.Unmarshal(data, &p); jerr == nil {
			return &p, nil
		}
		c.logger.Warn("share_cache_decode_failed", zap.String("share_id", shareID))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("share_cache_read_failed", zap.String("share_id", shareID), zap.Error(err))
	}

	p, err := c.ProjectStore.GetProjectByShareID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, shareID, p)
	return p, nil
}

func (c *ShareCache) put(ctx context.Context, shareID string, p *models.Project) {
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.Warn("share_cache_encode_failed", zap.String("project_id", p.ID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.viewKey(shareID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("share_cache_write_failed", zap.String("share_id", shareID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.ownerKey(p.ID), shareID, c.ttl).Err(); err != nil {
		c.logger.Warn("share_cache_write_failed", zap.String("project_id", p.ID), zap.Error(err))
	}
}

// Evict drops any cached view of projectID
func (c *ShareCache) Evict(ctx context.Context, projectID string) error {
	shareID, err := c.rdb.Get(ctx, c.ownerKey(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read share cache index: %w", err)
	}
	if err := c.rdb.Del(ctx, c.viewKey(shareID), c.ownerKey(projectID)).Err(); err != nil {
		return fmt.Errorf("failed to evict share cache: %w", err)
	}
	return nil
}

func (c *ShareCache) evict(ctx context.Context, projectID string) {
	if err := c.Evict(ctx, projectID); err != nil {
		c.logger.Warn("share_cache_evict_failed", zap.String("project_id", projectID), zap.Error(err))
	}
}

// UpdateProject updates the inner store and evicts the cached view
func (c *ShareCache) UpdateProject(ctx context.Context, id string, update ProjectUpdate) error {
	if err := c.ProjectStore.UpdateProject(ctx, id, update); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// DeleteProject deletes from the inner store and evicts the cached view
func (c *ShareCache) DeleteProject(ctx context.Context, id string) error {
	if err := c.ProjectStore.DeleteProject(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

var (
	_ ProjectStore = (*ShareCache)(nil)
	_ redisKV      = (*redis.Client)(nil)
)
