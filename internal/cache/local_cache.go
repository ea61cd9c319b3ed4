package cache

import (
	"context"
	"sync"
	"time"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// LocalUserCache 进程内用户缓存（L1 缓存）
//
// 位于 Redis 缓存或存储之前，只缓存查询成功的用户。
// 条目数达到上限时先清理过期条目，仍然满则丢弃本次写入。
type LocalUserCache struct {
	next    storage.UserRepository
	mu      sync.RWMutex
	entries map[int64]cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	user      domain.User
	expiresAt time.Time
}

var _ storage.UserRepository = (*LocalUserCache)(nil)

// NewLocalUserCache 创建本地用户缓存
//
// 参数:
//   - next: 回源的用户仓库
//   - maxSize: 最大缓存条目数
//   - ttl: 过期时间，订阅状态变更最多延迟一个 ttl 生效
func NewLocalUserCache(next storage.UserRepository, maxSize int, ttl time.Duration) *LocalUserCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LocalUserCache{
		next:    next,
		entries: make(map[int64]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetUser 先读本地缓存，未命中或过期时回源
func (c *LocalUserCache) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		user := entry.user
		return &user, nil
	}

	user, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	c.set(user)
	return user, nil
}

// Invalidate 删除指定用户的缓存
func (c *LocalUserCache) Invalidate(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len 当前缓存条目数
func (c *LocalUserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run 定期清理过期条目，直到 ctx 结束
func (c *LocalUserCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked()
			c.mu.Unlock()
		}
	}
}

func (c *LocalUserCache) set(user *domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[user.ID]; !exists && len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
		if len(c.entries) >= c.maxSize {
			return
		}
	}

	c.entries[user.ID] = cacheEntry{user: *user, expiresAt: c.now().Add(c.ttl)}
}

func (c *LocalUserCache) evictExpiredLocked() {
	now := c.now()
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}
