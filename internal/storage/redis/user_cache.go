package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

const userKeyPrefix = "mailroom:user:"

// UserCache 在 UserRepository 前加一层 Redis 读缓存。
//
// Webhook 重投与扫描批量到达时同一用户会被反复查询，缓存只保存存在的用户，
// 不存在的结果每次都回源。Redis 故障时降级为直接读库。
type UserCache struct {
	next   storage.UserRepository
	client *Client
	ttl    time.Duration
}

// NewUserCache 创建用户缓存
func NewUserCache(next storage.UserRepository, client *Client, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserCache{next: next, client: client, ttl: ttl}
}

func userKey(id int64) string {
	return fmt.Sprintf("%s%d", userKeyPrefix, id)
}

// GetUser 先读缓存，未命中时回源并写回
func (c *UserCache) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	data, err := c.client.rdb.Get(ctx, userKey(id)).Bytes()
	switch {
	case err == nil:
		var user domain.User
		if jsonErr := json.Unmarshal(data, &user); jsonErr == nil {
			return &user, nil
		}
		c.client.log.Warn("discarding corrupt cached user", zap.Int64("user_id", id))
	case !errors.Is(err, goredis.Nil):
		c.client.log.Warn("user cache read failed", zap.Int64("user_id", id), zap.Error(err))
	}

	user, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(user); err == nil {
		if err := c.client.rdb.Set(ctx, userKey(id), payload, c.ttl).Err(); err != nil {
			c.client.log.Warn("user cache write failed", zap.Int64("user_id", id), zap.Error(err))
		}
	}
	return user, nil
}

// Invalidate 删除缓存的用户，订阅状态变更后调用
func (c *UserCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.rdb.Del(ctx, userKey(id)).Err()
}
