// Package redis 收件人记录的 Redis 缓存。
//
// 入站回复的处理以收件人 ID 读为主，缓存采用 cache-aside：
// 读时回填，写时失效。Hub 配置不缓存，保证监控端重连时
// 总能拿到最新凭据。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"hubmail/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = fmt.Errorf("cache miss")

// CachedRecipient 缓存条目：收件人记录加所属 Hub，
// 读取时据 HubID 校验租户归属。
type CachedRecipient struct {
	HubID     int32            `json:"hub_id"`
	Recipient domain.Recipient `json:"recipient"`
}

// Cache 收件人缓存实现
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCache 创建 Redis 缓存实例并校验连通性
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func recipientKey(id int32) string {
	return fmt.Sprintf("recipient:%d", id)
}

// CacheRecipient 写入缓存
func (c *Cache) CacheRecipient(hubID int32, recipient *domain.Recipient) error {
	data, err := json.Marshal(CachedRecipient{HubID: hubID, Recipient: *recipient})
	if err != nil {
		return err
	}
	return c.client.Set(context.Background(), recipientKey(recipient.ID), data, c.ttl).Err()
}

// GetCachedRecipient 读取缓存；未命中返回 ErrCacheMiss
func (c *Cache) GetCachedRecipient(id int32) (*CachedRecipient, error) {
	data, err := c.client.Get(context.Background(), recipientKey(id)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var cached CachedRecipient
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

// InvalidateRecipient 收件人变更后使缓存失效
func (c *Cache) InvalidateRecipient(id int32) error {
	return c.client.Del(context.Background(), recipientKey(id)).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
