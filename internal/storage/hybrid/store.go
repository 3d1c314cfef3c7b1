// Package hybrid 组合 GORM 与 Redis 的混合仓储。
//
// 数据库是唯一事实来源；Redis 只加速收件人按 ID 的读取。
// 缓存操作失败一律降级为直接读写数据库，从不让缓存故障
// 影响正确性。
package hybrid

import (
	"fmt"
	"time"

	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/storage"
	"hubmail/backend/internal/storage/gormdb"
	"hubmail/backend/internal/storage/redis"
)

// Store 混合存储实现
type Store struct {
	db    *gormdb.Store
	cache *redis.Cache
}

// NewStore 创建混合存储实例
func NewStore(dbType, dsn, redisAddr, redisPassword string, redisDB int, cacheTTL time.Duration) (*Store, error) {
	db, err := gormdb.NewStore(dbType, dsn, 25, 5, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cache, err := redis.NewCache(redisAddr, redisPassword, redisDB, cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return &Store{db: db, cache: cache}, nil
}

// Migrate 迁移底层数据库表结构
func (s *Store) Migrate() error {
	return s.db.Migrate()
}

// GetHubByID 实现 storage.HubReader；Hub 配置不走缓存
func (s *Store) GetHubByID(id int32) (*domain.Hub, error) {
	return s.db.GetHubByID(id)
}

// ListHubs 实现 storage.HubReader
func (s *Store) ListHubs() ([]domain.Hub, error) {
	return s.db.ListHubs()
}

// SetLastProcessedUID 实现 storage.HubWriter
func (s *Store) SetLastProcessedUID(hubID, uid int32) error {
	return s.db.SetLastProcessedUID(hubID, uid)
}

// GetEmailByID 实现 storage.EmailReader
func (s *Store) GetEmailByID(id, hubID int32) (*domain.EmailWithRecipients, error) {
	return s.db.GetEmailByID(id, hubID)
}

// GetRecipientByID 实现 storage.EmailReader，cache-aside
func (s *Store) GetRecipientByID(id, hubID int32) (*domain.Recipient, error) {
	// 未命中或缓存故障都降级为直查数据库
	if cached, err := s.cache.GetCachedRecipient(id); err == nil {
		if cached.HubID != hubID {
			return nil, storage.ErrRecipientNotFound
		}
		recipient := cached.Recipient
		return &recipient, nil
	}

	recipient, err := s.db.GetRecipientByID(id, hubID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.CacheRecipient(hubID, recipient)
	return recipient, nil
}

// CreateEmail 实现 storage.EmailWriter
func (s *Store) CreateEmail(email *domain.NewEmail) (*domain.EmailWithRecipients, error) {
	return s.db.CreateEmail(email)
}

// UpdateRecipient 实现 storage.EmailWriter，写后失效缓存
func (s *Store) UpdateRecipient(recipientID int32, upd *domain.UpdateRecipient) error {
	if err := s.db.UpdateRecipient(recipientID, upd); err != nil {
		return err
	}
	_ = s.cache.InvalidateRecipient(recipientID)
	return nil
}

// Unsubscribe 实现 storage.EmailWriter
func (s *Store) Unsubscribe(hubID int32, address string, reason *string) error {
	return s.db.Unsubscribe(hubID, address, reason)
}
