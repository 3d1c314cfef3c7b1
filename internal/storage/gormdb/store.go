// Package gormdb 基于 GORM 的仓储实现，支持 MySQL 5.7+ 与 PostgreSQL。
package gormdb

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/storage"
)

// Store GORM 存储实现。*gorm.DB 自带连接池，可安全地跨协程共享。
type Store struct {
	db *gorm.DB
}

// NewStore 创建数据库存储
//
// driverName 支持 "mysql" 与 "postgres"。
func NewStore(driverName, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return &Store{db: db}, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Hub{},
		&domain.Email{},
		&domain.Recipient{},
		&domain.Unsubscribe{},
	)
}

// ========== HubReader ==========

// GetHubByID 按 ID 获取 Hub
func (s *Store) GetHubByID(id int32) (*domain.Hub, error) {
	var hub domain.Hub
	if err := s.db.First(&hub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrHubNotFound
		}
		return nil, err
	}
	return &hub, nil
}

// ListHubs 列出全部 Hub
func (s *Store) ListHubs() ([]domain.Hub, error) {
	var hubs []domain.Hub
	if err := s.db.Find(&hubs).Error; err != nil {
		return nil, err
	}
	return hubs, nil
}

// ========== HubWriter ==========

// SetLastProcessedUID 单调推进收件游标。
// WHERE 条件保证并发推进下游标只增不减。
func (s *Store) SetLastProcessedUID(hubID, uid int32) error {
	return s.db.Model(&domain.Hub{}).
		Where("id = ? AND last_processed_uid < ?", hubID, uid).
		Update("last_processed_uid", uid).Error
}

// ========== EmailReader ==========

// GetEmailByID 获取邮件及其全部收件人，按 Hub 限定
func (s *Store) GetEmailByID(id, hubID int32) (*domain.EmailWithRecipients, error) {
	var email domain.Email
	err := s.db.First(&email, "id = ? AND hub_id = ?", id, hubID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}

	var recipients []domain.Recipient
	if err := s.db.Where("email_id = ?", email.ID).Find(&recipients).Error; err != nil {
		return nil, err
	}

	return &domain.EmailWithRecipients{Email: email, Recipients: recipients}, nil
}

// GetRecipientByID 获取收件人，经由父邮件校验 Hub 归属
func (s *Store) GetRecipientByID(id, hubID int32) (*domain.Recipient, error) {
	var recipient domain.Recipient
	err := s.db.Model(&domain.Recipient{}).
		Joins("JOIN emails ON emails.id = email_recipients.email_id").
		Where("email_recipients.id = ? AND emails.hub_id = ?", id, hubID).
		First(&recipient).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrRecipientNotFound
		}
		return nil, err
	}
	return &recipient, nil
}

// ========== EmailWriter ==========

// CreateEmail 事务内插入邮件与全部收件人
func (s *Store) CreateEmail(newEmail *domain.NewEmail) (*domain.EmailWithRecipients, error) {
	var result *domain.EmailWithRecipients

	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		email := domain.Email{
			HubID:          newEmail.HubID,
			Subject:        newEmail.Subject,
			Message:        newEmail.Message,
			Attachment:     newEmail.Attachment,
			AttachmentName: newEmail.AttachmentName,
			AttachmentMime: newEmail.AttachmentMime,
			CreatedAt:      now,
		}
		if err := tx.Create(&email).Error; err != nil {
			return fmt.Errorf("insert email: %w", err)
		}

		recipients := make([]domain.Recipient, 0, len(newEmail.Recipients))
		for _, item := range newEmail.Recipients {
			fields := item.Fields
			if fields == nil {
				fields = domain.FieldMap{}
			}
			recipients = append(recipients, domain.Recipient{
				EmailID:   email.ID,
				Address:   item.Address,
				Name:      item.Name,
				Fields:    fields,
				UpdatedAt: now,
			})
		}
		if len(recipients) > 0 {
			if err := tx.Create(&recipients).Error; err != nil {
				return fmt.Errorf("insert recipients: %w", err)
			}
		}

		result = &domain.EmailWithRecipients{Email: email, Recipients: recipients}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateRecipient 部分更新收件人并重算父邮件计数，全部在一个事务内
func (s *Store) UpdateRecipient(recipientID int32, upd *domain.UpdateRecipient) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var recipient domain.Recipient
		if err := tx.First(&recipient, "id = ?", recipientID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrRecipientNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"updated_at": time.Now().UTC(),
		}
		if upd.IsSent != nil {
			updates["is_sent"] = *upd.IsSent
		}
		if upd.Opened != nil {
			updates["opened"] = *upd.Opened
		}
		if upd.Replied != nil {
			updates["replied"] = *upd.Replied
		}
		if upd.Reply != nil {
			updates["reply"] = *upd.Reply
		}
		if err := tx.Model(&domain.Recipient{}).Where("id = ?", recipientID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update recipient %d: %w", recipientID, err)
		}

		return recomputeCounters(tx, recipient.EmailID)
	})
}

// recomputeCounters 重算邮件聚合计数
func recomputeCounters(tx *gorm.DB, emailID int32) error {
	count := func(column string) (int64, error) {
		var n int64
		err := tx.Model(&domain.Recipient{}).
			Where("email_id = ? AND "+column+" = ?", emailID, true).
			Count(&n).Error
		return n, err
	}

	numSent, err := count("is_sent")
	if err != nil {
		return err
	}
	numOpened, err := count("opened")
	if err != nil {
		return err
	}
	numReplied, err := count("replied")
	if err != nil {
		return err
	}

	return tx.Model(&domain.Email{}).Where("id = ?", emailID).Updates(map[string]interface{}{
		"num_sent":    numSent,
		"num_opened":  numOpened,
		"num_replied": numReplied,
	}).Error
}

// Unsubscribe 幂等插入退订记录，冲突时忽略
func (s *Store) Unsubscribe(hubID int32, address string, reason *string) error {
	row := domain.Unsubscribe{
		HubID:     hubID,
		Address:   address,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hub_id"}, {Name: "address"}},
		DoNothing: true,
	}).Create(&row).Error
}
