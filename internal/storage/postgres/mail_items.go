package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// GetMailItem 根据 ID 获取邮件
func (s *Store) GetMailItem(ctx context.Context, id string) (*domain.MailItem, error) {
	var item domain.MailItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetMailItemByKey 根据幂等键获取邮件
func (s *Store) GetMailItemByKey(ctx context.Context, idempotencyKey string) (*domain.MailItem, error) {
	var item domain.MailItem
	if err := s.db.WithContext(ctx).First(&item, "idempotency_key = ?", idempotencyKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// UpsertMailItem 以 idempotency_key 为冲突目标插入或更新邮件。
//
// 写入后按幂等键回读，持久化 ID 与传入 ID 一致即为首次写入。
func (s *Store) UpsertMailItem(ctx context.Context, item *domain.MailItem) (bool, error) {
	proposedID := item.ID

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns(domain.MailItemUpsertColumns),
	}).Create(item).Error
	if err != nil {
		return false, fmt.Errorf("upsert mail item %s: %w", item.IdempotencyKey, err)
	}

	persisted, err := s.GetMailItemByKey(ctx, item.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("reload mail item %s: %w", item.IdempotencyKey, err)
	}
	*item = *persisted
	return persisted.ID == proposedID, nil
}

// SoftDeleteMailItem 设置删除标记，已删除的行保持不变
func (s *Store) SoftDeleteMailItem(ctx context.Context, idempotencyKey string) (*domain.MailItem, error) {
	item, err := s.GetMailItemByKey(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return item, nil
	}

	now := s.db.NowFunc()
	err = s.db.WithContext(ctx).Model(&domain.MailItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{"deleted": true, "updated_at": now}).Error
	if err != nil {
		return nil, fmt.Errorf("soft delete mail item %s: %w", idempotencyKey, err)
	}
	item.Deleted = true
	item.UpdatedAt = now
	return item, nil
}

// SaveMailItem 直接写入邮件，供扫描与销毁流程更新状态
func (s *Store) SaveMailItem(ctx context.Context, item *domain.MailItem) error {
	return s.db.WithContext(ctx).Save(item).Error
}
