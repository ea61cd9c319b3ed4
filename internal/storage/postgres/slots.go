package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// claimSlotSQL 单语句领取空闲槽，SKIP LOCKED 让并发请求各自拿到不同的行
const claimSlotSQL = `UPDATE address_slots
SET status = ?, assignee_id = ?, assigned_at = ?, updated_at = ?
WHERE id = (
	SELECT id FROM address_slots
	WHERE location_id = ? AND status = ?
	ORDER BY id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, location_id, label, status, assignee_id, assigned_at, created_at, updated_at`

// FindAssignedSlot 查询用户当前持有的槽位
func (s *Store) FindAssignedSlot(ctx context.Context, userID int64) (*domain.AddressSlot, error) {
	var slot domain.AddressSlot
	err := s.db.WithContext(ctx).
		Where("assignee_id = ? AND status = ?", userID, domain.SlotAssigned).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &slot, nil
}

// ClaimAvailableSlot 按方言选择领取策略
func (s *Store) ClaimAvailableSlot(ctx context.Context, userID int64, locationID string, at time.Time) (*domain.AddressSlot, error) {
	var (
		slot *domain.AddressSlot
		err  error
	)
	switch s.dialect() {
	case "postgres":
		slot, err = s.claimSkipLocked(ctx, userID, locationID, at)
	case "mysql":
		slot, err = s.claimInTx(ctx, userID, locationID, at, &clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	default:
		slot, err = s.claimInTx(ctx, userID, locationID, at, nil)
	}
	if err != nil {
		if isDuplicateKey(err) {
			return nil, storage.ErrAlreadyAssigned
		}
		return nil, err
	}
	return slot, nil
}

func (s *Store) claimSkipLocked(ctx context.Context, userID int64, locationID string, at time.Time) (*domain.AddressSlot, error) {
	var slots []domain.AddressSlot
	err := s.db.WithContext(ctx).
		Raw(claimSlotSQL, domain.SlotAssigned, userID, at, at, locationID, domain.SlotAvailable).
		Scan(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("claim address slot: %w", err)
	}
	if len(slots) == 0 {
		return nil, storage.ErrNoAvailability
	}
	return &slots[0], nil
}

// claimAttempts 候选行被并发领取时的重试次数
const claimAttempts = 3

// errSlotTaken 候选行在读取与更新之间被其他请求领取
var errSlotTaken = errors.New("address slot taken concurrently")

// claimInTx 先锁定候选行再更新，locking 为空时依赖 SQLite 的单写者语义
//
// 条件更新未命中说明候选行已被抢走，换下一行重试，全部落空时视为无可用槽位。
func (s *Store) claimInTx(ctx context.Context, userID int64, locationID string, at time.Time, locking *clause.Locking) (*domain.AddressSlot, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		slot, err := s.claimOnce(ctx, userID, locationID, at, locking)
		if errors.Is(err, errSlotTaken) {
			continue
		}
		return slot, err
	}
	return nil, storage.ErrNoAvailability
}

func (s *Store) claimOnce(ctx context.Context, userID int64, locationID string, at time.Time, locking *clause.Locking) (*domain.AddressSlot, error) {
	var slot domain.AddressSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("location_id = ? AND status = ?", locationID, domain.SlotAvailable).Order("id")
		if locking != nil {
			query = query.Clauses(*locking)
		}
		if err := query.First(&slot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrNoAvailability
			}
			return err
		}

		assignee := userID
		slot.Status = domain.SlotAssigned
		slot.AssigneeID = &assignee
		slot.AssignedAt = &at
		slot.UpdatedAt = at
		result := tx.Model(&domain.AddressSlot{}).
			Where("id = ? AND status = ?", slot.ID, domain.SlotAvailable).
			Updates(map[string]interface{}{
				"status":      slot.Status,
				"assignee_id": slot.AssigneeID,
				"assigned_at": slot.AssignedAt,
				"updated_at":  slot.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errSlotTaken
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// ReleaseSlot 将用户持有的槽位归还为空闲
func (s *Store) ReleaseSlot(ctx context.Context, userID int64) (*domain.AddressSlot, error) {
	var slot domain.AddressSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("assignee_id = ? AND status = ?", userID, domain.SlotAssigned).First(&slot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		now := tx.NowFunc()
		slot.Status = domain.SlotAvailable
		slot.AssigneeID = nil
		slot.AssignedAt = nil
		slot.UpdatedAt = now
		return tx.Model(&domain.AddressSlot{}).
			Where("id = ?", slot.ID).
			Updates(map[string]interface{}{
				"status":      domain.SlotAvailable,
				"assignee_id": nil,
				"assigned_at": nil,
				"updated_at":  now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// AddSlots 批量登记新槽位
func (s *Store) AddSlots(ctx context.Context, slots []*domain.AddressSlot) error {
	if len(slots) == 0 {
		return nil
	}
	for _, slot := range slots {
		if slot.Status == "" {
			slot.Status = domain.SlotAvailable
		}
	}
	return s.db.WithContext(ctx).Create(&slots).Error
}
