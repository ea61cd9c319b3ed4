package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

const (
	savepointForwardingInsert = "forwarding_insert"
	savepointChargeInsert     = "charge_insert"
)

// GetForwardingRequest 根据 ID 获取转寄请求
func (s *Store) GetForwardingRequest(ctx context.Context, id string) (*domain.ForwardingRequest, error) {
	var req domain.ForwardingRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// WithinForwardingTx 在单个数据库事务内执行 fn
func (s *Store) WithinForwardingTx(ctx context.Context, fn func(tx storage.ForwardingTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&forwardingTx{db: tx, dialect: s.dialect(), log: s.log})
	})
}

// forwardingTx 事务内的转寄写操作
type forwardingTx struct {
	db      *gorm.DB
	dialect string
	log     *zap.Logger
}

// activeStatusValues 活跃状态的小写形式，配合 LOWER(status) 兼容历史大小写
func activeStatusValues() []string {
	values := make([]string, 0, len(domain.ActiveForwardingStatuses))
	for _, status := range domain.ActiveForwardingStatuses {
		values = append(values, strings.ToLower(string(status)))
	}
	return values
}

func (t *forwardingTx) findActive(ctx context.Context, userID int64, mailItemID string) (*domain.ForwardingRequest, error) {
	var req domain.ForwardingRequest
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND mail_item_id = ? AND LOWER(status) IN ?", userID, mailItemID, activeStatusValues()).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// CreateOrGetActiveForwarding 先查后插，唯一索引冲突时回滚到保存点并返回胜出的请求
func (t *forwardingTx) CreateOrGetActiveForwarding(ctx context.Context, req *domain.ForwardingRequest) (*domain.ForwardingRequest, bool, error) {
	existing, err := t.findActive(ctx, req.UserID, req.MailItemID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("find active forwarding request: %w", err)
	}

	if err := t.db.SavePoint(savepointForwardingInsert).Error; err != nil {
		return nil, false, fmt.Errorf("savepoint: %w", err)
	}
	if err := t.db.WithContext(ctx).Create(req).Error; err != nil {
		if !isDuplicateKey(err) {
			return nil, false, fmt.Errorf("insert forwarding request: %w", err)
		}
		if rbErr := t.db.RollbackTo(savepointForwardingInsert).Error; rbErr != nil {
			return nil, false, fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
		existing, findErr := t.findActive(ctx, req.UserID, req.MailItemID)
		if findErr != nil {
			return nil, false, fmt.Errorf("reload concurrent forwarding request: %w", findErr)
		}
		return existing, false, nil
	}
	return req, true, nil
}

// LockForwardingRequest 读取请求并加行锁，SQLite 为单写者无需加锁
func (t *forwardingTx) LockForwardingRequest(ctx context.Context, id string) (*domain.ForwardingRequest, error) {
	query := t.db.WithContext(ctx)
	if t.dialect != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var req domain.ForwardingRequest
	if err := query.First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// UpdateForwardingStatus 带状态守卫的更新，from 已被并发修改时返回 ErrStaleStatus
func (t *forwardingTx) UpdateForwardingStatus(ctx context.Context, req *domain.ForwardingRequest, from domain.ForwardingStatus) error {
	result := t.db.WithContext(ctx).Model(&domain.ForwardingRequest{}).
		Where("id = ? AND LOWER(status) = ?", req.ID, strings.ToLower(string(from))).
		Updates(map[string]interface{}{
			"status":        req.Status,
			"dispatched_at": req.DispatchedAt,
			"delivered_at":  req.DeliveredAt,
			"cancelled_at":  req.CancelledAt,
			"updated_at":    req.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update forwarding status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrStaleStatus
	}
	return nil
}

// InsertChargeIfAbsent 按 (type, related_type, related_id) 幂等插入费用。
//
// 插入在保存点内进行，费用表缺失时回滚到保存点并返回 ErrChargesUnavailable，
// 外层事务仍可继续。
func (t *forwardingTx) InsertChargeIfAbsent(ctx context.Context, charge *domain.Charge) (*domain.Charge, error) {
	if err := t.db.SavePoint(savepointChargeInsert).Error; err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "related_type"}, {Name: "related_id"}},
		DoNothing: true,
	}).Create(charge).Error
	if err != nil {
		if rbErr := t.db.RollbackTo(savepointChargeInsert).Error; rbErr != nil {
			return nil, fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
		if isUndefinedTable(err) {
			t.log.Warn("charges table missing, skipping charge",
				zap.String("related_id", charge.RelatedID))
			return nil, storage.ErrChargesUnavailable
		}
		return nil, fmt.Errorf("insert charge: %w", err)
	}

	var persisted domain.Charge
	err = t.db.WithContext(ctx).
		Where("type = ? AND related_type = ? AND related_id = ?", charge.Type, charge.RelatedType, charge.RelatedID).
		First(&persisted).Error
	if err != nil {
		return nil, fmt.Errorf("reload charge: %w", err)
	}
	return &persisted, nil
}

// InsertOutboxEvent 写入出站事件
func (t *forwardingTx) InsertOutboxEvent(ctx context.Context, event *domain.ForwardingOutboxEvent) error {
	if err := t.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// PendingOutboxEvents 按创建时间列出待消费事件，供外部消费者与排障使用
func (s *Store) PendingOutboxEvents(ctx context.Context, limit int) ([]domain.ForwardingOutboxEvent, error) {
	var events []domain.ForwardingOutboxEvent
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
