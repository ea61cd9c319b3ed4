package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// SlotAllocator 为用户分配实体地址槽。
//
// 正确性依赖数据库：SKIP LOCKED 让并发领取落在不同的行上，
// 按用户的部分唯一索引兜住同一用户的首次并发领取。
type SlotAllocator struct {
	repo    storage.SlotRepository
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewSlotAllocator 创建地址槽分配器
func NewSlotAllocator(repo storage.SlotRepository, metrics *monitoring.Metrics, log *zap.Logger) *SlotAllocator {
	return &SlotAllocator{
		repo:    repo,
		metrics: metrics,
		log:     log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Claim 领取一个空闲槽，用户已持有槽位时原样返回，newlyAssigned 为 false
func (a *SlotAllocator) Claim(ctx context.Context, userID int64, locationID string) (*domain.AddressSlot, bool, error) {
	locationID = strings.TrimSpace(locationID)
	if userID <= 0 || locationID == "" {
		return nil, false, domain.Validation(domain.CodeInvalidPayload, "userId and locationId are required")
	}

	existing, err := a.repo.FindAssignedSlot(ctx, userID)
	if err == nil {
		a.metrics.RecordSlotClaim("existing")
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, domain.Internal("failed to look up address slot", err)
	}

	slot, err := a.repo.ClaimAvailableSlot(ctx, userID, locationID, a.now())
	switch {
	case err == nil:
		a.metrics.RecordSlotClaim("assigned")
		a.log.Info("address slot assigned",
			zap.Int64("user_id", userID),
			zap.Int64("slot_id", slot.ID),
			zap.String("location_id", locationID),
		)
		return slot, true, nil
	case errors.Is(err, storage.ErrNoAvailability):
		a.metrics.RecordSlotClaim(domain.CodeNoAvailability)
		return nil, false, domain.Conflict(domain.CodeNoAvailability, "No address slots are available at this location")
	case errors.Is(err, storage.ErrAlreadyAssigned):
		// 并发的首次领取输给了另一个请求，返回胜出者的槽位
		winner, findErr := a.repo.FindAssignedSlot(ctx, userID)
		if findErr != nil {
			return nil, false, domain.Internal("failed to reload concurrently assigned slot", findErr)
		}
		a.metrics.RecordSlotClaim("existing")
		return winner, false, nil
	default:
		a.metrics.RecordSlotClaim(domain.CodeInternal)
		a.log.Error("address slot claim failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, false, domain.Internal("failed to claim address slot", err)
	}
}

// Release 归还用户的槽位，用于订阅取消
func (a *SlotAllocator) Release(ctx context.Context, userID int64) (*domain.AddressSlot, error) {
	slot, err := a.repo.ReleaseSlot(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "User holds no address slot")
		}
		return nil, domain.Internal("failed to release address slot", err)
	}
	a.log.Info("address slot released", zap.Int64("user_id", userID), zap.Int64("slot_id", slot.ID))
	return slot, nil
}

// AddSlots 为某个地点登记一批新槽位
func (a *SlotAllocator) AddSlots(ctx context.Context, locationID string, labels []string) ([]*domain.AddressSlot, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" || len(labels) == 0 {
		return nil, domain.Validation(domain.CodeInvalidPayload, "locationId and at least one label are required")
	}

	slots := make([]*domain.AddressSlot, 0, len(labels))
	for _, label := range labels {
		slots = append(slots, &domain.AddressSlot{
			LocationID: locationID,
			Label:      strings.TrimSpace(label),
			Status:     domain.SlotAvailable,
		})
	}
	if err := a.repo.AddSlots(ctx, slots); err != nil {
		return nil, domain.Internal("failed to add address slots", err)
	}
	return slots, nil
}
