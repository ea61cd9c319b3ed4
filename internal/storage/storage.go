package storage

import (
	"context"
	"errors"
	"time"

	"mailroom/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrNoAvailability 该地点没有空闲地址槽
	ErrNoAvailability = errors.New("no address slot available")
	// ErrAlreadyAssigned 用户已持有地址槽（唯一约束冲突）
	ErrAlreadyAssigned = errors.New("user already holds an address slot")
	// ErrStaleStatus 状态已被并发修改
	ErrStaleStatus = errors.New("forwarding request status changed concurrently")
	// ErrChargesUnavailable 费用表尚未创建
	ErrChargesUnavailable = errors.New("charges table is not provisioned")
)

// UserRepository 定义用户数据读取操作。
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
}

// MailItemRepository 定义邮件数据存取操作。
type MailItemRepository interface {
	GetMailItem(ctx context.Context, id string) (*domain.MailItem, error)
	GetMailItemByKey(ctx context.Context, idempotencyKey string) (*domain.MailItem, error)
	// UpsertMailItem 按幂等键插入或覆盖，item 回填持久化后的行，created 表示是否为首次写入
	UpsertMailItem(ctx context.Context, item *domain.MailItem) (created bool, err error)
	// SoftDeleteMailItem 设置删除标记，重复调用无副作用
	SoftDeleteMailItem(ctx context.Context, idempotencyKey string) (*domain.MailItem, error)
}

// ForwardingRepository 定义转寄请求的事务边界。
type ForwardingRepository interface {
	// WithinForwardingTx 在单个事务内执行 fn，fn 返回错误时整体回滚
	WithinForwardingTx(ctx context.Context, fn func(tx ForwardingTx) error) error
	GetForwardingRequest(ctx context.Context, id string) (*domain.ForwardingRequest, error)
}

// ForwardingTx 事务内可用的转寄相关写操作。
type ForwardingTx interface {
	// CreateOrGetActiveForwarding 插入请求或返回已有的活跃请求，created 为 false 时 req 不会被写入
	CreateOrGetActiveForwarding(ctx context.Context, req *domain.ForwardingRequest) (*domain.ForwardingRequest, bool, error)
	// LockForwardingRequest 读取并锁定请求行
	LockForwardingRequest(ctx context.Context, id string) (*domain.ForwardingRequest, error)
	// UpdateForwardingStatus 仅当当前状态为 from 时更新，否则返回 ErrStaleStatus
	UpdateForwardingStatus(ctx context.Context, req *domain.ForwardingRequest, from domain.ForwardingStatus) error
	// InsertChargeIfAbsent 按唯一键插入或什么也不做，返回最终存活的行
	InsertChargeIfAbsent(ctx context.Context, charge *domain.Charge) (*domain.Charge, error)
	InsertOutboxEvent(ctx context.Context, event *domain.ForwardingOutboxEvent) error
}

// SlotRepository 定义地址槽分配操作。
type SlotRepository interface {
	FindAssignedSlot(ctx context.Context, userID int64) (*domain.AddressSlot, error)
	// ClaimAvailableSlot 原子地领取一个空闲槽，无空闲时返回 ErrNoAvailability，
	// 用户已被并发分配时返回 ErrAlreadyAssigned
	ClaimAvailableSlot(ctx context.Context, userID int64, locationID string, at time.Time) (*domain.AddressSlot, error)
	ReleaseSlot(ctx context.Context, userID int64) (*domain.AddressSlot, error)
	AddSlots(ctx context.Context, slots []*domain.AddressSlot) error
}

// WebhookLogRepository 定义入站 Webhook 审计日志写入。
type WebhookLogRepository interface {
	AppendWebhookLog(ctx context.Context, entry *domain.WebhookLogEntry) error
}

// Store 聚合所有存储接口。
type Store interface {
	UserRepository
	MailItemRepository
	ForwardingRepository
	SlotRepository
	WebhookLogRepository
	Close() error
	Health(ctx context.Context) error
}
