package domain

import "time"

// 出站事件名称
const (
	EventForwardingRequested     = "forwarding.requested"
	EventForwardingStatusChanged = "forwarding.status_changed"
)

// 出站事件状态，consumed 由外部消费者推进
const (
	OutboxStatusPending  = "pending"
	OutboxStatusConsumed = "consumed"
)

// ForwardingOutboxEvent 与业务写入同事务落库的出站事件
type ForwardingOutboxEvent struct {
	ID                  string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ForwardingRequestID string     `json:"forwardingRequestId" gorm:"type:varchar(36);not null;index"`
	EventName           string     `json:"eventName" gorm:"type:varchar(64);not null"`
	Payload             string     `json:"payload" gorm:"type:text;not null"` // JSON 快照
	Status              string     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_outbox_pending,priority:1"`
	CreatedAt           time.Time  `json:"createdAt" gorm:"index:idx_outbox_pending,priority:2"`
	ConsumedAt          *time.Time `json:"consumedAt,omitempty"`
}

// TableName 指定表名
func (ForwardingOutboxEvent) TableName() string {
	return "forwarding_outbox_events"
}

// ForwardingRequestedPayload forwarding.requested 事件快照，字段名即对外契约
type ForwardingRequestedPayload struct {
	ForwardingRequestID string           `json:"forwarding_request_id"`
	UserID              int64            `json:"user_id"`
	MailItemID          string           `json:"mail_item_id"`
	Tag                 string           `json:"tag"`
	IsOfficial          bool             `json:"is_official"`
	FeeMinor            int64            `json:"fee_minor"`
	Currency            string           `json:"currency"`
	Method              ForwardingMethod `json:"method"`
	Destination         Address          `json:"destination"`
	IdempotencyKey      string           `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// ForwardingStatusChangedPayload forwarding.status_changed 事件快照
type ForwardingStatusChangedPayload struct {
	ForwardingRequestID string           `json:"forwarding_request_id"`
	UserID              int64            `json:"user_id"`
	MailItemID          string           `json:"mail_item_id"`
	From                ForwardingStatus `json:"from"`
	To                  ForwardingStatus `json:"to"`
	ChangedAt           time.Time        `json:"changed_at"`
}
