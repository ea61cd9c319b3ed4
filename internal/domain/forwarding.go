package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// ForwardingStatus 转寄请求状态，规范写法为首字母大写
type ForwardingStatus string

const (
	ForwardingPending    ForwardingStatus = "Pending"
	ForwardingRequested  ForwardingStatus = "Requested"
	ForwardingProcessing ForwardingStatus = "Processing"
	ForwardingDispatched ForwardingStatus = "Dispatched"
	ForwardingDelivered  ForwardingStatus = "Delivered"
	ForwardingCancelled  ForwardingStatus = "Cancelled"
)

// forwardingTransitions 合法状态迁移表，Delivered 与 Cancelled 为终态
var forwardingTransitions = map[ForwardingStatus][]ForwardingStatus{
	ForwardingPending:    {ForwardingRequested},
	ForwardingRequested:  {ForwardingProcessing, ForwardingCancelled},
	ForwardingProcessing: {ForwardingDispatched, ForwardingCancelled},
	ForwardingDispatched: {ForwardingDelivered},
	ForwardingDelivered:  {},
	ForwardingCancelled:  {},
}

// ActiveForwardingStatuses 占用 (用户, 邮件) 唯一名额的状态
var ActiveForwardingStatuses = []ForwardingStatus{
	ForwardingRequested,
	ForwardingProcessing,
	ForwardingDispatched,
}

// CanTransition 判断 from -> to 是否为合法迁移，自迁移同样非法
func CanTransition(from, to ForwardingStatus) bool {
	for _, next := range forwardingTransitions[from.Normalize()] {
		if next == to.Normalize() {
			return true
		}
	}
	return false
}

// ParseForwardingStatus 解析状态字符串，兼容历史数据中的大小写混用
func ParseForwardingStatus(s string) (ForwardingStatus, error) {
	trimmed := strings.TrimSpace(s)
	for status := range forwardingTransitions {
		if strings.EqualFold(string(status), trimmed) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown forwarding status %q", s)
}

// Normalize 返回规范大小写形式，无法识别时原样返回
func (s ForwardingStatus) Normalize() ForwardingStatus {
	if parsed, err := ParseForwardingStatus(string(s)); err == nil {
		return parsed
	}
	return s
}

// IsActive 是否为活跃状态
func (s ForwardingStatus) IsActive() bool {
	n := s.Normalize()
	for _, active := range ActiveForwardingStatuses {
		if n == active {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s ForwardingStatus) IsTerminal() bool {
	next, ok := forwardingTransitions[s.Normalize()]
	return ok && len(next) == 0
}

// Scan 实现 sql.Scanner，读取时统一大小写
func (s *ForwardingStatus) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*s = ""
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ForwardingStatus", value)
	}
	*s = ForwardingStatus(raw).Normalize()
	return nil
}

// Value 实现 driver.Valuer，写入时总是规范形式
func (s ForwardingStatus) Value() (driver.Value, error) {
	return string(s.Normalize()), nil
}

// ForwardingMethod 寄送方式
type ForwardingMethod string

const (
	MethodStandard        ForwardingMethod = "standard"
	MethodTracked         ForwardingMethod = "tracked"
	MethodSpecialDelivery ForwardingMethod = "special_delivery"
)

// ParseForwardingMethod 空值视为 standard
func ParseForwardingMethod(s string) (ForwardingMethod, error) {
	switch ForwardingMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodStandard:
		return MethodStandard, nil
	case MethodTracked:
		return MethodTracked, nil
	case MethodSpecialDelivery:
		return MethodSpecialDelivery, nil
	}
	return "", fmt.Errorf("unknown forwarding method %q", s)
}

// ForwardingRequest 实体邮件转寄请求，创建后只迁移不删除
//
// 活跃请求的唯一性由部分唯一索引 ux_forwarding_active 兜底，
// MySQL 不支持部分索引，由迁移脚本中的生成列实现。
type ForwardingRequest struct {
	ID             string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID         int64            `json:"userId" gorm:"not null;index:idx_forwarding_user;uniqueIndex:ux_forwarding_active,priority:1,where:LOWER(status) <> 'delivered' AND LOWER(status) <> 'cancelled'"`
	MailItemID     string           `json:"mailItemId" gorm:"type:varchar(36);not null;uniqueIndex:ux_forwarding_active,priority:2"`
	Status         ForwardingStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Destination    Address          `json:"destination" gorm:"embedded;embeddedPrefix:destination_"`
	Reason         string           `json:"reason,omitempty" gorm:"type:text"`
	Method         ForwardingMethod `json:"method" gorm:"type:varchar(32);not null;default:'standard'"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty" gorm:"type:varchar(255)"`
	DispatchedAt   *time.Time       `json:"dispatchedAt,omitempty"`
	DeliveredAt    *time.Time       `json:"deliveredAt,omitempty"`
	CancelledAt    *time.Time       `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// TableName 指定表名
func (ForwardingRequest) TableName() string {
	return "forwarding_requests"
}

// Apply 在内存中执行一次迁移并记录时间戳，非法迁移直接返回错误且不修改请求
func (r *ForwardingRequest) Apply(to ForwardingStatus, at time.Time) error {
	from := r.Status.Normalize()
	to = to.Normalize()
	if !CanTransition(from, to) {
		return Conflict(CodeIllegalTransition,
			fmt.Sprintf("forwarding request cannot move from %s to %s", from, to))
	}
	r.Status = to
	r.UpdatedAt = at
	switch to {
	case ForwardingDispatched:
		r.DispatchedAt = &at
	case ForwardingDelivered:
		r.DeliveredAt = &at
	case ForwardingCancelled:
		r.CancelledAt = &at
	}
	return nil
}
