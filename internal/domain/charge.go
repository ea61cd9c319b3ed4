package domain

import "time"

// 费用类型与关联实体
const (
	ChargeTypeForwardingFee = "forwarding_fee"
	ChargeRelatedForwarding = "forwarding_request"
	ChargeStatusPending     = "pending"
)

// Charge 费用记录，(type, related_type, related_id) 唯一
type Charge struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      int64     `json:"userId" gorm:"not null;index"`
	Amount      int64     `json:"amount" gorm:"not null"` // 最小货币单位
	Currency    string    `json:"currency" gorm:"type:varchar(3);not null"`
	Type        string    `json:"type" gorm:"type:varchar(64);not null;uniqueIndex:ux_charge_related,priority:1"`
	RelatedType string    `json:"relatedType" gorm:"type:varchar(64);not null;uniqueIndex:ux_charge_related,priority:2"`
	RelatedID   string    `json:"relatedId" gorm:"type:varchar(36);not null;uniqueIndex:ux_charge_related,priority:3"`
	Status      string    `json:"status" gorm:"type:varchar(20);not null"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Charge) TableName() string {
	return "charges"
}
