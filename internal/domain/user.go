package domain

import "time"

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// User 客户账户的只读视图，资料维护不在本服务内
type User struct {
	ID                 int64              `json:"id" gorm:"primaryKey"`
	Email              string             `json:"email" gorm:"type:varchar(255);index"`
	Name               string             `json:"name" gorm:"type:varchar(255)"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus" gorm:"type:varchar(20);not null;default:'active'"`
	KYCStatus          string             `json:"kycStatus" gorm:"type:varchar(20)"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// Cancelled 订阅是否已取消
func (u *User) Cancelled() bool {
	return u.SubscriptionStatus == SubscriptionCancelled
}
