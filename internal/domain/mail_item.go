package domain

import "time"

// MailStatus 邮件处理状态
type MailStatus string

const (
	MailReceived  MailStatus = "received"
	MailScanned   MailStatus = "scanned"
	MailForwarded MailStatus = "forwarded"
	MailArchived  MailStatus = "archived"
)

// 字段长度上限，与表结构的 varchar 长度一致
const (
	MaxIdempotencyKeyLength = 255
	MaxSubjectLength        = 500
	MaxSenderNameLength     = 255
	MaxFileNameLength       = 500
)

// ForwardingEligible 该状态下是否允许发起转寄
func (s MailStatus) ForwardingEligible() bool {
	return s == MailReceived || s == MailScanned
}

// MailItem 扫描入库的邮件
//
// IdempotencyKey 由来源前缀与外部文件 ID 组成，重复投递原地更新。
// 邮件从不物理删除，只设置 Deleted 标记。
type MailItem struct {
	ID                      string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID                  int64      `json:"userId" gorm:"not null;index"`
	IdempotencyKey          string     `json:"idempotencyKey" gorm:"type:varchar(255);uniqueIndex;not null"`
	Subject                 string     `json:"subject" gorm:"type:varchar(500)"`
	SenderName              string     `json:"senderName" gorm:"type:varchar(255)"`
	Tag                     string     `json:"tag" gorm:"type:varchar(64);index"`
	Status                  MailStatus `json:"status" gorm:"type:varchar(20);not null;default:'received'"`
	ReceivedAt              int64      `json:"receivedAt" gorm:"not null"` // epoch 毫秒
	PhysicalDestructionDate *time.Time `json:"physicalDestructionDate,omitempty"`
	Deleted                 bool       `json:"deleted" gorm:"not null;default:false"`
	FileName                string     `json:"fileName" gorm:"type:varchar(500)"`
	FileURL                 string     `json:"fileUrl,omitempty" gorm:"type:text"`
	Path                    string     `json:"path,omitempty" gorm:"type:text"`
	Size                    int64      `json:"size"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (MailItem) TableName() string {
	return "mail_items"
}

// ReceivedTime 返回接收时间
func (m *MailItem) ReceivedTime() time.Time {
	return time.UnixMilli(m.ReceivedAt).UTC()
}

// Destroyed 实体邮件是否已销毁
func (m *MailItem) Destroyed() bool {
	return m.PhysicalDestructionDate != nil
}

// MailItemUpsertColumns 重复投递时覆盖的列
//
// created_at、status、deleted 与 physical_destruction_date 保留已有值，
// 已软删除的邮件不会因重复投递而复活。
var MailItemUpsertColumns = []string{
	"user_id", "subject", "sender_name", "tag", "received_at",
	"file_name", "file_url", "path", "size", "updated_at",
}
