package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// 入站事件类型
const (
	IngestEventCreated = "created"
	IngestEventUpdated = "updated"
	IngestEventDeleted = "deleted"
)

// 入站处理动作
const (
	IngestActionCreated = "created"
	IngestActionUpdated = "updated"
	IngestActionDeleted = "deleted"
	IngestActionIgnored = "ignored"
)

// Webhook 日志结果
const (
	WebhookOutcomeOK       = "ok"
	WebhookOutcomeRejected = "rejected"
	WebhookOutcomeFailed   = "failed"
)

// FlexibleID 兼容字符串与数字两种写法的外部 ID
type FlexibleID string

// UnmarshalJSON 接受 "123"、123 与 null
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// String 返回原始文本
func (f FlexibleID) String() string {
	return string(f)
}

// Int64 解析为整数
func (f FlexibleID) Int64() (int64, bool) {
	if f == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IngestEvent 外部文件同步集成推送的文件事件
type IngestEvent struct {
	UserID  FlexibleID `json:"userId"`
	Name    string     `json:"name"`
	WebURL  string     `json:"webUrl"`
	ItemID  FlexibleID `json:"itemId"`
	Tag     string     `json:"tag"`
	Sender  string     `json:"sender"`
	Subject string     `json:"subject"`
	Path    string     `json:"path"`
	Event   string     `json:"event"`
	Size    *int64     `json:"size"`
}

// IsDelete 是否为删除事件
func (e *IngestEvent) IsDelete() bool {
	switch strings.ToLower(strings.TrimSpace(e.Event)) {
	case IngestEventDeleted, "delete", "removed":
		return true
	}
	return false
}

// WebhookLogEntry 入站 Webhook 审计记录，只追加不修改
type WebhookLogEntry struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Source    string    `json:"source" gorm:"type:varchar(64);not null"`
	Event     string    `json:"event" gorm:"type:varchar(32)"`
	ItemID    string    `json:"itemId" gorm:"type:varchar(255);index"`
	UserID    *int64    `json:"userId,omitempty" gorm:"index"`
	Action    string    `json:"action" gorm:"type:varchar(32)"`
	Outcome   string    `json:"outcome" gorm:"type:varchar(16);not null"`
	ErrorCode string    `json:"errorCode,omitempty" gorm:"type:varchar(64)"`
	Payload   string    `json:"payload" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (WebhookLogEntry) TableName() string {
	return "webhook_log_entries"
}
