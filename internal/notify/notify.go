// Package notify 投递新邮件到达通知。
//
// 通知在入库事务提交之后由后置钩子触发，投递失败只记录日志，不影响入库结果。
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
)

// 通知模板
const (
	TemplateMailReceived                  = "mail_received"
	TemplateMailReceivedAfterCancellation = "mail_received_after_cancellation"
)

// ErrNoRecipient 用户没有可用的邮箱地址
var ErrNoRecipient = errors.New("user has no deliverable email address")

// Notification 一次新邮件通知
type Notification struct {
	Template   string
	UserID     int64
	Email      string
	Name       string
	MailItemID string
	Subject    string
	SenderName string
	Tag        string
	ReceivedAt time.Time
}

// Notifier 通知发送接口
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TemplateFor 根据订阅状态选择模板，已取消订阅的用户仍会收到提醒但内容不同
func TemplateFor(user *domain.User) string {
	if user.Cancelled() {
		return TemplateMailReceivedAfterCancellation
	}
	return TemplateMailReceived
}

// NewMailNotification 由用户与邮件组装通知
func NewMailNotification(user *domain.User, item *domain.MailItem) Notification {
	return Notification{
		Template:   TemplateFor(user),
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		MailItemID: item.ID,
		Subject:    item.Subject,
		SenderName: item.SenderName,
		Tag:        item.Tag,
		ReceivedAt: item.ReceivedTime(),
	}
}

// subjectLine 邮件主题，正文模板由外部模板服务渲染，这里只给出纯文本回退
func (n Notification) subjectLine() string {
	if n.Template == TemplateMailReceivedAfterCancellation {
		return "New mail received for your closed account"
	}
	return "You have new mail"
}

func (n Notification) textBody() string {
	var b strings.Builder
	greeting := n.Name
	if greeting == "" {
		greeting = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", greeting)
	b.WriteString("A new item of post has been scanned into your mailbox.\r\n\r\n")
	if n.SenderName != "" {
		fmt.Fprintf(&b, "From: %s\r\n", n.SenderName)
	}
	if n.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	}
	if n.Tag != "" {
		fmt.Fprintf(&b, "Category: %s\r\n", n.Tag)
	}
	fmt.Fprintf(&b, "Received: %s\r\n", n.ReceivedAt.Format("2 January 2006"))
	if n.Template == TemplateMailReceivedAfterCancellation {
		b.WriteString("\r\nYour subscription has ended. Reactivate it to view or forward this item.\r\n")
	}
	return b.String()
}

// LogNotifier 只写日志，未配置 SMTP 时使用
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify 记录通知内容
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info("mail notification",
		zap.String("template", n.Template),
		zap.Int64("user_id", n.UserID),
		zap.String("mail_item_id", n.MailItemID),
		zap.String("tag", n.Tag),
	)
	return nil
}
