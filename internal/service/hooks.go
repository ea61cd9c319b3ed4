package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/notify"
	"mailroom/backend/internal/storage"
)

// IngestOutcome 一次已提交的入库结果，交给后置钩子
type IngestOutcome struct {
	Source  string
	Event   *domain.IngestEvent
	Payload []byte
	Action  string
	Item    *domain.MailItem // 删除一个不存在的文件时为 nil
	User    *domain.User     // 删除事件不解析用户
	Created bool
}

// PostCommitHook 入库提交后的尽力而为副作用，失败不回滚已提交的写入
type PostCommitHook interface {
	Name() string
	AfterIngest(ctx context.Context, outcome IngestOutcome) error
}

// runHooks 依次执行钩子，每个钩子独立捕获错误与 panic。
// 主写入已提交，调用方断开连接不应中断钩子。
func runHooks(ctx context.Context, hooks []PostCommitHook, outcome IngestOutcome, metrics *monitoring.Metrics, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, hook := range hooks {
		runHook(ctx, hook, outcome, metrics, log)
	}
}

func runHook(ctx context.Context, hook PostCommitHook, outcome IngestOutcome, metrics *monitoring.Metrics, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHookFailure(hook.Name())
			log.Error("post-commit hook panicked",
				zap.String("hook", hook.Name()),
				zap.Any("panic", r),
			)
		}
	}()

	if err := hook.AfterIngest(ctx, outcome); err != nil {
		metrics.RecordHookFailure(hook.Name())
		log.Warn("post-commit hook failed",
			zap.String("hook", hook.Name()),
			zap.String("action", outcome.Action),
			zap.Error(err),
		)
	}
}

// NotificationHook 首次入库时通知邮件所有者
type NotificationHook struct {
	notifier notify.Notifier
}

// NewNotificationHook 创建通知钩子
func NewNotificationHook(notifier notify.Notifier) *NotificationHook {
	return &NotificationHook{notifier: notifier}
}

// Name 钩子名称
func (h *NotificationHook) Name() string {
	return "notification"
}

// AfterIngest 仅在新建时发送，重投与删除不重复通知
func (h *NotificationHook) AfterIngest(ctx context.Context, outcome IngestOutcome) error {
	if !outcome.Created || outcome.User == nil || outcome.Item == nil {
		return nil
	}
	return h.notifier.Notify(ctx, notify.NewMailNotification(outcome.User, outcome.Item))
}

// AuditLogHook 追加 Webhook 审计记录
type AuditLogHook struct {
	repo storage.WebhookLogRepository
}

// NewAuditLogHook 创建审计钩子
func NewAuditLogHook(repo storage.WebhookLogRepository) *AuditLogHook {
	return &AuditLogHook{repo: repo}
}

// Name 钩子名称
func (h *AuditLogHook) Name() string {
	return "audit_log"
}

// AfterIngest 记录处理成功的投递
func (h *AuditLogHook) AfterIngest(ctx context.Context, outcome IngestOutcome) error {
	entry := &domain.WebhookLogEntry{
		ID:      uuid.NewString(),
		Source:  outcome.Source,
		Action:  outcome.Action,
		Outcome: domain.WebhookOutcomeOK,
		Payload: string(outcome.Payload),
	}
	if outcome.Event != nil {
		entry.Event = outcome.Event.Event
		entry.ItemID = outcome.Event.ItemID.String()
	}
	if outcome.Item != nil {
		userID := outcome.Item.UserID
		entry.UserID = &userID
	}
	if err := h.repo.AppendWebhookLog(ctx, entry); err != nil {
		return fmt.Errorf("append webhook log: %w", err)
	}
	return nil
}
