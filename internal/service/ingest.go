package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/mailmeta"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// 元数据来源名称
const (
	sourcePayload    = "payload"
	sourceFilename   = "filename"
	sourceURL        = "url"
	sourceKeywords   = "keywords"
	sourceWallClock  = "ingested_at"
	sourceDefaultTag = "default"
)

// IngestService 处理外部文件同步集成推送的邮件事件。
//
// 同一外部文件以 "<来源前缀>:<itemId>" 为自然键，重复或乱序投递都收敛到同一行。
type IngestService struct {
	users   storage.UserRepository
	mail    storage.MailItemRepository
	logs    storage.WebhookLogRepository
	hooks   []PostCommitHook
	prefix  string
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewIngestService 创建入库服务。
func NewIngestService(
	users storage.UserRepository,
	mail storage.MailItemRepository,
	logs storage.WebhookLogRepository,
	sourcePrefix string,
	metrics *monitoring.Metrics,
	log *zap.Logger,
	hooks ...PostCommitHook,
) *IngestService {
	return &IngestService{
		users:   users,
		mail:    mail,
		logs:    logs,
		hooks:   hooks,
		prefix:  sourcePrefix,
		metrics: metrics,
		log:     log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock 替换时间源
func (s *IngestService) SetClock(now func() time.Time) {
	s.now = now
}

// Source 来源前缀
func (s *IngestService) Source() string {
	return s.prefix
}

// IngestResult 入库结果
type IngestResult struct {
	Action     string
	MailItemID string
	UserID     int64
	Tag        string
	ReceivedAt int64
}

// Handle 处理一次 Webhook 投递，payload 为原始请求体，仅用于审计。
func (s *IngestService) Handle(ctx context.Context, event *domain.IngestEvent, payload []byte) (*IngestResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveIngest(time.Since(start))
	}()

	itemID := strings.TrimSpace(event.ItemID.String())
	if itemID == "" {
		return nil, domain.Validation(domain.CodeMissingItemID, "itemId is required to identify the external file")
	}
	key := s.prefix + ":" + itemID

	if event.IsDelete() {
		return s.handleDelete(ctx, event, payload, key)
	}

	ownerID, err := s.resolveOwner(event)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeUserNotFound, "No user exists for the resolved owner id").
				WithDetails(map[string]interface{}{"userId": ownerID})
		}
		return nil, domain.Internal("failed to load user", err)
	}

	receivedAt := s.resolveReceivedAt(event)
	tag := s.resolveTag(event)

	item := &domain.MailItem{
		ID:             uuid.NewString(),
		UserID:         ownerID,
		IdempotencyKey: key,
		Subject:        strings.TrimSpace(event.Subject),
		SenderName:     strings.TrimSpace(event.Sender),
		Tag:            tag,
		Status:         domain.MailReceived,
		ReceivedAt:     receivedAt.UnixMilli(),
		FileName:       event.Name,
		FileURL:        event.WebURL,
		Path:           event.Path,
	}
	if event.Size != nil {
		item.Size = *event.Size
	}

	created, err := s.mail.UpsertMailItem(ctx, item)
	if err != nil {
		s.log.Error("mail item upsert failed",
			zap.String("idempotency_key", key),
			zap.Int64("user_id", ownerID),
			zap.Error(err),
		)
		return nil, domain.Internal("failed to store mail item", err)
	}

	action := domain.IngestActionUpdated
	if created {
		action = domain.IngestActionCreated
	}
	s.metrics.RecordWebhook(action, domain.WebhookOutcomeOK)
	s.log.Info("mail item ingested",
		zap.String("action", action),
		zap.String("mail_item_id", item.ID),
		zap.Int64("user_id", ownerID),
		zap.String("tag", item.Tag),
	)

	runHooks(ctx, s.hooks, IngestOutcome{
		Source:  s.prefix,
		Event:   event,
		Payload: payload,
		Action:  action,
		Item:    item,
		User:    user,
		Created: created,
	}, s.metrics, s.log)

	return &IngestResult{
		Action:     action,
		MailItemID: item.ID,
		UserID:     item.UserID,
		Tag:        item.Tag,
		ReceivedAt: item.ReceivedAt,
	}, nil
}

// handleDelete 软删除，重复删除或删除未知文件都不是错误
func (s *IngestService) handleDelete(ctx context.Context, event *domain.IngestEvent, payload []byte, key string) (*IngestResult, error) {
	item, err := s.mail.SoftDeleteMailItem(ctx, key)
	action := domain.IngestActionDeleted
	switch {
	case errors.Is(err, storage.ErrNotFound):
		action = domain.IngestActionIgnored
		item = nil
	case err != nil:
		return nil, domain.Internal("failed to delete mail item", err)
	}

	s.metrics.RecordWebhook(action, domain.WebhookOutcomeOK)
	s.log.Info("mail delete event processed", zap.String("idempotency_key", key), zap.String("action", action))

	runHooks(ctx, s.hooks, IngestOutcome{
		Source:  s.prefix,
		Event:   event,
		Payload: payload,
		Action:  action,
		Item:    item,
	}, s.metrics, s.log)

	result := &IngestResult{Action: action}
	if item != nil {
		result.MailItemID = item.ID
		result.UserID = item.UserID
		result.Tag = item.Tag
		result.ReceivedAt = item.ReceivedAt
	}
	return result, nil
}

// resolveOwner 载荷 → 文件名 → URL，URL 只是兜底手段
func (s *IngestService) resolveOwner(event *domain.IngestEvent) (int64, error) {
	ownerID, source, ok := mailmeta.Resolve(
		mailmeta.Bind[int64](sourcePayload, event.UserID.String(), mailmeta.OwnerFromID),
		mailmeta.Bind[int64](sourceFilename, event.Name, mailmeta.OwnerStrategies...),
		mailmeta.Bind[int64](sourceURL, event.WebURL, mailmeta.OwnerFromURL),
	)
	if !ok {
		return 0, domain.Validation(domain.CodeMissingUserID, "Could not determine the owning user for this file").
			WithDetails(map[string]interface{}{
				"hint":     "send userId in the payload or prefix the filename with user<id>_, e.g. user123_12-03-2024_hmrc.pdf",
				"filename": event.Name,
			})
	}

	if source != sourcePayload {
		s.metrics.RecordFallback("owner", source)
	}
	if source == sourceURL {
		s.log.Warn("owner recovered from file URL",
			zap.Int64("user_id", ownerID),
			zap.String("filename", event.Name),
			zap.String("web_url", event.WebURL),
		)
	}
	return ownerID, nil
}

// resolveReceivedAt 文件名中的日期 → 入库时间，上游的修改时间不参与
func (s *IngestService) resolveReceivedAt(event *domain.IngestEvent) time.Time {
	at, source, _ := mailmeta.Resolve(
		mailmeta.Bind[time.Time](sourceFilename, event.Name, mailmeta.DateStrategies...),
		mailmeta.Source[time.Time]{
			Name: sourceWallClock,
			Resolve: func() (time.Time, bool) {
				return s.now(), true
			},
		},
	)
	if source != sourceFilename {
		s.metrics.RecordFallback("received_at", source)
	}
	return at
}

// resolveTag 载荷 → 文件名 → 关键词 → other
func (s *IngestService) resolveTag(event *domain.IngestEvent) string {
	tag, source, ok := mailmeta.Resolve(
		mailmeta.Bind[string](sourcePayload, event.Tag, mailmeta.TagFromText),
		mailmeta.Bind[string](sourceFilename, event.Name, mailmeta.TagStrategies...),
		mailmeta.Source[string]{
			Name: sourceKeywords,
			Resolve: func() (string, bool) {
				return mailmeta.ClassifyText(event.Name, event.Sender, event.Subject)
			},
		},
	)
	if !ok {
		tag, source = mailmeta.TagOther, sourceDefaultTag
	}
	if source != sourcePayload {
		s.metrics.RecordFallback("tag", source)
	}
	return tag
}

// RecordRejected 记录未能入库的投递，尽力而为
func (s *IngestService) RecordRejected(ctx context.Context, event *domain.IngestEvent, payload []byte, cause error) {
	outcome := domain.WebhookOutcomeRejected
	if domain.KindOf(cause) == domain.KindInternal {
		outcome = domain.WebhookOutcomeFailed
	}
	s.metrics.RecordWebhook("none", outcome)

	entry := &domain.WebhookLogEntry{
		ID:        uuid.NewString(),
		Source:    s.prefix,
		Outcome:   outcome,
		ErrorCode: domain.CodeOf(cause),
		Payload:   string(payload),
	}
	if event != nil {
		entry.Event = event.Event
		entry.ItemID = event.ItemID.String()
		if id, ok := mailmeta.OwnerFromID(event.UserID.String()); ok {
			entry.UserID = &id
		}
	}
	if err := s.logs.AppendWebhookLog(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Warn("failed to record rejected webhook", zap.String("error_code", entry.ErrorCode), zap.Error(err))
	}
}
