package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/notify"
	"mailroom/backend/internal/storage/memory"
)

// recordingNotifier 记录收到的通知
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) Sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

// panicHook 模拟实现有缺陷的钩子
type panicHook struct{}

func (panicHook) Name() string { return "panic" }

func (panicHook) AfterIngest(context.Context, IngestOutcome) error {
	panic("boom")
}

type failingHook struct{}

func (failingHook) Name() string { return "failing" }

func (failingHook) AfterIngest(context.Context, IngestOutcome) error {
	return errors.New("downstream unavailable")
}

type ingestFixture struct {
	svc      *IngestService
	store    *memory.Store
	notifier *recordingNotifier
}

func newIngestFixture(t *testing.T, extra ...PostCommitHook) *ingestFixture {
	t.Helper()
	store := memory.NewStore(memory.WithClock(func() time.Time { return fixedNow }))
	notifier := &recordingNotifier{}
	hooks := append([]PostCommitHook{NewAuditLogHook(store)}, extra...)
	hooks = append(hooks, NewNotificationHook(notifier))

	svc := NewIngestService(store, store, store, "onedrive", testMetrics(), zap.NewNop(), hooks...)
	svc.SetClock(func() time.Time { return fixedNow })

	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, &domain.User{ID: 123, Email: "jane@example.com", Name: "Jane", SubscriptionStatus: domain.SubscriptionActive}))
	require.NoError(t, store.SaveUser(ctx, &domain.User{ID: 456, Email: "old@example.com", SubscriptionStatus: domain.SubscriptionCancelled}))
	return &ingestFixture{svc: svc, store: store, notifier: notifier}
}

func decodeEvent(t *testing.T, raw string) *domain.IngestEvent {
	t.Helper()
	var event domain.IngestEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return &event
}

func TestIngestService_OwnerResolution(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		event string
		owner int64
	}{
		{"载荷中的数字 ID", `{"itemId":"A1","userId":123,"name":"scan.pdf"}`, 123},
		{"载荷中的字符串 ID", `{"itemId":"A1","userId":"123","name":"scan.pdf"}`, 123},
		{"文件名前缀", `{"itemId":"A1","name":"user123_12-03-2024_hmrc.pdf"}`, 123},
		{"无法解析的载荷 ID 回落到文件名", `{"itemId":"A1","userId":"abc","name":"user456_letter.pdf"}`, 456},
		{"URL 路径兜底", `{"itemId":"A1","name":"scan.pdf","webUrl":"https://files.example.com/users/123/scan.pdf"}`, 123},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t)
			result, err := f.svc.Handle(ctx, decodeEvent(t, tt.event), []byte(tt.event))
			require.NoError(t, err)
			assert.Equal(t, tt.owner, result.UserID)
			assert.Equal(t, domain.IngestActionCreated, result.Action)
		})
	}
}

func TestIngestService_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("缺少 itemId", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.svc.Handle(ctx, decodeEvent(t, `{"userId":123,"name":"scan.pdf"}`), nil)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		assert.Equal(t, domain.CodeMissingItemID, domain.CodeOf(err))
	})

	t.Run("无法确定所有者时给出提示", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","name":"scan.pdf"}`), nil)
		require.Error(t, err)
		assert.Equal(t, domain.CodeMissingUserID, domain.CodeOf(err))

		var de *domain.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "scan.pdf", de.Details["filename"])
		assert.Contains(t, de.Details["hint"], "user<id>_")
	})

	t.Run("用户不存在", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":999,"name":"scan.pdf"}`), nil)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
		assert.Equal(t, domain.CodeUserNotFound, domain.CodeOf(err))

		_, err = f.store.GetMailItemByKey(ctx, "onedrive:A1")
		assert.Error(t, err)
	})

	t.Run("拒绝的投递写入审计日志", func(t *testing.T) {
		f := newIngestFixture(t)
		event := decodeEvent(t, `{"itemId":"A1","userId":999}`)
		_, err := f.svc.Handle(ctx, event, nil)
		require.Error(t, err)

		f.svc.RecordRejected(ctx, event, []byte(`{"itemId":"A1","userId":999}`), err)
		logs := f.store.WebhookLogs()
		require.Len(t, logs, 1)
		assert.Equal(t, domain.WebhookOutcomeRejected, logs[0].Outcome)
		assert.Equal(t, domain.CodeUserNotFound, logs[0].ErrorCode)
		require.NotNil(t, logs[0].UserID)
		assert.Equal(t, int64(999), *logs[0].UserID)
	})
}

func TestIngestService_Metadata(t *testing.T) {
	ctx := context.Background()

	t.Run("文件名日期与标签", func(t *testing.T) {
		f := newIngestFixture(t)
		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","name":"user123_12-03-2024_hmrc.pdf"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, "hmrc", result.Tag)
		assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC).UnixMilli(), result.ReceivedAt)
	})

	t.Run("ISO 日期", func(t *testing.T) {
		f := newIngestFixture(t)
		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"2024-05-20 council.pdf"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC).UnixMilli(), result.ReceivedAt)
		assert.Equal(t, "council", result.Tag)
	})

	t.Run("无日期时使用入库时间", func(t *testing.T) {
		f := newIngestFixture(t)
		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, fixedNow.UnixMilli(), result.ReceivedAt)
	})

	tests := []struct {
		name  string
		event string
		tag   string
	}{
		{"载荷标签优先", `{"itemId":"A1","userId":123,"tag":"Companies House","name":"bank.pdf"}`, "companies_house"},
		{"未知载荷标签回落到文件名", `{"itemId":"A1","userId":123,"tag":"misc stuff","name":"dvla.pdf"}`, "dvla"},
		{"关键词分类", `{"itemId":"A1","userId":123,"name":"scan.pdf","sender":"Barclays Bank UK"}`, "bank"},
		{"无线索时为 other", `{"itemId":"A1","userId":123,"name":"scan.pdf"}`, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t)
			result, err := f.svc.Handle(ctx, decodeEvent(t, tt.event), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.tag, result.Tag)
		})
	}
}

func TestIngestService_Redelivery(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	first, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf","size":100}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestActionCreated, first.Action)

	second, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf","size":2048}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestActionUpdated, second.Action)
	assert.Equal(t, first.MailItemID, second.MailItemID)

	item, err := f.store.GetMailItemByKey(ctx, "onedrive:A1")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), item.Size)

	// 只在首次入库时通知
	assert.Len(t, f.notifier.Sent(), 1)
	assert.Len(t, f.store.WebhookLogs(), 2)
}

func TestIngestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("删除已入库的文件", func(t *testing.T) {
		f := newIngestFixture(t)
		created, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)

		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","event":"deleted"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.IngestActionDeleted, result.Action)
		assert.Equal(t, created.MailItemID, result.MailItemID)

		item, err := f.store.GetMailItem(ctx, created.MailItemID)
		require.NoError(t, err)
		assert.True(t, item.Deleted)

		// 重复删除保持幂等
		result, err = f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","event":"deleted"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.IngestActionDeleted, result.Action)
	})

	t.Run("删除未知文件被忽略", func(t *testing.T) {
		f := newIngestFixture(t)
		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"nope","event":"deleted"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.IngestActionIgnored, result.Action)
		assert.Empty(t, f.notifier.Sent())
	})

	t.Run("删除后重投不会复活", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)
		_, err = f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","event":"deleted"}`), nil)
		require.NoError(t, err)

		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.IngestActionUpdated, result.Action)

		item, err := f.store.GetMailItemByKey(ctx, "onedrive:A1")
		require.NoError(t, err)
		assert.True(t, item.Deleted)
	})
}

func TestIngestService_Hooks(t *testing.T) {
	ctx := context.Background()

	t.Run("钩子 panic 不影响入库与其他钩子", func(t *testing.T) {
		f := newIngestFixture(t, panicHook{}, failingHook{})
		result, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.IngestActionCreated, result.Action)

		assert.Len(t, f.store.WebhookLogs(), 1)
		assert.Len(t, f.notifier.Sent(), 1)
	})

	t.Run("通知失败不影响结果", func(t *testing.T) {
		f := newIngestFixture(t)
		f.notifier.err = notify.ErrNoRecipient
		_, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)
	})

	t.Run("已取消订阅的用户使用专用模板", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.svc.Handle(ctx, decodeEvent(t, `{"itemId":"A1","userId":456,"name":"scan.pdf","subject":"Tax"}`), nil)
		require.NoError(t, err)

		sent := f.notifier.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, notify.TemplateMailReceivedAfterCancellation, sent[0].Template)
		assert.Equal(t, "old@example.com", sent[0].Email)
	})

	t.Run("已取消的上下文仍执行钩子", func(t *testing.T) {
		f := newIngestFixture(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.svc.Handle(cancelled, decodeEvent(t, `{"itemId":"A1","userId":123,"name":"scan.pdf"}`), nil)
		require.NoError(t, err)
		assert.Len(t, f.notifier.Sent(), 1)
	})
}

func TestIngestService_ConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	var wg sync.WaitGroup
	results := make([]*IngestResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := fmt.Sprintf(`{"itemId":"A1","userId":123,"name":"scan.pdf","size":%d}`, i+1)
			var event domain.IngestEvent
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				return
			}
			result, err := f.svc.Handle(ctx, &event, []byte(raw))
			if assert.NoError(t, err) {
				results[i] = result
			}
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].MailItemID, r.MailItemID)
		if r.Action == domain.IngestActionCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, f.notifier.Sent(), 1)
}
