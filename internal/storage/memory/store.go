package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// Store 使用内存保存全部数据，主要用于开发验证与服务层测试。
//
// 转寄事务持有写锁并在暂存副本上执行，fn 成功后整体提交，失败则丢弃。
type Store struct {
	mu sync.RWMutex

	users       map[int64]domain.User
	mailItems   map[string]domain.MailItem // id -> item
	byKey       map[string]string          // idempotency_key -> id
	forwarding  map[string]domain.ForwardingRequest
	charges     map[string]domain.Charge // type|related_type|related_id -> charge
	outbox      []domain.ForwardingOutboxEvent
	slots       map[int64]domain.AddressSlot
	nextSlotID  int64
	webhookLogs []domain.WebhookLogEntry

	chargesUnavailable bool
	outboxErr          error
	now                func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option 内存存储选项
type Option func(*Store)

// WithoutChargesTable 模拟费用表尚未创建的部署
func WithoutChargesTable() Option {
	return func(s *Store) {
		s.chargesUnavailable = true
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore 创建一个内存存储实例。
func NewStore(opts ...Option) *Store {
	s := &Store{
		users:      make(map[int64]domain.User),
		mailItems:  make(map[string]domain.MailItem),
		byKey:      make(map[string]string),
		forwarding: make(map[string]domain.ForwardingRequest),
		charges:    make(map[string]domain.Charge),
		slots:      make(map[int64]domain.AddressSlot),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailOutboxWith 让后续出站事件写入返回 err，传 nil 恢复正常
func (s *Store) FailOutboxWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxErr = err
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error {
	return nil
}

// ========== Users ==========

// SaveUser 写入用户
func (s *Store) SaveUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

// ========== Mail items ==========

// GetMailItem 根据 ID 获取邮件
func (s *Store) GetMailItem(_ context.Context, id string) (*domain.MailItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.mailItems[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &item, nil
}

// GetMailItemByKey 根据幂等键获取邮件
func (s *Store) GetMailItemByKey(_ context.Context, idempotencyKey string) (*domain.MailItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[idempotencyKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	item := s.mailItems[id]
	return &item, nil
}

// SaveMailItem 直接写入邮件
func (s *Store) SaveMailItem(_ context.Context, item *domain.MailItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	s.mailItems[item.ID] = *item
	s.byKey[item.IdempotencyKey] = item.ID
	return nil
}

// UpsertMailItem 按幂等键插入或覆盖派生字段，保留 created_at、status、deleted 与销毁日期
func (s *Store) UpsertMailItem(_ context.Context, item *domain.MailItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, exists := s.byKey[item.IdempotencyKey]
	if !exists {
		item.CreatedAt = now
		item.UpdatedAt = now
		s.mailItems[item.ID] = *item
		s.byKey[item.IdempotencyKey] = item.ID
		return true, nil
	}

	current := s.mailItems[id]
	current.UserID = item.UserID
	current.Subject = item.Subject
	current.SenderName = item.SenderName
	current.Tag = item.Tag
	current.ReceivedAt = item.ReceivedAt
	current.FileName = item.FileName
	current.FileURL = item.FileURL
	current.Path = item.Path
	current.Size = item.Size
	current.UpdatedAt = now
	s.mailItems[id] = current
	*item = current
	return false, nil
}

// SoftDeleteMailItem 设置删除标记
func (s *Store) SoftDeleteMailItem(_ context.Context, idempotencyKey string) (*domain.MailItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[idempotencyKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	item := s.mailItems[id]
	if !item.Deleted {
		item.Deleted = true
		item.UpdatedAt = s.now()
		s.mailItems[id] = item
	}
	return &item, nil
}

// ========== Forwarding ==========

// GetForwardingRequest 根据 ID 获取转寄请求
func (s *Store) GetForwardingRequest(_ context.Context, id string) (*domain.ForwardingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.forwarding[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &req, nil
}

// SaveForwardingRequest 直接写入转寄请求，测试中用于构造历史数据
func (s *Store) SaveForwardingRequest(_ context.Context, req *domain.ForwardingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarding[req.ID] = *req
	return nil
}

// Charges 返回全部费用记录
func (s *Store) Charges() []domain.Charge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	charges := make([]domain.Charge, 0, len(s.charges))
	for _, charge := range s.charges {
		charges = append(charges, charge)
	}
	return charges
}

// OutboxEvents 按写入顺序返回全部出站事件
func (s *Store) OutboxEvents() []domain.ForwardingOutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ForwardingOutboxEvent(nil), s.outbox...)
}

// ForwardingRequests 返回某封邮件的全部转寄请求
func (s *Store) ForwardingRequests(mailItemID string) []domain.ForwardingRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var reqs []domain.ForwardingRequest
	for _, req := range s.forwarding {
		if req.MailItemID == mailItemID {
			reqs = append(reqs, req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	return reqs
}

// WithinForwardingTx 在暂存副本上执行 fn，成功后一次性提交
func (s *Store) WithinForwardingTx(ctx context.Context, fn func(tx storage.ForwardingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:      s,
		forwarding: make(map[string]domain.ForwardingRequest, len(s.forwarding)),
		charges:    make(map[string]domain.Charge, len(s.charges)),
		outbox:     append([]domain.ForwardingOutboxEvent(nil), s.outbox...),
	}
	for id, req := range s.forwarding {
		tx.forwarding[id] = req
	}
	for key, charge := range s.charges {
		tx.charges[key] = charge
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.forwarding = tx.forwarding
	s.charges = tx.charges
	s.outbox = tx.outbox
	return nil
}

// memoryTx 转寄事务的暂存副本，调用方已持有 Store 写锁
type memoryTx struct {
	store      *Store
	forwarding map[string]domain.ForwardingRequest
	charges    map[string]domain.Charge
	outbox     []domain.ForwardingOutboxEvent
}

func (t *memoryTx) CreateOrGetActiveForwarding(_ context.Context, req *domain.ForwardingRequest) (*domain.ForwardingRequest, bool, error) {
	for _, existing := range t.forwarding {
		if existing.UserID == req.UserID && existing.MailItemID == req.MailItemID && existing.Status.IsActive() {
			found := existing
			return &found, false, nil
		}
	}
	now := t.store.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	t.forwarding[req.ID] = *req
	return req, true, nil
}

func (t *memoryTx) LockForwardingRequest(_ context.Context, id string) (*domain.ForwardingRequest, error) {
	req, ok := t.forwarding[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &req, nil
}

func (t *memoryTx) UpdateForwardingStatus(_ context.Context, req *domain.ForwardingRequest, from domain.ForwardingStatus) error {
	current, ok := t.forwarding[req.ID]
	if !ok || current.Status.Normalize() != from.Normalize() {
		return storage.ErrStaleStatus
	}
	t.forwarding[req.ID] = *req
	return nil
}

func (t *memoryTx) InsertChargeIfAbsent(_ context.Context, charge *domain.Charge) (*domain.Charge, error) {
	if t.store.chargesUnavailable {
		return nil, storage.ErrChargesUnavailable
	}
	key := strings.Join([]string{charge.Type, charge.RelatedType, charge.RelatedID}, "|")
	if existing, ok := t.charges[key]; ok {
		return &existing, nil
	}
	charge.CreatedAt = t.store.now()
	t.charges[key] = *charge
	return charge, nil
}

func (t *memoryTx) InsertOutboxEvent(_ context.Context, event *domain.ForwardingOutboxEvent) error {
	if t.store.outboxErr != nil {
		return t.store.outboxErr
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = t.store.now()
	}
	t.outbox = append(t.outbox, *event)
	return nil
}

// ========== Address slots ==========

// FindAssignedSlot 查询用户当前持有的槽位
func (s *Store) FindAssignedSlot(_ context.Context, userID int64) (*domain.AddressSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slot, ok := s.assignedTo(userID); ok {
		return &slot, nil
	}
	return nil, storage.ErrNotFound
}

func (s *Store) assignedTo(userID int64) (domain.AddressSlot, bool) {
	for _, slot := range s.slots {
		if slot.Status == domain.SlotAssigned && slot.AssigneeID != nil && *slot.AssigneeID == userID {
			return slot, true
		}
	}
	return domain.AddressSlot{}, false
}

// ClaimAvailableSlot 领取该地点 ID 最小的空闲槽
func (s *Store) ClaimAvailableSlot(_ context.Context, userID int64, locationID string, at time.Time) (*domain.AddressSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignedTo(userID); ok {
		return nil, storage.ErrAlreadyAssigned
	}

	var candidate *domain.AddressSlot
	for id := range s.slots {
		slot := s.slots[id]
		if slot.LocationID != locationID || slot.Status != domain.SlotAvailable {
			continue
		}
		if candidate == nil || slot.ID < candidate.ID {
			candidate = &slot
		}
	}
	if candidate == nil {
		return nil, storage.ErrNoAvailability
	}

	assignee := userID
	candidate.Status = domain.SlotAssigned
	candidate.AssigneeID = &assignee
	candidate.AssignedAt = &at
	candidate.UpdatedAt = at
	s.slots[candidate.ID] = *candidate
	return candidate, nil
}

// ReleaseSlot 归还用户持有的槽位
func (s *Store) ReleaseSlot(_ context.Context, userID int64) (*domain.AddressSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.assignedTo(userID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	slot.Status = domain.SlotAvailable
	slot.AssigneeID = nil
	slot.AssignedAt = nil
	slot.UpdatedAt = s.now()
	s.slots[slot.ID] = slot
	return &slot, nil
}

// AddSlots 登记新槽位并分配自增 ID
func (s *Store) AddSlots(_ context.Context, slots []*domain.AddressSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, slot := range slots {
		s.nextSlotID++
		slot.ID = s.nextSlotID
		if slot.Status == "" {
			slot.Status = domain.SlotAvailable
		}
		slot.CreatedAt = now
		slot.UpdatedAt = now
		s.slots[slot.ID] = *slot
	}
	return nil
}

// ========== Webhook log ==========

// AppendWebhookLog 追加审计记录
func (s *Store) AppendWebhookLog(_ context.Context, entry *domain.WebhookLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.webhookLogs = append(s.webhookLogs, *entry)
	return nil
}

// WebhookLogs 返回全部审计记录
func (s *Store) WebhookLogs() []domain.WebhookLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WebhookLogEntry(nil), s.webhookLogs...)
}
