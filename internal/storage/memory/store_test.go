package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

func TestMemoryStore_MailItemOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	item := &domain.MailItem{
		ID:             "item-1",
		UserID:         1,
		IdempotencyKey: "onedrive:abc",
		Tag:            "bank",
		Status:         domain.MailReceived,
		Size:           10,
	}
	created, err := store.UpsertMailItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)

	redelivery := &domain.MailItem{
		ID:             "item-2",
		UserID:         1,
		IdempotencyKey: "onedrive:abc",
		Tag:            "bank",
		Size:           99,
	}
	created, err = store.UpsertMailItem(ctx, redelivery)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "item-1", redelivery.ID)
	assert.Equal(t, int64(99), redelivery.Size)
	assert.Equal(t, domain.MailReceived, redelivery.Status)

	deleted, err := store.SoftDeleteMailItem(ctx, "onedrive:abc")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, err = store.SoftDeleteMailItem(ctx, "onedrive:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_ForwardingTx(t *testing.T) {
	ctx := context.Background()

	newReq := func(id string) *domain.ForwardingRequest {
		return &domain.ForwardingRequest{ID: id, UserID: 1, MailItemID: "item-1", Status: domain.ForwardingRequested}
	}

	t.Run("失败时整体丢弃", func(t *testing.T) {
		store := NewStore()
		store.FailOutboxWith(errors.New("boom"))

		err := store.WithinForwardingTx(ctx, func(tx storage.ForwardingTx) error {
			if _, _, err := tx.CreateOrGetActiveForwarding(ctx, newReq("req-1")); err != nil {
				return err
			}
			if _, err := tx.InsertChargeIfAbsent(ctx, &domain.Charge{ID: "c1", Type: "t", RelatedType: "r", RelatedID: "req-1"}); err != nil {
				return err
			}
			return tx.InsertOutboxEvent(ctx, &domain.ForwardingOutboxEvent{ID: "e1"})
		})
		require.Error(t, err)
		assert.Empty(t, store.ForwardingRequests("item-1"))
		assert.Empty(t, store.Charges())
		assert.Empty(t, store.OutboxEvents())
	})

	t.Run("活跃请求去重", func(t *testing.T) {
		store := NewStore()
		for _, id := range []string{"req-1", "req-2"} {
			err := store.WithinForwardingTx(ctx, func(tx storage.ForwardingTx) error {
				_, _, err := tx.CreateOrGetActiveForwarding(ctx, newReq(id))
				return err
			})
			require.NoError(t, err)
		}
		reqs := store.ForwardingRequests("item-1")
		require.Len(t, reqs, 1)
		assert.Equal(t, "req-1", reqs[0].ID)
	})

	t.Run("费用表缺失", func(t *testing.T) {
		store := NewStore(WithoutChargesTable())
		err := store.WithinForwardingTx(ctx, func(tx storage.ForwardingTx) error {
			_, err := tx.InsertChargeIfAbsent(ctx, &domain.Charge{ID: "c1"})
			return err
		})
		assert.ErrorIs(t, err, storage.ErrChargesUnavailable)
	})
}

func TestMemoryStore_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.AddSlots(ctx, []*domain.AddressSlot{
		{LocationID: "london"},
		{LocationID: "london"},
		{LocationID: "london"},
	}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[int64]int64{}
		misses  int
	)
	for user := int64(1); user <= 10; user++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			slot, err := store.ClaimAvailableSlot(ctx, userID, "london", time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, storage.ErrNoAvailability)
				misses++
				return
			}
			claimed[slot.ID] = userID
		}(user)
	}
	wg.Wait()

	assert.Len(t, claimed, 3)
	assert.Equal(t, 7, misses)
}
