package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/memory"
)

// mockSlotRepository 用于模拟并发领取竞争失败的仓储
type mockSlotRepository struct {
	mock.Mock
}

func (m *mockSlotRepository) FindAssignedSlot(ctx context.Context, userID int64) (*domain.AddressSlot, error) {
	args := m.Called(ctx, userID)
	slot, _ := args.Get(0).(*domain.AddressSlot)
	return slot, args.Error(1)
}

func (m *mockSlotRepository) ClaimAvailableSlot(ctx context.Context, userID int64, locationID string, at time.Time) (*domain.AddressSlot, error) {
	args := m.Called(ctx, userID, locationID, at)
	slot, _ := args.Get(0).(*domain.AddressSlot)
	return slot, args.Error(1)
}

func (m *mockSlotRepository) ReleaseSlot(ctx context.Context, userID int64) (*domain.AddressSlot, error) {
	args := m.Called(ctx, userID)
	slot, _ := args.Get(0).(*domain.AddressSlot)
	return slot, args.Error(1)
}

func (m *mockSlotRepository) AddSlots(ctx context.Context, slots []*domain.AddressSlot) error {
	return m.Called(ctx, slots).Error(0)
}

func newAllocatorFixture(t *testing.T, labels ...string) (*SlotAllocator, *memory.Store) {
	t.Helper()
	store := memory.NewStore(memory.WithClock(func() time.Time { return fixedNow }))
	allocator := NewSlotAllocator(store, testMetrics(), zap.NewNop())
	if len(labels) > 0 {
		_, err := allocator.AddSlots(context.Background(), "london", labels)
		require.NoError(t, err)
	}
	return allocator, store
}

func TestSlotAllocator_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("领取并重复领取", func(t *testing.T) {
		allocator, _ := newAllocatorFixture(t, "Suite 1", "Suite 2")

		slot, assigned, err := allocator.Claim(ctx, 7, "london")
		require.NoError(t, err)
		assert.True(t, assigned)
		assert.Equal(t, "Suite 1", slot.Label)
		require.NotNil(t, slot.AssigneeID)
		assert.Equal(t, int64(7), *slot.AssigneeID)

		again, assigned, err := allocator.Claim(ctx, 7, "london")
		require.NoError(t, err)
		assert.False(t, assigned)
		assert.Equal(t, slot.ID, again.ID)
	})

	t.Run("无可用槽位", func(t *testing.T) {
		allocator, _ := newAllocatorFixture(t, "Suite 1")
		_, _, err := allocator.Claim(ctx, 7, "london")
		require.NoError(t, err)

		_, _, err = allocator.Claim(ctx, 8, "london")
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
		assert.Equal(t, domain.CodeNoAvailability, domain.CodeOf(err))

		_, _, err = allocator.Claim(ctx, 8, "manchester")
		assert.Equal(t, domain.CodeNoAvailability, domain.CodeOf(err))
	})

	t.Run("参数校验", func(t *testing.T) {
		allocator, _ := newAllocatorFixture(t)
		_, _, err := allocator.Claim(ctx, 0, "london")
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		_, _, err = allocator.Claim(ctx, 7, "  ")
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("并发竞争失败时返回胜出者的槽位", func(t *testing.T) {
		repo := &mockSlotRepository{}
		winner := &domain.AddressSlot{ID: 3, LocationID: "london", Status: domain.SlotAssigned}
		repo.On("FindAssignedSlot", mock.Anything, int64(7)).Return(nil, storage.ErrNotFound).Once()
		repo.On("ClaimAvailableSlot", mock.Anything, int64(7), "london", mock.Anything).Return(nil, storage.ErrAlreadyAssigned).Once()
		repo.On("FindAssignedSlot", mock.Anything, int64(7)).Return(winner, nil).Once()

		allocator := NewSlotAllocator(repo, testMetrics(), zap.NewNop())
		slot, assigned, err := allocator.Claim(ctx, 7, "london")
		require.NoError(t, err)
		assert.False(t, assigned)
		assert.Equal(t, int64(3), slot.ID)
		repo.AssertExpectations(t)
	})
}

func TestSlotAllocator_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	allocator, _ := newAllocatorFixture(t, "Suite 1", "Suite 2", "Suite 3")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned = map[int64]int64{}
		misses   int
	)
	for user := int64(1); user <= 10; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			slot, _, err := allocator.Claim(ctx, user, "london")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.Equal(t, domain.CodeNoAvailability, domain.CodeOf(err))
				misses++
				return
			}
			assigned[slot.ID] = user
		}(user)
	}
	wg.Wait()

	assert.Len(t, assigned, 3)
	assert.Equal(t, 7, misses)
}

func TestSlotAllocator_Release(t *testing.T) {
	ctx := context.Background()
	allocator, _ := newAllocatorFixture(t, "Suite 1")

	_, _, err := allocator.Claim(ctx, 7, "london")
	require.NoError(t, err)

	released, err := allocator.Release(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotAvailable, released.Status)
	assert.Nil(t, released.AssigneeID)

	slot, assigned, err := allocator.Claim(ctx, 8, "london")
	require.NoError(t, err)
	assert.True(t, assigned)
	assert.Equal(t, released.ID, slot.ID)

	_, err = allocator.Release(ctx, 7)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSlotAllocator_AddSlots(t *testing.T) {
	allocator, _ := newAllocatorFixture(t)

	_, err := allocator.AddSlots(context.Background(), "london", nil)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	slots, err := allocator.AddSlots(context.Background(), "london", []string{" Suite 9 "})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "Suite 9", slots[0].Label)
	assert.NotZero(t, slots[0].ID)
}
