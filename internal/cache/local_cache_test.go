package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func newTestCache(next storage.UserRepository, maxSize int) (*LocalUserCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLocalUserCache(next, maxSize, time.Minute)
	c.now = clock.Now
	return c, clock
}

func TestLocalUserCache_GetUser(t *testing.T) {
	ctx := context.Background()

	t.Run("未命中回源后命中缓存", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(7)).
			Return(&domain.User{ID: 7, Email: "a@example.com"}, nil).Once()
		c, _ := newTestCache(repo, 10)

		first, err := c.GetUser(ctx, 7)
		require.NoError(t, err)
		second, err := c.GetUser(ctx, 7)
		require.NoError(t, err)

		assert.Equal(t, "a@example.com", first.Email)
		assert.Equal(t, first, second)
		repo.AssertExpectations(t)
	})

	t.Run("返回副本", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(7)).
			Return(&domain.User{ID: 7, Email: "a@example.com"}, nil).Once()
		c, _ := newTestCache(repo, 10)

		first, err := c.GetUser(ctx, 7)
		require.NoError(t, err)
		first.Email = "changed@example.com"

		second, err := c.GetUser(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", second.Email)
	})

	t.Run("过期后回源", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(7)).
			Return(&domain.User{ID: 7, SubscriptionStatus: domain.SubscriptionActive}, nil).Once()
		repo.On("GetUser", mock.Anything, int64(7)).
			Return(&domain.User{ID: 7, SubscriptionStatus: domain.SubscriptionCancelled}, nil).Once()
		c, clock := newTestCache(repo, 10)

		_, err := c.GetUser(ctx, 7)
		require.NoError(t, err)

		clock.now = clock.now.Add(time.Minute)
		user, err := c.GetUser(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionCancelled, user.SubscriptionStatus)
		repo.AssertExpectations(t)
	})

	t.Run("不存在的用户不缓存", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(9)).Return(nil, storage.ErrNotFound).Twice()
		c, _ := newTestCache(repo, 10)

		_, err := c.GetUser(ctx, 9)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = c.GetUser(ctx, 9)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Zero(t, c.Len())
		repo.AssertExpectations(t)
	})

	t.Run("容量已满时不写入", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(1)).Return(&domain.User{ID: 1}, nil).Once()
		repo.On("GetUser", mock.Anything, int64(2)).Return(&domain.User{ID: 2}, nil).Twice()
		c, _ := newTestCache(repo, 1)

		_, err := c.GetUser(ctx, 1)
		require.NoError(t, err)
		_, err = c.GetUser(ctx, 2)
		require.NoError(t, err)
		_, err = c.GetUser(ctx, 2)
		require.NoError(t, err)

		assert.Equal(t, 1, c.Len())
		repo.AssertExpectations(t)
	})

	t.Run("容量已满时先清理过期条目", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(1)).Return(&domain.User{ID: 1}, nil).Once()
		repo.On("GetUser", mock.Anything, int64(2)).Return(&domain.User{ID: 2}, nil).Once()
		c, clock := newTestCache(repo, 1)

		_, err := c.GetUser(ctx, 1)
		require.NoError(t, err)
		clock.now = clock.now.Add(2 * time.Minute)
		_, err = c.GetUser(ctx, 2)
		require.NoError(t, err)
		_, err = c.GetUser(ctx, 2)
		require.NoError(t, err)

		assert.Equal(t, 1, c.Len())
		repo.AssertExpectations(t)
	})

	t.Run("Invalidate 后回源", func(t *testing.T) {
		repo := &mockUserRepository{}
		repo.On("GetUser", mock.Anything, int64(7)).Return(&domain.User{ID: 7}, nil).Twice()
		c, _ := newTestCache(repo, 10)

		_, err := c.GetUser(ctx, 7)
		require.NoError(t, err)
		c.Invalidate(7)
		_, err = c.GetUser(ctx, 7)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestLocalUserCache_Run(t *testing.T) {
	repo := &mockUserRepository{}
	repo.On("GetUser", mock.Anything, int64(7)).Return(&domain.User{ID: 7}, nil).Once()
	c, clock := newTestCache(repo, 10)

	_, err := c.GetUser(context.Background(), 7)
	require.NoError(t, err)
	clock.now = clock.now.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
