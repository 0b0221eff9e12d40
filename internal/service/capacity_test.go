package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/events"
	"github.com/pickupmarket/order-service/internal/service"
)

type capacityEnv struct {
	shops    *fakeShopRepo
	cache    *fakeCache
	events   *fakePublisher
	capacity *service.CapacityController
}

func newCapacityEnv(t *testing.T, shop entities.Shop) capacityEnv {
	t.Helper()

	shops := newFakeShopRepo(shop)
	cache := newFakeCache()
	publisher := &fakePublisher{}
	capacity := service.NewCapacityController(testLogger(t), shops, cache, publisher)

	return capacityEnv{shops: shops, cache: cache, events: publisher, capacity: capacity}
}

func TestCapacity_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("open shop resolves and is cached", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopOpen, av.Status)

		_, cached := env.cache.Get("shop:shop-1")
		assert.True(t, cached)
	})

	t.Run("cache hit skips the store", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())

		_, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)

		// mutate the store behind the cache: the stale snapshot still wins
		shop := env.shops.get("shop-1")
		shop.PauseActive = true
		env.shops.shops["shop-1"] = shop

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopOpen, av.Status)
	})

	t.Run("elapsed busy window resets to open and persists", func(t *testing.T) {
		shop := openShop()
		past := time.Now().Add(-time.Minute)
		shop.BusyActive = true
		shop.BusySurchargeMins = 15
		shop.BusyUntil = &past
		env := newCapacityEnv(t, shop)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopOpen, av.Status)
		assert.Zero(t, av.BusySurchargeMins)

		stored := env.shops.get("shop-1")
		assert.False(t, stored.BusyActive)
		assert.Nil(t, stored.BusyUntil)
	})

	t.Run("active busy window reports the surcharge", func(t *testing.T) {
		shop := openShop()
		future := time.Now().Add(time.Hour)
		shop.BusyActive = true
		shop.BusySurchargeMins = 20
		shop.BusyUntil = &future
		env := newCapacityEnv(t, shop)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopBusy, av.Status)
		assert.Equal(t, 20, av.BusySurchargeMins)
	})

	t.Run("elapsed vacation restores visibility", func(t *testing.T) {
		shop := openShop()
		past := time.Now().Add(-time.Hour)
		shop.VacationActive = true
		shop.Visible = false
		shop.VacationUntil = &past
		env := newCapacityEnv(t, shop)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopOpen, av.Status)

		stored := env.shops.get("shop-1")
		assert.True(t, stored.Visible)
		assert.False(t, stored.VacationActive)
	})

	t.Run("unknown shop", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())
		_, err := env.capacity.GetStatus(ctx, "shop-missing")
		require.ErrorIs(t, err, entities.ErrShopNotFound)
	})
}

func TestCapacity_Controls(t *testing.T) {
	ctx := context.Background()

	t.Run("pause invalidates the cache and audits", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())

		_, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)

		require.NoError(t, env.capacity.Pause(ctx, "shop-1", "staff-1", "lunch break", nil))

		_, cached := env.cache.Get("shop:shop-1")
		assert.False(t, cached)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopPaused, av.Status)
		assert.Equal(t, "lunch break", av.Message)

		require.Len(t, env.shops.audits, 1)
		assert.Equal(t, entities.ShopPaused, env.shops.audits[0].ToStatus)
		assert.Contains(t, env.events.names(), events.ShopStatusChanged)
	})

	t.Run("pause rejects a non owner", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())
		err := env.capacity.Pause(ctx, "shop-1", "staff-other", "nope", nil)
		require.ErrorIs(t, err, entities.ErrForbidden)
	})

	t.Run("resume clears auto pause and the missed counter", func(t *testing.T) {
		shop := openShop()
		shop.AutoPaused = true
		shop.MissedOrders = 4
		env := newCapacityEnv(t, shop)

		require.NoError(t, env.capacity.Resume(ctx, "shop-1", "staff-1"))

		stored := env.shops.get("shop-1")
		assert.False(t, stored.AutoPaused)
		assert.Zero(t, stored.MissedOrders)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopOpen, av.Status)
	})

	t.Run("vacation hides the shop", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())

		from := time.Now()
		until := from.Add(7 * 24 * time.Hour)
		require.NoError(t, env.capacity.SetVacationMode(ctx, "shop-1", "staff-1", from, until, "back next week"))

		stored := env.shops.get("shop-1")
		assert.False(t, stored.Visible)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopVacation, av.Status)
		assert.Equal(t, "back next week", av.Message)
	})

	t.Run("end busy resets the surcharge", func(t *testing.T) {
		shop := openShop()
		future := time.Now().Add(time.Hour)
		shop.BusyActive = true
		shop.BusySurchargeMins = 25
		shop.BusyUntil = &future
		env := newCapacityEnv(t, shop)

		require.NoError(t, env.capacity.EndBusyMode(ctx, "shop-1", "staff-1"))

		stored := env.shops.get("shop-1")
		assert.False(t, stored.BusyActive)
		assert.Zero(t, stored.BusySurchargeMins)
	})
}

func TestCapacity_AutoPause(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold reached after enough misses", func(t *testing.T) {
		shop := openShop()
		shop.AutoPauseThreshold = 3
		env := newCapacityEnv(t, shop)

		for i := 0; i < 2; i++ {
			reached, err := env.capacity.CheckAutoPause(ctx, "shop-1")
			require.NoError(t, err)
			assert.False(t, reached)
		}

		reached, err := env.capacity.CheckAutoPause(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, reached)
	})

	t.Run("zero threshold never triggers", func(t *testing.T) {
		env := newCapacityEnv(t, openShop())

		for i := 0; i < 10; i++ {
			reached, err := env.capacity.CheckAutoPause(ctx, "shop-1")
			require.NoError(t, err)
			assert.False(t, reached)
		}
	})

	t.Run("apply flips the shop and notifies the owner", func(t *testing.T) {
		shop := openShop()
		shop.AutoPauseThreshold = 3
		shop.MissedOrders = 3
		env := newCapacityEnv(t, shop)

		require.NoError(t, env.capacity.ApplyAutoPause(ctx, "shop-1"))

		stored := env.shops.get("shop-1")
		assert.True(t, stored.AutoPaused)

		av, err := env.capacity.GetStatus(ctx, "shop-1")
		require.NoError(t, err)
		assert.Equal(t, entities.ShopAutoPaused, av.Status)
		assert.Contains(t, env.events.names(), events.ShopAutoPaused)
	})

	t.Run("apply is idempotent", func(t *testing.T) {
		shop := openShop()
		shop.AutoPaused = true
		env := newCapacityEnv(t, shop)

		require.NoError(t, env.capacity.ApplyAutoPause(ctx, "shop-1"))
		assert.Empty(t, env.events.events)
	})
}
