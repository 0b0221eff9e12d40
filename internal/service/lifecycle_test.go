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

type lifecycleEnv struct {
	orders   *fakeOrderRepo
	shops    *fakeShopRepo
	products *fakeProductRepo
	events   *fakePublisher
	receipts *fakeReceipts
	svc      *service.LifecycleService
}

func newLifecycleEnv(t *testing.T, shop entities.Shop, products ...entities.Product) lifecycleEnv {
	t.Helper()

	logger := testLogger(t)
	orders := newFakeOrderRepo()
	shops := newFakeShopRepo(shop)
	prods := newFakeProductRepo(products...)
	publisher := &fakePublisher{}
	receipts := &fakeReceipts{}

	svc := service.NewLifecycleService(logger, fakeTxManager{}, orders, shops, prods, publisher, receipts, admissionConfig())

	return lifecycleEnv{
		orders:   orders,
		shops:    shops,
		products: prods,
		events:   publisher,
		receipts: receipts,
		svc:      svc,
	}
}

// two lines: 500g of apples at 3200/kg (1600) and two juices at 250 (500)
func testOrder(status entities.OrderStatus) entities.Order {
	now := time.Now()
	return entities.Order{
		ID:               "order-1",
		Number:           "GRN-2026-0001",
		ShopID:           "shop-1",
		BuyerID:          "buyer-1",
		Status:           status,
		TotalMinor:       2100,
		CommissionMinor:  210,
		CreatedAt:        now,
		ResponseDeadline: now.Add(15 * time.Minute),
		Items: []entities.OrderItem{
			{
				ID:             "item-apples",
				OrderID:        "order-1",
				ProductID:      "prod-apples",
				Name:           "Apples",
				Unit:           entities.UnitWeight,
				Quantity:       1,
				UnitPriceMinor: 3200,
				LineTotalMinor: 1600,
				RequestedGrams: 500,
				Available:      true,
			},
			{
				ID:             "item-juice",
				OrderID:        "order-1",
				ProductID:      "prod-juice",
				Name:           "Juice",
				Unit:           entities.UnitPiece,
				Quantity:       2,
				UnitPriceMinor: 250,
				LineTotalMinor: 500,
				Available:      true,
			},
		},
	}
}

func commissionShop() entities.Shop {
	shop := openShop()
	shop.CommissionPct = 10
	return shop
}

func TestLifecycle_Accept(t *testing.T) {
	ctx := context.Background()

	t.Run("moves pending to accepted with token and estimate", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPending))

		order, err := env.svc.Accept(ctx, "order-1", "staff-1", 30)
		require.NoError(t, err)

		assert.Equal(t, entities.StatusAccepted, order.Status)
		assert.NotEmpty(t, order.PickupToken)
		require.NotNil(t, order.EstimatedReady)
		// caller asked for 30, computed is 10 base + 2*2 items = 14
		assert.WithinDuration(t, time.Now().Add(30*time.Minute), *order.EstimatedReady, time.Minute)
		assert.Contains(t, env.events.names(), events.OrderAccepted)
	})

	t.Run("computed estimate wins when larger", func(t *testing.T) {
		shop := commissionShop()
		shop.BasePrepMins = 40
		env := newLifecycleEnv(t, shop)
		env.orders.put(testOrder(entities.StatusPending))

		order, err := env.svc.Accept(ctx, "order-1", "staff-1", 5)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(44*time.Minute), *order.EstimatedReady, time.Minute)
	})

	t.Run("busy surcharge extends the estimate", func(t *testing.T) {
		shop := commissionShop()
		shop.BusyActive = true
		shop.BusySurchargeMins = 20
		env := newLifecycleEnv(t, shop)
		env.orders.put(testOrder(entities.StatusPending))

		order, err := env.svc.Accept(ctx, "order-1", "staff-1", 0)
		require.NoError(t, err)
		// 10 base + 20 busy + 4 items
		assert.WithinDuration(t, time.Now().Add(34*time.Minute), *order.EstimatedReady, time.Minute)
	})

	t.Run("wrong staff is forbidden", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPending))

		_, err := env.svc.Accept(ctx, "order-1", "staff-other", 0)
		require.ErrorIs(t, err, entities.ErrForbidden)
		assert.Equal(t, entities.StatusPending, env.orders.get("order-1").Status)
	})

	t.Run("already accepted reports state conflict", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusAccepted))

		_, err := env.svc.Accept(ctx, "order-1", "staff-1", 0)
		require.ErrorIs(t, err, entities.ErrStateConflict)

		var conflict *entities.StateConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, entities.StatusAccepted, conflict.Current)
	})
}

func TestLifecycle_DenyAndCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("deny records the reason", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPending))

		order, err := env.svc.Deny(ctx, "order-1", "staff-1", "out of ingredients")
		require.NoError(t, err)
		assert.Equal(t, entities.StatusDenied, order.Status)
		assert.Equal(t, "out of ingredients", order.DenyReason)
		assert.Contains(t, env.events.names(), events.OrderDenied)
	})

	t.Run("cancel allowed while preparing", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		order, err := env.svc.Cancel(ctx, "order-1", "staff-1", "buyer asked")
		require.NoError(t, err)
		assert.Equal(t, entities.StatusCancelled, order.Status)
	})

	t.Run("cancel refused once ready", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusReady))

		_, err := env.svc.Cancel(ctx, "order-1", "staff-1", "")
		require.ErrorIs(t, err, entities.ErrStateConflict)
	})
}

func TestLifecycle_ReadyAndPickup(t *testing.T) {
	ctx := context.Background()

	t.Run("mark ready stamps actual time", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		order, err := env.svc.MarkReady(ctx, "order-1", "staff-1")
		require.NoError(t, err)
		assert.Equal(t, entities.StatusReady, order.Status)
		require.NotNil(t, order.ActualReady)
		assert.Contains(t, env.events.names(), events.OrderReady)
	})

	t.Run("mark ready refused while adjustment pending", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		o := testOrder(entities.StatusPreparing)
		o.AdjustmentPending = true
		o.ProposedTotalMinor = 2292
		env.orders.put(o)

		_, err := env.svc.MarkReady(ctx, "order-1", "staff-1")
		require.ErrorIs(t, err, entities.ErrAdjustmentPending)
		assert.Equal(t, entities.StatusPreparing, env.orders.get("order-1").Status)
	})

	t.Run("token mismatch leaves order ready", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		o := testOrder(entities.StatusReady)
		o.PickupToken = "token-abc"
		env.orders.put(o)

		_, err := env.svc.ConfirmPickup(ctx, "order-1", "staff-1", "token-wrong")
		require.ErrorIs(t, err, entities.ErrValidation)

		stored := env.orders.get("order-1")
		assert.Equal(t, entities.StatusReady, stored.Status)
		assert.Nil(t, stored.PickedUpAt)
		assert.Empty(t, env.receipts.orders)
	})

	t.Run("matching token completes pickup exactly once", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		o := testOrder(entities.StatusReady)
		o.PickupToken = "token-abc"
		env.orders.put(o)

		order, err := env.svc.ConfirmPickup(ctx, "order-1", "staff-1", "token-abc")
		require.NoError(t, err)
		assert.Equal(t, entities.StatusPickedUp, order.Status)
		require.NotNil(t, order.PickedUpAt)
		require.NotNil(t, order.TokenScannedAt)
		require.Len(t, env.receipts.orders, 1)

		_, err = env.svc.ConfirmPickup(ctx, "order-1", "staff-1", "token-abc")
		require.ErrorIs(t, err, entities.ErrStateConflict)
		assert.Len(t, env.receipts.orders, 1)
	})

	t.Run("manual pickup skips the token", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		o := testOrder(entities.StatusReady)
		o.PickupToken = "token-abc"
		env.orders.put(o)

		order, err := env.svc.ManualPickup(ctx, "order-1", "staff-1")
		require.NoError(t, err)
		assert.Equal(t, entities.StatusPickedUp, order.Status)
		require.NotNil(t, order.PickedUpAt)
		assert.Nil(t, order.TokenScannedAt)
	})
}

func TestLifecycle_ItemUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("partial loss recomputes total and offers substitutes", func(t *testing.T) {
		cheaper := applesProduct()
		cheaper.ID = "prod-pears"
		cheaper.Name = "Pears"
		cheaper.PriceMinor = 2800

		env := newLifecycleEnv(t, commissionShop(), applesProduct(), juiceProduct(), cheaper)
		env.orders.put(testOrder(entities.StatusAccepted))

		res, err := env.svc.ItemUnavailable(ctx, "order-1", "staff-1", []string{"item-apples"})
		require.NoError(t, err)

		assert.Equal(t, entities.StatusPartiallyDenied, res.Order.Status)
		assert.Equal(t, int64(500), res.Order.TotalMinor)
		assert.Equal(t, int64(50), res.Order.CommissionMinor)

		subs := res.Substitutes["item-apples"]
		require.Len(t, subs, 1)
		assert.Equal(t, "prod-pears", subs[0].ID)

		listed, err := env.products.GetProductsByIDs(ctx, "shop-1", []string{"prod-apples"})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.False(t, listed[0].InStock)
	})

	t.Run("all items gone denies the order", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop(), applesProduct(), juiceProduct())
		env.orders.put(testOrder(entities.StatusAccepted))

		res, err := env.svc.ItemUnavailable(ctx, "order-1", "staff-1", []string{"item-apples", "item-juice"})
		require.NoError(t, err)

		assert.Equal(t, entities.StatusDenied, res.Order.Status)
		assert.Equal(t, int64(0), res.Order.TotalMinor)
		assert.Equal(t, "all items unavailable", res.Order.DenyReason)
	})

	t.Run("foreign item id rejects without mutation", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop(), applesProduct(), juiceProduct())
		env.orders.put(testOrder(entities.StatusAccepted))

		_, err := env.svc.ItemUnavailable(ctx, "order-1", "staff-1", []string{"item-apples", "item-foreign"})
		require.ErrorIs(t, err, entities.ErrValidation)

		stored := env.orders.get("order-1")
		assert.Equal(t, entities.StatusAccepted, stored.Status)
		assert.True(t, stored.Items[0].Available)
	})
}

func TestLifecycle_WeightAdjustment(t *testing.T) {
	ctx := context.Background()

	t.Run("within tolerance applies silently", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		// 540g is an 8% deviation: 3200 * 0.540 = 1728
		order, err := env.svc.AdjustWeight(ctx, "order-1", "staff-1", []service.WeightAdjustment{
			{ItemID: "item-apples", ActualGrams: 540},
		})
		require.NoError(t, err)

		assert.False(t, order.AdjustmentPending)
		assert.Equal(t, int64(1728+500), order.TotalMinor)
		assert.Equal(t, int64(1728), order.Items[0].LineTotalMinor)
		assert.Equal(t, 540, order.Items[0].ActualGrams)
		assert.NotContains(t, env.events.names(), events.OrderAdjustmentProposed)
	})

	t.Run("beyond tolerance parks the proposed total", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		// 560g is a 12% deviation: 3200 * 0.560 = 1792
		order, err := env.svc.AdjustWeight(ctx, "order-1", "staff-1", []service.WeightAdjustment{
			{ItemID: "item-apples", ActualGrams: 560},
		})
		require.NoError(t, err)

		assert.True(t, order.AdjustmentPending)
		assert.Equal(t, int64(1792+500), order.ProposedTotalMinor)
		// committed figures stay at the requested weight
		assert.Equal(t, int64(2100), order.TotalMinor)
		assert.Equal(t, int64(1600), order.Items[0].LineTotalMinor)
		assert.Equal(t, 560, order.Items[0].ActualGrams)
		assert.Contains(t, env.events.names(), events.OrderAdjustmentProposed)
	})

	t.Run("buyer confirmation applies the proposed total", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		_, err := env.svc.AdjustWeight(ctx, "order-1", "staff-1", []service.WeightAdjustment{
			{ItemID: "item-apples", ActualGrams: 560},
		})
		require.NoError(t, err)

		order, err := env.svc.ConfirmAdjustment(ctx, "order-1", "buyer-1")
		require.NoError(t, err)

		assert.False(t, order.AdjustmentPending)
		assert.Equal(t, int64(0), order.ProposedTotalMinor)
		assert.Equal(t, int64(2292), order.TotalMinor)
		assert.Equal(t, int64(1792), order.Items[0].LineTotalMinor)
		assert.Equal(t, int64(229), order.CommissionMinor)

		_, err = env.svc.MarkReady(ctx, "order-1", "staff-1")
		require.NoError(t, err)
	})

	t.Run("buyer rejection discards the pending weight", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		_, err := env.svc.AdjustWeight(ctx, "order-1", "staff-1", []service.WeightAdjustment{
			{ItemID: "item-apples", ActualGrams: 560},
		})
		require.NoError(t, err)

		order, err := env.svc.RejectAdjustment(ctx, "order-1", "buyer-1")
		require.NoError(t, err)

		assert.False(t, order.AdjustmentPending)
		assert.Equal(t, int64(2100), order.TotalMinor)
		assert.Equal(t, 0, order.Items[0].ActualGrams)
	})

	t.Run("only the buyer may respond", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		o := testOrder(entities.StatusPreparing)
		o.AdjustmentPending = true
		o.ProposedTotalMinor = 2292
		env.orders.put(o)

		_, err := env.svc.ConfirmAdjustment(ctx, "order-1", "buyer-other")
		require.ErrorIs(t, err, entities.ErrForbidden)
	})

	t.Run("non weight line rejects", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusPreparing))

		_, err := env.svc.AdjustWeight(ctx, "order-1", "staff-1", []service.WeightAdjustment{
			{ItemID: "item-juice", ActualGrams: 300},
		})
		require.ErrorIs(t, err, entities.ErrValidation)
	})
}

func TestLifecycle_AdjustPrice(t *testing.T) {
	ctx := context.Background()

	env := newLifecycleEnv(t, commissionShop())
	env.orders.put(testOrder(entities.StatusPreparing))

	order, err := env.svc.AdjustPrice(ctx, "order-1", "staff-1", []service.PriceAdjustment{
		{ItemID: "item-juice", UnitPriceMinor: 300},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1600+600), order.TotalMinor)
	assert.Equal(t, int64(220), order.CommissionMinor)
	assert.Equal(t, int64(300), order.Items[1].UnitPriceMinor)
	assert.Equal(t, int64(600), order.Items[1].LineTotalMinor)
}

func TestLifecycle_AddTimeAndNotes(t *testing.T) {
	ctx := context.Background()

	t.Run("add time extends the estimate without status change", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		o := testOrder(entities.StatusPreparing)
		ready := time.Now().Add(10 * time.Minute)
		o.EstimatedReady = &ready
		env.orders.put(o)

		order, err := env.svc.AddTime(ctx, "order-1", "staff-1", 15)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusPreparing, order.Status)
		assert.WithinDuration(t, ready.Add(15*time.Minute), *order.EstimatedReady, time.Second)
	})

	t.Run("note stored on active order", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusAccepted))

		order, err := env.svc.AddNote(ctx, "order-1", "staff-1", "ring the back door bell")
		require.NoError(t, err)
		assert.Equal(t, "ring the back door bell", order.StaffNote)
		assert.Contains(t, env.events.names(), events.OrderNoteAdded)
	})

	t.Run("note refused on terminal order", func(t *testing.T) {
		env := newLifecycleEnv(t, commissionShop())
		env.orders.put(testOrder(entities.StatusCancelled))

		_, err := env.svc.AddNote(ctx, "order-1", "staff-1", "too late")
		require.ErrorIs(t, err, entities.ErrStateConflict)
	})
}
