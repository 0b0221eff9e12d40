package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/events"
	"github.com/pickupmarket/order-service/internal/repo"
	"github.com/pickupmarket/order-service/internal/service"
	"github.com/pickupmarket/order-service/pkg/trm"
)

type OrderRepo interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]entities.Order, error)
	UpdateOrder(ctx context.Context, orderID string, expect []entities.OrderStatus, upd repo.OrderUpdate) error
}

type ProductRepo interface {
	ClearExpiredPromos(ctx context.Context, now time.Time) (int64, error)
}

type ShopRepo interface {
	ListShopsWithElapsedWindows(ctx context.Context, now time.Time) ([]string, error)
}

// ExpirySweep auto-cancels PENDING orders whose response deadline has
// passed and feeds the missed-order counter. For each order the status
// write and the counter increment commit in one transaction so a crash
// between them neither double-counts nor drops the signal.
type ExpirySweep struct {
	logger    *slog.Logger
	txManager trm.Manager
	orders    OrderRepo
	capacity  *service.CapacityController
	events    service.Publisher
	batchSize int
}

func NewExpirySweep(
	logger *slog.Logger,
	txManager trm.Manager,
	orders OrderRepo,
	capacity *service.CapacityController,
	publisher service.Publisher,
	batchSize int,
) *ExpirySweep {
	return &ExpirySweep{
		logger:    logger.With(slog.String("sweep", "expiry")),
		txManager: txManager,
		orders:    orders,
		capacity:  capacity,
		events:    publisher,
		batchSize: batchSize,
	}
}

func (s *ExpirySweep) Name() string { return "order_expiry" }

func (s *ExpirySweep) Run(ctx context.Context) error {
	expired, err := s.orders.ListExpiredPending(ctx, time.Now(), s.batchSize)
	if err != nil {
		return err
	}

	for _, order := range expired {
		if err := s.cancelOne(ctx, order); err != nil {
			// one order's failure must not block the rest of the batch
			s.logger.Error("failed to auto-cancel order",
				slog.String("order_id", order.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (s *ExpirySweep) cancelOne(ctx context.Context, order entities.Order) error {
	status := entities.StatusAutoCancelled
	reason := "shop did not respond in time"
	thresholdReached := false

	err := s.txManager.Do(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateOrder(ctx, order.ID,
			[]entities.OrderStatus{entities.StatusPending},
			repo.OrderUpdate{Status: &status, DenyReason: &reason},
		); err != nil {
			return err
		}

		reached, err := s.capacity.CheckAutoPause(ctx, order.ShopID)
		if err != nil {
			return err
		}
		thresholdReached = reached
		return nil
	})
	if errors.Is(err, entities.ErrStateConflict) {
		// someone else moved the order since the listing; nothing to do
		return nil
	}
	if err != nil {
		return err
	}

	s.events.Publish(events.OrderAutoCancelled, order.ID, map[string]any{
		"order_id":     order.ID,
		"order_number": order.Number,
		"shop_id":      order.ShopID,
		"buyer_id":     order.BuyerID,
		"reason":       reason,
	})

	if thresholdReached {
		if err := s.capacity.ApplyAutoPause(ctx, order.ShopID); err != nil {
			s.logger.Error("failed to apply auto-pause",
				slog.String("shop_id", order.ShopID), slog.Any("error", err))
		}
	}
	return nil
}

// PromoSweep ends elapsed percentage promotions.
type PromoSweep struct {
	logger   *slog.Logger
	products ProductRepo
}

func NewPromoSweep(logger *slog.Logger, products ProductRepo) *PromoSweep {
	return &PromoSweep{
		logger:   logger.With(slog.String("sweep", "promo")),
		products: products,
	}
}

func (s *PromoSweep) Name() string { return "promo_expiry" }

func (s *PromoSweep) Run(ctx context.Context) error {
	cleared, err := s.products.ClearExpiredPromos(ctx, time.Now())
	if err != nil {
		return err
	}
	if cleared > 0 {
		s.logger.Info("cleared expired promotions", slog.Int64("count", cleared))
	}
	return nil
}

// WindowSweep resets shops whose busy, pause or vacation window has lapsed.
// The reset itself goes through the capacity controller so cache
// invalidation stays in one place.
type WindowSweep struct {
	logger   *slog.Logger
	shops    ShopRepo
	capacity *service.CapacityController
}

func NewWindowSweep(logger *slog.Logger, shops ShopRepo, capacity *service.CapacityController) *WindowSweep {
	return &WindowSweep{
		logger:   logger.With(slog.String("sweep", "shop_windows")),
		shops:    shops,
		capacity: capacity,
	}
}

func (s *WindowSweep) Name() string { return "shop_windows" }

func (s *WindowSweep) Run(ctx context.Context) error {
	ids, err := s.shops.ListShopsWithElapsedWindows(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := s.capacity.Refresh(ctx, id); err != nil {
			s.logger.Error("failed to refresh shop",
				slog.String("shop_id", id), slog.Any("error", err))
		}
	}
	return nil
}
