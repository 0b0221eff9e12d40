package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pickupmarket/order-service/internal/config"
	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/events"
	"github.com/pickupmarket/order-service/internal/pricing"
	"github.com/pickupmarket/order-service/pkg/trm"
)

type OrderLine struct {
	ProductID   string
	Quantity    int
	WeightGrams int
	Note        string
}

type CreateOrderRequest struct {
	ShopID         string
	BuyerID        string
	BuyerIsPro     bool
	PaymentMethod  string
	IdempotencyKey string
	BuyerNote      string
	SlotStart      *time.Time
	SlotEnd        *time.Time
	Lines          []OrderLine
}

type AdmissionService struct {
	logger    *slog.Logger
	txManager trm.Manager
	orders    OrderRepo
	shops     ShopRepo
	products  ProductRepo
	capacity  *CapacityController
	events    Publisher
	limiter   *BuyerLimiter
	cfg       config.Admission
}

func NewAdmissionService(
	logger *slog.Logger,
	txManager trm.Manager,
	orders OrderRepo,
	shops ShopRepo,
	products ProductRepo,
	capacity *CapacityController,
	publisher Publisher,
	limiter *BuyerLimiter,
	cfg config.Admission,
) *AdmissionService {
	return &AdmissionService{
		logger:    logger.With(slog.String("service", "admission")),
		txManager: txManager,
		orders:    orders,
		shops:     shops,
		products:  products,
		capacity:  capacity,
		events:    publisher,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// CreateOrder runs the full admission pipeline: idempotency, shop status
// gate, throttling, product checks, pricing, persistence, notification and
// the auto-busy side effect.
func (s *AdmissionService) CreateOrder(ctx context.Context, req CreateOrderRequest) (entities.Order, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, entities.ErrOrderNotFound) {
			return entities.Order{}, err
		}
	}

	av, err := s.capacity.GetStatus(ctx, req.ShopID)
	if err != nil {
		return entities.Order{}, err
	}
	if !av.Status.Accepting() {
		return entities.Order{}, fmt.Errorf("%w: %s", entities.ErrServiceDisabled, av.Message)
	}

	shop, err := s.shops.GetShop(ctx, req.ShopID)
	if err != nil {
		return entities.Order{}, err
	}

	if err := s.checkThrottles(ctx, shop, req); err != nil {
		return entities.Order{}, err
	}

	items, total, err := s.priceLines(ctx, shop, req)
	if err != nil {
		return entities.Order{}, err
	}

	if total < shop.MinOrderMinor {
		return entities.Order{}, fmt.Errorf("%w: order total %d below shop minimum %d",
			entities.ErrValidation, total, shop.MinOrderMinor)
	}

	now := time.Now()
	order := entities.Order{
		ID:               uuid.New().String(),
		ShopID:           shop.ID,
		BuyerID:          req.BuyerID,
		Status:           entities.StatusPending,
		TotalMinor:       total,
		CommissionMinor:  pricing.Commission(total, shop.CommissionPct),
		PaymentMethod:    req.PaymentMethod,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        now,
		ResponseDeadline: now.Add(s.cfg.ResponseWindow),
		BuyerNote:        req.BuyerNote,
		SlotStart:        req.SlotStart,
		SlotEnd:          req.SlotEnd,
		Items:            items,
	}

	if shop.AutoAccept {
		order.Status = entities.StatusAccepted
		order.PickupToken = uuid.New().String()
		ready := now.Add(time.Duration(s.PrepMinutes(shop, av.BusySurchargeMins, len(items))) * time.Minute)
		order.EstimatedReady = &ready
	}

	err = s.txManager.Do(ctx, func(ctx context.Context) error {
		seq, err := s.orders.NextOrderNumber(ctx, shop.ID, now.Year())
		if err != nil {
			return err
		}
		order.Number = fmt.Sprintf("%s-%d-%04d", shop.NumberPrefix, now.Year(), seq)
		return s.orders.CreateOrder(ctx, order)
	})
	if errors.Is(err, entities.ErrIdempotencyConflict) {
		// lost the insert race on the same key: the winner's order is the answer
		return s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	}
	if err != nil {
		return entities.Order{}, err
	}

	event := events.OrderPending
	if order.Status == entities.StatusAccepted {
		event = events.OrderAccepted
	}
	s.events.Publish(event, order.ID, map[string]any{
		"order_id":     order.ID,
		"order_number": order.Number,
		"shop_id":      shop.ID,
		"shop_name":    shop.Name,
		"buyer_id":     order.BuyerID,
		"total_minor":  order.TotalMinor,
		"status":       string(order.Status),
	})

	s.maybeAutoBusy(ctx, shop, av)

	return order, nil
}

// checkThrottles enforces the soft capacity limits. Counting failures fail
// open: availability wins over strict enforcement.
func (s *AdmissionService) checkThrottles(ctx context.Context, shop entities.Shop, req CreateOrderRequest) error {
	if !s.limiter.Allow(req.BuyerID) {
		return fmt.Errorf("%w: too many orders, slow down", entities.ErrCapacityExceeded)
	}

	if shop.MaxOrdersPerHour > 0 {
		count, err := s.orders.CountOrdersSince(ctx, shop.ID, time.Now().Add(-time.Hour))
		if err != nil {
			s.logger.Error("hourly throttle check failed, admitting", slog.Any("error", err), slog.String("shop_id", shop.ID))
		} else if count >= shop.MaxOrdersPerHour {
			return fmt.Errorf("%w: shop reached its hourly order limit", entities.ErrCapacityExceeded)
		}
	}

	if req.SlotStart != nil && shop.MaxOrdersPerSlot > 0 {
		count, err := s.orders.CountOrdersInSlot(ctx, shop.ID, *req.SlotStart)
		if err != nil {
			s.logger.Error("slot throttle check failed, admitting", slog.Any("error", err), slog.String("shop_id", shop.ID))
		} else if count >= shop.MaxOrdersPerSlot {
			return fmt.Errorf("%w: pickup slot is full", entities.ErrCapacityExceeded)
		}
	}

	return nil
}

func (s *AdmissionService) priceLines(ctx context.Context, shop entities.Shop, req CreateOrderRequest) ([]entities.OrderItem, int64, error) {
	if len(req.Lines) == 0 {
		return nil, 0, fmt.Errorf("%w: order has no items", entities.ErrValidation)
	}

	ids := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.products.GetProductsByIDs(ctx, shop.ID, ids)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]entities.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := time.Now()
	items := make([]entities.OrderItem, 0, len(req.Lines))
	var total int64

	for _, line := range req.Lines {
		product, ok := byID[line.ProductID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: product %s", entities.ErrProductNotFound, line.ProductID)
		}
		if product.Withdrawn {
			return nil, 0, fmt.Errorf("%w: %s is temporarily unavailable", entities.ErrStockInsufficient, product.Name)
		}
		if !product.InStock {
			return nil, 0, fmt.Errorf("%w: %s is out of stock", entities.ErrStockInsufficient, product.Name)
		}
		if product.Unit == entities.UnitWeight && line.WeightGrams <= 0 {
			return nil, 0, fmt.Errorf("%w: weight required for %s", entities.ErrValidation, product.Name)
		}
		if product.Unit != entities.UnitWeight && line.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity required for %s", entities.ErrValidation, product.Name)
		}

		unitPrice := pricing.ResolveUnitPrice(product, req.BuyerIsPro, now)
		quantity := line.Quantity
		if product.Unit == entities.UnitWeight {
			quantity = 1
		}
		lineTotal := pricing.LineTotal(product.Unit, unitPrice, quantity, line.WeightGrams)

		items = append(items, entities.OrderItem{
			ID:             uuid.New().String(),
			ProductID:      product.ID,
			Name:           product.Name,
			Unit:           product.Unit,
			UnitLabel:      product.UnitLabel,
			Quantity:       quantity,
			UnitPriceMinor: unitPrice,
			LineTotalMinor: lineTotal,
			RequestedGrams: line.WeightGrams,
			Available:      true,
			Note:           line.Note,
		})
		total += lineTotal
	}

	return items, total, nil
}

// PrepMinutes computes the dynamic preparation estimate from the shop's base
// time, the busy surcharge and the item count.
func (s *AdmissionService) PrepMinutes(shop entities.Shop, busySurcharge, itemCount int) int {
	return shop.BasePrepMins + busySurcharge + s.cfg.PrepMinsPerItem*itemCount
}

// maybeAutoBusy flips the shop to busy mode when the active order backlog
// reaches its threshold. Best-effort side effect of a successful admission.
func (s *AdmissionService) maybeAutoBusy(ctx context.Context, shop entities.Shop, av entities.Availability) {
	if shop.AutoBusyThreshold <= 0 || av.Status == entities.ShopBusy {
		return
	}

	active, err := s.orders.CountActiveOrders(ctx, shop.ID)
	if err != nil {
		s.logger.Error("failed to count active orders", slog.Any("error", err), slog.String("shop_id", shop.ID))
		return
	}
	if active < shop.AutoBusyThreshold {
		return
	}

	if err := s.capacity.SetBusyMode(ctx, shop.ID, SystemActor, s.cfg.DefaultBusySurcharge, time.Hour); err != nil {
		s.logger.Error("failed to trigger auto busy mode", slog.Any("error", err), slog.String("shop_id", shop.ID))
	}
}
