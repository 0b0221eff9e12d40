package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pickupmarket/order-service/internal/config"
	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/events"
	"github.com/pickupmarket/order-service/internal/pricing"
	"github.com/pickupmarket/order-service/internal/repo"
	"github.com/pickupmarket/order-service/pkg/trm"
)

const maxSubstitutes = 3

// ReceiptGenerator is a fire-and-forget side effect of pickup confirmation.
type ReceiptGenerator interface {
	Generate(order entities.Order)
}

type WeightAdjustment struct {
	ItemID      string
	ActualGrams int
}

type PriceAdjustment struct {
	ItemID         string
	UnitPriceMinor int64
}

// StockIssueResult carries the updated order plus up to three cheapest
// in-stock same-category substitutes per unavailable line.
type StockIssueResult struct {
	Order       entities.Order
	Substitutes map[string][]entities.Product
}

// LifecycleService drives orders through the status graph. Every action
// re-derives shop ownership from the current shop row before touching state,
// and every status change is a conditional write keyed on the expected
// precondition.
type LifecycleService struct {
	logger    *slog.Logger
	txManager trm.Manager
	orders    OrderRepo
	shops     ShopRepo
	products  ProductRepo
	events    Publisher
	receipts  ReceiptGenerator
	cfg       config.Admission
}

func NewLifecycleService(
	logger *slog.Logger,
	txManager trm.Manager,
	orders OrderRepo,
	shops ShopRepo,
	products ProductRepo,
	publisher Publisher,
	receipts ReceiptGenerator,
	cfg config.Admission,
) *LifecycleService {
	return &LifecycleService{
		logger:    logger.With(slog.String("service", "lifecycle")),
		txManager: txManager,
		orders:    orders,
		shops:     shops,
		products:  products,
		events:    publisher,
		receipts:  receipts,
		cfg:       cfg,
	}
}

// loadOwned fetches the order and verifies the acting staff member owns the
// shop. Ownership failure rejects before any status check or mutation.
func (s *LifecycleService) loadOwned(ctx context.Context, orderID, staffID string) (entities.Order, entities.Shop, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, entities.Shop{}, err
	}
	shop, err := s.shops.GetShop(ctx, order.ShopID)
	if err != nil {
		return entities.Order{}, entities.Shop{}, err
	}
	if shop.OwnerID != staffID {
		return entities.Order{}, entities.Shop{}, entities.ErrForbidden
	}
	return order, shop, nil
}

func (s *LifecycleService) publishOrderEvent(event string, order entities.Order, extra map[string]any) {
	payload := map[string]any{
		"order_id":     order.ID,
		"order_number": order.Number,
		"shop_id":      order.ShopID,
		"buyer_id":     order.BuyerID,
		"status":       string(order.Status),
		"total_minor":  order.TotalMinor,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.events.Publish(event, order.ID, payload)
}

// Accept moves PENDING to ACCEPTED. The final preparation estimate is the
// max of the caller-supplied minutes and the dynamically computed one.
func (s *LifecycleService) Accept(ctx context.Context, orderID, staffID string, minutes int) (entities.Order, error) {
	order, shop, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}

	busySurcharge := 0
	if shop.Status(time.Now()) == entities.ShopBusy {
		busySurcharge = shop.BusySurchargeMins
	}
	computed := shop.BasePrepMins + busySurcharge + s.cfg.PrepMinsPerItem*len(order.Items)
	if minutes > computed {
		computed = minutes
	}

	ready := time.Now().Add(time.Duration(computed) * time.Minute)
	status := entities.StatusAccepted

	upd := repo.OrderUpdate{Status: &status, EstimatedReady: &ready}
	if order.PickupToken == "" {
		token := uuid.New().String()
		upd.PickupToken = &token
	}

	if err := s.orders.UpdateOrder(ctx, orderID, []entities.OrderStatus{entities.StatusPending}, upd); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderAccepted, updated, map[string]any{
		"estimated_ready": ready,
		"prep_minutes":    computed,
	})
	return updated, nil
}

func (s *LifecycleService) Deny(ctx context.Context, orderID, staffID, reason string) (entities.Order, error) {
	_, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}

	status := entities.StatusDenied
	expect := []entities.OrderStatus{entities.StatusPending, entities.StatusAccepted}
	if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{Status: &status, DenyReason: &reason}); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderDenied, updated, map[string]any{"reason": reason})
	return updated, nil
}

func (s *LifecycleService) StartPreparing(ctx context.Context, orderID, staffID string, extraMinutes int) (entities.Order, error) {
	order, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}

	status := entities.StatusPreparing
	upd := repo.OrderUpdate{Status: &status}
	if extraMinutes > 0 {
		base := time.Now()
		if order.EstimatedReady != nil && order.EstimatedReady.After(base) {
			base = *order.EstimatedReady
		}
		ready := base.Add(time.Duration(extraMinutes) * time.Minute)
		upd.EstimatedReady = &ready
	}

	if err := s.orders.UpdateOrder(ctx, orderID, []entities.OrderStatus{entities.StatusAccepted}, upd); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderPreparing, updated, nil)
	return updated, nil
}

// AddTime extends the estimated-ready time without a status change.
func (s *LifecycleService) AddTime(ctx context.Context, orderID, staffID string, minutes int) (entities.Order, error) {
	order, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}
	if minutes <= 0 {
		return entities.Order{}, fmt.Errorf("%w: minutes must be positive", entities.ErrValidation)
	}

	base := time.Now()
	if order.EstimatedReady != nil && order.EstimatedReady.After(base) {
		base = *order.EstimatedReady
	}
	ready := base.Add(time.Duration(minutes) * time.Minute)

	expect := []entities.OrderStatus{entities.StatusAccepted, entities.StatusPreparing}
	if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{EstimatedReady: &ready}); err != nil {
		return entities.Order{}, err
	}

	return s.orders.GetOrderByID(ctx, orderID)
}

// MarkReady refuses while a weight adjustment is awaiting buyer
// confirmation.
func (s *LifecycleService) MarkReady(ctx context.Context, orderID, staffID string) (entities.Order, error) {
	order, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.AdjustmentPending {
		return entities.Order{}, entities.ErrAdjustmentPending
	}

	status := entities.StatusReady
	now := time.Now()
	expect := []entities.OrderStatus{entities.StatusAccepted, entities.StatusPreparing}
	if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{Status: &status, ActualReady: &now}); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderReady, updated, nil)
	return updated, nil
}

// ItemUnavailable flags lines as unavailable, flips the products out of
// stock, recomputes the total from the remaining lines and offers
// substitutes. All items gone denies the whole order.
func (s *LifecycleService) ItemUnavailable(ctx context.Context, orderID, staffID string, itemIDs []string) (StockIssueResult, error) {
	order, shop, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return StockIssueResult{}, err
	}
	if len(itemIDs) == 0 {
		return StockIssueResult{}, fmt.Errorf("%w: no items given", entities.ErrValidation)
	}

	byID := make(map[string]entities.OrderItem, len(order.Items))
	for _, it := range order.Items {
		byID[it.ID] = it
	}
	flagged := make(map[string]bool, len(itemIDs))
	productIDs := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		it, ok := byID[id]
		if !ok {
			return StockIssueResult{}, fmt.Errorf("%w: item %s does not belong to order", entities.ErrValidation, id)
		}
		if flagged[id] {
			continue
		}
		flagged[id] = true
		productIDs = append(productIDs, it.ProductID)
	}

	var newTotal int64
	remaining := 0
	for _, it := range order.Items {
		if flagged[it.ID] || !it.Available {
			continue
		}
		newTotal += it.LineTotalMinor
		remaining++
	}

	status := entities.StatusPartiallyDenied
	var denyReason *string
	if remaining == 0 {
		status = entities.StatusDenied
		reason := "all items unavailable"
		denyReason = &reason
		newTotal = 0
	}
	commission := pricing.Commission(newTotal, shop.CommissionPct)

	expect := []entities.OrderStatus{entities.StatusPending, entities.StatusAccepted}
	falseVal := false

	err = s.txManager.Do(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{
			Status:          &status,
			TotalMinor:      &newTotal,
			CommissionMinor: &commission,
			DenyReason:      denyReason,
		}); err != nil {
			return err
		}
		for id := range flagged {
			if err := s.orders.UpdateItem(ctx, id, repo.ItemUpdate{Available: &falseVal}); err != nil {
				return err
			}
		}
		return s.products.SetOutOfStock(ctx, productIDs)
	})
	if err != nil {
		return StockIssueResult{}, err
	}

	substitutes := make(map[string][]entities.Product)
	for id := range flagged {
		it := byID[id]
		products, err := s.products.GetProductsByIDs(ctx, shop.ID, []string{it.ProductID})
		if err != nil || len(products) == 0 {
			continue
		}
		subs, err := s.products.FindSubstitutes(ctx, shop.ID, products[0].CategoryID, it.ProductID, maxSubstitutes)
		if err != nil {
			s.logger.Error("failed to find substitutes", slog.Any("error", err), slog.String("item_id", id))
			continue
		}
		substitutes[id] = subs
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return StockIssueResult{}, err
	}

	s.publishOrderEvent(events.OrderStockIssue, updated, map[string]any{
		"unavailable_items": itemIDs,
		"remaining_items":   remaining,
	})

	return StockIssueResult{Order: updated, Substitutes: substitutes}, nil
}

// AdjustWeight records actual weighed quantities. Deviations within ±10% are
// applied silently; an upward deviation beyond tolerance parks the new line
// totals behind an explicit pending-confirmation flag instead of touching
// the order total.
func (s *LifecycleService) AdjustWeight(ctx context.Context, orderID, staffID string, adjustments []WeightAdjustment) (entities.Order, error) {
	order, shop, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}
	if len(adjustments) == 0 {
		return entities.Order{}, fmt.Errorf("%w: no adjustments given", entities.ErrValidation)
	}

	byID := make(map[string]entities.OrderItem, len(order.Items))
	for _, it := range order.Items {
		byID[it.ID] = it
	}

	type lineChange struct {
		item         entities.OrderItem
		actualGrams  int
		newLineTotal int64
		pending      bool
	}
	changes := make([]lineChange, 0, len(adjustments))

	for _, adj := range adjustments {
		it, ok := byID[adj.ItemID]
		if !ok {
			return entities.Order{}, fmt.Errorf("%w: item %s does not belong to order", entities.ErrValidation, adj.ItemID)
		}
		if it.Unit != entities.UnitWeight {
			return entities.Order{}, fmt.Errorf("%w: item %s is not weight-based", entities.ErrValidation, adj.ItemID)
		}
		if adj.ActualGrams <= 0 {
			return entities.Order{}, fmt.Errorf("%w: actual weight must be positive for item %s", entities.ErrValidation, adj.ItemID)
		}

		changes = append(changes, lineChange{
			item:         it,
			actualGrams:  adj.ActualGrams,
			newLineTotal: pricing.WeightLineTotal(it.UnitPriceMinor, adj.ActualGrams),
			pending:      pricing.NeedsConfirmation(it.RequestedGrams, adj.ActualGrams),
		})
	}

	// applied total: committed line totals only; proposed total: everything
	applied := make(map[string]int64)
	proposed := make(map[string]int64)
	anyPending := false
	for _, ch := range changes {
		proposed[ch.item.ID] = ch.newLineTotal
		if ch.pending {
			anyPending = true
		} else {
			applied[ch.item.ID] = ch.newLineTotal
		}
	}

	var appliedTotal, proposedTotal int64
	for _, it := range order.Items {
		if !it.Available {
			continue
		}
		lt := it.LineTotalMinor
		if v, ok := applied[it.ID]; ok {
			lt = v
		}
		appliedTotal += lt

		plt := it.LineTotalMinor
		if v, ok := proposed[it.ID]; ok {
			plt = v
		}
		proposedTotal += plt
	}

	commission := pricing.Commission(appliedTotal, shop.CommissionPct)
	expect := []entities.OrderStatus{entities.StatusAccepted, entities.StatusPreparing}

	err = s.txManager.Do(ctx, func(ctx context.Context) error {
		upd := repo.OrderUpdate{
			TotalMinor:        &appliedTotal,
			CommissionMinor:   &commission,
			AdjustmentPending: &anyPending,
		}
		if anyPending {
			upd.ProposedTotalMinor = &proposedTotal
		} else {
			zero := int64(0)
			upd.ProposedTotalMinor = &zero
		}
		if err := s.orders.UpdateOrder(ctx, orderID, expect, upd); err != nil {
			return err
		}

		for _, ch := range changes {
			itemUpd := repo.ItemUpdate{ActualGrams: &ch.actualGrams}
			if !ch.pending {
				lt := ch.newLineTotal
				itemUpd.LineTotalMinor = &lt
			}
			if err := s.orders.UpdateItem(ctx, ch.item.ID, itemUpd); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	if anyPending {
		s.publishOrderEvent(events.OrderAdjustmentProposed, updated, map[string]any{
			"proposed_total_minor": proposedTotal,
		})
	}
	return updated, nil
}

// pendingWeightLines are weight lines whose recorded actual weight has not
// been folded into the line total yet.
func pendingWeightLines(order entities.Order) []entities.OrderItem {
	var pending []entities.OrderItem
	for _, it := range order.Items {
		if it.Unit != entities.UnitWeight || !it.Available || it.ActualGrams == 0 {
			continue
		}
		if it.LineTotalMinor != pricing.WeightLineTotal(it.UnitPriceMinor, it.ActualGrams) {
			pending = append(pending, it)
		}
	}
	return pending
}

// ConfirmAdjustment is the buyer accepting a proposed out-of-tolerance
// price. Pending line totals are applied and the flag cleared.
func (s *LifecycleService) ConfirmAdjustment(ctx context.Context, orderID, buyerID string) (entities.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.BuyerID != buyerID {
		return entities.Order{}, entities.ErrForbidden
	}
	if !order.AdjustmentPending {
		return entities.Order{}, fmt.Errorf("%w: no adjustment pending", entities.ErrValidation)
	}

	shop, err := s.shops.GetShop(ctx, order.ShopID)
	if err != nil {
		return entities.Order{}, err
	}

	pending := pendingWeightLines(order)
	newTotal := order.ProposedTotalMinor
	commission := pricing.Commission(newTotal, shop.CommissionPct)
	falseVal := false
	zero := int64(0)

	expect := []entities.OrderStatus{entities.StatusAccepted, entities.StatusPreparing}
	err = s.txManager.Do(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{
			TotalMinor:         &newTotal,
			CommissionMinor:    &commission,
			AdjustmentPending:  &falseVal,
			ProposedTotalMinor: &zero,
		}); err != nil {
			return err
		}
		for _, it := range pending {
			lt := pricing.WeightLineTotal(it.UnitPriceMinor, it.ActualGrams)
			if err := s.orders.UpdateItem(ctx, it.ID, repo.ItemUpdate{LineTotalMinor: &lt}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return entities.Order{}, err
	}

	return s.orders.GetOrderByID(ctx, orderID)
}

// RejectAdjustment is the buyer refusing the proposed price. Pending actual
// weights are discarded so staff can re-adjust.
func (s *LifecycleService) RejectAdjustment(ctx context.Context, orderID, buyerID string) (entities.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.BuyerID != buyerID {
		return entities.Order{}, entities.ErrForbidden
	}
	if !order.AdjustmentPending {
		return entities.Order{}, fmt.Errorf("%w: no adjustment pending", entities.ErrValidation)
	}

	pending := pendingWeightLines(order)
	falseVal := false
	zeroTotal := int64(0)
	zeroGrams := 0

	expect := []entities.OrderStatus{entities.StatusAccepted, entities.StatusPreparing}
	err = s.txManager.Do(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{
			AdjustmentPending:  &falseVal,
			ProposedTotalMinor: &zeroTotal,
		}); err != nil {
			return err
		}
		for _, it := range pending {
			if err := s.orders.UpdateItem(ctx, it.ID, repo.ItemUpdate{ActualGrams: &zeroGrams}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return entities.Order{}, err
	}

	return s.orders.GetOrderByID(ctx, orderID)
}

// AdjustPrice replaces unit prices and recomputes line and order totals.
func (s *LifecycleService) AdjustPrice(ctx context.Context, orderID, staffID string, adjustments []PriceAdjustment) (entities.Order, error) {
	order, shop, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}
	if len(adjustments) == 0 {
		return entities.Order{}, fmt.Errorf("%w: no adjustments given", entities.ErrValidation)
	}

	byID := make(map[string]entities.OrderItem, len(order.Items))
	for _, it := range order.Items {
		byID[it.ID] = it
	}

	newLineTotals := make(map[string]int64)
	newPrices := make(map[string]int64)
	for _, adj := range adjustments {
		it, ok := byID[adj.ItemID]
		if !ok {
			return entities.Order{}, fmt.Errorf("%w: item %s does not belong to order", entities.ErrValidation, adj.ItemID)
		}
		if adj.UnitPriceMinor < 0 {
			return entities.Order{}, fmt.Errorf("%w: price must not be negative for item %s", entities.ErrValidation, adj.ItemID)
		}

		grams := it.RequestedGrams
		if it.ActualGrams > 0 {
			grams = it.ActualGrams
		}
		newPrices[it.ID] = adj.UnitPriceMinor
		newLineTotals[it.ID] = pricing.LineTotal(it.Unit, adj.UnitPriceMinor, it.Quantity, grams)
	}

	var newTotal int64
	for _, it := range order.Items {
		if !it.Available {
			continue
		}
		lt := it.LineTotalMinor
		if v, ok := newLineTotals[it.ID]; ok {
			lt = v
		}
		newTotal += lt
	}
	commission := pricing.Commission(newTotal, shop.CommissionPct)

	expect := []entities.OrderStatus{entities.StatusAccepted, entities.StatusPreparing}
	err = s.txManager.Do(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateOrder(ctx, orderID, expect, repo.OrderUpdate{
			TotalMinor:      &newTotal,
			CommissionMinor: &commission,
		}); err != nil {
			return err
		}
		for id, lt := range newLineTotals {
			price := newPrices[id]
			if err := s.orders.UpdateItem(ctx, id, repo.ItemUpdate{
				UnitPriceMinor: &price,
				LineTotalMinor: &lt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return entities.Order{}, err
	}

	return s.orders.GetOrderByID(ctx, orderID)
}

// ConfirmPickup verifies the single-use pickup token. A mismatch rejects
// without mutation; a match moves the order to PICKED_UP exactly once.
func (s *LifecycleService) ConfirmPickup(ctx context.Context, orderID, staffID, token string) (entities.Order, error) {
	order, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.PickupToken == "" || token != order.PickupToken {
		return entities.Order{}, fmt.Errorf("%w: pickup token mismatch", entities.ErrValidation)
	}

	status := entities.StatusPickedUp
	now := time.Now()
	if err := s.orders.UpdateOrder(ctx, orderID, []entities.OrderStatus{entities.StatusReady}, repo.OrderUpdate{
		Status:         &status,
		PickedUpAt:     &now,
		TokenScannedAt: &now,
	}); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.receipts.Generate(updated)
	s.publishOrderEvent(events.OrderPickedUp, updated, nil)
	return updated, nil
}

// ManualPickup is the trusted staff override: same end state, no token
// check, no token-scanned timestamp.
func (s *LifecycleService) ManualPickup(ctx context.Context, orderID, staffID string) (entities.Order, error) {
	_, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}

	status := entities.StatusPickedUp
	now := time.Now()
	if err := s.orders.UpdateOrder(ctx, orderID, []entities.OrderStatus{entities.StatusReady}, repo.OrderUpdate{
		Status:     &status,
		PickedUpAt: &now,
	}); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderPickedUp, updated, map[string]any{"manual": true})
	return updated, nil
}

func (s *LifecycleService) Cancel(ctx context.Context, orderID, staffID, reason string) (entities.Order, error) {
	_, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}

	status := entities.StatusCancelled
	expect := []entities.OrderStatus{entities.StatusPending, entities.StatusAccepted, entities.StatusPreparing}
	upd := repo.OrderUpdate{Status: &status}
	if reason != "" {
		upd.DenyReason = &reason
	}
	if err := s.orders.UpdateOrder(ctx, orderID, expect, upd); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderCancelled, updated, map[string]any{"reason": reason})
	return updated, nil
}

// AddNote stores a staff note on any non-terminal order and notifies the
// buyer. No status change.
func (s *LifecycleService) AddNote(ctx context.Context, orderID, staffID, text string) (entities.Order, error) {
	order, _, err := s.loadOwned(ctx, orderID, staffID)
	if err != nil {
		return entities.Order{}, err
	}
	if text == "" {
		return entities.Order{}, fmt.Errorf("%w: note text required", entities.ErrValidation)
	}
	if order.Status.Terminal() {
		return entities.Order{}, entities.NewStateConflict(order.Status)
	}

	nonTerminal := []entities.OrderStatus{
		entities.StatusPending, entities.StatusAccepted, entities.StatusPreparing,
		entities.StatusReady, entities.StatusPartiallyDenied,
	}
	if err := s.orders.UpdateOrder(ctx, orderID, nonTerminal, repo.OrderUpdate{StaffNote: &text}); err != nil {
		return entities.Order{}, err
	}

	updated, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	s.publishOrderEvent(events.OrderNoteAdded, updated, map[string]any{"note": text})
	return updated, nil
}

// GetOrder returns an order with its items.
func (s *LifecycleService) GetOrder(ctx context.Context, orderID string) (entities.Order, error) {
	return s.orders.GetOrderByID(ctx, orderID)
}
