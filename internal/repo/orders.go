package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pickupmarket/order-service/internal/entities"
)

var orderColumns = []string{
	"id", "number", "shop_id", "buyer_id", "status",
	"total_minor", "commission_minor", "payment_method", "idempotency_key",
	"created_at", "response_deadline", "estimated_ready", "actual_ready",
	"picked_up_at", "token_scanned_at", "pickup_token", "deny_reason",
	"staff_note", "buyer_note", "slot_start", "slot_end",
	"adjustment_pending", "proposed_total_minor",
}

var itemColumns = []string{
	"id", "order_id", "product_id", "name", "unit", "unit_label",
	"quantity", "unit_price_minor", "line_total_minor",
	"requested_grams", "actual_grams", "available", "note",
}

type orderRepo struct {
	executor
}

func NewOrderRepo(db *sqlx.DB) *orderRepo {
	return &orderRepo{executor: newExecutor(db)}
}

// OrderUpdate carries the optional field set of a conditional order write.
// Nil fields are left untouched.
type OrderUpdate struct {
	Status             *entities.OrderStatus
	EstimatedReady     *time.Time
	ActualReady        *time.Time
	PickedUpAt         *time.Time
	TokenScannedAt     *time.Time
	PickupToken        *string
	DenyReason         *string
	StaffNote          *string
	TotalMinor         *int64
	CommissionMinor    *int64
	AdjustmentPending  *bool
	ProposedTotalMinor *int64
}

type ItemUpdate struct {
	UnitPriceMinor *int64
	LineTotalMinor *int64
	ActualGrams    *int
	Available      *bool
}

func (r *orderRepo) CreateOrder(ctx context.Context, o entities.Order) error {
	query, args := r.qb.Insert("orders").
		Columns(orderColumns...).
		Values(
			o.ID, o.Number, o.ShopID, o.BuyerID, string(o.Status),
			o.TotalMinor, o.CommissionMinor, nullString(o.PaymentMethod), nullString(o.IdempotencyKey),
			o.CreatedAt, o.ResponseDeadline, nullTime(o.EstimatedReady), nullTime(o.ActualReady),
			nullTime(o.PickedUpAt), nullTime(o.TokenScannedAt), nullString(o.PickupToken), nullString(o.DenyReason),
			nullString(o.StaffNote), nullString(o.BuyerNote), nullTime(o.SlotStart), nullTime(o.SlotEnd),
			o.AdjustmentPending, o.ProposedTotalMinor,
		).
		MustSql()

	if _, err := r.execContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return entities.ErrIdempotencyConflict
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	return r.insertItems(ctx, o.ID, o.Items)
}

func (r *orderRepo) insertItems(ctx context.Context, orderID string, items []entities.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	q := r.qb.Insert("order_items").Columns(itemColumns...)
	for _, it := range items {
		q = q.Values(
			it.ID, orderID, it.ProductID, it.Name, string(it.Unit), nullString(it.UnitLabel),
			it.Quantity, it.UnitPriceMinor, it.LineTotalMinor,
			it.RequestedGrams, it.ActualGrams, it.Available, nullString(it.Note),
		)
	}

	query, args := q.MustSql()
	if _, err := r.execContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}
	return nil
}

func (r *orderRepo) GetOrderByID(ctx context.Context, orderID string) (entities.Order, error) {
	query, args := r.qb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": orderID}).
		MustSql()

	var order Order
	err := r.getContext(ctx, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Order{}, entities.ErrOrderNotFound
	}
	if err != nil {
		return entities.Order{}, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := r.orderItems(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}

	return OrderToEntity(order, items), nil
}

func (r *orderRepo) GetOrderByIdempotencyKey(ctx context.Context, key string) (entities.Order, error) {
	query, args := r.qb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"idempotency_key": key}).
		MustSql()

	var order Order
	err := r.getContext(ctx, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Order{}, entities.ErrOrderNotFound
	}
	if err != nil {
		return entities.Order{}, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}

	items, err := r.orderItems(ctx, order.ID)
	if err != nil {
		return entities.Order{}, err
	}

	return OrderToEntity(order, items), nil
}

func (r *orderRepo) orderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	query, args := r.qb.Select(itemColumns...).
		From("order_items").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("id").
		MustSql()

	var items []OrderItem
	if err := r.selectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select order items: %w", err)
	}
	return items, nil
}

// UpdateOrder applies upd only while the stored status is one of expect.
// A lost race or illegal transition surfaces as a state-conflict error
// carrying the currently persisted status.
func (r *orderRepo) UpdateOrder(ctx context.Context, orderID string, expect []entities.OrderStatus, upd OrderUpdate) error {
	q := r.qb.Update("orders").Where(sq.Eq{"id": orderID})
	if len(expect) > 0 {
		statuses := make([]string, len(expect))
		for i, s := range expect {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}

	if upd.Status != nil {
		q = q.Set("status", string(*upd.Status))
	}
	if upd.EstimatedReady != nil {
		q = q.Set("estimated_ready", *upd.EstimatedReady)
	}
	if upd.ActualReady != nil {
		q = q.Set("actual_ready", *upd.ActualReady)
	}
	if upd.PickedUpAt != nil {
		q = q.Set("picked_up_at", *upd.PickedUpAt)
	}
	if upd.TokenScannedAt != nil {
		q = q.Set("token_scanned_at", *upd.TokenScannedAt)
	}
	if upd.PickupToken != nil {
		q = q.Set("pickup_token", *upd.PickupToken)
	}
	if upd.DenyReason != nil {
		q = q.Set("deny_reason", *upd.DenyReason)
	}
	if upd.StaffNote != nil {
		q = q.Set("staff_note", *upd.StaffNote)
	}
	if upd.TotalMinor != nil {
		q = q.Set("total_minor", *upd.TotalMinor)
	}
	if upd.CommissionMinor != nil {
		q = q.Set("commission_minor", *upd.CommissionMinor)
	}
	if upd.AdjustmentPending != nil {
		q = q.Set("adjustment_pending", *upd.AdjustmentPending)
	}
	if upd.ProposedTotalMinor != nil {
		q = q.Set("proposed_total_minor", *upd.ProposedTotalMinor)
	}

	query, args := q.MustSql()
	res, err := r.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return r.conflictError(ctx, orderID)
	}
	return nil
}

func (r *orderRepo) conflictError(ctx context.Context, orderID string) error {
	query, args := r.qb.Select("status").
		From("orders").
		Where(sq.Eq{"id": orderID}).
		MustSql()

	var status string
	err := r.getContext(ctx, &status, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current status: %w", err)
	}
	return entities.NewStateConflict(entities.OrderStatus(status))
}

func (r *orderRepo) UpdateItem(ctx context.Context, itemID string, upd ItemUpdate) error {
	q := r.qb.Update("order_items").Where(sq.Eq{"id": itemID})

	if upd.UnitPriceMinor != nil {
		q = q.Set("unit_price_minor", *upd.UnitPriceMinor)
	}
	if upd.LineTotalMinor != nil {
		q = q.Set("line_total_minor", *upd.LineTotalMinor)
	}
	if upd.ActualGrams != nil {
		q = q.Set("actual_grams", *upd.ActualGrams)
	}
	if upd.Available != nil {
		q = q.Set("available", *upd.Available)
	}

	query, args := q.MustSql()
	res, err := r.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return entities.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepo) CountOrdersSince(ctx context.Context, shopID string, since time.Time) (int, error) {
	query, args := r.qb.Select("COUNT(*)").
		From("orders").
		Where(sq.Eq{"shop_id": shopID}).
		Where(sq.GtOrEq{"created_at": since}).
		MustSql()

	var count int
	if err := r.getContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count recent orders: %w", err)
	}
	return count, nil
}

func (r *orderRepo) CountOrdersInSlot(ctx context.Context, shopID string, slotStart time.Time) (int, error) {
	query, args := r.qb.Select("COUNT(*)").
		From("orders").
		Where(sq.Eq{"shop_id": shopID, "slot_start": slotStart}).
		MustSql()

	var count int
	if err := r.getContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count slot orders: %w", err)
	}
	return count, nil
}

func (r *orderRepo) CountActiveOrders(ctx context.Context, shopID string) (int, error) {
	terminal := []string{
		string(entities.StatusPickedUp), string(entities.StatusCompleted),
		string(entities.StatusDenied), string(entities.StatusCancelled),
		string(entities.StatusAutoCancelled),
	}

	query, args := r.qb.Select("COUNT(*)").
		From("orders").
		Where(sq.Eq{"shop_id": shopID}).
		Where(sq.NotEq{"status": terminal}).
		MustSql()

	var count int
	if err := r.getContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count active orders: %w", err)
	}
	return count, nil
}

func (r *orderRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]entities.Order, error) {
	query, args := r.qb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"status": string(entities.StatusPending)}).
		Where(sq.Lt{"response_deadline": now}).
		OrderBy("response_deadline").
		Limit(uint64(limit)).
		MustSql()

	var orders []Order
	if err := r.selectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select expired orders: %w", err)
	}

	result := make([]entities.Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, OrderToEntity(o, nil))
	}
	return result, nil
}

// NextOrderNumber increments the per-shop-year counter and returns the new
// sequence value. The upsert keeps it atomic without advisory locks.
func (r *orderRepo) NextOrderNumber(ctx context.Context, shopID string, year int) (int, error) {
	const query = `
		INSERT INTO order_number_counters (shop_id, year, counter)
		VALUES ($1, $2, 1)
		ON CONFLICT (shop_id, year)
		DO UPDATE SET counter = order_number_counters.counter + 1
		RETURNING counter`

	var seq int
	if err := r.getContext(ctx, &seq, query, shopID, year); err != nil {
		return 0, fmt.Errorf("failed to allocate order number: %w", err)
	}
	return seq, nil
}
