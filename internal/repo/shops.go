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

var shopColumns = []string{
	"id", "owner_id", "name", "number_prefix", "active", "visible", "auto_accept",
	"busy_active", "busy_surcharge_mins", "busy_until",
	"pause_active", "pause_reason", "paused_until",
	"auto_paused", "missed_orders", "auto_pause_threshold",
	"vacation_active", "vacation_from", "vacation_until", "vacation_message",
	"max_orders_per_hour", "max_orders_per_slot", "auto_busy_threshold",
	"commission_pct", "min_order_minor", "base_prep_mins",
}

type shopRepo struct {
	executor
}

func NewShopRepo(db *sqlx.DB) *shopRepo {
	return &shopRepo{executor: newExecutor(db)}
}

// ShopUpdate is the partial write set for shop availability flags. Pointer
// fields are applied when non-nil; ClearBusyUntil and friends null out the
// corresponding window.
type ShopUpdate struct {
	Visible *bool

	BusyActive        *bool
	BusySurchargeMins *int
	BusyUntil         *time.Time
	ClearBusyUntil    bool

	PauseActive      *bool
	PauseReason      *string
	PausedUntil      *time.Time
	ClearPausedUntil bool

	AutoPaused   *bool
	MissedOrders *int

	VacationActive     *bool
	VacationFrom       *time.Time
	VacationUntil      *time.Time
	VacationMessage    *string
	ClearVacationUntil bool
}

func (r *shopRepo) GetShop(ctx context.Context, shopID string) (entities.Shop, error) {
	query, args := r.qb.Select(shopColumns...).
		From("shops").
		Where(sq.Eq{"id": shopID}).
		MustSql()

	var shop Shop
	err := r.getContext(ctx, &shop, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Shop{}, entities.ErrShopNotFound
	}
	if err != nil {
		return entities.Shop{}, fmt.Errorf("failed to get shop: %w", err)
	}
	return ShopToEntity(shop), nil
}

func (r *shopRepo) UpdateShopFlags(ctx context.Context, shopID string, upd ShopUpdate) error {
	q := r.qb.Update("shops").Where(sq.Eq{"id": shopID})

	if upd.Visible != nil {
		q = q.Set("visible", *upd.Visible)
	}
	if upd.BusyActive != nil {
		q = q.Set("busy_active", *upd.BusyActive)
	}
	if upd.BusySurchargeMins != nil {
		q = q.Set("busy_surcharge_mins", *upd.BusySurchargeMins)
	}
	if upd.BusyUntil != nil {
		q = q.Set("busy_until", *upd.BusyUntil)
	} else if upd.ClearBusyUntil {
		q = q.Set("busy_until", nil)
	}
	if upd.PauseActive != nil {
		q = q.Set("pause_active", *upd.PauseActive)
	}
	if upd.PauseReason != nil {
		q = q.Set("pause_reason", nullString(*upd.PauseReason))
	}
	if upd.PausedUntil != nil {
		q = q.Set("paused_until", *upd.PausedUntil)
	} else if upd.ClearPausedUntil {
		q = q.Set("paused_until", nil)
	}
	if upd.AutoPaused != nil {
		q = q.Set("auto_paused", *upd.AutoPaused)
	}
	if upd.MissedOrders != nil {
		q = q.Set("missed_orders", *upd.MissedOrders)
	}
	if upd.VacationActive != nil {
		q = q.Set("vacation_active", *upd.VacationActive)
	}
	if upd.VacationFrom != nil {
		q = q.Set("vacation_from", *upd.VacationFrom)
	}
	if upd.VacationUntil != nil {
		q = q.Set("vacation_until", *upd.VacationUntil)
	} else if upd.ClearVacationUntil {
		q = q.Set("vacation_from", nil).Set("vacation_until", nil)
	}
	if upd.VacationMessage != nil {
		q = q.Set("vacation_message", nullString(*upd.VacationMessage))
	}

	query, args := q.MustSql()
	res, err := r.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update shop: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return entities.ErrShopNotFound
	}
	return nil
}

// IncrementMissedOrders bumps the missed-order counter atomically and
// returns the new count together with the shop's auto-pause threshold.
func (r *shopRepo) IncrementMissedOrders(ctx context.Context, shopID string) (count, threshold int, err error) {
	const query = `
		UPDATE shops
		SET missed_orders = missed_orders + 1
		WHERE id = $1
		RETURNING missed_orders, auto_pause_threshold`

	var row struct {
		MissedOrders       int `db:"missed_orders"`
		AutoPauseThreshold int `db:"auto_pause_threshold"`
	}
	err = r.getContext(ctx, &row, query, shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, entities.ErrShopNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment missed orders: %w", err)
	}
	return row.MissedOrders, row.AutoPauseThreshold, nil
}

func (r *shopRepo) InsertStatusAudit(ctx context.Context, a entities.StatusAudit) error {
	query, args := r.qb.Insert("shop_status_audit").
		Columns("shop_id", "from_status", "to_status", "reason", "triggered_by", "created_at").
		Values(a.ShopID, string(a.FromStatus), string(a.ToStatus), nullString(a.Reason), a.TriggeredBy, a.CreatedAt).
		MustSql()

	if _, err := r.execContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert status audit: %w", err)
	}
	return nil
}

// ListShopsWithElapsedWindows returns ids of shops whose busy, pause or
// vacation window has lapsed, for the maintenance sweeps.
func (r *shopRepo) ListShopsWithElapsedWindows(ctx context.Context, now time.Time) ([]string, error) {
	query, args := r.qb.Select("id").
		From("shops").
		Where(sq.Or{
			sq.And{sq.Eq{"busy_active": true}, sq.Lt{"busy_until": now}},
			sq.And{sq.Eq{"pause_active": true}, sq.Lt{"paused_until": now}},
			sq.And{sq.Eq{"vacation_active": true}, sq.Lt{"vacation_until": now}},
		}).
		MustSql()

	var ids []string
	if err := r.selectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list shops with elapsed windows: %w", err)
	}
	return ids, nil
}
