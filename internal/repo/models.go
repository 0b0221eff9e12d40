package repo

import (
	"database/sql"
	"time"

	"github.com/pickupmarket/order-service/internal/entities"
)

type Order struct {
	ID              string         `db:"id"`
	Number          string         `db:"number"`
	ShopID          string         `db:"shop_id"`
	BuyerID         string         `db:"buyer_id"`
	Status          string         `db:"status"`
	TotalMinor      int64          `db:"total_minor"`
	CommissionMinor int64          `db:"commission_minor"`
	PaymentMethod   sql.NullString `db:"payment_method"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`

	CreatedAt        time.Time    `db:"created_at"`
	ResponseDeadline time.Time    `db:"response_deadline"`
	EstimatedReady   sql.NullTime `db:"estimated_ready"`
	ActualReady      sql.NullTime `db:"actual_ready"`
	PickedUpAt       sql.NullTime `db:"picked_up_at"`
	TokenScannedAt   sql.NullTime `db:"token_scanned_at"`

	PickupToken sql.NullString `db:"pickup_token"`
	DenyReason  sql.NullString `db:"deny_reason"`
	StaffNote   sql.NullString `db:"staff_note"`
	BuyerNote   sql.NullString `db:"buyer_note"`

	SlotStart sql.NullTime `db:"slot_start"`
	SlotEnd   sql.NullTime `db:"slot_end"`

	AdjustmentPending  bool  `db:"adjustment_pending"`
	ProposedTotalMinor int64 `db:"proposed_total_minor"`
}

type OrderItem struct {
	ID             string         `db:"id"`
	OrderID        string         `db:"order_id"`
	ProductID      string         `db:"product_id"`
	Name           string         `db:"name"`
	Unit           string         `db:"unit"`
	UnitLabel      sql.NullString `db:"unit_label"`
	Quantity       int            `db:"quantity"`
	UnitPriceMinor int64          `db:"unit_price_minor"`
	LineTotalMinor int64          `db:"line_total_minor"`
	RequestedGrams int            `db:"requested_grams"`
	ActualGrams    int            `db:"actual_grams"`
	Available      bool           `db:"available"`
	Note           sql.NullString `db:"note"`
}

type Shop struct {
	ID           string `db:"id"`
	OwnerID      string `db:"owner_id"`
	Name         string `db:"name"`
	NumberPrefix string `db:"number_prefix"`
	Active       bool   `db:"active"`
	Visible      bool   `db:"visible"`
	AutoAccept   bool   `db:"auto_accept"`

	BusyActive        bool         `db:"busy_active"`
	BusySurchargeMins int          `db:"busy_surcharge_mins"`
	BusyUntil         sql.NullTime `db:"busy_until"`

	PauseActive bool           `db:"pause_active"`
	PauseReason sql.NullString `db:"pause_reason"`
	PausedUntil sql.NullTime   `db:"paused_until"`

	AutoPaused         bool `db:"auto_paused"`
	MissedOrders       int  `db:"missed_orders"`
	AutoPauseThreshold int  `db:"auto_pause_threshold"`

	VacationActive  bool           `db:"vacation_active"`
	VacationFrom    sql.NullTime   `db:"vacation_from"`
	VacationUntil   sql.NullTime   `db:"vacation_until"`
	VacationMessage sql.NullString `db:"vacation_message"`

	MaxOrdersPerHour  int `db:"max_orders_per_hour"`
	MaxOrdersPerSlot  int `db:"max_orders_per_slot"`
	AutoBusyThreshold int `db:"auto_busy_threshold"`

	CommissionPct int   `db:"commission_pct"`
	MinOrderMinor int64 `db:"min_order_minor"`
	BasePrepMins  int   `db:"base_prep_mins"`
}

type Product struct {
	ID            string         `db:"id"`
	ShopID        string         `db:"shop_id"`
	CategoryID    string         `db:"category_id"`
	Name          string         `db:"name"`
	Unit          string         `db:"unit"`
	UnitLabel     sql.NullString `db:"unit_label"`
	PriceMinor    int64          `db:"price_minor"`
	ProPriceMinor int64          `db:"pro_price_minor"`
	PromoPercent  int            `db:"promo_percent"`
	PromoEndsAt   sql.NullTime   `db:"promo_ends_at"`
	InStock       bool           `db:"in_stock"`
	Withdrawn     bool           `db:"withdrawn"`
}

func OrderToEntity(o Order, items []OrderItem) entities.Order {
	order := entities.Order{
		ID:              o.ID,
		Number:          o.Number,
		ShopID:          o.ShopID,
		BuyerID:         o.BuyerID,
		Status:          entities.OrderStatus(o.Status),
		TotalMinor:      o.TotalMinor,
		CommissionMinor: o.CommissionMinor,
		PaymentMethod:   nullStringToString(o.PaymentMethod),
		IdempotencyKey:  nullStringToString(o.IdempotencyKey),

		CreatedAt:        o.CreatedAt,
		ResponseDeadline: o.ResponseDeadline,
		EstimatedReady:   nullTimeToPtr(o.EstimatedReady),
		ActualReady:      nullTimeToPtr(o.ActualReady),
		PickedUpAt:       nullTimeToPtr(o.PickedUpAt),
		TokenScannedAt:   nullTimeToPtr(o.TokenScannedAt),

		PickupToken: nullStringToString(o.PickupToken),
		DenyReason:  nullStringToString(o.DenyReason),
		StaffNote:   nullStringToString(o.StaffNote),
		BuyerNote:   nullStringToString(o.BuyerNote),

		SlotStart: nullTimeToPtr(o.SlotStart),
		SlotEnd:   nullTimeToPtr(o.SlotEnd),

		AdjustmentPending:  o.AdjustmentPending,
		ProposedTotalMinor: o.ProposedTotalMinor,
	}

	if len(items) > 0 {
		order.Items = make([]entities.OrderItem, 0, len(items))
		for _, it := range items {
			order.Items = append(order.Items, ItemToEntity(it))
		}
	}

	return order
}

func ItemToEntity(i OrderItem) entities.OrderItem {
	return entities.OrderItem{
		ID:             i.ID,
		OrderID:        i.OrderID,
		ProductID:      i.ProductID,
		Name:           i.Name,
		Unit:           entities.UnitKind(i.Unit),
		UnitLabel:      nullStringToString(i.UnitLabel),
		Quantity:       i.Quantity,
		UnitPriceMinor: i.UnitPriceMinor,
		LineTotalMinor: i.LineTotalMinor,
		RequestedGrams: i.RequestedGrams,
		ActualGrams:    i.ActualGrams,
		Available:      i.Available,
		Note:           nullStringToString(i.Note),
	}
}

func ShopToEntity(s Shop) entities.Shop {
	return entities.Shop{
		ID:           s.ID,
		OwnerID:      s.OwnerID,
		Name:         s.Name,
		NumberPrefix: s.NumberPrefix,
		Active:       s.Active,
		Visible:      s.Visible,
		AutoAccept:   s.AutoAccept,

		BusyActive:        s.BusyActive,
		BusySurchargeMins: s.BusySurchargeMins,
		BusyUntil:         nullTimeToPtr(s.BusyUntil),

		PauseActive: s.PauseActive,
		PauseReason: nullStringToString(s.PauseReason),
		PausedUntil: nullTimeToPtr(s.PausedUntil),

		AutoPaused:         s.AutoPaused,
		MissedOrders:       s.MissedOrders,
		AutoPauseThreshold: s.AutoPauseThreshold,

		VacationActive:  s.VacationActive,
		VacationFrom:    nullTimeToPtr(s.VacationFrom),
		VacationUntil:   nullTimeToPtr(s.VacationUntil),
		VacationMessage: nullStringToString(s.VacationMessage),

		MaxOrdersPerHour:  s.MaxOrdersPerHour,
		MaxOrdersPerSlot:  s.MaxOrdersPerSlot,
		AutoBusyThreshold: s.AutoBusyThreshold,

		CommissionPct: s.CommissionPct,
		MinOrderMinor: s.MinOrderMinor,
		BasePrepMins:  s.BasePrepMins,
	}
}

func ProductToEntity(p Product) entities.Product {
	return entities.Product{
		ID:            p.ID,
		ShopID:        p.ShopID,
		CategoryID:    p.CategoryID,
		Name:          p.Name,
		Unit:          entities.UnitKind(p.Unit),
		UnitLabel:     nullStringToString(p.UnitLabel),
		PriceMinor:    p.PriceMinor,
		ProPriceMinor: p.ProPriceMinor,
		PromoPercent:  p.PromoPercent,
		PromoEndsAt:   nullTimeToPtr(p.PromoEndsAt),
		InStock:       p.InStock,
		Withdrawn:     p.Withdrawn,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}
