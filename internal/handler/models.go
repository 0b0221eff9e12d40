package handler

import (
	"time"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/service"
)

// CreateOrderRequest is the admission input.
type CreateOrderRequest struct {
	ShopID         string     `json:"shop_id" validate:"required"`
	Items          []LineItem `json:"items" validate:"required,min=1,dive"`
	SlotStart      *time.Time `json:"slot_start,omitempty"`
	SlotEnd        *time.Time `json:"slot_end,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty" validate:"omitempty,oneof=ON_PICKUP CARD_ONLINE"`
	Note           string     `json:"note,omitempty" validate:"max=500"`
}

type LineItem struct {
	ProductID   string `json:"product_id" validate:"required"`
	Quantity    int    `json:"quantity,omitempty" validate:"gte=0"`
	WeightGrams int    `json:"weight_grams,omitempty" validate:"gte=0"`
	Note        string `json:"note,omitempty" validate:"max=200"`
}

type AcceptPayload struct {
	Minutes int `json:"minutes" validate:"gte=0"`
}

type DenyPayload struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type StartPreparingPayload struct {
	ExtraMinutes int `json:"extra_minutes,omitempty" validate:"gte=0"`
}

type AddTimePayload struct {
	Minutes int `json:"minutes" validate:"required,gt=0"`
}

type ItemUnavailablePayload struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1"`
}

type AdjustWeightPayload struct {
	Items []WeightItem `json:"items" validate:"required,min=1,dive"`
}

type WeightItem struct {
	ItemID      string `json:"item_id" validate:"required"`
	ActualGrams int    `json:"actual_grams" validate:"required,gt=0"`
}

type AdjustPricePayload struct {
	Items []PriceItem `json:"items" validate:"required,min=1,dive"`
}

type PriceItem struct {
	ItemID         string `json:"item_id" validate:"required"`
	UnitPriceMinor int64  `json:"unit_price_minor" validate:"gte=0"`
}

type ConfirmPickupPayload struct {
	Token string `json:"token" validate:"required"`
}

type CancelPayload struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type AddNotePayload struct {
	Text string `json:"text" validate:"required,max=1000"`
}

type PausePayload struct {
	Reason          string `json:"reason" validate:"required,max=500"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"gte=0"`
}

type BusyPayload struct {
	SurchargeMinutes int `json:"surcharge_minutes" validate:"required,gt=0"`
	DurationMinutes  int `json:"duration_minutes" validate:"required,gt=0"`
}

type VacationPayload struct {
	From    time.Time `json:"from" validate:"required"`
	Until   time.Time `json:"until" validate:"required,gtfield=From"`
	Message string    `json:"message,omitempty" validate:"max=500"`
}

// Order is the wire representation of an order.
type Order struct {
	ID              string `json:"id"`
	Number          string `json:"number"`
	ShopID          string `json:"shop_id"`
	BuyerID         string `json:"buyer_id"`
	Status          string `json:"status"`
	TotalMinor      int64  `json:"total_minor"`
	CommissionMinor int64  `json:"commission_minor"`
	PaymentMethod   string `json:"payment_method,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	ResponseDeadline time.Time  `json:"response_deadline"`
	EstimatedReady   *time.Time `json:"estimated_ready,omitempty"`
	ActualReady      *time.Time `json:"actual_ready,omitempty"`
	PickedUpAt       *time.Time `json:"picked_up_at,omitempty"`

	PickupToken string `json:"pickup_token,omitempty"`
	DenyReason  string `json:"deny_reason,omitempty"`
	StaffNote   string `json:"staff_note,omitempty"`
	BuyerNote   string `json:"buyer_note,omitempty"`

	SlotStart *time.Time `json:"slot_start,omitempty"`
	SlotEnd   *time.Time `json:"slot_end,omitempty"`

	AdjustmentPending  bool  `json:"adjustment_pending"`
	ProposedTotalMinor int64 `json:"proposed_total_minor,omitempty"`

	Items []Item `json:"items,omitempty"`
}

type Item struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Unit           string `json:"unit"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	LineTotalMinor int64  `json:"line_total_minor"`
	RequestedGrams int    `json:"requested_grams,omitempty"`
	ActualGrams    int    `json:"actual_grams,omitempty"`
	Available      bool   `json:"available"`
	Note           string `json:"note,omitempty"`
}

type Availability struct {
	ShopID            string `json:"shop_id"`
	Status            string `json:"status"`
	BusySurchargeMins int    `json:"busy_surcharge_mins,omitempty"`
	Message           string `json:"message,omitempty"`
}

type Substitute struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
}

type StockIssueResponse struct {
	Order       Order                   `json:"order"`
	Substitutes map[string][]Substitute `json:"substitutes,omitempty"`
}

func OrderEntityToJSON(o entities.Order) Order {
	items := make([]Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemEntityToJSON(it))
	}

	return Order{
		ID:              o.ID,
		Number:          o.Number,
		ShopID:          o.ShopID,
		BuyerID:         o.BuyerID,
		Status:          string(o.Status),
		TotalMinor:      o.TotalMinor,
		CommissionMinor: o.CommissionMinor,
		PaymentMethod:   o.PaymentMethod,

		CreatedAt:        o.CreatedAt,
		ResponseDeadline: o.ResponseDeadline,
		EstimatedReady:   o.EstimatedReady,
		ActualReady:      o.ActualReady,
		PickedUpAt:       o.PickedUpAt,

		PickupToken: o.PickupToken,
		DenyReason:  o.DenyReason,
		StaffNote:   o.StaffNote,
		BuyerNote:   o.BuyerNote,

		SlotStart: o.SlotStart,
		SlotEnd:   o.SlotEnd,

		AdjustmentPending:  o.AdjustmentPending,
		ProposedTotalMinor: o.ProposedTotalMinor,

		Items: items,
	}
}

func ItemEntityToJSON(i entities.OrderItem) Item {
	return Item{
		ID:             i.ID,
		ProductID:      i.ProductID,
		Name:           i.Name,
		Unit:           string(i.Unit),
		Quantity:       i.Quantity,
		UnitPriceMinor: i.UnitPriceMinor,
		LineTotalMinor: i.LineTotalMinor,
		RequestedGrams: i.RequestedGrams,
		ActualGrams:    i.ActualGrams,
		Available:      i.Available,
		Note:           i.Note,
	}
}

func AvailabilityToJSON(a entities.Availability) Availability {
	return Availability{
		ShopID:            a.ShopID,
		Status:            string(a.Status),
		BusySurchargeMins: a.BusySurchargeMins,
		Message:           a.Message,
	}
}

func StockIssueToJSON(r service.StockIssueResult) StockIssueResponse {
	resp := StockIssueResponse{Order: OrderEntityToJSON(r.Order)}
	if len(r.Substitutes) > 0 {
		resp.Substitutes = make(map[string][]Substitute, len(r.Substitutes))
		for itemID, products := range r.Substitutes {
			subs := make([]Substitute, 0, len(products))
			for _, p := range products {
				subs = append(subs, Substitute{
					ProductID:  p.ID,
					Name:       p.Name,
					PriceMinor: p.PriceMinor,
				})
			}
			resp.Substitutes[itemID] = subs
		}
	}
	return resp
}
