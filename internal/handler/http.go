package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/service"
	"github.com/pickupmarket/order-service/pkg/utils"
)

const (
	buyerHeader    = "X-Buyer-ID"
	buyerProHeader = "X-Buyer-Pro"
	staffHeader    = "X-Staff-ID"
)

type OrderAdmitter interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (entities.Order, error)
}

type OrderLifecycle interface {
	GetOrder(ctx context.Context, orderID string) (entities.Order, error)
	Accept(ctx context.Context, orderID, staffID string, minutes int) (entities.Order, error)
	Deny(ctx context.Context, orderID, staffID, reason string) (entities.Order, error)
	StartPreparing(ctx context.Context, orderID, staffID string, extraMinutes int) (entities.Order, error)
	AddTime(ctx context.Context, orderID, staffID string, minutes int) (entities.Order, error)
	MarkReady(ctx context.Context, orderID, staffID string) (entities.Order, error)
	ItemUnavailable(ctx context.Context, orderID, staffID string, itemIDs []string) (service.StockIssueResult, error)
	AdjustWeight(ctx context.Context, orderID, staffID string, adjustments []service.WeightAdjustment) (entities.Order, error)
	AdjustPrice(ctx context.Context, orderID, staffID string, adjustments []service.PriceAdjustment) (entities.Order, error)
	ConfirmAdjustment(ctx context.Context, orderID, buyerID string) (entities.Order, error)
	RejectAdjustment(ctx context.Context, orderID, buyerID string) (entities.Order, error)
	ConfirmPickup(ctx context.Context, orderID, staffID, token string) (entities.Order, error)
	ManualPickup(ctx context.Context, orderID, staffID string) (entities.Order, error)
	Cancel(ctx context.Context, orderID, staffID, reason string) (entities.Order, error)
	AddNote(ctx context.Context, orderID, staffID, text string) (entities.Order, error)
}

type ShopCapacity interface {
	GetStatus(ctx context.Context, shopID string) (entities.Availability, error)
	Pause(ctx context.Context, shopID, actor, reason string, duration *time.Duration) error
	Resume(ctx context.Context, shopID, actor string) error
	SetBusyMode(ctx context.Context, shopID, actor string, surchargeMins int, duration time.Duration) error
	EndBusyMode(ctx context.Context, shopID, actor string) error
	SetVacationMode(ctx context.Context, shopID, actor string, from, until time.Time, message string) error
	EndVacationMode(ctx context.Context, shopID, actor string) error
}

type HTTPHandler struct {
	logger    *slog.Logger
	validate  *validator.Validate
	admission OrderAdmitter
	lifecycle OrderLifecycle
	capacity  ShopCapacity
}

func NewHTTPHandler(logger *slog.Logger, admission OrderAdmitter, lifecycle OrderLifecycle, capacity ShopCapacity) *HTTPHandler {
	return &HTTPHandler{
		logger:    logger.With(slog.String("handler", "http")),
		validate:  validator.New(),
		admission: admission,
		lifecycle: lifecycle,
		capacity:  capacity,
	}
}

func (h *HTTPHandler) Init(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{order_id}", h.GetOrder)
		r.Post("/{order_id}/actions/{action}", h.OrderAction)
	})

	r.Route("/shops/{shop_id}", func(r chi.Router) {
		r.Get("/status", h.ShopStatus)
		r.Post("/pause", h.PauseShop)
		r.Post("/resume", h.ResumeShop)
		r.Post("/busy", h.SetBusy)
		r.Post("/busy/end", h.EndBusy)
		r.Post("/vacation", h.SetVacation)
		r.Post("/vacation/end", h.EndVacation)
	})
}

// CreateOrder admits a new order for a shop.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	buyerID := r.Header.Get(buyerHeader)
	if buyerID == "" {
		ordersRejected.WithLabelValues("unauthorized").Inc()
		utils.WriteError(w, "buyer identity required", http.StatusUnauthorized)
		return
	}

	var req CreateOrderRequest
	if err := utils.DecodeBody(r, &req); err != nil {
		ordersRejected.WithLabelValues("validation").Inc()
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ordersRejected.WithLabelValues("validation").Inc()
		utils.WriteValidationError(w, err)
		return
	}

	lines := make([]service.OrderLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, service.OrderLine{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			WeightGrams: it.WeightGrams,
			Note:        it.Note,
		})
	}

	order, err := h.admission.CreateOrder(ctx, service.CreateOrderRequest{
		ShopID:         req.ShopID,
		BuyerID:        buyerID,
		BuyerIsPro:     r.Header.Get(buyerProHeader) == "true",
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		BuyerNote:      req.Note,
		SlotStart:      req.SlotStart,
		SlotEnd:        req.SlotEnd,
		Lines:          lines,
	})
	if err != nil {
		ordersRejected.WithLabelValues(rejectReason(err)).Inc()
		h.writeDomainError(ctx, w, err)
		return
	}

	ordersAdmitted.Inc()
	utils.WriteJSON(w, OrderEntityToJSON(order), http.StatusCreated)
}

// GetOrder returns an order with its items.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "order_id")

	if err := h.validate.Var(orderID, "required,uuid"); err != nil {
		utils.WriteValidationError(w, err)
		return
	}

	order, err := h.lifecycle.GetOrder(ctx, orderID)
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}

	utils.WriteJSON(w, OrderEntityToJSON(order), http.StatusOK)
}

// OrderAction dispatches a named lifecycle action on an order. Staff
// actions authenticate via X-Staff-ID, buyer adjustment responses via
// X-Buyer-ID.
func (h *HTTPHandler) OrderAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "order_id")
	action := chi.URLParam(r, "action")

	if err := h.validate.Var(orderID, "required,uuid"); err != nil {
		utils.WriteValidationError(w, err)
		return
	}

	order, err := h.dispatchAction(ctx, w, r, orderID, action)
	if err != nil {
		if errors.Is(err, errHandled) {
			orderActions.WithLabelValues(action, "rejected").Inc()
			return
		}
		orderActions.WithLabelValues(action, "error").Inc()
		h.writeDomainError(ctx, w, err)
		return
	}

	orderActions.WithLabelValues(action, "ok").Inc()
	utils.WriteJSON(w, order, http.StatusOK)
}

// errHandled marks responses already written by dispatchAction.
var errHandled = errors.New("handled")

func (h *HTTPHandler) dispatchAction(ctx context.Context, w http.ResponseWriter, r *http.Request, orderID, action string) (any, error) {
	switch action {
	case "accept":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p AcceptPayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.Accept(ctx, orderID, staffID, p.Minutes)
		return h.orderResult(order, err)

	case "deny":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p DenyPayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.Deny(ctx, orderID, staffID, p.Reason)
		return h.orderResult(order, err)

	case "start_preparing":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p StartPreparingPayload
		if !h.decodeOptional(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.StartPreparing(ctx, orderID, staffID, p.ExtraMinutes)
		return h.orderResult(order, err)

	case "add_time":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p AddTimePayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.AddTime(ctx, orderID, staffID, p.Minutes)
		return h.orderResult(order, err)

	case "mark_ready":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		order, err := h.lifecycle.MarkReady(ctx, orderID, staffID)
		return h.orderResult(order, err)

	case "item_unavailable":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p ItemUnavailablePayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		res, err := h.lifecycle.ItemUnavailable(ctx, orderID, staffID, p.ItemIDs)
		if err != nil {
			return nil, err
		}
		return StockIssueToJSON(res), nil

	case "adjust_weight":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p AdjustWeightPayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		adj := make([]service.WeightAdjustment, 0, len(p.Items))
		for _, it := range p.Items {
			adj = append(adj, service.WeightAdjustment{ItemID: it.ItemID, ActualGrams: it.ActualGrams})
		}
		order, err := h.lifecycle.AdjustWeight(ctx, orderID, staffID, adj)
		return h.orderResult(order, err)

	case "adjust_price":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p AdjustPricePayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		adj := make([]service.PriceAdjustment, 0, len(p.Items))
		for _, it := range p.Items {
			adj = append(adj, service.PriceAdjustment{ItemID: it.ItemID, UnitPriceMinor: it.UnitPriceMinor})
		}
		order, err := h.lifecycle.AdjustPrice(ctx, orderID, staffID, adj)
		return h.orderResult(order, err)

	case "confirm_adjustment":
		buyerID, ok := h.buyer(w, r)
		if !ok {
			return nil, errHandled
		}
		order, err := h.lifecycle.ConfirmAdjustment(ctx, orderID, buyerID)
		return h.orderResult(order, err)

	case "reject_adjustment":
		buyerID, ok := h.buyer(w, r)
		if !ok {
			return nil, errHandled
		}
		order, err := h.lifecycle.RejectAdjustment(ctx, orderID, buyerID)
		return h.orderResult(order, err)

	case "confirm_pickup":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p ConfirmPickupPayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.ConfirmPickup(ctx, orderID, staffID, p.Token)
		return h.orderResult(order, err)

	case "manual_pickup":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		order, err := h.lifecycle.ManualPickup(ctx, orderID, staffID)
		return h.orderResult(order, err)

	case "cancel":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p CancelPayload
		if !h.decodeOptional(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.Cancel(ctx, orderID, staffID, p.Reason)
		return h.orderResult(order, err)

	case "add_note":
		staffID, ok := h.staff(w, r)
		if !ok {
			return nil, errHandled
		}
		var p AddNotePayload
		if !h.decode(w, r, &p) {
			return nil, errHandled
		}
		order, err := h.lifecycle.AddNote(ctx, orderID, staffID, p.Text)
		return h.orderResult(order, err)

	default:
		utils.WriteError(w, "unknown action: "+action, http.StatusNotFound)
		return nil, errHandled
	}
}

func (h *HTTPHandler) orderResult(order entities.Order, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return OrderEntityToJSON(order), nil
}

// ShopStatus returns the cached availability snapshot.
func (h *HTTPHandler) ShopStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	if err := h.validate.Var(shopID, "required"); err != nil {
		utils.WriteValidationError(w, err)
		return
	}

	av, err := h.capacity.GetStatus(ctx, shopID)
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}

	utils.WriteJSON(w, AvailabilityToJSON(av), http.StatusOK)
}

func (h *HTTPHandler) PauseShop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	staffID, ok := h.staff(w, r)
	if !ok {
		return
	}
	var p PausePayload
	if !h.decode(w, r, &p) {
		return
	}

	var duration *time.Duration
	if p.DurationMinutes > 0 {
		d := time.Duration(p.DurationMinutes) * time.Minute
		duration = &d
	}

	shopControls.WithLabelValues("pause").Inc()
	if err := h.capacity.Pause(ctx, shopID, staffID, p.Reason, duration); err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ResumeShop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	staffID, ok := h.staff(w, r)
	if !ok {
		return
	}

	shopControls.WithLabelValues("resume").Inc()
	if err := h.capacity.Resume(ctx, shopID, staffID); err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) SetBusy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	staffID, ok := h.staff(w, r)
	if !ok {
		return
	}
	var p BusyPayload
	if !h.decode(w, r, &p) {
		return
	}

	shopControls.WithLabelValues("busy").Inc()
	duration := time.Duration(p.DurationMinutes) * time.Minute
	if err := h.capacity.SetBusyMode(ctx, shopID, staffID, p.SurchargeMinutes, duration); err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) EndBusy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	staffID, ok := h.staff(w, r)
	if !ok {
		return
	}

	shopControls.WithLabelValues("busy_end").Inc()
	if err := h.capacity.EndBusyMode(ctx, shopID, staffID); err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) SetVacation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	staffID, ok := h.staff(w, r)
	if !ok {
		return
	}
	var p VacationPayload
	if !h.decode(w, r, &p) {
		return
	}

	shopControls.WithLabelValues("vacation").Inc()
	if err := h.capacity.SetVacationMode(ctx, shopID, staffID, p.From, p.Until, p.Message); err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) EndVacation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopID := chi.URLParam(r, "shop_id")

	staffID, ok := h.staff(w, r)
	if !ok {
		return
	}

	shopControls.WithLabelValues("vacation_end").Inc()
	if err := h.capacity.EndVacationMode(ctx, shopID, staffID); err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) staff(w http.ResponseWriter, r *http.Request) (string, bool) {
	staffID := r.Header.Get(staffHeader)
	if staffID == "" {
		utils.WriteError(w, "staff identity required", http.StatusUnauthorized)
		return "", false
	}
	return staffID, true
}

func (h *HTTPHandler) buyer(w http.ResponseWriter, r *http.Request) (string, bool) {
	buyerID := r.Header.Get(buyerHeader)
	if buyerID == "" {
		utils.WriteError(w, "buyer identity required", http.StatusUnauthorized)
		return "", false
	}
	return buyerID, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := utils.DecodeBody(r, v); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		utils.WriteValidationError(w, err)
		return false
	}
	return true
}

// decodeOptional tolerates an empty body for actions whose payload is
// entirely optional.
func (h *HTTPHandler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := utils.DecodeBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		utils.WriteValidationError(w, err)
		return false
	}
	return true
}

func (h *HTTPHandler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var conflict *entities.StateConflictError
	switch {
	case errors.As(err, &conflict):
		utils.WriteJSON(w, utils.ErrorResponse{
			Message: conflict.Error(),
			Code:    "STATE_CONFLICT",
			Status:  string(conflict.Current),
		}, http.StatusConflict)

	case errors.Is(err, entities.ErrValidation):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "VALIDATION_ERROR"}, http.StatusBadRequest)

	case errors.Is(err, entities.ErrUnauthorized):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "UNAUTHORIZED"}, http.StatusUnauthorized)

	case errors.Is(err, entities.ErrForbidden):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "FORBIDDEN"}, http.StatusForbidden)

	case errors.Is(err, entities.ErrOrderNotFound),
		errors.Is(err, entities.ErrShopNotFound),
		errors.Is(err, entities.ErrProductNotFound):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "NOT_FOUND"}, http.StatusNotFound)

	case errors.Is(err, entities.ErrAdjustmentPending):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "ADJUSTMENT_PENDING"}, http.StatusConflict)

	case errors.Is(err, entities.ErrIdempotencyConflict):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "IDEMPOTENCY_CONFLICT"}, http.StatusConflict)

	case errors.Is(err, entities.ErrServiceDisabled):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "SERVICE_DISABLED"}, http.StatusConflict)

	case errors.Is(err, entities.ErrStockInsufficient):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "STOCK_INSUFFICIENT"}, http.StatusUnprocessableEntity)

	case errors.Is(err, entities.ErrCapacityExceeded):
		utils.WriteJSON(w, utils.ErrorResponse{Message: err.Error(), Code: "CAPACITY_EXCEEDED"}, http.StatusTooManyRequests)

	default:
		h.logger.ErrorContext(ctx, "unhandled error", slog.Any("error", err))
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, entities.ErrServiceDisabled):
		return "service_disabled"
	case errors.Is(err, entities.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, entities.ErrStockInsufficient):
		return "stock_insufficient"
	case errors.Is(err, entities.ErrValidation):
		return "validation"
	case errors.Is(err, entities.ErrProductNotFound), errors.Is(err, entities.ErrShopNotFound):
		return "not_found"
	default:
		return "other"
	}
}
