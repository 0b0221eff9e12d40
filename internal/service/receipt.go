package service

import (
	"log/slog"

	"github.com/pickupmarket/order-service/internal/entities"
)

// AsyncReceipts renders pickup receipts off the request path. Generation
// failure is logged and never reaches the confirming transition.
type AsyncReceipts struct {
	logger *slog.Logger
}

func NewAsyncReceipts(logger *slog.Logger) *AsyncReceipts {
	return &AsyncReceipts{logger: logger.With(slog.String("service", "receipts"))}
}

func (r *AsyncReceipts) Generate(order entities.Order) {
	go func() {
		// rendering and delivery live behind the document service; the core
		// only records the trigger
		r.logger.Info("receipt generation triggered",
			slog.String("order_id", order.ID),
			slog.String("order_number", order.Number),
			slog.Int64("total_minor", order.TotalMinor),
		)
	}()
}
