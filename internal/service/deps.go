package service

import (
	"context"
	"time"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/repo"
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, o entities.Order) error
	GetOrderByID(ctx context.Context, orderID string) (entities.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (entities.Order, error)
	UpdateOrder(ctx context.Context, orderID string, expect []entities.OrderStatus, upd repo.OrderUpdate) error
	UpdateItem(ctx context.Context, itemID string, upd repo.ItemUpdate) error

	CountOrdersSince(ctx context.Context, shopID string, since time.Time) (int, error)
	CountOrdersInSlot(ctx context.Context, shopID string, slotStart time.Time) (int, error)
	CountActiveOrders(ctx context.Context, shopID string) (int, error)
	NextOrderNumber(ctx context.Context, shopID string, year int) (int, error)
}

type ShopRepo interface {
	GetShop(ctx context.Context, shopID string) (entities.Shop, error)
	UpdateShopFlags(ctx context.Context, shopID string, upd repo.ShopUpdate) error
	IncrementMissedOrders(ctx context.Context, shopID string) (count, threshold int, err error)
	InsertStatusAudit(ctx context.Context, a entities.StatusAudit) error
}

type ProductRepo interface {
	GetProductsByIDs(ctx context.Context, shopID string, ids []string) ([]entities.Product, error)
	SetOutOfStock(ctx context.Context, ids []string) error
	FindSubstitutes(ctx context.Context, shopID, categoryID, excludeID string, limit int) ([]entities.Product, error)
}

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// Publisher is the notification side channel. Implementations must never
// block and never fail the caller.
type Publisher interface {
	Publish(event, key string, payload map[string]any)
}
