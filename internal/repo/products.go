package repo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pickupmarket/order-service/internal/entities"
)

var productColumns = []string{
	"id", "shop_id", "category_id", "name", "unit", "unit_label",
	"price_minor", "pro_price_minor", "promo_percent", "promo_ends_at",
	"in_stock", "withdrawn",
}

type productRepo struct {
	executor
}

func NewProductRepo(db *sqlx.DB) *productRepo {
	return &productRepo{executor: newExecutor(db)}
}

func (r *productRepo) GetProductsByIDs(ctx context.Context, shopID string, ids []string) ([]entities.Product, error) {
	query, args := r.qb.Select(productColumns...).
		From("products").
		Where(sq.Eq{"shop_id": shopID, "id": ids}).
		MustSql()

	var products []Product
	if err := r.selectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select products: %w", err)
	}

	result := make([]entities.Product, 0, len(products))
	for _, p := range products {
		result = append(result, ProductToEntity(p))
	}
	return result, nil
}

func (r *productRepo) SetOutOfStock(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args := r.qb.Update("products").
		Set("in_stock", false).
		Where(sq.Eq{"id": ids}).
		MustSql()

	if _, err := r.execContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark products out of stock: %w", err)
	}
	return nil
}

// FindSubstitutes returns the cheapest in-stock products of the same
// category, excluding the unavailable product itself.
func (r *productRepo) FindSubstitutes(ctx context.Context, shopID, categoryID, excludeID string, limit int) ([]entities.Product, error) {
	query, args := r.qb.Select(productColumns...).
		From("products").
		Where(sq.Eq{"shop_id": shopID, "category_id": categoryID, "in_stock": true, "withdrawn": false}).
		Where(sq.NotEq{"id": excludeID}).
		OrderBy("price_minor ASC").
		Limit(uint64(limit)).
		MustSql()

	var products []Product
	if err := r.selectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find substitutes: %w", err)
	}

	result := make([]entities.Product, 0, len(products))
	for _, p := range products {
		result = append(result, ProductToEntity(p))
	}
	return result, nil
}

// ClearExpiredPromos zeroes elapsed percentage promotions.
func (r *productRepo) ClearExpiredPromos(ctx context.Context, now time.Time) (int64, error) {
	query, args := r.qb.Update("products").
		Set("promo_percent", 0).
		Set("promo_ends_at", nil).
		Where(sq.Gt{"promo_percent": 0}).
		Where(sq.LtOrEq{"promo_ends_at": now}).
		MustSql()

	res, err := r.execContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired promos: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}
