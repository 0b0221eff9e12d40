package pricing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/pricing"
)

func TestResolveUnitPrice(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	testCases := []struct {
		name    string
		product entities.Product
		isPro   bool
		want    int64
	}{
		{
			name:    "standard price",
			product: entities.Product{PriceMinor: 3200},
			want:    3200,
		},
		{
			name:    "professional price for pro buyer",
			product: entities.Product{PriceMinor: 3200, ProPriceMinor: 2900},
			isPro:   true,
			want:    2900,
		},
		{
			name:    "professional price ignored for regular buyer",
			product: entities.Product{PriceMinor: 3200, ProPriceMinor: 2900},
			want:    3200,
		},
		{
			name:    "pro buyer without configured pro price",
			product: entities.Product{PriceMinor: 3200},
			isPro:   true,
			want:    3200,
		},
		{
			name:    "active promotion with future expiry",
			product: entities.Product{PriceMinor: 1000, PromoPercent: 25, PromoEndsAt: &future},
			want:    750,
		},
		{
			name:    "promotion without expiry is active",
			product: entities.Product{PriceMinor: 1000, PromoPercent: 10},
			want:    900,
		},
		{
			name:    "elapsed promotion is ignored",
			product: entities.Product{PriceMinor: 1000, PromoPercent: 25, PromoEndsAt: &past},
			want:    1000,
		},
		{
			name:    "promotion applies on top of pro price",
			product: entities.Product{PriceMinor: 1000, ProPriceMinor: 800, PromoPercent: 10},
			isPro:   true,
			want:    720,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := pricing.ResolveUnitPrice(tc.product, tc.isPro, now)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWeightLineTotal(t *testing.T) {
	// 3200/kg at 500g
	assert.Equal(t, int64(1600), pricing.WeightLineTotal(3200, 500))
	// 3200/kg at 560g
	assert.Equal(t, int64(1792), pricing.WeightLineTotal(3200, 560))
	// rounds to nearest minor unit: 999/kg at 333g = 332.667
	assert.Equal(t, int64(333), pricing.WeightLineTotal(999, 333))
	assert.Equal(t, int64(0), pricing.WeightLineTotal(3200, 0))
}

func TestLineTotal(t *testing.T) {
	assert.Equal(t, int64(1600), pricing.LineTotal(entities.UnitWeight, 3200, 1, 500))
	assert.Equal(t, int64(900), pricing.LineTotal(entities.UnitPiece, 300, 3, 0))
	assert.Equal(t, int64(500), pricing.LineTotal(entities.UnitPack, 250, 2, 0))
}

func TestTolerance(t *testing.T) {
	// 560g on 500g requested is 12% over: out of tolerance, needs confirmation
	assert.False(t, pricing.WithinTolerance(500, 560))
	assert.True(t, pricing.NeedsConfirmation(500, 560))

	// 540g on 500g requested is 8% over: auto-accepted
	assert.True(t, pricing.WithinTolerance(500, 540))
	assert.False(t, pricing.NeedsConfirmation(500, 540))

	// exactly 10% either way is still within tolerance
	assert.True(t, pricing.WithinTolerance(500, 550))
	assert.True(t, pricing.WithinTolerance(500, 450))

	// downward deviation beyond tolerance never needs buyer confirmation
	assert.False(t, pricing.WithinTolerance(500, 400))
	assert.False(t, pricing.NeedsConfirmation(500, 400))

	// missing requested weight never blocks
	assert.True(t, pricing.WithinTolerance(0, 540))
}

func TestCommission(t *testing.T) {
	assert.Equal(t, int64(150), pricing.Commission(1500, 10))
	assert.Equal(t, int64(0), pricing.Commission(0, 10))
	// rounds half up: 1111 * 15% = 166.65
	assert.Equal(t, int64(167), pricing.Commission(1111, 15))
}

func TestOrderTotal(t *testing.T) {
	items := []entities.OrderItem{
		{LineTotalMinor: 1600, Available: true},
		{LineTotalMinor: 900, Available: true},
		{LineTotalMinor: 500, Available: false},
	}
	assert.Equal(t, int64(2500), pricing.OrderTotal(items))
}
