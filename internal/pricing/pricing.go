// Package pricing holds the money math for order admission and weight
// reconciliation. All persisted amounts are integer minor currency units;
// decimal is used only at rounding boundaries.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pickupmarket/order-service/internal/entities"
)

// TolerancePct is the weight deviation band (either direction) inside which
// a recomputed price is applied without buyer confirmation.
const TolerancePct = 10.0

// ResolveUnitPrice picks the professional price when the buyer qualifies and
// one is configured, then applies an active percentage promotion.
func ResolveUnitPrice(p entities.Product, buyerIsPro bool, now time.Time) int64 {
	price := p.PriceMinor
	if buyerIsPro && p.ProPriceMinor > 0 {
		price = p.ProPriceMinor
	}

	if p.PromoPercent > 0 && (p.PromoEndsAt == nil || p.PromoEndsAt.After(now)) {
		price = decimal.NewFromInt(price).
			Mul(decimal.NewFromInt(int64(100 - p.PromoPercent))).
			Div(decimal.NewFromInt(100)).
			Round(0).IntPart()
	}

	return price
}

// WeightLineTotal prorates a per-kilogram unit price by grams, rounded to
// the nearest minor unit.
func WeightLineTotal(unitPriceMinor int64, grams int) int64 {
	return decimal.NewFromInt(unitPriceMinor).
		Mul(decimal.NewFromInt(int64(grams))).
		Div(decimal.NewFromInt(1000)).
		Round(0).IntPart()
}

// LineTotal computes a line total for any unit kind.
func LineTotal(unit entities.UnitKind, unitPriceMinor int64, quantity, grams int) int64 {
	if unit == entities.UnitWeight {
		return WeightLineTotal(unitPriceMinor, grams)
	}
	return unitPriceMinor * int64(quantity)
}

// Commission derives the marketplace commission from an order total.
func Commission(totalMinor int64, pct int) int64 {
	return decimal.NewFromInt(totalMinor).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Round(0).IntPart()
}

// DeviationPct is the relative weight deviation in percent, positive when
// the actual weight exceeds the requested one.
func DeviationPct(requestedGrams, actualGrams int) float64 {
	if requestedGrams == 0 {
		return 0
	}
	return float64(actualGrams-requestedGrams) / float64(requestedGrams) * 100
}

// WithinTolerance reports whether an actual weight may be applied without
// buyer confirmation.
func WithinTolerance(requestedGrams, actualGrams int) bool {
	dev := DeviationPct(requestedGrams, actualGrams)
	return dev >= -TolerancePct && dev <= TolerancePct
}

// NeedsConfirmation reports whether the deviation requires explicit buyer
// confirmation before the order may proceed: only upward deviations beyond
// tolerance do.
func NeedsConfirmation(requestedGrams, actualGrams int) bool {
	return DeviationPct(requestedGrams, actualGrams) > TolerancePct
}

// OrderTotal sums the line totals of available items.
func OrderTotal(items []entities.OrderItem) int64 {
	var total int64
	for _, it := range items {
		if it.Available {
			total += it.LineTotalMinor
		}
	}
	return total
}
