package entities

import "time"

type Product struct {
	ID         string
	ShopID     string
	CategoryID string
	Name       string
	Unit       UnitKind
	UnitLabel  string

	PriceMinor    int64
	ProPriceMinor int64 // 0 when no professional price is configured

	PromoPercent int
	PromoEndsAt  *time.Time

	InStock   bool
	Withdrawn bool
}
