package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BuyerLimiter throttles order creation per buyer over a short sliding
// window. It is in-process and best-effort: abuse mitigation, not billing.
type BuyerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewBuyerLimiter(interval time.Duration, burst int) *BuyerLimiter {
	return &BuyerLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(interval),
		burst:    burst,
	}
}

func (l *BuyerLimiter) Allow(buyerID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[buyerID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[buyerID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
