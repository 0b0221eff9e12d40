package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/events"
	"github.com/pickupmarket/order-service/internal/repo"
)

// SystemActor marks writes triggered by the scheduler or admission flow
// rather than by shop staff. It bypasses the ownership check.
const SystemActor = "system"

func shopCacheKey(shopID string) string { return "shop:" + shopID }

// CapacityController owns shop availability: the read-through status cache,
// every flag write, and all cache invalidation. Other components never touch
// the cache directly.
type CapacityController struct {
	logger *slog.Logger
	shops  ShopRepo
	cache  Cache
	events Publisher
}

func NewCapacityController(logger *slog.Logger, shops ShopRepo, cache Cache, events Publisher) *CapacityController {
	return &CapacityController{
		logger: logger.With(slog.String("service", "capacity")),
		shops:  shops,
		cache:  cache,
		events: events,
	}
}

// GetStatus resolves a shop's operational status through the cache. On a
// miss the stored flags are recomputed with auto-expiry applied: an elapsed
// busy, pause or vacation window resets the shop to OPEN and the reset is
// persisted before the snapshot is cached.
func (c *CapacityController) GetStatus(ctx context.Context, shopID string) (entities.Availability, error) {
	if data, ok := c.cache.Get(shopCacheKey(shopID)); ok {
		var av entities.Availability
		if err := av.Unmarshal(data); err == nil {
			return av, nil
		}
		c.cache.Delete(shopCacheKey(shopID))
	}
	return c.Refresh(ctx, shopID)
}

// Refresh recomputes the availability snapshot from the store, persisting
// elapsed windows, and writes it back to the cache.
func (c *CapacityController) Refresh(ctx context.Context, shopID string) (entities.Availability, error) {
	shop, err := c.shops.GetShop(ctx, shopID)
	if err != nil {
		return entities.Availability{}, err
	}

	now := time.Now()
	if err := c.expireWindows(ctx, &shop, now); err != nil {
		return entities.Availability{}, err
	}

	av := availabilityOf(shop, now)

	if data, err := av.Marshal(); err == nil {
		c.cache.Set(shopCacheKey(shopID), data)
	} else {
		c.logger.Error("failed to marshal availability", slog.Any("error", err))
	}

	return av, nil
}

// expireWindows persists resets for elapsed busy/pause/vacation windows and
// mutates the in-memory shop accordingly.
func (c *CapacityController) expireWindows(ctx context.Context, shop *entities.Shop, now time.Time) error {
	upd := repo.ShopUpdate{}
	dirty := false

	if shop.BusyActive && shop.BusyUntil != nil && !now.Before(*shop.BusyUntil) {
		f, zero := false, 0
		upd.BusyActive, upd.BusySurchargeMins, upd.ClearBusyUntil = &f, &zero, true
		shop.BusyActive, shop.BusySurchargeMins, shop.BusyUntil = false, 0, nil
		dirty = true
	}
	if shop.PauseActive && shop.PausedUntil != nil && !now.Before(*shop.PausedUntil) {
		f, empty := false, ""
		upd.PauseActive, upd.PauseReason, upd.ClearPausedUntil = &f, &empty, true
		shop.PauseActive, shop.PauseReason, shop.PausedUntil = false, "", nil
		dirty = true
	}
	if shop.VacationActive && shop.VacationUntil != nil && !now.Before(*shop.VacationUntil) {
		f, tr, empty := false, true, ""
		upd.VacationActive, upd.Visible, upd.VacationMessage, upd.ClearVacationUntil = &f, &tr, &empty, true
		shop.VacationActive, shop.Visible, shop.VacationMessage = false, true, ""
		shop.VacationFrom, shop.VacationUntil = nil, nil
		dirty = true
	}

	if !dirty {
		return nil
	}
	if err := c.shops.UpdateShopFlags(ctx, shop.ID, upd); err != nil {
		return fmt.Errorf("failed to persist elapsed windows: %w", err)
	}
	return nil
}

func availabilityOf(shop entities.Shop, now time.Time) entities.Availability {
	av := entities.Availability{
		ShopID:     shop.ID,
		Status:     shop.Status(now),
		ResolvedAt: now,
	}

	switch av.Status {
	case entities.ShopBusy:
		av.BusySurchargeMins = shop.BusySurchargeMins
		av.Message = "shop is busy, preparation takes longer than usual"
	case entities.ShopPaused:
		av.Message = "shop is temporarily not taking orders"
		if shop.PauseReason != "" {
			av.Message = shop.PauseReason
		}
	case entities.ShopAutoPaused:
		av.Message = "shop is not responding to orders right now"
	case entities.ShopVacation:
		av.Message = "shop is on vacation"
		if shop.VacationMessage != "" {
			av.Message = shop.VacationMessage
		}
	case entities.ShopClosed:
		av.Message = "shop is closed"
	}

	return av
}

func (c *CapacityController) requireOwner(ctx context.Context, shopID, actor string) (entities.Shop, error) {
	shop, err := c.shops.GetShop(ctx, shopID)
	if err != nil {
		return entities.Shop{}, err
	}
	if actor != SystemActor && shop.OwnerID != actor {
		return entities.Shop{}, entities.ErrForbidden
	}
	return shop, nil
}

// applied after every flag write: audit, cache invalidation, event.
func (c *CapacityController) finishWrite(ctx context.Context, shop entities.Shop, to entities.ShopStatus, reason, actor string) {
	now := time.Now()
	audit := entities.StatusAudit{
		ShopID:      shop.ID,
		FromStatus:  shop.Status(now),
		ToStatus:    to,
		Reason:      reason,
		TriggeredBy: actor,
		CreatedAt:   now,
	}
	if err := c.shops.InsertStatusAudit(ctx, audit); err != nil {
		c.logger.Error("failed to write status audit", slog.Any("error", err))
	}

	c.cache.Delete(shopCacheKey(shop.ID))

	c.events.Publish(events.ShopStatusChanged, shop.ID, map[string]any{
		"shop_id":      shop.ID,
		"shop_name":    shop.Name,
		"status":       string(to),
		"reason":       reason,
		"triggered_by": actor,
	})
}

func (c *CapacityController) Pause(ctx context.Context, shopID, actor, reason string, duration *time.Duration) error {
	shop, err := c.requireOwner(ctx, shopID, actor)
	if err != nil {
		return err
	}

	tr := true
	upd := repo.ShopUpdate{PauseActive: &tr, PauseReason: &reason, ClearPausedUntil: true}
	if duration != nil {
		until := time.Now().Add(*duration)
		upd.PausedUntil = &until
		upd.ClearPausedUntil = false
	}
	if err := c.shops.UpdateShopFlags(ctx, shopID, upd); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopPaused, reason, actor)
	return nil
}

// Resume clears manual pause and auto-pause and resets the missed-order
// counter. Only a manual resume resets the counter.
func (c *CapacityController) Resume(ctx context.Context, shopID, actor string) error {
	shop, err := c.requireOwner(ctx, shopID, actor)
	if err != nil {
		return err
	}

	f, zero, empty := false, 0, ""
	upd := repo.ShopUpdate{
		PauseActive:      &f,
		PauseReason:      &empty,
		ClearPausedUntil: true,
		AutoPaused:       &f,
		MissedOrders:     &zero,
	}
	if err := c.shops.UpdateShopFlags(ctx, shopID, upd); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopOpen, "", actor)
	return nil
}

func (c *CapacityController) SetBusyMode(ctx context.Context, shopID, actor string, surchargeMins int, duration time.Duration) error {
	shop, err := c.requireOwner(ctx, shopID, actor)
	if err != nil {
		return err
	}

	tr := true
	until := time.Now().Add(duration)
	upd := repo.ShopUpdate{
		BusyActive:        &tr,
		BusySurchargeMins: &surchargeMins,
		BusyUntil:         &until,
	}
	if err := c.shops.UpdateShopFlags(ctx, shopID, upd); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopBusy, "", actor)
	return nil
}

func (c *CapacityController) EndBusyMode(ctx context.Context, shopID, actor string) error {
	shop, err := c.requireOwner(ctx, shopID, actor)
	if err != nil {
		return err
	}

	f, zero := false, 0
	upd := repo.ShopUpdate{BusyActive: &f, BusySurchargeMins: &zero, ClearBusyUntil: true}
	if err := c.shops.UpdateShopFlags(ctx, shopID, upd); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopOpen, "", actor)
	return nil
}

// SetVacationMode hides the shop and suspends intake for the window.
func (c *CapacityController) SetVacationMode(ctx context.Context, shopID, actor string, from, until time.Time, message string) error {
	shop, err := c.requireOwner(ctx, shopID, actor)
	if err != nil {
		return err
	}

	tr, f := true, false
	upd := repo.ShopUpdate{
		VacationActive:  &tr,
		Visible:         &f,
		VacationFrom:    &from,
		VacationUntil:   &until,
		VacationMessage: &message,
	}
	if err := c.shops.UpdateShopFlags(ctx, shopID, upd); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopVacation, message, actor)
	return nil
}

func (c *CapacityController) EndVacationMode(ctx context.Context, shopID, actor string) error {
	shop, err := c.requireOwner(ctx, shopID, actor)
	if err != nil {
		return err
	}

	f, tr, empty := false, true, ""
	upd := repo.ShopUpdate{
		VacationActive:     &f,
		Visible:            &tr,
		VacationMessage:    &empty,
		ClearVacationUntil: true,
	}
	if err := c.shops.UpdateShopFlags(ctx, shopID, upd); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopOpen, "", actor)
	return nil
}

// CheckAutoPause records one missed order. The increment is tx-aware, so a
// caller running inside a transaction gets the counter bump committed (or
// rolled back) together with its own writes. The returned flag tells the
// caller whether the threshold was reached; the actual pause flip happens
// in ApplyAutoPause, after the caller's transaction commits.
func (c *CapacityController) CheckAutoPause(ctx context.Context, shopID string) (thresholdReached bool, err error) {
	count, threshold, err := c.shops.IncrementMissedOrders(ctx, shopID)
	if err != nil {
		return false, err
	}
	return threshold > 0 && count >= threshold, nil
}

// ApplyAutoPause flips a shop to AUTO_PAUSED. Distinct from manual pause:
// only a manual resume clears it.
func (c *CapacityController) ApplyAutoPause(ctx context.Context, shopID string) error {
	shop, err := c.shops.GetShop(ctx, shopID)
	if err != nil {
		return err
	}
	if shop.AutoPaused {
		return nil
	}

	tr := true
	if err := c.shops.UpdateShopFlags(ctx, shopID, repo.ShopUpdate{AutoPaused: &tr}); err != nil {
		return err
	}

	c.finishWrite(ctx, shop, entities.ShopAutoPaused, "missed-order threshold reached", SystemActor)

	c.events.Publish(events.ShopAutoPaused, shop.ID, map[string]any{
		"shop_id":       shop.ID,
		"shop_name":     shop.Name,
		"owner_id":      shop.OwnerID,
		"missed_orders": shop.MissedOrders + 1,
	})
	return nil
}
