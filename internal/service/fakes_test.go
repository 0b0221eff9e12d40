package service_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pickupmarket/order-service/internal/entities"
	"github.com/pickupmarket/order-service/internal/repo"
	"github.com/pickupmarket/order-service/pkg/trm"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

// fakeTxManager runs callbacks inline. Repo fakes are not tx-aware, so the
// callback's writes apply immediately; callers asserting rollback behavior
// force errors before any write instead.
type fakeTxManager struct{}

func (fakeTxManager) BeginTx(ctx context.Context) (context.Context, trm.Transaction, error) {
	return ctx, noopTx{}, nil
}

func (fakeTxManager) Do(ctx context.Context, callback func(ctx context.Context) error) error {
	return callback(ctx)
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]entities.Order

	hourlyCount int
	slotCount   int
	activeCount int
	countErr    error

	nextSeq map[string]int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders:  make(map[string]entities.Order),
		nextSeq: make(map[string]int),
	}
}

func (f *fakeOrderRepo) put(o entities.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *fakeOrderRepo) get(id string) entities.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, o entities.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.IdempotencyKey != "" {
		for _, existing := range f.orders {
			if existing.IdempotencyKey == o.IdempotencyKey {
				return entities.ErrIdempotencyConflict
			}
		}
	}
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, orderID string) (entities.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return entities.Order{}, entities.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetOrderByIdempotencyKey(ctx context.Context, key string) (entities.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return entities.Order{}, entities.ErrOrderNotFound
}

func (f *fakeOrderRepo) UpdateOrder(ctx context.Context, orderID string, expect []entities.OrderStatus, upd repo.OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return entities.ErrOrderNotFound
	}

	allowed := false
	for _, st := range expect {
		if o.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return entities.NewStateConflict(o.Status)
	}

	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.EstimatedReady != nil {
		t := *upd.EstimatedReady
		o.EstimatedReady = &t
	}
	if upd.ActualReady != nil {
		t := *upd.ActualReady
		o.ActualReady = &t
	}
	if upd.PickedUpAt != nil {
		t := *upd.PickedUpAt
		o.PickedUpAt = &t
	}
	if upd.TokenScannedAt != nil {
		t := *upd.TokenScannedAt
		o.TokenScannedAt = &t
	}
	if upd.PickupToken != nil {
		o.PickupToken = *upd.PickupToken
	}
	if upd.DenyReason != nil {
		o.DenyReason = *upd.DenyReason
	}
	if upd.StaffNote != nil {
		o.StaffNote = *upd.StaffNote
	}
	if upd.TotalMinor != nil {
		o.TotalMinor = *upd.TotalMinor
	}
	if upd.CommissionMinor != nil {
		o.CommissionMinor = *upd.CommissionMinor
	}
	if upd.AdjustmentPending != nil {
		o.AdjustmentPending = *upd.AdjustmentPending
	}
	if upd.ProposedTotalMinor != nil {
		o.ProposedTotalMinor = *upd.ProposedTotalMinor
	}

	f.orders[orderID] = o
	return nil
}

func (f *fakeOrderRepo) UpdateItem(ctx context.Context, itemID string, upd repo.ItemUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, o := range f.orders {
		for i, it := range o.Items {
			if it.ID != itemID {
				continue
			}
			if upd.UnitPriceMinor != nil {
				it.UnitPriceMinor = *upd.UnitPriceMinor
			}
			if upd.LineTotalMinor != nil {
				it.LineTotalMinor = *upd.LineTotalMinor
			}
			if upd.ActualGrams != nil {
				it.ActualGrams = *upd.ActualGrams
			}
			if upd.Available != nil {
				it.Available = *upd.Available
			}
			o.Items[i] = it
			f.orders[id] = o
			return nil
		}
	}
	return entities.ErrOrderNotFound
}

func (f *fakeOrderRepo) CountOrdersSince(ctx context.Context, shopID string, since time.Time) (int, error) {
	return f.hourlyCount, f.countErr
}

func (f *fakeOrderRepo) CountOrdersInSlot(ctx context.Context, shopID string, slotStart time.Time) (int, error) {
	return f.slotCount, f.countErr
}

func (f *fakeOrderRepo) CountActiveOrders(ctx context.Context, shopID string) (int, error) {
	return f.activeCount, f.countErr
}

func (f *fakeOrderRepo) NextOrderNumber(ctx context.Context, shopID string, year int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq[shopID]++
	return f.nextSeq[shopID], nil
}

type fakeShopRepo struct {
	mu     sync.Mutex
	shops  map[string]entities.Shop
	audits []entities.StatusAudit
}

func newFakeShopRepo(shops ...entities.Shop) *fakeShopRepo {
	f := &fakeShopRepo{shops: make(map[string]entities.Shop)}
	for _, s := range shops {
		f.shops[s.ID] = s
	}
	return f
}

func (f *fakeShopRepo) get(id string) entities.Shop {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shops[id]
}

func (f *fakeShopRepo) GetShop(ctx context.Context, shopID string) (entities.Shop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shops[shopID]
	if !ok {
		return entities.Shop{}, entities.ErrShopNotFound
	}
	return s, nil
}

func (f *fakeShopRepo) UpdateShopFlags(ctx context.Context, shopID string, upd repo.ShopUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.shops[shopID]
	if !ok {
		return entities.ErrShopNotFound
	}

	if upd.Visible != nil {
		s.Visible = *upd.Visible
	}
	if upd.BusyActive != nil {
		s.BusyActive = *upd.BusyActive
	}
	if upd.BusySurchargeMins != nil {
		s.BusySurchargeMins = *upd.BusySurchargeMins
	}
	if upd.BusyUntil != nil {
		t := *upd.BusyUntil
		s.BusyUntil = &t
	}
	if upd.ClearBusyUntil {
		s.BusyUntil = nil
	}
	if upd.PauseActive != nil {
		s.PauseActive = *upd.PauseActive
	}
	if upd.PauseReason != nil {
		s.PauseReason = *upd.PauseReason
	}
	if upd.PausedUntil != nil {
		t := *upd.PausedUntil
		s.PausedUntil = &t
	}
	if upd.ClearPausedUntil {
		s.PausedUntil = nil
	}
	if upd.AutoPaused != nil {
		s.AutoPaused = *upd.AutoPaused
	}
	if upd.MissedOrders != nil {
		s.MissedOrders = *upd.MissedOrders
	}
	if upd.VacationActive != nil {
		s.VacationActive = *upd.VacationActive
	}
	if upd.VacationFrom != nil {
		t := *upd.VacationFrom
		s.VacationFrom = &t
	}
	if upd.VacationUntil != nil {
		t := *upd.VacationUntil
		s.VacationUntil = &t
	}
	if upd.VacationMessage != nil {
		s.VacationMessage = *upd.VacationMessage
	}
	if upd.ClearVacationUntil {
		s.VacationFrom = nil
		s.VacationUntil = nil
	}

	f.shops[shopID] = s
	return nil
}

func (f *fakeShopRepo) IncrementMissedOrders(ctx context.Context, shopID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shops[shopID]
	if !ok {
		return 0, 0, entities.ErrShopNotFound
	}
	s.MissedOrders++
	f.shops[shopID] = s
	return s.MissedOrders, s.AutoPauseThreshold, nil
}

func (f *fakeShopRepo) InsertStatusAudit(ctx context.Context, a entities.StatusAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, a)
	return nil
}

func (f *fakeShopRepo) ListShopsWithElapsedWindows(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.shops {
		elapsed := (s.BusyActive && s.BusyUntil != nil && !now.Before(*s.BusyUntil)) ||
			(s.PauseActive && s.PausedUntil != nil && !now.Before(*s.PausedUntil)) ||
			(s.VacationActive && s.VacationUntil != nil && !now.Before(*s.VacationUntil))
		if elapsed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type fakeProductRepo struct {
	mu       sync.Mutex
	products map[string]entities.Product
}

func newFakeProductRepo(products ...entities.Product) *fakeProductRepo {
	f := &fakeProductRepo{products: make(map[string]entities.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProductRepo) GetProductsByIDs(ctx context.Context, shopID string, ids []string) ([]entities.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Product
	for _, id := range ids {
		p, ok := f.products[id]
		if ok && p.ShopID == shopID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductRepo) SetOutOfStock(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			p.InStock = false
			f.products[id] = p
		}
	}
	return nil
}

func (f *fakeProductRepo) FindSubstitutes(ctx context.Context, shopID, categoryID, excludeID string, limit int) ([]entities.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Product
	for _, p := range f.products {
		if p.ShopID != shopID || p.CategoryID != categoryID || p.ID == excludeID {
			continue
		}
		if !p.InStock || p.Withdrawn {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceMinor < out[j].PriceMinor })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeCache) Set(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
}

func (f *fakeCache) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	f.deletes = append(f.deletes, key)
}

type publishedEvent struct {
	Event   string
	Key     string
	Payload map[string]any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(event, key string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Event: event, Key: key, Payload: payload})
}

func (f *fakePublisher) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Event)
	}
	return out
}

type fakeReceipts struct {
	mu     sync.Mutex
	orders []entities.Order
}

func (f *fakeReceipts) Generate(order entities.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
}
