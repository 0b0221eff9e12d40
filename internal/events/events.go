package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	OrderPending            = "order.pending"
	OrderAccepted           = "order.accepted"
	OrderDenied             = "order.denied"
	OrderPreparing          = "order.preparing"
	OrderReady              = "order.ready"
	OrderPickedUp           = "order.picked_up"
	OrderCancelled          = "order.cancelled"
	OrderAutoCancelled      = "order.auto_cancelled"
	OrderStockIssue         = "order.stock_issue"
	OrderAdjustmentProposed = "order.adjustment_proposed"
	OrderNoteAdded          = "order.note_added"

	ShopStatusChanged = "shop.status_changed"
	ShopAutoPaused    = "shop.auto_paused"
)

// Envelope is the wire frame consumed by the notification dispatcher. The
// payload is a flat map of ids, names, amounts and free text; the dispatcher
// owns all rendering.
type Envelope struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Version    int            `json:"event_version"`
	OccurredAt time.Time      `json:"occurred_at"`
	Producer   string         `json:"producer"`
	Payload    map[string]any `json:"payload"`
}

const producerName = "order-core"

func NewEnvelope(eventType string, payload map[string]any) Envelope {
	return Envelope{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		Version:    1,
		OccurredAt: time.Now().UTC(),
		Producer:   producerName,
		Payload:    payload,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// PartitionKey keeps all events of one order (or shop) in order.
func PartitionKey(id string) []byte { return []byte(id) }
