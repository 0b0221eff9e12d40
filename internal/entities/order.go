package entities

import "time"

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusPreparing       OrderStatus = "PREPARING"
	StatusReady           OrderStatus = "READY"
	StatusPickedUp        OrderStatus = "PICKED_UP"
	StatusCompleted       OrderStatus = "COMPLETED"
	StatusDenied          OrderStatus = "DENIED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusAutoCancelled   OrderStatus = "AUTO_CANCELLED"
	StatusPartiallyDenied OrderStatus = "PARTIALLY_DENIED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusAccepted:        true,
		StatusDenied:          true,
		StatusCancelled:       true,
		StatusAutoCancelled:   true,
		StatusPartiallyDenied: true,
	},
	StatusAccepted: {
		StatusPreparing: true,
		StatusReady:     true,
		StatusCancelled: true,
		StatusDenied:    true,
	},
	StatusPreparing: {
		StatusReady:     true,
		StatusCancelled: true,
	},
	StatusReady: {
		StatusPickedUp: true,
	},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

var terminalStatuses = map[OrderStatus]bool{
	StatusPickedUp:      true,
	StatusCompleted:     true,
	StatusDenied:        true,
	StatusCancelled:     true,
	StatusAutoCancelled: true,
}

func (s OrderStatus) Terminal() bool {
	return terminalStatuses[s]
}

// Cancellable reports whether an order in this status may still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return validNext[s][StatusCancelled]
}

type UnitKind string

const (
	UnitWeight UnitKind = "WEIGHT"
	UnitPiece  UnitKind = "PIECE"
	UnitPack   UnitKind = "PACK"
)

type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	Name           string
	Unit           UnitKind
	UnitLabel      string
	Quantity       int
	UnitPriceMinor int64
	LineTotalMinor int64
	RequestedGrams int
	ActualGrams    int
	Available      bool
	Note           string
}

type Order struct {
	ID              string
	Number          string
	ShopID          string
	BuyerID         string
	Status          OrderStatus
	TotalMinor      int64
	CommissionMinor int64
	PaymentMethod   string
	IdempotencyKey  string

	CreatedAt        time.Time
	ResponseDeadline time.Time
	EstimatedReady   *time.Time
	ActualReady      *time.Time
	PickedUpAt       *time.Time
	TokenScannedAt   *time.Time

	PickupToken string
	DenyReason  string
	StaffNote   string
	BuyerNote   string

	SlotStart *time.Time
	SlotEnd   *time.Time

	// Set when a weight adjustment deviates beyond tolerance and the buyer
	// has not yet confirmed the proposed total. Gates the READY transition.
	AdjustmentPending  bool
	ProposedTotalMinor int64

	Items []OrderItem
}
