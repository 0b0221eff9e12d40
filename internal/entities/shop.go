package entities

import (
	"bytes"
	"encoding/gob"
	"time"
)

type ShopStatus string

const (
	ShopOpen       ShopStatus = "OPEN"
	ShopBusy       ShopStatus = "BUSY"
	ShopPaused     ShopStatus = "PAUSED"
	ShopAutoPaused ShopStatus = "AUTO_PAUSED"
	ShopClosed     ShopStatus = "CLOSED"
	ShopVacation   ShopStatus = "VACATION"
)

// Accepting reports whether a shop in this status admits new orders.
func (s ShopStatus) Accepting() bool {
	return s == ShopOpen || s == ShopBusy
}

type Shop struct {
	ID           string
	OwnerID      string
	Name         string
	NumberPrefix string
	Active       bool
	Visible      bool
	AutoAccept   bool

	BusyActive        bool
	BusySurchargeMins int
	BusyUntil         *time.Time

	PauseActive bool
	PauseReason string
	PausedUntil *time.Time

	AutoPaused         bool
	MissedOrders       int
	AutoPauseThreshold int

	VacationActive  bool
	VacationFrom    *time.Time
	VacationUntil   *time.Time
	VacationMessage string

	MaxOrdersPerHour  int
	MaxOrdersPerSlot  int
	AutoBusyThreshold int

	CommissionPct int
	MinOrderMinor int64
	BasePrepMins  int
}

// Status resolves the operational status from the stored flags at the given
// instant. Elapsed windows are reported as OPEN; persisting the reset is the
// capacity controller's job.
func (s Shop) Status(now time.Time) ShopStatus {
	if !s.Active {
		return ShopClosed
	}
	if s.VacationActive && (s.VacationUntil == nil || now.Before(*s.VacationUntil)) {
		return ShopVacation
	}
	if s.AutoPaused {
		return ShopAutoPaused
	}
	if s.PauseActive && (s.PausedUntil == nil || now.Before(*s.PausedUntil)) {
		return ShopPaused
	}
	if s.BusyActive && (s.BusyUntil == nil || now.Before(*s.BusyUntil)) {
		return ShopBusy
	}
	return ShopOpen
}

// Availability is the cached capacity snapshot served to admission and the
// live-status API.
type Availability struct {
	ShopID            string
	Status            ShopStatus
	BusySurchargeMins int
	Message           string
	ResolvedAt        time.Time
}

func (a *Availability) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Availability) Unmarshal(data []byte) error {
	return gob.NewDecoder(bytes.NewBuffer(data)).Decode(a)
}

type StatusAudit struct {
	ShopID      string
	FromStatus  ShopStatus
	ToStatus    ShopStatus
	Reason      string
	TriggeredBy string
	CreatedAt   time.Time
}
