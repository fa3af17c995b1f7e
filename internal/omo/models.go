package omo

import "encoding/json"

// Machine type values reported by the upstream API.
const (
	MachineTypeWasher = "WASHER"
	MachineTypeDryer  = "DRYER"
)

// Machine status values reported by the upstream API.
const (
	StatusAvailable  = "AVAILABLE"
	StatusInUse      = "IN_USE"
	StatusOutOfOrder = "OUT_OF_ORDER"
	StatusReserved   = "RESERVED"
	StatusOffline    = "OFFLINE"
)

// Usage status values for a machine within an order.
const (
	UsageInUse          = "IN_USE"
	UsageAwaitingUnlock = "AWAITING_UNLOCK"
)

// Machine is a single washer or dryer in a laundry's roster.
type Machine struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	DisplayName string  `json:"displayName"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	CycleTime   int     `json:"cycleTime"` // minutes
	Price       float64 `json:"price"`
	Model       string  `json:"model"`
	Serial      string  `json:"serial"`
}

// Laundry is one physical location with its machine roster.
type Laundry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Type        string    `json:"type"`
	IsClosed    bool      `json:"isClosed"`
	IsBlocked   bool      `json:"isBlocked"`
	PaymentMode string    `json:"paymentMode"`
	Machines    []Machine `json:"-"`
}

// laundryWire mirrors the detail response, where machines arrive nested
// under washers/dryers. The paginated list omits the machines object.
type laundryWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Type        string `json:"type"`
	IsClosed    bool   `json:"isClosed"`
	IsBlocked   bool   `json:"isBlocked"`
	PaymentMode string `json:"paymentMode"`
	Machines    struct {
		Washers []Machine `json:"washers"`
		Dryers  []Machine `json:"dryers"`
	} `json:"machines"`
}

// UnmarshalJSON flattens the washers/dryers nesting into a single roster,
// washers first, preserving API order.
func (l *Laundry) UnmarshalJSON(data []byte) error {
	var wire laundryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	machines := make([]Machine, 0, len(wire.Machines.Washers)+len(wire.Machines.Dryers))
	machines = append(machines, wire.Machines.Washers...)
	machines = append(machines, wire.Machines.Dryers...)

	*l = Laundry{
		ID:          wire.ID,
		Name:        wire.Name,
		Code:        wire.Code,
		Type:        wire.Type,
		IsClosed:    wire.IsClosed,
		IsBlocked:   wire.IsBlocked,
		PaymentMode: wire.PaymentMode,
		Machines:    machines,
	}
	return nil
}

// OrderMachine is one machine line inside an active order. The "id" field
// on the wire is the order line id, not the roster machine id; machineId is
// only present in some response shapes, which is why DisplayName doubles as
// a join key.
type OrderMachine struct {
	LineID        string `json:"id"`
	MachineID     string `json:"machineId"`
	DisplayName   string `json:"displayName"`
	Type          string `json:"type"`
	RemainingTime int    `json:"remainingTime"` // seconds
	UsageStatus   string `json:"usageStatus"`
	StartUsageAt  string `json:"startUsageAt"`
}

// ActiveOrder is a user's in-flight paid session at one laundry.
type ActiveOrder struct {
	ID         string         `json:"id"`
	LaundryID  string         `json:"laundryId"`
	TotalPrice float64        `json:"totalPrice"`
	Status     string         `json:"status"`
	Machines   []OrderMachine `json:"machines"`

	// Some response shapes use orderMachines instead of machines.
	AltMachines []OrderMachine `json:"orderMachines"`
}

// OrderMachines returns the machine lines regardless of which wire field
// carried them.
func (o ActiveOrder) OrderMachines() []OrderMachine {
	if len(o.Machines) > 0 {
		return o.Machines
	}
	return o.AltMachines
}

// PaymentCard is a stored payment instrument.
type PaymentCard struct {
	ID         string `json:"id"`
	Brand      string `json:"brand"`
	LastFour   string `json:"lastFour"`
	HolderName string `json:"holderName"`
	Nickname   string `json:"nickname"`
	IsActive   *bool  `json:"isActive"` // absent means active
}

// Active reports whether the card can be charged.
func (c PaymentCard) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// UserInfo is the authenticated user's profile.
type UserInfo struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// StartResult is the outcome of a pay-and-start attempt. Success reflects
// the payment leg only: a charged order whose unlock call failed still
// reports Success=true, with UsageStatus AWAITING_UNLOCK and a Warning, so
// callers never mistake "charged but locked" for "nothing charged".
type StartResult struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"order_id,omitempty"`
	UsageStatus string `json:"usage_status,omitempty"`
	Warning     string `json:"warning,omitempty"`
	Message     string `json:"message,omitempty"`
}
