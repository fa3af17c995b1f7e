// Package reconcile merges a laundry's machine roster with the user's
// active orders into the per-machine read model.
package reconcile

import (
	"time"

	"omo-laundry-agent/internal/omo"
)

// MachineState is the reconciled view of one roster machine.
type MachineState struct {
	Machine       omo.Machine `json:"machine"`
	IsAvailable   bool        `json:"is_available"`
	IsMine        bool        `json:"is_mine"`
	IsRunning     bool        `json:"is_running"`
	RemainingTime *int        `json:"remaining_time_seconds"` // nil unless running
	OrderID       string      `json:"order_id,omitempty"`
	UsageStatus   string      `json:"usage_status"`
}

// Snapshot is the atomically-published result of one reconciliation pass.
// It is never mutated after Build returns it.
type Snapshot struct {
	Laundry      omo.Laundry              `json:"laundry"`
	ActiveOrders []omo.ActiveOrder        `json:"active_orders"`
	Machines     map[string]*MachineState `json:"machines"`
	BuiltAt      time.Time                `json:"built_at"`
}

// orderRef ties an order machine line back to its order.
type orderRef struct {
	machine omo.OrderMachine
	orderID string
}

// Reconcile computes one MachineState per roster machine. Orders for other
// laundries are ignored; order lines referencing machines no longer in the
// roster are dropped. Matching prefers the machine id and falls back to the
// display name, since not every order shape carries a machine id.
func Reconcile(laundry *omo.Laundry, orders []omo.ActiveOrder) map[string]*MachineState {
	byID := make(map[string]orderRef)
	byName := make(map[string]orderRef)
	for _, order := range orders {
		if order.LaundryID != laundry.ID {
			continue
		}
		for _, om := range order.OrderMachines() {
			ref := orderRef{machine: om, orderID: order.ID}
			if om.MachineID != "" {
				byID[om.MachineID] = ref
			}
			if om.DisplayName != "" {
				byName[om.DisplayName] = ref
			}
		}
	}

	states := make(map[string]*MachineState, len(laundry.Machines))
	for _, machine := range laundry.Machines {
		state := &MachineState{
			Machine:     machine,
			IsAvailable: machine.Status == omo.StatusAvailable,
		}

		ref, mine := byID[machine.ID]
		if !mine {
			ref, mine = byName[machine.DisplayName]
		}

		if mine {
			state.IsMine = true
			state.OrderID = ref.orderID
			state.UsageStatus = ref.machine.UsageStatus
			state.IsRunning = ref.machine.UsageStatus == omo.UsageInUse && ref.machine.RemainingTime > 0
			if state.IsRunning {
				remaining := ref.machine.RemainingTime
				state.RemainingTime = &remaining
			}
		} else if state.IsAvailable {
			state.UsageStatus = omo.StatusAvailable
		} else {
			state.UsageStatus = machine.Status
		}

		states[machine.ID] = state
	}

	return states
}

// Build assembles a snapshot from one poll's raw data.
func Build(laundry *omo.Laundry, orders []omo.ActiveOrder, now time.Time) *Snapshot {
	return &Snapshot{
		Laundry:      *laundry,
		ActiveOrders: orders,
		Machines:     Reconcile(laundry, orders),
		BuiltAt:      now,
	}
}
