package notify

// EventKind classifies a machine state transition worth notifying about.
type EventKind string

const (
	// EventMachineFree fires when a machine that was unavailable becomes
	// available.
	EventMachineFree EventKind = "machine_free"
	// EventCycleFinished fires when one of the user's own running cycles
	// stops running.
	EventCycleFinished EventKind = "cycle_finished"
)

// Event is one notification job for the worker pool.
type Event struct {
	MachineID string
	Kind      EventKind
	Label     string // machine display name, for the message body
}
