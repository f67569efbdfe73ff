package models

// MachineState is one of the seven lifecycle states a server's reconciler
// can be in.
type MachineState string

const (
	StateUnknown  MachineState = "UNKNOWN"
	StateOnline   MachineState = "ONLINE"
	StateIdle     MachineState = "IDLE"
	StateStarting MachineState = "STARTING"
	StateStopping MachineState = "STOPPING"
	StateStopped  MachineState = "STOPPED"
	StateCrashed  MachineState = "CRASHED"
)

// PortHeldByInterposer reports whether, per the invariant in spec.md §3, the
// interposer is expected to own the port while the machine is in this state.
func (s MachineState) PortHeldByInterposer() bool {
	switch s {
	case StateStopped, StateCrashed, StateUnknown:
		return true
	default:
		return false
	}
}
