// Package fsm implements the per-server lifecycle state machine as a pure
// value type: every external input is applied through a method that returns
// the next Machine value plus the intents the monitor loop must carry out.
// No I/O, no goroutines, no clocks read internally — every method takes
// "now" from its caller, which is what makes the timing guards testable
// without sleeping.
package fsm

import (
	"time"

	"github.com/craftywatch/hibernate/internal/models"
)

// IntentKind names a side effect the monitor loop must perform on behalf of
// a machine after it transitions.
type IntentKind int

const (
	IntentStart IntentKind = iota
	IntentStop
	IntentAcquirePort
	IntentReleasePort
	IntentNotify
)

// NotifyEvent is the event kind carried by an IntentNotify, handed to the
// logger/metrics/webhook sinks.
type NotifyEvent string

const (
	NotifyStarted     NotifyEvent = "started"
	NotifyStopped     NotifyEvent = "stopped"
	NotifyCrashed     NotifyEvent = "crashed"
	NotifyQuarantined NotifyEvent = "quarantined"
)

// Intent is one side effect emitted by a transition.
type Intent struct {
	Kind   IntentKind
	Notify NotifyEvent // meaningful only when Kind == IntentNotify
}

func notify(ev NotifyEvent) Intent { return Intent{Kind: IntentNotify, Notify: ev} }

var (
	acquirePort = Intent{Kind: IntentAcquirePort}
	releasePort = Intent{Kind: IntentReleasePort}
	start       = Intent{Kind: IntentStart}
	stop        = Intent{Kind: IntentStop}
)

// Machine is the state record for one managed server. The zero value is a
// valid fresh machine in StateUnknown.
type Machine struct {
	State models.MachineState

	IdleSince      *time.Time
	LastStopTime   *time.Time
	LastStartTime  *time.Time
	EnteredStateAt time.Time

	// CycleTimestamps holds the moments this machine transitioned
	// ONLINE/IDLE → STOPPING, for flap detection. Entries older than the
	// flap window are evicted whenever a new one is appended; the flap check
	// ignores them without evicting.
	CycleTimestamps []time.Time
	Quarantined     bool

	LastKnownPlayers int
	LastKnownMax     int
}

// New returns a fresh machine for a server that has never been observed.
func New(now time.Time) Machine {
	return Machine{State: models.StateUnknown, EnteredStateAt: now}
}

func (m Machine) enter(state models.MachineState, now time.Time) Machine {
	m.State = state
	m.EnteredStateAt = now
	if state == models.StateStopped {
		t := now
		m.LastStopTime = &t
		m.IdleSince = nil
	}
	return m
}

// idleElapsed returns how long the machine has been continuously idle (zero
// players) as of now, or 0 if it is not currently tracking an idle run.
func (m Machine) idleElapsed(now time.Time) time.Duration {
	if m.IdleSince == nil {
		return 0
	}
	return now.Sub(*m.IdleSince)
}

func (m Machine) idleTimeoutReached(now time.Time, idleTimeout time.Duration) bool {
	return m.idleElapsed(now) >= idleTimeout
}

func (m Machine) inStartGrace(now time.Time, startGrace time.Duration) bool {
	if m.LastStartTime == nil {
		return false
	}
	return now.Sub(*m.LastStartTime) < startGrace
}

func (m Machine) inStopCooldown(now time.Time, stopCooldown time.Duration) bool {
	if m.LastStopTime == nil {
		return false
	}
	return now.Sub(*m.LastStopTime) < stopCooldown
}

// pruneCycles drops cycle timestamps older than the flap window.
func pruneCycles(cycles []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := cycles[:0:0]
	for _, ts := range cycles {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (m Machine) isFlapping(now time.Time, window time.Duration, threshold int) bool {
	return len(pruneCycles(m.CycleTimestamps, now, window)) >= threshold
}

// Observe applies one controller-reported sample. Per the tie-break rule in
// spec.md §4.5, callers must apply Observe before any queued WakeRequested
// for the same tick; within Observe the running flag always wins over
// player-count-derived logic, which this method enforces by checking
// sample.Running before the player count in every state.
//
// When the controller exposes a distinct crash signal, Crashed is trusted
// ahead of the running flag and of any timeout heuristic: a crash reported
// mid-STARTING or mid-STOPPING is no longer left to Tick's timeout to catch.
func (m Machine) Observe(sample models.ObservedSample, desc models.Descriptor, now time.Time) (Machine, []Intent) {
	if sample.Crashed {
		switch m.State {
		case models.StateStarting, models.StateStopping, models.StateOnline, models.StateIdle:
			return m.enter(models.StateCrashed, now), []Intent{acquirePort, notify(NotifyCrashed)}
		}
	}

	switch m.State {
	case models.StateUnknown:
		if sample.Running {
			return m.enter(models.StateOnline, now), []Intent{releasePort}
		}
		return m.enter(models.StateStopped, now), []Intent{acquirePort}

	case models.StateOnline:
		if !sample.Running {
			return m.enter(models.StateCrashed, now), []Intent{acquirePort, notify(NotifyCrashed)}
		}
		m.LastKnownPlayers, m.LastKnownMax = sample.PlayerCount, desc.MaxPlayers
		if sample.PlayerCount > 0 {
			m.IdleSince = nil
			return m, nil
		}
		idle := now
		m.IdleSince = &idle
		return m.enter(models.StateIdle, now), nil

	case models.StateIdle:
		if !sample.Running {
			return m.enter(models.StateCrashed, now), []Intent{acquirePort, notify(NotifyCrashed)}
		}
		m.LastKnownPlayers, m.LastKnownMax = sample.PlayerCount, desc.MaxPlayers
		if sample.PlayerCount > 0 {
			m.IdleSince = nil
			return m.enter(models.StateOnline, now), nil
		}
		return m.checkIdleShutdown(desc, now)

	case models.StateStopping:
		if !sample.Running {
			return m.enter(models.StateStopped, now), []Intent{acquirePort, notify(NotifyStopped)}
		}
		return m, nil

	case models.StateStopped:
		if sample.Running {
			return m.enter(models.StateOnline, now), []Intent{releasePort}
		}
		return m, nil

	case models.StateStarting:
		if sample.Running {
			return m.enter(models.StateOnline, now), nil
		}
		return m, nil

	case models.StateCrashed:
		if sample.Running {
			return m.enter(models.StateOnline, now), []Intent{releasePort}
		}
		return m, nil
	}
	return m, nil
}

// checkIdleShutdown evaluates the full idle→stop guard chain. It is reached
// from IDLE on every observed(players=0) and every Tick, since the idle
// timeout can elapse between controller polls.
func (m Machine) checkIdleShutdown(desc models.Descriptor, now time.Time) (Machine, []Intent) {
	if !m.idleTimeoutReached(now, desc.IdleTimeout) {
		return m, nil
	}
	if m.inStartGrace(now, desc.StartGrace) {
		return m, nil
	}
	if m.inStopCooldown(now, desc.StopCooldown) {
		return m, nil
	}
	if m.isFlapping(now, desc.FlapWindow, desc.FlapThreshold) {
		if !m.Quarantined {
			m.Quarantined = true
			return m, []Intent{notify(NotifyQuarantined)}
		}
		return m, nil
	}
	m.Quarantined = false
	m.CycleTimestamps = append(pruneCycles(m.CycleTimestamps, now, desc.FlapWindow), now)
	return m.enter(models.StateStopping, now), []Intent{stop}
}

// Tick applies the passage of time with no fresh sample: timeout checks for
// STARTING/STOPPING and the idle guard chain for IDLE.
func (m Machine) Tick(desc models.Descriptor, now time.Time) (Machine, []Intent) {
	switch m.State {
	case models.StateIdle:
		return m.checkIdleShutdown(desc, now)

	case models.StateStarting:
		if now.Sub(m.EnteredStateAt) > desc.StartTimeout {
			return m.enter(models.StateCrashed, now), []Intent{acquirePort, notify(NotifyCrashed)}
		}
		return m, nil

	case models.StateStopping:
		if now.Sub(m.EnteredStateAt) > desc.StopTimeout {
			return m.enter(models.StateCrashed, now), []Intent{acquirePort, notify(NotifyCrashed)}
		}
		return m, nil
	}
	return m, nil
}

// WakeRequested applies an interposer-observed login/ping wake trigger.
func (m Machine) WakeRequested(desc models.Descriptor, now time.Time) (Machine, []Intent) {
	switch m.State {
	case models.StateStopped:
		if m.inStopCooldown(now, desc.StopCooldown) {
			return m, nil
		}
		t := now
		m.LastStartTime = &t
		return m.enter(models.StateStarting, now), []Intent{releasePort, start, notify(NotifyStarted)}

	case models.StateCrashed:
		if m.inStopCooldown(now, desc.StopCooldown) {
			return m, nil
		}
		t := now
		m.LastStartTime = &t
		return m.enter(models.StateStarting, now), []Intent{releasePort, start}
	}
	return m, nil
}

// StartFailed and StopFailed are no-ops on the machine's state: they return
// the machine unchanged and emit no intents, so nothing here re-emits a
// failed start or stop. The monitor does not call them.
func (m Machine) StartFailed(models.Descriptor, time.Time) (Machine, []Intent) { return m, nil }
func (m Machine) StopFailed(models.Descriptor, time.Time) (Machine, []Intent)  { return m, nil }

// IsPortHeldByInterposer mirrors the state/port invariant in spec.md §3.
func (m Machine) IsPortHeldByInterposer() bool {
	return m.State.PortHeldByInterposer()
}
