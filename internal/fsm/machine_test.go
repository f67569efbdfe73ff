package fsm

import (
	"testing"
	"time"

	"github.com/craftywatch/hibernate/internal/models"
)

func testDescriptor() models.Descriptor {
	return models.Descriptor{
		Name:          "s1",
		IdleTimeout:   10 * time.Minute,
		StartTimeout:  180 * time.Second,
		StopTimeout:   120 * time.Second,
		StopCooldown:  60 * time.Second,
		StartGrace:    120 * time.Second,
		FlapThreshold: 3,
		FlapWindow:    time.Hour,
		MaxPlayers:    20,
	}
}

func hasIntent(intents []Intent, kind IntentKind) bool {
	for _, in := range intents {
		if in.Kind == kind {
			return true
		}
	}
	return false
}

func TestUnknownToOnlineAndStopped(t *testing.T) {
	now := time.Now()
	desc := testDescriptor()

	m := New(now)
	m, intents := m.Observe(models.ObservedSample{Running: true}, desc, now)
	if m.State != models.StateOnline || !hasIntent(intents, IntentReleasePort) {
		t.Fatalf("got state %v intents %v", m.State, intents)
	}

	m2 := New(now)
	m2, intents2 := m2.Observe(models.ObservedSample{Running: false}, desc, now)
	if m2.State != models.StateStopped || !hasIntent(intents2, IntentAcquirePort) {
		t.Fatalf("got state %v intents %v", m2.State, intents2)
	}
}

// Scenario 3: idle shutdown after a continuous 10 minute zero-player run,
// with a mid-window player blip resetting the clock.
func TestIdleShutdownScenario(t *testing.T) {
	desc := testDescriptor()
	start := time.Now()

	m := Machine{State: models.StateOnline, EnteredStateAt: start}

	now := start
	for i := 0; i < 40; i++ { // t = 0, 15, 30, ... 585s
		now = start.Add(time.Duration(i) * 15 * time.Second)
		var intents []Intent
		m, intents = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now)
		if hasIntent(intents, IntentStop) {
			t.Fatalf("stop emitted early at t=%v", now.Sub(start))
		}
	}

	// one more tick at t=600s reaches the idle timeout exactly.
	now = start.Add(600 * time.Second)
	m, intents := m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now)
	if m.State != models.StateStopping || !hasIntent(intents, IntentStop) {
		t.Fatalf("expected STOPPING+stop at t=600s, got state %v intents %v", m.State, intents)
	}
}

func TestIdleResetByPlayerBlip(t *testing.T) {
	desc := testDescriptor()
	start := time.Now()
	m := Machine{State: models.StateOnline, EnteredStateAt: start}

	now := start.Add(570 * time.Second)
	m, _ = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, start)
	m, _ = m.Observe(models.ObservedSample{Running: true, PlayerCount: 1}, desc, now)
	if m.State != models.StateOnline || m.IdleSince != nil {
		t.Fatalf("expected idle reset, got state %v idleSince %v", m.State, m.IdleSince)
	}

	// five minutes after the blip, less than a fresh 10-minute run, it still
	// should not have stopped.
	soon := now.Add(5 * time.Minute)
	m, intents := m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, soon)
	if hasIntent(intents, IntentStop) {
		t.Fatalf("stop emitted before a fresh idle window elapsed")
	}
	_ = m
}

// Scenario 4: flap quarantine after three idle shutdowns within the flap
// window; a fourth idle condition must not emit stop.
func TestFlapQuarantine(t *testing.T) {
	desc := testDescriptor()
	start := time.Now()

	m := Machine{State: models.StateOnline, EnteredStateAt: start}
	cycle := 0
	now := start

	driveToStop := func() {
		// first zero-player observation: ONLINE -> IDLE, starts the idle clock.
		now = now.Add(time.Second)
		m, _ = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now)
		if m.State != models.StateIdle {
			t.Fatalf("cycle %d: expected IDLE, got %v", cycle, m.State)
		}

		// idle timeout elapses; the next observation should trigger stop.
		now = now.Add(desc.IdleTimeout + time.Second)
		var intents []Intent
		m, intents = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now)
		if !hasIntent(intents, IntentStop) {
			t.Fatalf("cycle %d: expected stop intent, got %v (state=%v)", cycle, intents, m.State)
		}
		// simulate controller ack + restart for the next idle cycle
		m, _ = m.Observe(models.ObservedSample{Running: false}, desc, now.Add(time.Second))
		if m.State != models.StateStopped {
			t.Fatalf("cycle %d: expected STOPPED, got %v", cycle, m.State)
		}
		m, _ = m.WakeRequested(desc, now.Add(2*time.Second))
		m, _ = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now.Add(3*time.Second))
		if m.State != models.StateOnline {
			t.Fatalf("cycle %d: expected ONLINE after restart, got %v", cycle, m.State)
		}
	}

	for cycle = 0; cycle < 3; cycle++ {
		driveToStop()
	}

	// fourth idle condition: guards pass except flap, must be quarantined.
	now = now.Add(time.Second)
	m, _ = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now)
	if m.State != models.StateIdle {
		t.Fatalf("expected IDLE before the 4th idle check, got %v", m.State)
	}
	now = now.Add(desc.IdleTimeout + time.Second)
	m, intents := m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, now)
	if hasIntent(intents, IntentStop) {
		t.Fatalf("expected no stop on the 4th idle condition, got %v", intents)
	}
	if !m.Quarantined {
		t.Fatalf("expected machine to be quarantined")
	}

	// once the flap window clears, normal operation resumes.
	later := now.Add(desc.FlapWindow + time.Minute)
	m, intents = m.Observe(models.ObservedSample{Running: true, PlayerCount: 0}, desc, later)
	if !hasIntent(intents, IntentStop) {
		t.Fatalf("expected stop to resume after flap window clears, got %v", intents)
	}
}

// Scenario 6: crash detection while ONLINE.
func TestCrashDetectionWhileOnline(t *testing.T) {
	desc := testDescriptor()
	now := time.Now()
	m := Machine{State: models.StateOnline, EnteredStateAt: now}

	m, intents := m.Observe(models.ObservedSample{Running: false}, desc, now.Add(time.Second))
	if m.State != models.StateCrashed {
		t.Fatalf("expected CRASHED, got %v", m.State)
	}
	if !hasIntent(intents, IntentAcquirePort) {
		t.Fatalf("expected acquire_port intent, got %v", intents)
	}
	found := false
	for _, in := range intents {
		if in.Kind == IntentNotify && in.Notify == NotifyCrashed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected crash notification, got %v", intents)
	}
}

func TestStartTimeoutTransitionsToCrashed(t *testing.T) {
	desc := testDescriptor()
	now := time.Now()
	m := Machine{State: models.StateStarting, EnteredStateAt: now}

	m, intents := m.Tick(desc, now.Add(desc.StartTimeout+time.Second))
	if m.State != models.StateCrashed {
		t.Fatalf("expected CRASHED after start timeout, got %v", m.State)
	}
	if !hasIntent(intents, IntentAcquirePort) {
		t.Fatalf("expected acquire_port intent, got %v", intents)
	}
}

func TestStopTimeoutTransitionsToCrashed(t *testing.T) {
	desc := testDescriptor()
	now := time.Now()
	m := Machine{State: models.StateStopping, EnteredStateAt: now}

	m, intents := m.Tick(desc, now.Add(desc.StopTimeout+time.Second))
	if m.State != models.StateCrashed {
		t.Fatalf("expected CRASHED after stop timeout, got %v", m.State)
	}
	if !hasIntent(intents, IntentAcquirePort) {
		t.Fatalf("expected acquire_port intent, got %v", intents)
	}
}

func TestStopCooldownSuppressesWake(t *testing.T) {
	desc := testDescriptor()
	now := time.Now()
	stoppedAt := now
	m := Machine{State: models.StateStopped, EnteredStateAt: now, LastStopTime: &stoppedAt}

	m, intents := m.WakeRequested(desc, now.Add(10*time.Second))
	if m.State != models.StateStopped {
		t.Fatalf("expected wake to be suppressed during cooldown, got %v", m.State)
	}
	if len(intents) != 0 {
		t.Fatalf("expected no intents during cooldown, got %v", intents)
	}

	m, intents = m.WakeRequested(desc, now.Add(desc.StopCooldown+time.Second))
	if m.State != models.StateStarting || !hasIntent(intents, IntentStart) {
		t.Fatalf("expected STARTING+start after cooldown elapses, got %v %v", m.State, intents)
	}
}

func TestLoginWakeFromStopped(t *testing.T) {
	desc := testDescriptor()
	now := time.Now()
	m := Machine{State: models.StateStopped, EnteredStateAt: now}

	m, intents := m.WakeRequested(desc, now)
	if m.State != models.StateStarting {
		t.Fatalf("expected STARTING, got %v", m.State)
	}
	if !hasIntent(intents, IntentReleasePort) || !hasIntent(intents, IntentStart) {
		t.Fatalf("expected release_port+start intents, got %v", intents)
	}
}

func TestPortOwnershipInvariant(t *testing.T) {
	cases := map[models.MachineState]bool{
		models.StateUnknown:  true,
		models.StateStopped:  true,
		models.StateCrashed:  true,
		models.StateStarting: false,
		models.StateOnline:   false,
		models.StateIdle:     false,
		models.StateStopping: false,
	}
	for state, want := range cases {
		m := Machine{State: state}
		if got := m.IsPortHeldByInterposer(); got != want {
			t.Errorf("state %v: IsPortHeldByInterposer = %v, want %v", state, got, want)
		}
	}
}
