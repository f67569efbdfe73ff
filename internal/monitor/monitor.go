// Package monitor is the central reconciliation loop: it polls the
// controller, feeds observations into each server's state machine, and
// applies the resulting intents against the interposer and controller.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/craftywatch/hibernate/internal/controller"
	"github.com/craftywatch/hibernate/internal/fsm"
	"github.com/craftywatch/hibernate/internal/interposer"
	"github.com/craftywatch/hibernate/internal/metrics"
	"github.com/craftywatch/hibernate/internal/models"
	"github.com/craftywatch/hibernate/internal/notify"
	"github.com/craftywatch/hibernate/internal/probe"
	"github.com/craftywatch/hibernate/pkg/logger"
)

// maxControllerFailures is how many consecutive controller failures for one
// server before it is surfaced as degraded, per spec.md §5's retry policy.
const maxControllerFailures = 5

// acquireRetryInitial and acquireRetryMax bound the exponential backoff used
// when acquire() races the real server's own port release.
const (
	acquireRetryInitial = 250 * time.Millisecond
	acquireRetryMax     = 4 * time.Second
)

// serverState is the monitor's per-server bookkeeping: the immutable
// descriptor, the machine value, the owned interposer, and failure counters.
// Only the Monitor's own goroutine mutates it; Status() reads under mu.
type serverState struct {
	desc       models.Descriptor
	machine    fsm.Machine
	interposer interposer.Interposer
	failures   int
	degraded   bool
}

// ServerStatus is one server's row in the /status endpoint payload.
type ServerStatus struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Running     bool       `json:"running"`
	Players     int        `json:"players"`
	IdleSince   *time.Time `json:"idle_since,omitempty"`
	Degraded    bool       `json:"degraded"`
	Quarantined bool       `json:"quarantined"`
}

// Monitor owns every managed server's state machine and interposer.
type Monitor struct {
	controller *controller.Client
	webhook    *notify.Webhook
	history    *notify.History
	rcon       probe.RCON
	tickPeriod time.Duration

	mu      sync.RWMutex
	servers map[string]*serverState

	wakeCh   chan string
	reloadCh chan map[string]models.Descriptor
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Monitor with no servers loaded. Call LoadDescriptors before
// Run.
func New(cl *controller.Client, webhook *notify.Webhook, history *notify.History, tickPeriod time.Duration) *Monitor {
	return &Monitor{
		controller: cl,
		webhook:    webhook,
		history:    history,
		tickPeriod: tickPeriod,
		servers:    make(map[string]*serverState),
		wakeCh:     make(chan string, 64),
		reloadCh:   make(chan map[string]models.Descriptor, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// LoadDescriptors creates a machine and interposer for every descriptor not
// already known, for the initial load. It must be called before Run starts
// the reconciliation loop; afterwards, route changes through Reload, whose
// additions go through addServerLocked directly.
func (m *Monitor) LoadDescriptors(descs map[string]models.Descriptor, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, desc := range descs {
		if _, ok := m.servers[name]; ok {
			continue
		}
		m.addServerLocked(name, desc, now)
	}
}

func (m *Monitor) addServerLocked(name string, desc models.Descriptor, now time.Time) {
	ip, err := interposer.New(desc, m.wakeFunc())
	if err != nil {
		logger.Error("monitor: failed to build interposer", err, map[string]interface{}{"server": name})
		return
	}
	m.servers[name] = &serverState{
		desc:       desc,
		machine:    fsm.New(now),
		interposer: ip,
	}
}

// wakeFunc returns the callback interposers invoke on wake_requested,
// adapted to a closure over m.wakeCh so Java and Bedrock interposers share
// the same entry point into the monitor's event loop.
func (m *Monitor) wakeFunc() interposer.WakeFunc {
	return func(name string) {
		select {
		case m.wakeCh <- name:
		default:
			logger.Warn("monitor: wake channel full, dropping wake event", map[string]interface{}{"server": name})
		}
	}
}

// Run drives the reconciliation loop until ctx is cancelled or Stop is
// called. Ticks, wake events, and reload requests are all handled from this
// single goroutine — there is no shared mutable state to race on outside of
// Status's read lock.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.tickPeriod)
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		case name := <-m.wakeCh:
			m.handleWake(name, time.Now())
		case descs := <-m.reloadCh:
			m.applyReload(ctx, descs, time.Now())
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Reload enqueues a new descriptor set for the monitor's own goroutine to
// apply; it never mutates state directly from the caller's goroutine.
func (m *Monitor) Reload(descs map[string]models.Descriptor) {
	m.reloadCh <- descs
}

// tick performs one reconciliation pass: poll the controller for every known
// server, feed each machine its observed and tick inputs, and apply intents.
// Per spec.md §5, a tick that outruns the tick period is never queued behind
// the next one — time.Ticker already drops ticks while the channel holds
// one, so a slow tick here simply causes the next to fire immediately after.
func (m *Monitor) tick(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.reconcileOne(ctx, name, now)
	}
}

func (m *Monitor) reconcileOne(ctx context.Context, name string, now time.Time) {
	m.mu.Lock()
	st, ok := m.servers[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	sample, err := m.observe(ctx, st.desc, st.machine.State)
	if err != nil {
		m.recordControllerFailure(name, err)
		// Transient failures leave the machine unchanged; it's retried on
		// the next tick per spec.md §5's retry policy.
		machine, intents := st.machine.Tick(st.desc, now)
		m.commit(ctx, name, machine, intents, now)
		return
	}
	m.clearControllerFailure(name)

	machine, intents := st.machine.Observe(sample, st.desc, now)
	machine = m.commit(ctx, name, machine, intents, now)

	machine, intents = machine.Tick(st.desc, now)
	m.commit(ctx, name, machine, intents, now)
}

// observe calls the controller and, when RCON readiness is configured,
// additionally confirms a STARTING server is truly accepting commands
// before ever reporting running=true for it.
func (m *Monitor) observe(ctx context.Context, desc models.Descriptor, state models.MachineState) (models.ObservedSample, error) {
	status, err := m.controller.GetServerStats(ctx, desc.CraftyID)
	if err != nil {
		return models.ObservedSample{}, err
	}

	running := status.Running
	if running && state == models.StateStarting && probe.Enabled(desc) {
		ready, rerr := m.rcon.Ready(ctx, desc)
		if rerr != nil || !ready {
			running = false
		}
	}

	return models.ObservedSample{
		Running:     running,
		Crashed:     status.Crashed,
		PlayerCount: status.Online,
		ObservedAt:  time.Now(),
	}, nil
}

func (m *Monitor) handleWake(name string, now time.Time) {
	m.mu.Lock()
	st, ok := m.servers[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.RecordWakeRequest(name)

	machine, intents := st.machine.WakeRequested(st.desc, now)
	if len(intents) == 0 && machine.State == st.machine.State {
		logger.Debug("monitor: wake request dropped", map[string]interface{}{"server": name, "state": string(machine.State)})
	}
	m.commit(context.Background(), name, machine, intents, now)
}

// commit stores the machine's new value and applies its intents serially, in
// emission order, per spec.md §5's ordering guarantee. If IntentReleasePort
// fails, the remaining intents in this batch (in particular a queued start)
// are never applied and the machine reverts to its pre-commit value — the
// port-handoff interlock in spec.md §5: the monitor must never issue start
// while the interposer might still hold the port.
func (m *Monitor) commit(ctx context.Context, name string, machine fsm.Machine, intents []fsm.Intent, now time.Time) fsm.Machine {
	m.mu.Lock()
	st, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return machine
	}
	prev := st.machine
	st.machine = machine
	from, to := prev.State, machine.State
	m.mu.Unlock()

	if from != to {
		metrics.RecordTransition(name, from, to)
		if m.history != nil {
			m.history.Record(name, string(from), string(to), machine.LastKnownPlayers, now)
		}
	}
	metrics.SetState(name, to)
	metrics.ServerPlayers.WithLabelValues(name).Set(float64(machine.LastKnownPlayers))

	for _, intent := range intents {
		if err := m.applyIntent(ctx, name, intent, now); err != nil {
			logger.Warn("monitor: release failed, holding server in previous state", map[string]interface{}{
				"server": name,
				"from":   string(from),
				"to":     string(to),
				"error":  err.Error(),
			})
			m.revert(name, prev)
			return prev
		}
	}
	return machine
}

// revert restores a server's machine to prev, used when a failed
// IntentReleasePort must undo an already-committed transition.
func (m *Monitor) revert(name string, prev fsm.Machine) {
	m.mu.Lock()
	st, ok := m.servers[name]
	if ok {
		st.machine = prev
	}
	m.mu.Unlock()
	metrics.SetState(name, prev.State)
}

// applyIntent carries out one intent's side effect. Only IntentReleasePort
// returns an error to the caller: a failed release must block any queued
// start, per spec.md §5. Start/stop failures are recorded and logged only:
// the machine keeps its new STARTING/STOPPING state, the intent is not
// re-issued on a later tick, and the start/stop timeout or a later
// observation moves the machine on.
func (m *Monitor) applyIntent(ctx context.Context, name string, intent fsm.Intent, now time.Time) error {
	m.mu.Lock()
	st, ok := m.servers[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	switch intent.Kind {
	case fsm.IntentReleasePort:
		if err := st.interposer.Release(); err != nil {
			return err
		}
	case fsm.IntentAcquirePort:
		m.acquireWithBackoff(ctx, name, st, now)
	case fsm.IntentStart:
		if err := m.controller.StartServer(ctx, st.desc.CraftyID); err != nil {
			m.recordControllerFailure(name, err)
			logger.Warn("monitor: start failed", map[string]interface{}{"server": name, "error": err.Error()})
		}
	case fsm.IntentStop:
		if err := m.controller.StopServer(ctx, st.desc.CraftyID); err != nil {
			m.recordControllerFailure(name, err)
			logger.Warn("monitor: stop failed", map[string]interface{}{"server": name, "error": err.Error()})
		}
	case fsm.IntentNotify:
		m.dispatchNotify(name, intent.Notify, now)
	}
	return nil
}

// acquireWithBackoff retries acquire() with exponential backoff, bounded by
// the server's stop_timeout, to absorb the race against the real server
// releasing the port on its own shutdown. A failure here leaves the machine
// in STOPPED/CRASHED and is logged, never promoted to start, per spec.md §5.
func (m *Monitor) acquireWithBackoff(ctx context.Context, name string, st *serverState, now time.Time) {
	deadline := now.Add(st.desc.StopTimeout)
	backoff := acquireRetryInitial

	for {
		if err := st.interposer.Acquire(ctx); err == nil {
			return
		} else if time.Now().After(deadline) {
			logger.Warn("monitor: acquire failed, giving up for this tick", map[string]interface{}{
				"server": name,
				"error":  err.Error(),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > acquireRetryMax {
			backoff = acquireRetryMax
		}
	}
}

func (m *Monitor) dispatchNotify(name string, ev fsm.NotifyEvent, now time.Time) {
	logger.Info("monitor: lifecycle event", map[string]interface{}{"server": name, "event": string(ev)})
	if m.webhook != nil {
		m.webhook.Send(notify.Event{
			Kind:      string(ev),
			Server:    name,
			Timestamp: now,
		})
	}
}

func (m *Monitor) recordControllerFailure(name string, err error) {
	metrics.RecordControllerError(name, controllerErrorKind(err))

	m.mu.Lock()
	st, ok := m.servers[name]
	if ok {
		st.failures++
		if st.failures >= maxControllerFailures && !st.degraded {
			st.degraded = true
			m.mu.Unlock()
			logger.Warn("monitor: server marked degraded", map[string]interface{}{"server": name, "failures": st.failures})
			if m.webhook != nil {
				m.webhook.Send(notify.Event{Kind: "degraded", Server: name, Message: err.Error(), Timestamp: time.Now()})
			}
			return
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) clearControllerFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.servers[name]
	if !ok {
		return
	}
	st.failures = 0
	st.degraded = false
}

// applyReload replaces each changed descriptor atomically, preserving
// machine state and timers by name. Interposers are stopped and recreated
// only when their port, bind address, or kind changed; new servers start in UNKNOWN, and
// servers no longer present have their interposer released and are dropped.
func (m *Monitor) applyReload(ctx context.Context, descs map[string]models.Descriptor, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, st := range m.servers {
		if _, ok := descs[name]; ok {
			continue
		}
		if err := st.interposer.Release(); err != nil {
			logger.Warn("monitor: release during removal failed", map[string]interface{}{"server": name, "error": err.Error()})
		}
		delete(m.servers, name)
		logger.Info("monitor: server removed on reload", map[string]interface{}{"server": name})
	}

	for name, desc := range descs {
		st, ok := m.servers[name]
		if !ok {
			m.addServerLocked(name, desc, now)
			continue
		}

		if st.desc.Kind != desc.Kind || st.desc.Port != desc.Port || st.desc.BindAddr != desc.BindAddr {
			if err := st.interposer.Release(); err != nil {
				logger.Warn("monitor: release before rebind failed", map[string]interface{}{"server": name, "error": err.Error()})
			}
			ip, err := interposer.New(desc, m.wakeFunc())
			if err != nil {
				logger.Error("monitor: failed to rebuild interposer on reload", err, map[string]interface{}{"server": name})
				continue
			}
			st.interposer = ip
		}
		st.desc = desc
	}

	logger.Info("monitor: config reloaded", map[string]interface{}{"servers": len(descs)})
}

func controllerErrorKind(err error) string {
	switch {
	case controller.IsAuthDenied(err):
		return "auth_denied"
	case controller.IsTransient(err):
		return "transient_network"
	default:
		return "other"
	}
}

// Status returns a snapshot of every managed server for the /status
// endpoint.
func (m *Monitor) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for name, st := range m.servers {
		out = append(out, ServerStatus{
			Name:        name,
			State:       string(st.machine.State),
			Running:     st.machine.State == models.StateOnline || st.machine.State == models.StateIdle,
			Players:     st.machine.LastKnownPlayers,
			IdleSince:   st.machine.IdleSince,
			Degraded:    st.degraded,
			Quarantined: st.machine.Quarantined,
		})
	}
	return out
}
