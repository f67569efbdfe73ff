// Package metrics declares the Prometheus collectors exposed at GET
// /metrics, named and shaped per spec.md §6.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/craftywatch/hibernate/internal/models"
)

var (
	ServerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "csw_state",
			Help: "1 on the server's current lifecycle state, 0 on all others",
		},
		[]string{"server", "state"},
	)

	ServerPlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "csw_players",
			Help: "Last observed player count for a server",
		},
		[]string{"server"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csw_transitions_total",
			Help: "Total number of state machine transitions",
		},
		[]string{"server", "from", "to"},
	)

	ControllerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csw_controller_errors_total",
			Help: "Total number of controller API call failures",
		},
		[]string{"server", "kind"},
	)

	WakeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csw_wake_requests_total",
			Help: "Total number of wake_requested events fed into the state machine",
		},
		[]string{"server"},
	)
)

// allStates lists every MachineState so SetState can zero the gauges for
// states the server isn't currently in — promauto vectors otherwise keep
// stale 1s around for the previous state.
var allStates = []models.MachineState{
	models.StateUnknown,
	models.StateOnline,
	models.StateIdle,
	models.StateStarting,
	models.StateStopping,
	models.StateStopped,
	models.StateCrashed,
}

// SetState sets csw_state to 1 for the server's current state and 0 for
// every other state.
func SetState(server string, current models.MachineState) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		ServerState.WithLabelValues(server, string(s)).Set(v)
	}
}

// RecordTransition increments the transition counter for one server.
func RecordTransition(server string, from, to models.MachineState) {
	if from == to {
		return
	}
	TransitionsTotal.WithLabelValues(server, string(from), string(to)).Inc()
}

// RecordControllerError increments the controller error counter.
func RecordControllerError(server, kind string) {
	ControllerErrorsTotal.WithLabelValues(server, kind).Inc()
}

// RecordWakeRequest increments the wake request counter.
func RecordWakeRequest(server string) {
	WakeRequestsTotal.WithLabelValues(server).Inc()
}
