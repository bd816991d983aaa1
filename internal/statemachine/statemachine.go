// Package statemachine implements the pod's central finite-state
// controller: it consumes events from Communications and module-status
// flags from the registry, owns the pod's global state, and publishes
// StateMachineData for every other worker to react to.
package statemachine

import (
	"sync"

	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/podlog"
	"github.com/openpod/podctl/internal/telemetry"
)

const componentName = "statemachine"

// transitions maps (state, event) pairs to the resulting state. Entries
// absent from this table are illegal from that state and are handled by
// the CriticalFailureDetected catch-all or dropped as no-ops.
var transitions = map[telemetry.State]map[events.Event]telemetry.State{
	telemetry.Idle: {
		events.OnStart: telemetry.Calibrating,
	},
	telemetry.Calibrating: {
		events.CalibrationComplete: telemetry.Ready,
	},
	telemetry.Ready: {
		events.OnStart: telemetry.Accelerating,
	},
	telemetry.Accelerating: {
		events.MaxDistanceReached: telemetry.Cruising,
	},
	telemetry.Cruising: {
		events.EndOfRunReached: telemetry.Decelerating,
	},
	telemetry.Decelerating: {
		events.AllMotorsStopped: telemetry.RunComplete,
	},
	telemetry.RunComplete: {
		events.OnExit: telemetry.Exiting,
	},
	telemetry.Exiting: {
		events.EndOfTubeReached: telemetry.FailureStopped,
	},
	telemetry.EmergencyBraking: {
		events.AllMotorsStopped: telemetry.FailureStopped,
	},
}

// StateMachine is the Pod State Machine worker.
type StateMachine struct {
	registry *telemetry.Registry
	queue    *events.Queue

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a StateMachine that consumes queue and publishes transitions
// to registry. The initial published state is Idle with critical_failure
// false, per the data model's zero-initialized lifecycle.
func New(registry *telemetry.Registry, queue *events.Queue) *StateMachine {
	return &StateMachine{registry: registry, queue: queue, stopCh: make(chan struct{})}
}

// Stop signals Run to exit at its next loop iteration, even if no further
// event arrives.
func (s *StateMachine) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run consumes events one at a time until Stop is called or the queue
// channel is closed.
func (s *StateMachine) Run() {
	for {
		select {
		case <-s.stopCh:
			return
		case e, ok := <-s.queue.C():
			if !ok {
				return
			}
			s.handle(e)
		}
	}
}

// handle applies one event to the current state. It is idempotent for
// events that are not legal from the current state: the state is
// unchanged and the only side effect is a debug log line.
func (s *StateMachine) handle(e events.Event) {
	current := s.registry.GetStateMachineData()

	// Once critical_failure is latched true, no event may re-enter
	// Accelerating or Cruising; the only legal destination is
	// FailureStopped via EmergencyBraking.
	if e == events.CriticalFailureDetected {
		if current.CurrentState == telemetry.EmergencyBraking || current.CurrentState == telemetry.FailureStopped {
			podlog.Debugf(componentName, "ignoring CriticalFailureDetected from terminal-adjacent state %s", current.CurrentState)
			return
		}
		podlog.Warnf(componentName, "critical failure detected in state %s, forcing EmergencyBraking", current.CurrentState)
		s.publish(telemetry.EmergencyBraking, true)
		return
	}

	next, ok := transitions[current.CurrentState][e]
	if !ok {
		podlog.Debugf(componentName, "event %s illegal from state %s, ignoring", e, current.CurrentState)
		return
	}

	podlog.Infof(componentName, "transition %s -> %s on %s", current.CurrentState, next, e)
	s.publish(next, current.CriticalFailure)
}

func (s *StateMachine) publish(next telemetry.State, criticalFailure bool) {
	s.registry.SetStateMachineData(telemetry.StateMachineData{
		CurrentState:    next,
		CriticalFailure: criticalFailure,
	})
}
