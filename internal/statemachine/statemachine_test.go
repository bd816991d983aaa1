package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/telemetry"
)

func runUntilProcessed(t *testing.T, sm *StateMachine, q *events.Queue, want telemetry.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sm.registryState() == want
	}, 500*time.Millisecond, time.Millisecond)
}

// registryState is a tiny test helper living alongside StateMachine so
// tests can poll without reaching into the registry directly everywhere.
func (s *StateMachine) registryState() telemetry.State {
	return s.registry.GetStateMachineData().CurrentState
}

func TestHappyPathReachesFailureStoppedClean(t *testing.T) {
	registry := telemetry.NewRegistry()
	q := events.NewQueue(16)
	sm := New(registry, q)
	go sm.Run()
	defer sm.Stop()

	sequence := []events.Event{
		events.OnStart,
		events.CalibrationComplete,
		events.OnStart,
		events.MaxDistanceReached,
		events.EndOfRunReached,
		events.AllMotorsStopped,
		events.OnExit,
		events.EndOfTubeReached,
	}
	for _, e := range sequence {
		q.Push(e)
	}

	runUntilProcessed(t, sm, q, telemetry.FailureStopped)
	require.False(t, registry.GetStateMachineData().CriticalFailure)
}

func TestCriticalFailureMidAccelerationForcesEmergencyBraking(t *testing.T) {
	registry := telemetry.NewRegistry()
	q := events.NewQueue(16)
	sm := New(registry, q)
	go sm.Run()
	defer sm.Stop()

	q.Push(events.OnStart)
	q.Push(events.CalibrationComplete)
	q.Push(events.OnStart)
	runUntilProcessed(t, sm, q, telemetry.Accelerating)

	q.Push(events.CriticalFailureDetected)
	runUntilProcessed(t, sm, q, telemetry.EmergencyBraking)
	require.True(t, registry.GetStateMachineData().CriticalFailure)

	q.Push(events.AllMotorsStopped)
	runUntilProcessed(t, sm, q, telemetry.FailureStopped)
}

func TestIllegalEventFromIdleIsNoOp(t *testing.T) {
	registry := telemetry.NewRegistry()
	q := events.NewQueue(16)
	sm := New(registry, q)
	go sm.Run()
	defer sm.Stop()

	q.Push(events.MaxDistanceReached)

	// No legal transition exists, so the state should remain Idle even
	// after giving the worker time to process the event.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, telemetry.Idle, registry.GetStateMachineData().CurrentState)
}

func TestCriticalFailureLatchIsMonotonic(t *testing.T) {
	registry := telemetry.NewRegistry()
	q := events.NewQueue(16)
	sm := New(registry, q)
	go sm.Run()
	defer sm.Stop()

	q.Push(events.CriticalFailureDetected)
	runUntilProcessed(t, sm, q, telemetry.EmergencyBraking)

	q.Push(events.AllMotorsStopped)
	runUntilProcessed(t, sm, q, telemetry.FailureStopped)
	require.True(t, registry.GetStateMachineData().CriticalFailure)

	// FailureStopped is terminal; nothing should move it back.
	q.Push(events.OnStart)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, telemetry.FailureStopped, registry.GetStateMachineData().CurrentState)
}
