package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryZeroInitialized(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, ModuleStart, r.GetSensors().ModuleStatus)
	require.Equal(t, ModuleStart, r.GetBatteries().ModuleStatus)
	require.Equal(t, ModuleStart, r.GetNavigation().ModuleStatus)
	require.Equal(t, ModuleStart, r.GetMotorData().ModuleStatus)
	require.Equal(t, Idle, r.GetStateMachineData().CurrentState)
}

func TestRegistrySetGetRoundTrip(t *testing.T) {
	r := NewRegistry()
	nav := Navigation{Velocity: 12.5, Distance: 100, ModuleStatus: ModuleReady}
	r.SetNavigation(nav)
	require.Equal(t, nav, r.GetNavigation())
}

func TestRegistryGetReturnsCopyNotAlias(t *testing.T) {
	r := NewRegistry()
	r.SetMotorData(MotorData{Motors: [NumMotors]MotorReading{{Velocity: 10}}})
	got := r.GetMotorData()
	got.Motors[0].Velocity = 999
	require.Equal(t, int32(10), r.GetMotorData().Motors[0].Velocity, "mutating a returned snapshot must not affect the stored value")
}

func TestRegistryConcurrentAccessDoesNotRace(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v int32) {
			defer wg.Done()
			r.SetMotorData(MotorData{Motors: [NumMotors]MotorReading{{Velocity: v}}})
		}(int32(i))
		go func() {
			defer wg.Done()
			_ = r.GetMotorData()
		}()
	}
	wg.Wait()
}

func TestMotorDataAllStopped(t *testing.T) {
	stopped := MotorData{Motors: [NumMotors]MotorReading{{}, {}, {}, {}}}
	require.True(t, stopped.AllStopped())

	moving := MotorData{Motors: [NumMotors]MotorReading{{Velocity: 1}, {}, {}, {}}}
	require.False(t, moving.AllStopped())
}
