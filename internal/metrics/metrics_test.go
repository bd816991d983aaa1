package metrics

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/testutil"
)

func TestObserveMotorDataExposesPerMotorGauges(t *testing.T) {
	m := New()
	m.ObserveMotorData(telemetry.MotorData{
		ModuleStatus: telemetry.ModuleReady,
		Motors: [telemetry.NumMotors]telemetry.MotorReading{
			{Velocity: 100, Torque: 5},
			{Velocity: 200, Torque: 10},
			{Velocity: 0, Torque: 0},
			{Velocity: 0, Torque: 0},
		},
	})

	body := scrape(t, m)
	require.Contains(t, body, `podctl_motor_velocity_rpm{motor="0"} 100`)
	require.Contains(t, body, `podctl_motor_velocity_rpm{motor="1"} 200`)
	require.Contains(t, body, `podctl_module_status{module="motor"} 2`)
}

func TestObserveStateMachineReflectsCriticalFailureLatch(t *testing.T) {
	m := New()
	m.ObserveStateMachine(telemetry.StateMachineData{CurrentState: telemetry.EmergencyBraking, CriticalFailure: true})

	body := scrape(t, m)
	require.Contains(t, body, "podctl_critical_failure 1")
}

func TestObserveNavigationExposesEmergencyBrakingDistance(t *testing.T) {
	m := New()
	m.ObserveNavigation(telemetry.Navigation{Velocity: 12, Distance: 400, EmergencyBrakingDistance: 3, ModuleStatus: telemetry.ModuleReady})

	body := scrape(t, m)
	require.Contains(t, body, "podctl_emergency_braking_distance_meters 3")
	require.Contains(t, body, "podctl_navigation_distance_meters 400")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := testutil.NewTestRequest(http.MethodGet, "/metrics")
	rec := testutil.NewTestRecorder()
	m.Handler().ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	return strings.ReplaceAll(rec.Body.String(), "\n\n", "\n")
}
