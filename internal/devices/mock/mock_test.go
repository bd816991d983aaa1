package mock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpod/podctl/internal/telemetry"
)

func TestCommunicatorQuickStopZeroesSetpoints(t *testing.T) {
	c := NewCommunicator()
	require.NoError(t, c.SendTargetVelocity([telemetry.NumMotors]int32{100, 100, 100, 100}))
	require.NoError(t, c.QuickStopAll())

	got, err := c.RequestActualVelocity()
	require.NoError(t, err)
	require.Equal(t, [telemetry.NumMotors]int32{}, got)
}

func TestCommunicatorHealthFaultToggle(t *testing.T) {
	c := NewCommunicator()
	require.NoError(t, c.HealthCheck())

	c.SetHealthFault(true)
	require.Error(t, c.HealthCheck())

	c.SetHealthFault(false)
	require.NoError(t, c.HealthCheck())
}

func TestIMUOfflineAndErr(t *testing.T) {
	imu := NewIMU()
	require.True(t, imu.IsOnline())

	imu.SetOnline(false)
	require.False(t, imu.IsOnline())

	imu.SetErr(errString("read failure"))
	_, err := imu.Read()
	require.Error(t, err)
}
