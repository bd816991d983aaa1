package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/openpod/podctl/internal/fsutil"
	"github.com/stretchr/testify/require"
)

func TestEmptyPodConfigDefaults(t *testing.T) {
	cfg := EmptyPodConfig()
	require.Equal(t, 200000, cfg.GetMinCalibrationSamples())
	require.Equal(t, 60*time.Second, cfg.GetCalibrationTimeout())
	require.Equal(t, 24.0, cfg.GetEmergencyDeceleration())
	require.Equal(t, 100, cfg.GetMotorVelocityStep())
	require.Equal(t, 100, cfg.GetMotorTorqueStep())
	require.Equal(t, 2, cfg.GetBarrierParties())
	require.Equal(t, "localhost:7777", cfg.GetGroundStationAddress())
}

func TestLoadPodConfigOverridesOnlyPresentFields(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	body := &PodConfig{
		MinCalibrationSamples: ptrInt(5000),
		EmergencyDeceleration: ptrFloat64(30.0),
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("/etc/pod/tuning.json", data, 0o644))

	cfg, err := LoadPodConfig(fs, "/etc/pod/tuning.json")
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.GetMinCalibrationSamples())
	require.Equal(t, 30.0, cfg.GetEmergencyDeceleration())
	// Untouched fields still fall back to defaults.
	require.Equal(t, 100, cfg.GetMotorVelocityStep())
}

func TestLoadPodConfigRejectsNonJSONExtension(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/etc/pod/tuning.yaml", []byte("{}"), 0o644))

	_, err := LoadPodConfig(fs, "/etc/pod/tuning.yaml")
	require.Error(t, err)
}

func TestValidateRejectsNegativeCalibrationSamples(t *testing.T) {
	cfg := &PodConfig{MinCalibrationSamples: ptrInt(-1)}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveDeceleration(t *testing.T) {
	cfg := &PodConfig{EmergencyDeceleration: ptrFloat64(0)}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadDuration(t *testing.T) {
	cfg := &PodConfig{CalibrationTimeout: ptrString("not-a-duration")}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroBarrierParties(t *testing.T) {
	cfg := &PodConfig{BarrierParties: ptrInt(0)}
	require.Error(t, cfg.Validate())
}
