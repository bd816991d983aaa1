// Package config loads and validates the firmware's tuning parameters.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openpod/podctl/internal/fsutil"
)

// PodConfig is the root tuning configuration for a run. Fields are
// optional (pointer) so a partial JSON document only overrides the
// values it mentions; Get* accessors fall back to documented defaults.
type PodConfig struct {
	// Navigation
	MinCalibrationSamples *int    `json:"min_calibration_samples,omitempty"`
	CalibrationTimeout    *string `json:"calibration_timeout,omitempty"` // duration string, e.g. "30s"
	EmergencyDeceleration *float64 `json:"emergency_deceleration,omitempty"`

	// Motor control
	MotorVelocityStep *int    `json:"motor_velocity_step,omitempty"`
	MotorTorqueStep    *int    `json:"motor_torque_step,omitempty"`
	MotorLoopInterval  *string `json:"motor_loop_interval,omitempty"`
	BarrierParties     *int    `json:"barrier_parties,omitempty"`

	// Sensors
	SensorPollInterval *string `json:"sensor_poll_interval,omitempty"`

	// Communications
	GroundStationAddress   *string `json:"ground_station_address,omitempty"`
	ReconnectBackoffMin    *string `json:"reconnect_backoff_min,omitempty"`
	ReconnectBackoffMax    *string `json:"reconnect_backoff_max,omitempty"`
}

func ptrInt(v int) *int         { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string { return &v }

// EmptyPodConfig returns a PodConfig with every field nil, i.e. every
// accessor falls back to its documented default. Use LoadPodConfig to
// populate it from disk.
func EmptyPodConfig() *PodConfig {
	return &PodConfig{}
}

// LoadPodConfig loads a PodConfig from a JSON file through fs. The file
// must have a .json extension and be under 1MB; fields it omits keep
// their defaults.
func LoadPodConfig(fs fsutil.FileSystem, path string) (*PodConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPodConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any fields present in the config are sane. It does
// not require any field to be present.
func (c *PodConfig) Validate() error {
	if c.MinCalibrationSamples != nil && *c.MinCalibrationSamples < 0 {
		return fmt.Errorf("min_calibration_samples must be non-negative, got %d", *c.MinCalibrationSamples)
	}
	if c.EmergencyDeceleration != nil && *c.EmergencyDeceleration <= 0 {
		return fmt.Errorf("emergency_deceleration must be positive, got %f", *c.EmergencyDeceleration)
	}
	if c.BarrierParties != nil && *c.BarrierParties < 1 {
		return fmt.Errorf("barrier_parties must be at least 1, got %d", *c.BarrierParties)
	}
	for name, s := range map[string]*string{
		"calibration_timeout":   c.CalibrationTimeout,
		"motor_loop_interval":   c.MotorLoopInterval,
		"sensor_poll_interval":  c.SensorPollInterval,
		"reconnect_backoff_min": c.ReconnectBackoffMin,
		"reconnect_backoff_max": c.ReconnectBackoffMax,
	} {
		if s == nil || *s == "" {
			continue
		}
		if _, err := time.ParseDuration(*s); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *s, err)
		}
	}
	return nil
}

// GetMinCalibrationSamples returns the configured minimum sample count for
// calibration, or the default of 200,000 samples.
func (c *PodConfig) GetMinCalibrationSamples() int {
	if c.MinCalibrationSamples == nil {
		return 200000
	}
	return *c.MinCalibrationSamples
}

// GetCalibrationTimeout returns the configured calibration timeout, or a
// default of 60 seconds.
func (c *PodConfig) GetCalibrationTimeout() time.Duration {
	return getDuration(c.CalibrationTimeout, 60*time.Second)
}

// GetEmergencyDeceleration returns the configured emergency braking
// deceleration in m/s^2, or the default of 24.0.
func (c *PodConfig) GetEmergencyDeceleration() float64 {
	if c.EmergencyDeceleration == nil {
		return 24.0
	}
	return *c.EmergencyDeceleration
}

// GetMotorVelocityStep returns the configured per-tick RPM step applied by
// the baseline setpoint strategy, or the default of 100.
func (c *PodConfig) GetMotorVelocityStep() int {
	if c.MotorVelocityStep == nil {
		return 100
	}
	return *c.MotorVelocityStep
}

// GetMotorTorqueStep returns the configured per-tick torque step (cN.m)
// applied by the baseline setpoint strategy, or the default of 100.
func (c *PodConfig) GetMotorTorqueStep() int {
	if c.MotorTorqueStep == nil {
		return 100
	}
	return *c.MotorTorqueStep
}

// GetMotorLoopInterval returns the configured motor control loop cadence,
// or the default of 50 milliseconds.
func (c *PodConfig) GetMotorLoopInterval() time.Duration {
	return getDuration(c.MotorLoopInterval, 50*time.Millisecond)
}

// GetBarrierParties returns the number of workers that must rendezvous at
// the post-calibration barrier, or the default of 2 (Navigation, Motor
// Controller).
func (c *PodConfig) GetBarrierParties() int {
	if c.BarrierParties == nil {
		return 2
	}
	return *c.BarrierParties
}

// GetSensorPollInterval returns the configured sensor aggregator cycle
// period, or the default of 10 milliseconds.
func (c *PodConfig) GetSensorPollInterval() time.Duration {
	return getDuration(c.SensorPollInterval, 10*time.Millisecond)
}

// GetGroundStationAddress returns the configured ground-station TCP
// address, or the default "localhost:7777".
func (c *PodConfig) GetGroundStationAddress() string {
	if c.GroundStationAddress == nil || *c.GroundStationAddress == "" {
		return "localhost:7777"
	}
	return *c.GroundStationAddress
}

// GetReconnectBackoffMin returns the minimum ground-station reconnect
// backoff, or the default of 500 milliseconds.
func (c *PodConfig) GetReconnectBackoffMin() time.Duration {
	return getDuration(c.ReconnectBackoffMin, 500*time.Millisecond)
}

// GetReconnectBackoffMax returns the maximum ground-station reconnect
// backoff, or the default of 30 seconds.
func (c *PodConfig) GetReconnectBackoffMax() time.Duration {
	return getDuration(c.ReconnectBackoffMax, 30*time.Second)
}

func getDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
