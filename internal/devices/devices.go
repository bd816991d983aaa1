// Package devices defines the external sensor and motor transport
// boundary and the concrete transports that exercise it.
package devices

import "github.com/openpod/podctl/internal/telemetry"

// IMU is the read-only external operation for a single inertial
// measurement unit.
type IMU interface {
	Read() (telemetry.IMUReading, error)
	IsOnline() bool
}

// Proximity is the read-only external operation for a single rangefinder.
type Proximity interface {
	Read() (telemetry.ProximityReading, error)
	IsOnline() bool
}

// StripeCounter is the read-only external operation for the GPIO stripe
// edge counter.
type StripeCounter interface {
	Read() (telemetry.StripeCount, error)
	IsOnline() bool
}

// BMS is the read-only external operation for a battery management unit.
type BMS interface {
	Read() (telemetry.BatteryReading, error)
	IsOnline() bool
}

// Communicator is the CAN motor-controller transport. Frame layout is an
// external concern; this interface only names the operations the motor
// controller needs.
type Communicator interface {
	RegisterControllers() error
	ConfigureControllers() error
	PrepareMotors() error
	HealthCheck() error
	SendTargetVelocity(velocity [telemetry.NumMotors]int32) error
	SendTargetTorque(torque [telemetry.NumMotors]int16) error
	RequestActualVelocity() ([telemetry.NumMotors]int32, error)
	RequestActualTorque() ([telemetry.NumMotors]int16, error)
	QuickStopAll() error
	EnterPreOperational() error
}
