// Package mock provides in-memory fakes of every sensor and the CAN
// communicator, used by package tests and by podctl's --sensors_only /
// --motors_only demo modes.
package mock

import (
	"sync"

	"github.com/openpod/podctl/internal/telemetry"
)

// IMU is a programmable fake satisfying devices.IMU.
type IMU struct {
	mu      sync.Mutex
	reading telemetry.IMUReading
	online  bool
	err     error
}

// NewIMU returns an online fake IMU reporting a zero reading.
func NewIMU() *IMU {
	return &IMU{online: true}
}

// Set installs the reading the next Read call will return.
func (m *IMU) Set(r telemetry.IMUReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = r
}

// SetOnline flips online/offline status.
func (m *IMU) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

// SetErr makes the next Read calls fail with err until cleared.
func (m *IMU) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *IMU) Read() (telemetry.IMUReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return telemetry.IMUReading{}, m.err
	}
	return m.reading, nil
}

func (m *IMU) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Proximity is a programmable fake satisfying devices.Proximity.
type Proximity struct {
	mu      sync.Mutex
	reading telemetry.ProximityReading
	online  bool
	err     error
}

func NewProximity() *Proximity { return &Proximity{online: true} }

func (m *Proximity) Set(r telemetry.ProximityReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = r
}

func (m *Proximity) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

func (m *Proximity) Read() (telemetry.ProximityReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return telemetry.ProximityReading{}, m.err
	}
	return m.reading, nil
}

func (m *Proximity) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// StripeCounter is a programmable fake satisfying devices.StripeCounter.
type StripeCounter struct {
	mu      sync.Mutex
	reading telemetry.StripeCount
	online  bool
}

func NewStripeCounter() *StripeCounter { return &StripeCounter{online: true} }

func (m *StripeCounter) Set(r telemetry.StripeCount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = r
}

func (m *StripeCounter) Read() (telemetry.StripeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reading, nil
}

func (m *StripeCounter) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// BMS is a programmable fake satisfying devices.BMS.
type BMS struct {
	mu      sync.Mutex
	reading telemetry.BatteryReading
	online  bool
}

func NewBMS() *BMS { return &BMS{online: true} }

func (m *BMS) Set(r telemetry.BatteryReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = r
}

func (m *BMS) Read() (telemetry.BatteryReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reading, nil
}

func (m *BMS) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Communicator is a programmable fake satisfying devices.Communicator. It
// tracks the last commanded setpoints and reports them back as "actual"
// values, so tests can drive a controller toward zero velocity the same
// way a real quick-stop eventually would.
type Communicator struct {
	mu sync.Mutex

	registered   bool
	configured   bool
	prepared     bool
	healthFault  bool
	configureErr error

	velocity [telemetry.NumMotors]int32
	torque   [telemetry.NumMotors]int16
}

// NewCommunicator returns a healthy fake communicator.
func NewCommunicator() *Communicator {
	return &Communicator{}
}

// SetHealthFault makes HealthCheck fail until cleared.
func (c *Communicator) SetHealthFault(fault bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthFault = fault
}

// SetConfigureErr makes ConfigureControllers fail with err until cleared.
func (c *Communicator) SetConfigureErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configureErr = err
}

func (c *Communicator) RegisterControllers() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = true
	return nil
}

func (c *Communicator) ConfigureControllers() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.configureErr != nil {
		return c.configureErr
	}
	c.configured = true
	return nil
}

func (c *Communicator) PrepareMotors() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = true
	return nil
}

func (c *Communicator) HealthCheck() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthFault {
		return errHealthFault
	}
	return nil
}

func (c *Communicator) SendTargetVelocity(velocity [telemetry.NumMotors]int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.velocity = velocity
	return nil
}

func (c *Communicator) SendTargetTorque(torque [telemetry.NumMotors]int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.torque = torque
	return nil
}

func (c *Communicator) RequestActualVelocity() ([telemetry.NumMotors]int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.velocity, nil
}

func (c *Communicator) RequestActualTorque() ([telemetry.NumMotors]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torque, nil
}

// QuickStopAll immediately zeroes every motor's velocity and torque, as a
// real quick-stop eventually converges to zero but without waiting on any
// other module.
func (c *Communicator) QuickStopAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.velocity = [telemetry.NumMotors]int32{}
	c.torque = [telemetry.NumMotors]int16{}
	return nil
}

func (c *Communicator) EnterPreOperational() error {
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errHealthFault = errString("controller reported fault")
