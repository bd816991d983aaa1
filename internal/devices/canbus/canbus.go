// Package canbus implements the motor-controller Communicator over a
// CAN-shaped frame transport. Frame layout is an external concern; this
// package only defines the byte encoding needed to drive four controllers
// through the operations the motor controller depends on.
package canbus

import (
	"encoding/binary"
	"fmt"

	"github.com/openpod/podctl/internal/telemetry"
)

// FrameTransport is the minimal send/receive surface this package needs
// from an underlying CAN link (SocketCAN binding, mock, or otherwise).
type FrameTransport interface {
	Send(id uint32, data []byte) error
	Recv() (id uint32, data []byte, err error)
}

// CAN arbitration IDs used for the motor control commands this package
// issues. Real controller firmware would assign these per the vehicle's
// DBC; here they are fixed constants since frame layout is out of scope.
const (
	idRegister       = 0x100
	idConfigure      = 0x101
	idPrepare        = 0x102
	idHealthCheck    = 0x103
	idTargetVelocity = 0x110
	idTargetTorque   = 0x111
	idActualVelocity = 0x120
	idActualTorque   = 0x121
	idQuickStop      = 0x130
	idPreOperational = 0x131
)

// Bus implements devices.Communicator over a FrameTransport.
type Bus struct {
	transport FrameTransport
}

// New wraps transport as a motor Communicator.
func New(transport FrameTransport) *Bus {
	return &Bus{transport: transport}
}

// RegisterControllers announces all four controllers on the bus.
func (b *Bus) RegisterControllers() error {
	return b.transport.Send(idRegister, []byte{telemetry.NumMotors})
}

// ConfigureControllers pushes default operating parameters to all four
// controllers.
func (b *Bus) ConfigureControllers() error {
	return b.transport.Send(idConfigure, nil)
}

// PrepareMotors puts all four controllers into operational mode.
func (b *Bus) PrepareMotors() error {
	return b.transport.Send(idPrepare, nil)
}

// HealthCheck requests a fault/ok status frame from the controllers and
// reports an error if any controller signals fault.
func (b *Bus) HealthCheck() error {
	if err := b.transport.Send(idHealthCheck, nil); err != nil {
		return err
	}
	_, data, err := b.transport.Recv()
	if err != nil {
		return err
	}
	for _, fault := range data {
		if fault != 0 {
			return fmt.Errorf("controller reported fault")
		}
	}
	return nil
}

// SendTargetVelocity commands one target velocity per motor.
func (b *Bus) SendTargetVelocity(velocity [telemetry.NumMotors]int32) error {
	return b.transport.Send(idTargetVelocity, encodeI32(velocity))
}

// SendTargetTorque commands one target torque per motor.
func (b *Bus) SendTargetTorque(torque [telemetry.NumMotors]int16) error {
	return b.transport.Send(idTargetTorque, encodeI16(torque))
}

// RequestActualVelocity reads back the controllers' measured velocities.
func (b *Bus) RequestActualVelocity() ([telemetry.NumMotors]int32, error) {
	if err := b.transport.Send(idActualVelocity, nil); err != nil {
		return [telemetry.NumMotors]int32{}, err
	}
	_, data, err := b.transport.Recv()
	if err != nil {
		return [telemetry.NumMotors]int32{}, err
	}
	return decodeI32(data)
}

// RequestActualTorque reads back the controllers' measured torques.
func (b *Bus) RequestActualTorque() ([telemetry.NumMotors]int16, error) {
	if err := b.transport.Send(idActualTorque, nil); err != nil {
		return [telemetry.NumMotors]int16{}, err
	}
	_, data, err := b.transport.Recv()
	if err != nil {
		return [telemetry.NumMotors]int16{}, err
	}
	return decodeI16(data)
}

// QuickStopAll issues an immediate stop to all four controllers. This must
// never block on any reply, matching the motor controller's requirement
// that stop_motors never wait on another module.
func (b *Bus) QuickStopAll() error {
	return b.transport.Send(idQuickStop, nil)
}

// EnterPreOperational commands all four controllers into the safe
// pre-operational state.
func (b *Bus) EnterPreOperational() error {
	return b.transport.Send(idPreOperational, nil)
}

func encodeI32(v [telemetry.NumMotors]int32) []byte {
	buf := make([]byte, 4*telemetry.NumMotors)
	for i, x := range v {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(x))
	}
	return buf
}

func decodeI32(buf []byte) ([telemetry.NumMotors]int32, error) {
	var out [telemetry.NumMotors]int32
	if len(buf) < 4*telemetry.NumMotors {
		return out, fmt.Errorf("short frame: got %d bytes, want %d", len(buf), 4*telemetry.NumMotors)
	}
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func encodeI16(v [telemetry.NumMotors]int16) []byte {
	buf := make([]byte, 2*telemetry.NumMotors)
	for i, x := range v {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(x))
	}
	return buf
}

func decodeI16(buf []byte) ([telemetry.NumMotors]int16, error) {
	var out [telemetry.NumMotors]int16
	if len(buf) < 2*telemetry.NumMotors {
		return out, fmt.Errorf("short frame: got %d bytes, want %d", len(buf), 2*telemetry.NumMotors)
	}
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(buf[i*2:]))
	}
	return out, nil
}
