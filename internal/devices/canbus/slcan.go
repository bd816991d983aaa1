package canbus

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// SerialPort is the minimal surface SerialFrameTransport needs from an
// open serial connection, so tests can substitute an in-memory pipe.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// SerialFrameTransport implements FrameTransport over a SLCAN-speaking
// USB-CAN adapter attached as a serial line. Frames are ASCII: a send is
// "t<3-hex-id><1-hex-len><hex-data>\r", a receive is the same format read
// back off the line.
type SerialFrameTransport struct {
	port   SerialPort
	reader *bufio.Reader
}

// OpenSLCAN opens portName at the baud rate common USB-CAN adapters use
// for their SLCAN firmware and wraps it as a FrameTransport.
func OpenSLCAN(portName string) (*SerialFrameTransport, error) {
	p, err := serial.Open(portName, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, fmt.Errorf("open slcan port %q: %w", portName, err)
	}
	return NewSerialFrameTransport(p), nil
}

// NewSerialFrameTransport wraps an already-open SerialPort.
func NewSerialFrameTransport(p SerialPort) *SerialFrameTransport {
	return &SerialFrameTransport{port: p, reader: bufio.NewReader(p)}
}

// Send encodes id/data as a SLCAN standard transmit frame and writes it.
func (t *SerialFrameTransport) Send(id uint32, data []byte) error {
	line := fmt.Sprintf("t%03X%X%s\r", id&0xFFF, len(data), strings.ToUpper(hex.EncodeToString(data)))
	_, err := t.port.Write([]byte(line))
	return err
}

// Recv reads and decodes the next SLCAN frame line from the port.
func (t *SerialFrameTransport) Recv() (uint32, []byte, error) {
	line, err := t.reader.ReadString('\r')
	if err != nil {
		return 0, nil, err
	}
	line = strings.TrimSuffix(line, "\r")
	if len(line) < 5 || line[0] != 't' {
		return 0, nil, fmt.Errorf("malformed slcan frame %q", line)
	}
	var id uint32
	if _, err := fmt.Sscanf(line[1:4], "%X", &id); err != nil {
		return 0, nil, fmt.Errorf("malformed slcan id in %q: %w", line, err)
	}
	var dlc int
	if _, err := fmt.Sscanf(line[4:5], "%X", &dlc); err != nil {
		return 0, nil, fmt.Errorf("malformed slcan dlc in %q: %w", line, err)
	}
	data, err := hex.DecodeString(line[5 : 5+dlc*2])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed slcan data in %q: %w", line, err)
	}
	return id, data, nil
}
