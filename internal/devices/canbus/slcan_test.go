package canbus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// loopbackPort is an in-memory SerialPort: writes land in a buffer that
// reads consume, so a transport's Send can be observed and its Recv can be
// fed canned frames without a real adapter attached.
type loopbackPort struct {
	written bytes.Buffer
	toRead  bytes.Buffer
}

func (p *loopbackPort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *loopbackPort) Read(b []byte) (int, error)  { return p.toRead.Read(b) }

func TestSendEncodesSLCANLine(t *testing.T) {
	port := &loopbackPort{}
	transport := NewSerialFrameTransport(port)

	require.NoError(t, transport.Send(0x110, []byte{0x01, 0x02}))
	require.Equal(t, "t11020102\r", port.written.String())
}

func TestRecvDecodesSLCANLine(t *testing.T) {
	port := &loopbackPort{}
	port.toRead.WriteString("t12020304\r")
	transport := NewSerialFrameTransport(port)

	id, data, err := transport.Recv()
	require.NoError(t, err)
	require.Equal(t, uint32(0x120), id)
	require.Equal(t, []byte{0x03, 0x04}, data)
}

func TestRecvRejectsMalformedLine(t *testing.T) {
	port := &loopbackPort{}
	port.toRead.WriteString("garbage\r")
	transport := NewSerialFrameTransport(port)

	_, _, err := transport.Recv()
	require.Error(t, err)
}
