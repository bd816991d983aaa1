package comms

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/timeutil"
)

// pipeDialer returns a Dialer that always hands back one side of an
// in-memory net.Pipe, exposing the other side to the test.
func pipeDialer() (Dialer, <-chan net.Conn) {
	serverSide := make(chan net.Conn, 4)
	dial := func(network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		serverSide <- server
		return client, nil
	}
	return dial, serverSide
}

func TestCommandCodeMapsToEvent(t *testing.T) {
	registry := telemetry.NewRegistry()
	queue := events.NewQueue(4)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	dial, serverSide := pipeDialer()

	c := New(registry, queue, clock, dial, Config{
		Address:             "ground:7777",
		ReconnectBackoffMin: time.Millisecond,
		ReconnectBackoffMax: 10 * time.Millisecond,
		TelemetryPeriod:     time.Hour,
	})
	go c.Run()
	defer c.Stop()

	server := <-serverSide
	_, err := server.Write([]byte("3 0\n"))
	require.NoError(t, err)

	select {
	case e := <-queue.C():
		require.Equal(t, events.OnStart, e)
	case <-time.After(time.Second):
		t.Fatal("expected OnStart event from command code 3")
	}
}

func TestUnknownCommandCodeIsIgnored(t *testing.T) {
	registry := telemetry.NewRegistry()
	queue := events.NewQueue(4)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	dial, serverSide := pipeDialer()

	c := New(registry, queue, clock, dial, Config{
		Address:             "ground:7777",
		ReconnectBackoffMin: time.Millisecond,
		ReconnectBackoffMax: 10 * time.Millisecond,
		TelemetryPeriod:     time.Hour,
	})
	go c.Run()
	defer c.Stop()

	server := <-serverSide
	_, err := server.Write([]byte("99 0\n"))
	require.NoError(t, err)
	_, err = server.Write([]byte("1 0\n"))
	require.NoError(t, err)

	select {
	case e := <-queue.C():
		require.Equal(t, events.EndOfRunReached, e)
	case <-time.After(time.Second):
		t.Fatal("expected EndOfRunReached after the unknown code was skipped")
	}
}

func TestPersistentDialFailureSurfacesCriticalFailure(t *testing.T) {
	registry := telemetry.NewRegistry()
	queue := events.NewQueue(4)
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	attempts := 0
	dial := func(network, address string) (net.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	c := New(registry, queue, clock, dial, Config{
		Address:                "ground:7777",
		ReconnectBackoffMin:    time.Millisecond,
		ReconnectBackoffMax:    2 * time.Millisecond,
		TelemetryPeriod:        time.Hour,
		MaxConsecutiveFailures: 3,
	})
	c.Run()

	require.Equal(t, 3, attempts)
	select {
	case e := <-queue.C():
		require.Equal(t, events.CriticalFailureDetected, e)
	default:
		t.Fatal("expected CriticalFailureDetected after exhausting retries")
	}
}

func TestTelemetryLinesCarryNavigationSnapshot(t *testing.T) {
	registry := telemetry.NewRegistry()
	registry.SetNavigation(telemetry.Navigation{Distance: 12.5, Velocity: 3.0, Acceleration: 1.0})
	queue := events.NewQueue(4)
	clock := timeutil.RealClock{}
	dial, serverSide := pipeDialer()

	c := New(registry, queue, clock, dial, Config{
		Address:             "ground:7777",
		ReconnectBackoffMin: time.Millisecond,
		ReconnectBackoffMax: 10 * time.Millisecond,
		TelemetryPeriod:     time.Millisecond,
	})
	go c.Run()
	defer c.Stop()

	server := <-serverSide
	reader := bufio.NewReader(server)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "10 ")
}
