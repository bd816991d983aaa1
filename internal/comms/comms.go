// Package comms implements the Communications worker: a long-lived TCP
// client to the ground station that translates inbound command codes into
// pod state-machine events and streams outbound telemetry lines.
package comms

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/podlog"
	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/timeutil"
	"github.com/openpod/podctl/internal/units"
)

const componentName = "comms"

// Dialer opens a connection to the ground station. Satisfied by net.Dial
// and swappable in tests for an in-memory pipe.
type Dialer func(network, address string) (net.Conn, error)

// Command codes received from the ground station.
const (
	codeEndOfRun        = 1
	codeCriticalFailure = 2
	codeOnStart         = 3
)

var codeToEvent = map[int]events.Event{
	codeEndOfRun:        events.EndOfRunReached,
	codeCriticalFailure: events.CriticalFailureDetected,
	codeOnStart:         events.OnStart,
}

// Client is the Communications worker.
type Client struct {
	registry *telemetry.Registry
	queue    *events.Queue
	clock    timeutil.Clock
	dial     Dialer

	address         string
	backoffMin      time.Duration
	backoffMax      time.Duration
	telemetryPeriod time.Duration
	maxConsecutive  int
	displayUnits    string

	stopOnce sync.Once
	stopCh   chan struct{}

	mu   sync.Mutex
	conn net.Conn
}

// Config carries the tunable parameters a Client needs at construction.
type Config struct {
	Address             string
	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration
	TelemetryPeriod     time.Duration
	// MaxConsecutiveFailures is the number of back-to-back connect
	// failures tolerated before a persistent failure is surfaced to the
	// state machine as CriticalFailureDetected. Zero means unbounded
	// retry.
	MaxConsecutiveFailures int
	// DisplayUnits is the speed unit outbound telemetry is converted to
	// before transmission (units.MPS, units.MPH, units.KMPH, units.KPH).
	// Defaults to units.MPS when empty or invalid.
	DisplayUnits string
}

// New returns a Client dialing address via dial, publishing received
// events onto queue and reading telemetry snapshots from registry.
func New(registry *telemetry.Registry, queue *events.Queue, clock timeutil.Clock, dial Dialer, cfg Config) *Client {
	period := cfg.TelemetryPeriod
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	displayUnits := cfg.DisplayUnits
	if !units.IsValid(displayUnits) {
		displayUnits = units.MPS
	}
	return &Client{
		registry:        registry,
		queue:           queue,
		clock:           clock,
		dial:            dial,
		address:         cfg.Address,
		backoffMin:      cfg.ReconnectBackoffMin,
		backoffMax:      cfg.ReconnectBackoffMax,
		telemetryPeriod: period,
		maxConsecutive:  cfg.MaxConsecutiveFailures,
		displayUnits:    displayUnits,
		stopCh:          make(chan struct{}),
	}
}

// Stop signals Run to exit at its next loop iteration.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Run dials the ground station, reconnecting with exponential backoff on
// failure, until Stop is called or a persistent failure is surfaced.
func (c *Client) Run() {
	backoff := c.backoffMin
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.dial("tcp", c.address)
		if err != nil {
			failures++
			podlog.Warnf(componentName, "dial %s failed (%d consecutive): %v", c.address, failures, err)
			if c.maxConsecutive > 0 && failures >= c.maxConsecutive {
				podlog.Criticalf(componentName, "giving up on ground station after %d consecutive failures", failures)
				c.queue.Push(events.CriticalFailureDetected)
				return
			}
			if !c.sleepBackoff(&backoff) {
				return
			}
			continue
		}

		failures = 0
		backoff = c.backoffMin
		c.setConn(conn)
		podlog.Infof(componentName, "connected to ground station at %s", c.address)

		if err := c.serve(conn); err != nil {
			podlog.Warnf(componentName, "connection to %s lost: %v", c.address, err)
		}
		c.setConn(nil)
	}
}

func (c *Client) sleepBackoff(backoff *time.Duration) bool {
	select {
	case <-c.stopCh:
		return false
	default:
	}
	c.clock.Sleep(*backoff)
	*backoff *= 2
	if *backoff > c.backoffMax {
		*backoff = c.backoffMax
	}
	return true
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// serve runs the read loop and the telemetry publish loop concurrently
// against a single connection, returning when either fails or Stop fires.
func (c *Client) serve(conn net.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	ticker := c.clock.NewTicker(c.telemetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			conn.Close()
			return err
		case <-ticker.C():
			if err := c.publishTelemetry(conn); err != nil {
				conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		code, err := strconv.Atoi(strings.Fields(line)[0])
		if err != nil {
			podlog.Warnf(componentName, "unparseable command line %q: %v", line, err)
			continue
		}
		ev, ok := codeToEvent[code]
		if !ok {
			podlog.Warnf(componentName, "unknown command code %d", code)
			continue
		}
		podlog.Infof(componentName, "received command code %d -> %v", code, ev)
		c.queue.Push(ev)
	}
	return scan.Err()
}

// publishTelemetry writes the current navigation snapshot upstream as
// "<code> <value>\n" lines.
func (c *Client) publishTelemetry(conn net.Conn) error {
	nav := c.registry.GetNavigation()
	velocity := units.ConvertSpeed(nav.Velocity, c.displayUnits)
	lines := []string{
		fmt.Sprintf("10 %f\n", nav.Distance),
		fmt.Sprintf("11 %f\n", velocity),
		fmt.Sprintf("12 %f\n", nav.Acceleration),
	}
	for _, line := range lines {
		if _, err := conn.Write([]byte(line)); err != nil {
			return err
		}
	}
	return nil
}
