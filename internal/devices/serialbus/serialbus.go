// Package serialbus implements a BMS transport over a line-oriented RS-232
// link, using a scan-and-select monitor loop over the port.
package serialbus

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/openpod/podctl/internal/telemetry"
)

// Port is the minimal surface Bus needs from a serial connection, so tests
// can substitute an in-memory reader/writer.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Bus monitors one BMS over a serial link and exposes its most recent
// reading. Each line on the wire is expected to be
// "<voltage> <current> <temperature> <charge>".
type Bus struct {
	port Port

	mu      sync.RWMutex
	latest  telemetry.BatteryReading
	online  bool
	lastErr error
}

// Open opens portName at 115200-8-N-1, the same mode the rest of this
// firmware's serial devices use.
func Open(portName string) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", portName, err)
	}
	return NewBus(p), nil
}

// NewBus wraps an already-open Port.
func NewBus(p Port) *Bus {
	return &Bus{port: p}
}

// Monitor reads lines from the port until ctx is done, updating the latest
// reading on every well-formed line and marking the device offline after
// three consecutive malformed lines. A read error ends the monitor.
func (b *Bus) Monitor(ctx context.Context) error {
	defer b.port.Close()
	scan := bufio.NewScanner(b.port)

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if !scan.Scan() {
				return scan.Err()
			}
			reading, err := parseLine(scan.Text())
			if err != nil {
				consecutiveErrors++
				if consecutiveErrors >= 3 {
					b.setOnline(false)
				}
				continue
			}
			consecutiveErrors = 0
			b.mu.Lock()
			b.latest = reading
			b.online = true
			b.mu.Unlock()
		}
	}
}

func parseLine(line string) (telemetry.BatteryReading, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return telemetry.BatteryReading{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	vals := make([]float64, 4)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return telemetry.BatteryReading{}, fmt.Errorf("field %d: %w", i, err)
		}
		vals[i] = v
	}
	return telemetry.BatteryReading{
		Voltage:     vals[0],
		Current:     vals[1],
		Temperature: vals[2],
		Charge:      vals[3],
	}, nil
}

func (b *Bus) setOnline(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = online
}

// Read returns the most recently parsed battery reading.
func (b *Bus) Read() (telemetry.BatteryReading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.online {
		return b.latest, fmt.Errorf("bms offline")
	}
	return b.latest, nil
}

// IsOnline reports whether the device has produced a well-formed reading
// recently.
func (b *Bus) IsOnline() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.online
}
