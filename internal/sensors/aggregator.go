// Package sensors runs the per-device acquisition loop and collates raw
// readings into the registry's Sensors and Batteries substructures,
// publishing only on change.
package sensors

import (
	"sync/atomic"
	"time"

	"github.com/openpod/podctl/internal/devices"
	"github.com/openpod/podctl/internal/podlog"
	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/timeutil"
)

const componentName = "sensors"

// Devices names every external collaborator the aggregator polls. Any
// entry may be nil, in which case that slot is skipped (useful for
// --sensors_only demo wiring with a partial device set).
type Devices struct {
	IMUs            [telemetry.NumIMUs]devices.IMU
	ProximityFront  [telemetry.NumProximityPerBank]devices.Proximity
	ProximityBack   [telemetry.NumProximityPerBank]devices.Proximity
	Stripe          devices.StripeCounter
	LowPowerBMS     devices.BMS
	HighPowerBMS    devices.BMS
}

// Aggregator is the Sensor Aggregator worker.
type Aggregator struct {
	devices  Devices
	registry *telemetry.Registry
	clock    timeutil.Clock

	running int32

	prevSensors   telemetry.Sensors
	prevBatteries telemetry.Batteries
}

// New returns an Aggregator polling devices and publishing to registry.
func New(d Devices, registry *telemetry.Registry, clock timeutil.Clock) *Aggregator {
	return &Aggregator{devices: d, registry: registry, clock: clock, running: 1}
}

// Stop clears the shared running flag; Run exits cleanly at the start of
// its next cycle.
func (a *Aggregator) Stop() {
	atomic.StoreInt32(&a.running, 0)
}

func (a *Aggregator) isRunning() bool {
	return atomic.LoadInt32(&a.running) != 0
}

// Run executes the collation loop until Stop is called. pollInterval is
// the cooperative yield between cycles, read from PodConfig, so this
// thread does not starve its peers.
func (a *Aggregator) Run(pollInterval time.Duration) {
	for a.isRunning() {
		a.cycle()
		a.clock.Sleep(pollInterval)
	}
}

// cycle polls every device once, compares against the previous buffer, and
// publishes on change.
func (a *Aggregator) cycle() {
	var sensors telemetry.Sensors
	sensors.ModuleStatus = telemetry.ModuleReady

	var imuOnline [telemetry.NumIMUs]bool
	for i, imu := range a.devices.IMUs {
		if imu == nil || !imu.IsOnline() {
			sensors.IMUs[i] = a.prevSensors.IMUs[i]
			continue
		}
		imuOnline[i] = true
		reading, err := imu.Read()
		if err != nil {
			podlog.Debugf(componentName, "imu %d transient read error: %v", i, err)
			sensors.IMUs[i] = a.prevSensors.IMUs[i]
			continue
		}
		sensors.IMUs[i] = reading
	}

	for i, p := range a.devices.ProximityFront {
		sensors.ProximityFront[i] = pollProximity(p, a.prevSensors.ProximityFront[i], "proximity_front", i)
	}
	for i, p := range a.devices.ProximityBack {
		sensors.ProximityBack[i] = pollProximity(p, a.prevSensors.ProximityBack[i], "proximity_back", i)
	}

	if a.devices.Stripe != nil && a.devices.Stripe.IsOnline() {
		if sc, err := a.devices.Stripe.Read(); err == nil {
			sensors.Stripe = sc
		} else {
			podlog.Debugf(componentName, "stripe counter transient read error: %v", err)
			sensors.Stripe = a.prevSensors.Stripe
		}
	} else {
		sensors.Stripe = a.prevSensors.Stripe
	}

	var batteries telemetry.Batteries
	batteries.ModuleStatus = telemetry.ModuleReady
	if a.devices.LowPowerBMS != nil {
		if b, err := a.devices.LowPowerBMS.Read(); err == nil {
			batteries.LowPower = b
		} else {
			batteries.LowPower = a.prevBatteries.LowPower
		}
	}
	if a.devices.HighPowerBMS != nil {
		if b, err := a.devices.HighPowerBMS.Read(); err == nil {
			batteries.HighPower = b
		} else {
			batteries.HighPower = a.prevBatteries.HighPower
		}
	}

	if sensorsUpdated(a.prevSensors, sensors, imuOnline) {
		a.registry.SetSensors(sensors)
		a.prevSensors = sensors
	}
	if batteriesUpdated(a.prevBatteries, batteries) {
		a.registry.SetBatteries(batteries)
		a.prevBatteries = batteries
	}
}

func pollProximity(p devices.Proximity, prev telemetry.ProximityReading, tag string, idx int) telemetry.ProximityReading {
	if p == nil || !p.IsOnline() {
		return prev
	}
	reading, err := p.Read()
	if err != nil {
		podlog.Debugf(componentName, "%s %d transient read error: %v", tag, idx, err)
		return prev
	}
	return reading
}

// sensorsUpdated implements the aggregator's publish-on-change policy.
//
// The IMU group is "advanced" only when every one of the eight IMU
// timestamps has moved forward from the previous buffer. This matches
// the original aggregator's behavior, which returns false as soon as any
// single IMU stalls rather than as soon as any one advances.
// Proximity banks and the stripe counter are each "advanced" when any one
// of their readings' timestamps has moved forward. Publication fires when
// any tracked group has advanced, so a stalled IMU does not block the
// other groups from reaching the registry. An offline IMU is excluded from
// the all-must-advance check entirely until it recovers.
func sensorsUpdated(prev, next telemetry.Sensors, imuOnline [telemetry.NumIMUs]bool) bool {
	imuAdvanced := true
	anyIMUOnline := false
	for i := range next.IMUs {
		if !imuOnline[i] {
			continue
		}
		anyIMUOnline = true
		if !next.IMUs[i].Timestamp.After(prev.IMUs[i].Timestamp) {
			imuAdvanced = false
			break
		}
	}
	if !anyIMUOnline {
		imuAdvanced = false
	}

	proxFrontAdvanced := false
	for i := range next.ProximityFront {
		if next.ProximityFront[i].Timestamp.After(prev.ProximityFront[i].Timestamp) {
			proxFrontAdvanced = true
			break
		}
	}

	proxBackAdvanced := false
	for i := range next.ProximityBack {
		if next.ProximityBack[i].Timestamp.After(prev.ProximityBack[i].Timestamp) {
			proxBackAdvanced = true
			break
		}
	}

	stripeAdvanced := next.Stripe.Timestamp.After(prev.Stripe.Timestamp)

	return imuAdvanced || proxFrontAdvanced || proxBackAdvanced || stripeAdvanced
}

func batteriesUpdated(prev, next telemetry.Batteries) bool {
	return next.LowPower.Voltage != prev.LowPower.Voltage ||
		next.LowPower.Temperature != prev.LowPower.Temperature ||
		next.HighPower.Voltage != prev.HighPower.Voltage ||
		next.HighPower.Temperature != prev.HighPower.Temperature
}
