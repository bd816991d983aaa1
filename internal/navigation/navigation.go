// Package navigation fuses IMU, proximity, and stripe-count readings into
// a forward-motion estimate: acceleration, velocity, displacement, and the
// assumed emergency braking distance.
package navigation

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/openpod/podctl/internal/barrier"
	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/podlog"
	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/timeutil"
)

const componentName = "navigation"

// phase is the estimator's own internal progression, independent of (but
// reported into) the pod state machine's state.
type phase int

const (
	phaseInit phase = iota
	phaseCalibrating
	phaseOperational
	phaseFailed
)

// stripeSpacingMeters is the assumed physical distance between reflective
// stripes along the track; it converts a stripe-count reading into an
// absolute-ish displacement correction.
const stripeSpacingMeters = 10.0

// Estimator is the Navigation Estimator worker.
type Estimator struct {
	registry *telemetry.Registry
	barrier  *barrier.Barrier
	queue    *events.Queue
	clock    timeutil.Clock

	minSamples            int
	calibrationTimeout    time.Duration
	emergencyDeceleration float64

	stopOnce sync.Once
	stopCh   chan struct{}

	phase            phase
	calibrationStart time.Time
	sampleCount      int
	gravityX         []float64
	gravityY         []float64
	gravityZ         []float64
	gyroBiasX        []float64
	gyroBiasY        []float64
	gyroBiasZ        []float64
	gravity          [3]float64
	gyroBias         [3]float64

	lastIMUTimestamp   time.Time
	lastProxTimestamp  time.Time
	lastStripeTimestamp time.Time

	distance     float64
	velocity     float64
	acceleration float64
}

// Config carries the tunable parameters an Estimator needs at
// construction, sourced from PodConfig.
type Config struct {
	MinSamples            int
	CalibrationTimeout    time.Duration
	EmergencyDeceleration float64
}

// New returns an Estimator publishing to registry, hitting bar exactly
// once at the end of calibration, and pushing CalibrationComplete /
// CriticalFailureDetected onto queue.
func New(registry *telemetry.Registry, bar *barrier.Barrier, queue *events.Queue, clock timeutil.Clock, cfg Config) *Estimator {
	return &Estimator{
		registry:              registry,
		barrier:               bar,
		queue:                 queue,
		clock:                 clock,
		minSamples:            cfg.MinSamples,
		calibrationTimeout:    cfg.CalibrationTimeout,
		emergencyDeceleration: cfg.EmergencyDeceleration,
		stopCh:                make(chan struct{}),
		phase:                 phaseInit,
	}
}

// Stop signals Run to exit at its next loop iteration.
func (e *Estimator) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Run executes the calibrate-then-estimate loop until Stop is called.
func (e *Estimator) Run(pollInterval time.Duration) {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		sensors := e.registry.GetSensors()
		switch e.phase {
		case phaseInit:
			e.tryStartCalibration(sensors)
		case phaseCalibrating:
			e.tickCalibration(sensors)
		case phaseOperational:
			e.tickOperational(sensors)
		case phaseFailed:
			return
		}

		e.clock.Sleep(pollInterval)
	}
}

func (e *Estimator) tryStartCalibration(sensors telemetry.Sensors) {
	if sensors.IMUs[0].Timestamp.IsZero() {
		return
	}
	podlog.Infof(componentName, "first sensor tick observed, entering calibration")
	e.phase = phaseCalibrating
	e.calibrationStart = e.clock.Now()
	e.lastIMUTimestamp = time.Time{}
	e.accumulateCalibrationSample(sensors)
}

func (e *Estimator) tickCalibration(sensors telemetry.Sensors) {
	if e.clock.Since(e.calibrationStart) > e.calibrationTimeout {
		podlog.Criticalf(componentName, "calibration timed out after %v without reaching %d samples", e.calibrationTimeout, e.minSamples)
		e.registry.SetNavigation(telemetry.Navigation{ModuleStatus: telemetry.ModuleCriticalFailure})
		e.queue.Push(events.CriticalFailureDetected)
		e.phase = phaseFailed
		return
	}

	if !sensors.IMUs[0].Timestamp.After(e.lastIMUTimestamp) {
		return
	}
	e.accumulateCalibrationSample(sensors)
	if e.sampleCount >= e.minSamples {
		e.finishCalibration()
	}
}

func (e *Estimator) accumulateCalibrationSample(sensors telemetry.Sensors) {
	e.lastIMUTimestamp = sensors.IMUs[0].Timestamp
	e.sampleCount++
	e.gravityX = append(e.gravityX, sensors.IMUs[0].AccelX)
	e.gravityY = append(e.gravityY, sensors.IMUs[0].AccelY)
	e.gravityZ = append(e.gravityZ, sensors.IMUs[0].AccelZ)
	e.gyroBiasX = append(e.gyroBiasX, sensors.IMUs[0].GyroX)
	e.gyroBiasY = append(e.gyroBiasY, sensors.IMUs[0].GyroY)
	e.gyroBiasZ = append(e.gyroBiasZ, sensors.IMUs[0].GyroZ)
}

// finishCalibration computes the gravity vector and gyro bias as the mean
// of the accumulated samples (gonum/stat, as the retrieval pack's database
// layer uses for descriptive statistics over sensor-derived series), hits
// the post-calibration barrier, and transitions to fused estimation.
func (e *Estimator) finishCalibration() {
	e.gravity = [3]float64{
		stat.Mean(e.gravityX, nil),
		stat.Mean(e.gravityY, nil),
		stat.Mean(e.gravityZ, nil),
	}
	e.gyroBias = [3]float64{
		stat.Mean(e.gyroBiasX, nil),
		stat.Mean(e.gyroBiasY, nil),
		stat.Mean(e.gyroBiasZ, nil),
	}
	podlog.Infof(componentName, "calibration complete after %d samples, gravity=%v gyro_bias=%v", e.sampleCount, e.gravity, e.gyroBias)

	e.barrier.Wait()

	e.phase = phaseOperational
	e.registry.SetNavigation(telemetry.Navigation{ModuleStatus: telemetry.ModuleReady})
	e.queue.Push(events.CalibrationComplete)
}

// GravityVarianceX reports the sample variance of the accumulated X-axis
// gravity samples; exposed for tests that want to assert calibration
// actually exercised gonum's statistics, not just its mean.
func (e *Estimator) GravityVarianceX() float64 {
	return stat.Variance(e.gravityX, nil)
}

func (e *Estimator) tickOperational(sensors telemetry.Sensors) {
	if !sensors.IMUs[0].Timestamp.After(e.lastIMUTimestamp) {
		return
	}
	dt := sensors.IMUs[0].Timestamp.Sub(e.lastIMUTimestamp).Seconds()
	e.lastIMUTimestamp = sensors.IMUs[0].Timestamp

	e.acceleration = sensors.IMUs[0].AccelX - e.gravity[0]
	e.velocity += e.acceleration * dt
	if e.velocity < 0 {
		e.velocity = 0
	}
	e.distance += e.velocity * dt

	proximityAdvanced := sensors.ProximityFront[0].Timestamp.After(e.lastProxTimestamp)
	if proximityAdvanced {
		e.lastProxTimestamp = sensors.ProximityFront[0].Timestamp
		e.distance = blend(e.distance, sensors.ProximityFront[0].Value, 0.1)
	}

	stripeAdvanced := sensors.Stripe.Timestamp.After(e.lastStripeTimestamp)
	if stripeAdvanced {
		e.lastStripeTimestamp = sensors.Stripe.Timestamp
		// Stripe-count correction wins on a displacement tie with the
		// proximity correction: apply it last and let it overwrite.
		e.distance = float64(sensors.Stripe.Value) * stripeSpacingMeters
	}

	ebd := (e.velocity * e.velocity) / (2 * e.emergencyDeceleration)

	e.registry.SetNavigation(telemetry.Navigation{
		Distance:                 e.distance,
		Velocity:                 e.velocity,
		Acceleration:             e.acceleration,
		StripeCount:              sensors.Stripe.Value,
		EmergencyBrakingDistance: ebd,
		ModuleStatus:             telemetry.ModuleReady,
	})
}

// blend nudges current toward observed by weight, a lightweight stand-in
// for the Kalman-filtered proximity correction (Kalman math over this
// state transition is out of scope).
func blend(current, observed, weight float64) float64 {
	return current*(1-weight) + observed*weight
}
