// Package metrics exposes the pod's registry snapshots as Prometheus
// gauges: one per module's status, the latched critical-failure flag,
// each motor's velocity/torque, and the navigation-derived emergency
// braking distance.
package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openpod/podctl/internal/telemetry"
)

// Metrics wraps a dedicated Prometheus registry and the gauges podctl
// updates from telemetry snapshots.
type Metrics struct {
	reg *prom.Registry

	moduleStatus      *prom.GaugeVec
	criticalFailure   prom.Gauge
	motorVelocity     *prom.GaugeVec
	motorTorque       *prom.GaugeVec
	emergencyBraking  prom.Gauge
	navigationVelocity prom.Gauge
	navigationDistance prom.Gauge
}

const namespace = "podctl"

// New creates and registers every gauge against a fresh registry.
func New() *Metrics {
	reg := prom.NewRegistry()

	m := &Metrics{
		reg: reg,
		moduleStatus: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "module_status",
			Help:      "Current ModuleStatus of each worker (0=Start 1=Init 2=Ready 3=CriticalFailure).",
		}, []string{"module"}),
		criticalFailure: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "critical_failure",
			Help:      "1 if the pod state machine has latched a critical failure.",
		}),
		motorVelocity: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_velocity_rpm",
			Help:      "Last reported actual velocity per motor controller.",
		}, []string{"motor"}),
		motorTorque: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_torque",
			Help:      "Last reported actual torque per motor controller.",
		}, []string{"motor"}),
		emergencyBraking: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "emergency_braking_distance_meters",
			Help:      "Distance required to stop at the configured emergency deceleration.",
		}),
		navigationVelocity: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "navigation_velocity_mps",
			Help:      "Fused forward velocity estimate.",
		}),
		navigationDistance: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "navigation_distance_meters",
			Help:      "Fused forward displacement estimate.",
		}),
	}

	reg.MustRegister(
		m.moduleStatus,
		m.criticalFailure,
		m.motorVelocity,
		m.motorTorque,
		m.emergencyBraking,
		m.navigationVelocity,
		m.navigationDistance,
	)
	return m
}

// Handler returns the HTTP handler exposition endpoint for this
// registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveModuleStatus records status for the named module.
func (m *Metrics) ObserveModuleStatus(module string, status telemetry.ModuleStatus) {
	m.moduleStatus.WithLabelValues(module).Set(float64(status))
}

// ObserveStateMachine records the latched critical-failure flag.
func (m *Metrics) ObserveStateMachine(data telemetry.StateMachineData) {
	if data.CriticalFailure {
		m.criticalFailure.Set(1)
	} else {
		m.criticalFailure.Set(0)
	}
}

// ObserveMotorData records per-motor velocity/torque and the module
// status of the Motor Controller.
func (m *Metrics) ObserveMotorData(data telemetry.MotorData) {
	m.ObserveModuleStatus("motor", data.ModuleStatus)
	for i, reading := range data.Motors {
		label := strconv.Itoa(i)
		m.motorVelocity.WithLabelValues(label).Set(float64(reading.Velocity))
		m.motorTorque.WithLabelValues(label).Set(float64(reading.Torque))
	}
}

// ObserveNavigation records the fused navigation estimate and module
// status of the Navigation Estimator.
func (m *Metrics) ObserveNavigation(nav telemetry.Navigation) {
	m.ObserveModuleStatus("navigation", nav.ModuleStatus)
	m.navigationVelocity.Set(nav.Velocity)
	m.navigationDistance.Set(nav.Distance)
	m.emergencyBraking.Set(nav.EmergencyBrakingDistance)
}

// ObserveSensors records the module status of the Sensor Aggregator.
func (m *Metrics) ObserveSensors(sensors telemetry.Sensors) {
	m.ObserveModuleStatus("sensors", sensors.ModuleStatus)
}

// ObserveBatteries records the module status of the battery monitor.
func (m *Metrics) ObserveBatteries(batteries telemetry.Batteries) {
	m.ObserveModuleStatus("batteries", batteries.ModuleStatus)
}
