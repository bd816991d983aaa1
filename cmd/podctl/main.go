// Command podctl runs the onboard pod control firmware: the Telemetry
// Registry and its six worker threads (Sensor Aggregator, Navigation
// Estimator, Pod State Machine, Motor Controller, Communications, plus
// the metrics exporter).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/openpod/podctl/internal/barrier"
	"github.com/openpod/podctl/internal/comms"
	"github.com/openpod/podctl/internal/config"
	"github.com/openpod/podctl/internal/devices"
	"github.com/openpod/podctl/internal/devices/canbus"
	"github.com/openpod/podctl/internal/devices/mock"
	"github.com/openpod/podctl/internal/devices/serialbus"
	"github.com/openpod/podctl/internal/events"
	"github.com/openpod/podctl/internal/fsutil"
	"github.com/openpod/podctl/internal/metrics"
	"github.com/openpod/podctl/internal/motor"
	"github.com/openpod/podctl/internal/navigation"
	"github.com/openpod/podctl/internal/podlog"
	"github.com/openpod/podctl/internal/sensors"
	"github.com/openpod/podctl/internal/statemachine"
	"github.com/openpod/podctl/internal/telemetry"
	"github.com/openpod/podctl/internal/timeutil"
	"github.com/openpod/podctl/internal/units"
	"github.com/openpod/podctl/internal/version"
)

var (
	logLevel       = flag.String("log_level", "info", "minimum logged severity: debug, info, warn, error, critical")
	sensorsOnly    = flag.Bool("sensors_only", false, "run only the Sensor Aggregator against mock devices")
	motorsOnly     = flag.Bool("motors_only", false, "run only the Motor Controller against a mock communicator")
	barrierParties = flag.Int("barrier_parties", 0, "override the post-calibration barrier party count (0 = use config)")
	configFile     = flag.String("config", "podctl.json", "path to the JSON pod configuration file")
	metricsListen  = flag.String("metrics-listen", "", "if set, expose Prometheus metrics on this address (e.g. :9090)")
	groundStation  = flag.String("ground-station", "", "override the ground station TCP address from config")
	canSerialPort  = flag.String("can-serial-port", "", "if set, drive motor controllers over a SLCAN USB-CAN adapter on this serial port instead of the mock communicator")
	bmsSerialPort  = flag.String("bms-serial-port", "", "if set, read the low-power BMS over a serial link on this port instead of the mock BMS")
	unitsFlag      = flag.String("units", units.MPS, "speed units for outbound telemetry (mps, mph, kmph, kph)")
	versionFlag    = flag.Bool("version", false, "print version information and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("podctl v%s (git SHA: %s)\n", version.Version, version.GitSHA)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	podlog.SetLevel(podlog.ParseLevel(*logLevel))

	runID := uuid.New()
	podlog.Infof("main", "podctl v%s starting, run_id=%s", version.Version, runID)

	if !units.IsValid(*unitsFlag) {
		podlog.Errorf("main", "invalid --units %q, valid options are: %s", *unitsFlag, units.GetValidUnitsString())
		os.Exit(1)
	}

	podCfg, err := config.LoadPodConfig(fsutil.OSFileSystem{}, *configFile)
	if err != nil {
		podlog.Errorf("main", "failed to load config from %s: %v", *configFile, err)
		os.Exit(1)
	}
	podlog.Infof("main", "loaded configuration from %s", *configFile)

	parties := podCfg.GetBarrierParties()
	if *barrierParties > 0 {
		parties = *barrierParties
	}

	registry := telemetry.NewRegistry()
	queue := events.NewQueue(32)
	bar := barrier.New(parties)
	clock := timeutil.RealClock{}

	var mtr *metrics.Metrics
	if *metricsListen != "" {
		mtr = metrics.New()
		go serveMetrics(*metricsListen, mtr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if *sensorsOnly {
		runSensorsOnly(ctx, &wg, registry, clock, podCfg)
	} else if *motorsOnly {
		runMotorsOnly(ctx, &wg, registry, bar, queue, clock, podCfg)
	} else {
		runFullStack(ctx, &wg, registry, bar, queue, clock, podCfg, mtr, *unitsFlag)
	}

	wg.Wait()
	podlog.Infof("main", "run_id=%s shutdown complete", runID)

	if registry.GetStateMachineData().CriticalFailure {
		podlog.Criticalf("main", "run_id=%s ended with a latched critical failure", runID)
		os.Exit(2)
	}
}

func runSensorsOnly(ctx context.Context, wg *sync.WaitGroup, registry *telemetry.Registry, clock timeutil.Clock, cfg *config.PodConfig) {
	devs := mockDevices()
	agg := sensors.New(devs, registry, clock)

	wg.Add(1)
	go func() {
		defer wg.Done()
		agg.Run(cfg.GetSensorPollInterval())
	}()
	go func() {
		<-ctx.Done()
		agg.Stop()
	}()
}

func runMotorsOnly(ctx context.Context, wg *sync.WaitGroup, registry *telemetry.Registry, bar *barrier.Barrier, queue *events.Queue, clock timeutil.Clock, cfg *config.PodConfig) {
	comm := mock.NewCommunicator()
	strategy := motor.BaselineStrategy{
		VelocityStep: int32(cfg.GetMotorVelocityStep()),
		TorqueStep:   int16(cfg.GetMotorTorqueStep()),
	}
	ctrl := motor.New(registry, comm, bar, queue, clock, strategy)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctrl.Run(cfg.GetMotorLoopInterval())
	}()
	go func() {
		<-ctx.Done()
		ctrl.Stop()
	}()
}

func runFullStack(ctx context.Context, wg *sync.WaitGroup, registry *telemetry.Registry, bar *barrier.Barrier, queue *events.Queue, clock timeutil.Clock, cfg *config.PodConfig, mtr *metrics.Metrics, displayUnits string) {
	devs := mockDevices()
	if *bmsSerialPort != "" {
		bus, err := serialbus.Open(*bmsSerialPort)
		if err != nil {
			podlog.Errorf("main", "failed to open bms serial port %s: %v", *bmsSerialPort, err)
			os.Exit(1)
		}
		devs.LowPowerBMS = bus
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Monitor(ctx); err != nil {
				podlog.Errorf("main", "bms serial monitor exited: %v", err)
			}
		}()
	}

	var comm devices.Communicator = mock.NewCommunicator()
	if *canSerialPort != "" {
		transport, err := canbus.OpenSLCAN(*canSerialPort)
		if err != nil {
			podlog.Errorf("main", "failed to open can serial port %s: %v", *canSerialPort, err)
			os.Exit(1)
		}
		comm = canbus.New(transport)
	}

	agg := sensors.New(devs, registry, clock)
	nav := navigation.New(registry, bar, queue, clock, navigation.Config{
		MinSamples:            cfg.GetMinCalibrationSamples(),
		CalibrationTimeout:    cfg.GetCalibrationTimeout(),
		EmergencyDeceleration: cfg.GetEmergencyDeceleration(),
	})
	sm := statemachine.New(registry, queue)
	strategy := motor.BaselineStrategy{
		VelocityStep: int32(cfg.GetMotorVelocityStep()),
		TorqueStep:   int16(cfg.GetMotorTorqueStep()),
	}
	ctrl := motor.New(registry, comm, bar, queue, clock, strategy)

	address := cfg.GetGroundStationAddress()
	if *groundStation != "" {
		address = *groundStation
	}
	groundClient := comms.New(registry, queue, clock, net.Dial, comms.Config{
		Address:             address,
		ReconnectBackoffMin: cfg.GetReconnectBackoffMin(),
		ReconnectBackoffMax: cfg.GetReconnectBackoffMax(),
		DisplayUnits:        displayUnits,
	})

	workers := []struct {
		name string
		run  func()
		stop func()
	}{
		{"sensors", func() { agg.Run(cfg.GetSensorPollInterval()) }, agg.Stop},
		{"navigation", func() { nav.Run(cfg.GetSensorPollInterval()) }, nav.Stop},
		{"statemachine", sm.Run, sm.Stop},
		{"motor", func() { ctrl.Run(cfg.GetMotorLoopInterval()) }, ctrl.Stop},
		{"comms", groundClient.Run, groundClient.Stop},
	}

	for _, w := range workers {
		wg.Add(1)
		go func(name string, run func()) {
			defer wg.Done()
			podlog.Infof("main", "starting %s worker", name)
			run()
			podlog.Infof("main", "%s worker exited", name)
		}(w.name, w.run)
	}

	stopAll := func() {
		for _, w := range workers {
			w.stop()
		}
	}
	go func() {
		<-ctx.Done()
		stopAll()
	}()
	go watchTerminalState(ctx, registry, cfg.GetSensorPollInterval(), stopAll)

	if mtr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pollMetrics(ctx, mtr, registry, cfg.GetSensorPollInterval())
		}()
	}
}

// watchTerminalState polls the state machine's published state and runs
// stopAll once it reaches FailureStopped, cascading shutdown to every
// other worker the way ctx cancellation already does. FailureStopped is
// terminal for both a clean run (RunComplete -> Exiting -> FailureStopped)
// and an aborted one (EmergencyBraking -> FailureStopped); main reads
// CriticalFailure afterward to tell the two apart for its exit code.
func watchTerminalState(ctx context.Context, registry *telemetry.Registry, interval time.Duration, stopAll func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if registry.GetStateMachineData().CurrentState == telemetry.FailureStopped {
				podlog.Infof("main", "state machine reached FailureStopped, stopping workers")
				stopAll()
				return
			}
		}
	}
}

func pollMetrics(ctx context.Context, mtr *metrics.Metrics, registry *telemetry.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mtr.ObserveSensors(registry.GetSensors())
			mtr.ObserveBatteries(registry.GetBatteries())
			mtr.ObserveNavigation(registry.GetNavigation())
			mtr.ObserveMotorData(registry.GetMotorData())
			mtr.ObserveStateMachine(registry.GetStateMachineData())
		}
	}
}

func serveMetrics(addr string, mtr *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mtr.Handler())
	podlog.Infof("main", "serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		podlog.Errorf("main", "metrics server stopped: %v", err)
	}
}

func mockDevices() sensors.Devices {
	devs := sensors.Devices{
		Stripe:       mock.NewStripeCounter(),
		LowPowerBMS:  mock.NewBMS(),
		HighPowerBMS: mock.NewBMS(),
	}
	for i := range devs.IMUs {
		devs.IMUs[i] = mock.NewIMU()
	}
	for i := range devs.ProximityFront {
		devs.ProximityFront[i] = mock.NewProximity()
	}
	for i := range devs.ProximityBack {
		devs.ProximityBack[i] = mock.NewProximity()
	}
	return devs
}
