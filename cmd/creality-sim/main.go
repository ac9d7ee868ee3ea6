// Package main provides the entry point for the Creality printer simulator.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/buzato/ha-creality-ws/internal/creality"
	"github.com/buzato/ha-creality-ws/internal/logging"
	"github.com/buzato/ha-creality-ws/internal/simulator"
)

// App holds the simulator CLI state.
type App struct {
	host     string
	wsPort   int
	httpPort int

	model           string
	simulatePrint   bool
	printSeconds    int
	layers          int
	objects         int
	selfTestSeconds int

	targetNozzle float64
	targetBed    float64
	targetBox    float64

	maxX, maxY, maxZ float64

	width  int
	height int
	fps    int

	logLevel string

	rootCmd *cobra.Command
}

// NewApp creates the simulator CLI.
func NewApp() *App {
	app := &App{}
	app.rootCmd = app.buildRootCmd()
	app.setupFlags()
	return app
}

func (a *App) buildRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "creality-sim",
		Short: "Creality printer simulator (WS telemetry + camera endpoints)",
		Long: `creality-sim emulates a Creality printer on the local network:
the vendor WebSocket telemetry protocol on one port and the camera HTTP
endpoints (WebRTC signaling or MJPEG, depending on model) on another.

The emulated model determines the capability set and camera mode, so the
bridge can be exercised against any supported variant without hardware.`,
		RunE: a.run,
	}
}

func (a *App) setupFlags() {
	f := a.rootCmd.Flags()
	f.StringVar(&a.host, "host", "0.0.0.0", "listen address")
	f.IntVar(&a.wsPort, "ws-port", 9999, "telemetry WebSocket port")
	f.IntVar(&a.httpPort, "http-port", 8000, "camera HTTP port")

	f.StringVar(&a.model, "model", "k2plus",
		fmt.Sprintf("printer model to emulate (%s)", strings.Join(simulator.ModelKeys(), ", ")))
	f.BoolVar(&a.simulatePrint, "simulate-print", false, "run a simulated print job")
	f.IntVar(&a.printSeconds, "print-seconds", 600, "total simulated print duration in seconds")
	f.IntVar(&a.layers, "layers", 120, "total layers to simulate")
	f.IntVar(&a.objects, "objects", 6, "total object count to simulate")
	f.IntVar(&a.selfTestSeconds, "self-test-seconds", 5, "initial self-test duration")

	f.Float64Var(&a.targetNozzle, "target-nozzle", 250, "initial nozzle target (°C)")
	f.Float64Var(&a.targetBed, "target-bed", 70, "initial bed target (°C)")
	f.Float64Var(&a.targetBox, "target-box", 50, "initial box target (°C, if supported)")

	f.Float64Var(&a.maxX, "max-x", 235, "X movement bound (mm)")
	f.Float64Var(&a.maxY, "max-y", 235, "Y movement bound (mm)")
	f.Float64Var(&a.maxZ, "max-z", 250, "Z movement bound (mm)")

	f.IntVar(&a.width, "width", 1920, "nominal video width")
	f.IntVar(&a.height, "height", 1080, "nominal video height")
	f.IntVar(&a.fps, "fps", 30, "nominal video frame rate")

	f.StringVar(&a.logLevel, "log-level", "INFO", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
}

// Execute runs the CLI.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

func main() {
	app := NewApp()
	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *App) run(_ *cobra.Command, _ []string) error {
	logLevel, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		log.Printf("Warning: invalid log level %q, using INFO", a.logLevel)
		logLevel = logging.LevelInfo
	}
	logger := logging.New(logLevel)
	logging.SetDefault(logger)

	if _, ok := simulator.VariantForKey(a.model); !ok {
		return fmt.Errorf("unknown model %q (choose from: %s)", a.model, strings.Join(simulator.ModelKeys(), ", "))
	}

	state := simulator.NewState(simulator.Options{
		ModelKey:       a.model,
		SimulatePrint:  a.simulatePrint,
		PrintDuration:  time.Duration(a.printSeconds) * time.Second,
		TotalLayers:    a.layers,
		TotalObjects:   a.objects,
		SelfTestPeriod: time.Duration(a.selfTestSeconds) * time.Second,
		TargetNozzle:   a.targetNozzle,
		TargetBed:      a.targetBed,
		TargetBox:      a.targetBox,
		MaxX:           a.maxX,
		MaxY:           a.maxY,
		MaxZ:           a.maxZ,
	})

	metrics := simulator.NewMetrics()
	telemetry := simulator.NewTelemetryServer(state, logger, metrics)
	httpServer, err := simulator.NewHTTPServer(state, logger, metrics, simulator.VideoOptions{
		Width:  a.width,
		Height: a.height,
		FPS:    a.fps,
	})
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	caps := creality.CapabilitiesFor(state.Variant())
	logger.Info("Simulator ready",
		"model", creality.DisplayName(state.Variant()),
		"camera", string(state.CameraMode()),
		"box_control", caps.BoxControl,
		"light", caps.Light)

	errChan := make(chan error, 2)
	go func() {
		errChan <- telemetry.ListenAndServe(ctx, fmt.Sprintf("%s:%d", a.host, a.wsPort))
	}()
	go func() {
		errChan <- httpServer.ListenAndServe(ctx, fmt.Sprintf("%s:%d", a.host, a.httpPort))
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutdown complete")

	return nil
}
