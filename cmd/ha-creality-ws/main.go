// Package main provides the entry point for the ha-creality-ws bridge.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/buzato/ha-creality-ws/configs"
	"github.com/buzato/ha-creality-ws/internal/bridge"
	"github.com/buzato/ha-creality-ws/internal/config"
	"github.com/buzato/ha-creality-ws/internal/coordinator"
	"github.com/buzato/ha-creality-ws/internal/creality"
	"github.com/buzato/ha-creality-ws/internal/logging"
	"github.com/buzato/ha-creality-ws/internal/mqtt"
)

// App holds the CLI application state and dependencies.
type App struct {
	cfgFile     string
	printerHost string
	printerPort int
	brokerURL   string
	rootCmd     *cobra.Command
}

// NewApp creates a new CLI application instance with all dependencies.
func NewApp() *App {
	app := &App{}
	app.rootCmd = app.buildRootCmd()
	app.setupFlags()
	app.addCommands()
	return app
}

// buildRootCmd creates the root cobra command.
func (a *App) buildRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ha-creality-ws",
		Short: "Home Assistant bridge for Creality printers",
		Long: `ha-creality-ws connects to a Creality printer's local WebSocket
telemetry port and publishes it into Home Assistant over MQTT discovery.

The printer model is detected from its telemetry, and only entities
for capabilities the hardware actually has are announced.`,
		RunE: a.run,
	}
}

// setupFlags configures CLI flags and binds them to viper.
func (a *App) setupFlags() {
	a.rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml)")
	a.rootCmd.PersistentFlags().StringVar(&a.printerHost, "printer-host", "", "printer IP or hostname")
	a.rootCmd.PersistentFlags().IntVar(&a.printerPort, "printer-port", 0, "printer telemetry port (default 9999)")
	a.rootCmd.PersistentFlags().StringVar(&a.brokerURL, "mqtt-broker", "", "MQTT broker URL")

	bindPFlag("printer.host", a.rootCmd.PersistentFlags().Lookup("printer-host"))
	bindPFlag("printer.port", a.rootCmd.PersistentFlags().Lookup("printer-port"))
	bindPFlag("mqtt.broker_url", a.rootCmd.PersistentFlags().Lookup("mqtt-broker"))
}

// addCommands adds subcommands to the root command.
func (a *App) addCommands() {
	a.rootCmd.AddCommand(a.buildConfigCmd())
	a.rootCmd.AddCommand(a.buildInitCmd())
}

// buildConfigCmd creates the config subcommand that displays the effective configuration.
func (a *App) buildConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration with sensitive data masked.

This command shows the configuration that would be used if the bridge were
started, including values from the config file, environment variables, and
CLI flags. The MQTT password is masked.`,
		RunE: a.runConfig,
	}
}

// buildInitCmd creates the init subcommand that creates configuration files.
func (a *App) buildInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration files",
		Long: `Create configuration files in the current directory.

This command creates:
  - config.yaml: YAML configuration file
  - .env: Environment variables file

Existing files are never overwritten.`,
		RunE: a.runInit,
	}
}

// runInit creates configuration files from embedded templates.
func (a *App) runInit(_ *cobra.Command, _ []string) error {
	created := 0

	wasCreated, err := a.writeConfigFile("config.yaml", configs.ConfigYAML)
	if err != nil {
		return err
	}
	if wasCreated {
		created++
	}

	wasCreated, err = a.writeConfigFile(".env", configs.EnvExample)
	if err != nil {
		return err
	}
	if wasCreated {
		created++
	}

	if created == 0 {
		fmt.Println("All configuration files already exist. Nothing to do.")
		return nil
	}

	fmt.Printf("Created %d configuration file(s) in current directory.\n", created)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit config.yaml or .env with your printer and broker settings")
	fmt.Println("  2. Run 'ha-creality-ws config' to verify your configuration")
	fmt.Println("  3. Run 'ha-creality-ws' to start the bridge")

	return nil
}

// writeConfigFile writes content to a file if it doesn't already exist.
// Returns true if the file was created, false if it was skipped.
func (a *App) writeConfigFile(filename string, content []byte) (bool, error) {
	if _, err := os.Stat(filename); err == nil {
		fmt.Printf("Skipping %s (already exists)\n", filename)
		return false, nil
	}

	if err := os.WriteFile(filename, content, 0600); err != nil {
		return false, fmt.Errorf("writing %s: %w", filename, err)
	}

	fmt.Printf("Created %s\n", filename)
	return true, nil
}

// runConfig loads and displays the effective configuration with masked sensitive data.
func (a *App) runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadForDisplay(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	masked := cfg.MaskedConfig()

	fmt.Println("Effective Configuration")
	fmt.Println("=======================")
	fmt.Println()
	fmt.Println("Printer:")
	fmt.Printf("  Host: %s\n", masked.Printer.Host)
	fmt.Printf("  Port: %d\n", masked.Printer.Port)
	fmt.Println()
	fmt.Println("MQTT:")
	fmt.Printf("  Broker:           %s\n", masked.MQTT.BrokerURL)
	fmt.Printf("  Client ID:        %s\n", masked.MQTT.ClientID)
	fmt.Printf("  Username:         %s\n", masked.MQTT.Username)
	fmt.Printf("  Password:         %s\n", masked.MQTT.Password)
	fmt.Printf("  Discovery prefix: %s\n", masked.MQTT.DiscoveryPrefix)
	fmt.Printf("  Device ID:        %s\n", masked.MQTT.DeviceID)
	fmt.Println()
	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", masked.Logging.Level)

	return nil
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// bindPFlag binds a flag to viper and logs an error if binding fails.
func bindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		log.Printf("warning: failed to bind flag %s: %v", key, err)
	}
}

func main() {
	app := NewApp()
	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the main bridge logic.
func (a *App) run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Printf("Warning: invalid log level %q, using INFO", cfg.Logging.Level)
		logLevel = logging.LevelInfo
	}
	logger := logging.New(logLevel)
	logging.SetDefault(logger)

	logger.Info("Starting ha-creality-ws", "printer", cfg.Printer.Host, "port", cfg.Printer.Port)
	logger.Info("MQTT broker", "url", cfg.MQTT.BrokerURL)
	logger.Info("Log level", "level", logging.LevelString(logLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	// Printer client and coordinator. The client feeds every pushed snapshot
	// into the coordinator, which keeps the merged state and detection.
	var coord *coordinator.Coordinator
	client := creality.NewClient(cfg.Printer.Host, cfg.Printer.Port, func(snap creality.TelemetrySnapshot) {
		coord.OnSnapshot(snap)
	})
	coord = coordinator.New(client, logger, coordinator.DefaultConfig())

	// MQTT connection with an availability will, so Home Assistant marks the
	// printer unavailable when this process dies.
	broker, err := mqtt.NewClient(mqtt.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		WillTopic:   bridge.AvailabilityTopicFor(cfg.MQTT.DeviceID),
		WillPayload: []byte(bridge.PayloadOffline),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT client: %w", err)
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer disconnectCancel()
		broker.Disconnect(disconnectCtx)
	}()

	logger.Info("Waiting for MQTT connection...")
	awaitCtx, awaitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer awaitCancel()
	if err := broker.AwaitConnection(awaitCtx); err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	logger.Info("MQTT connected")

	haBridge := bridge.New(coord, client, broker, logger, bridge.Config{
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		DeviceID:        cfg.MQTT.DeviceID,
	})
	if err := haBridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer stopCancel()
		haBridge.Stop(stopCtx)
	}()

	coord.AddListener(func() {
		haBridge.Refresh(ctx)
	})

	logger.Info("Connecting to printer...")
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to printer: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Error("Error closing printer connection", "error", closeErr)
		}
	}()

	if client.WaitFirstConnect(ctx) {
		logger.Info("Printer connected")
	}

	go coord.Run(ctx)

	<-ctx.Done()
	logger.Info("Shutdown complete")

	return nil
}
