// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/LiquidRemix/android-hardware-interfaces/config"
	redfishcfg "github.com/LiquidRemix/android-hardware-interfaces/config/redfish"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/exporter/prometheus"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/exporter/stdout"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/logger"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/platform/redfish"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/powerstats"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/server"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/service"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/version"
)

func main() {
	// parse args and config and exit with error if there is an error
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}
	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	services, err := createServices(logger, cfg)
	if err != nil {
		logger.Error("Failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting PowerStats")
	ctx := context.Background()
	if err := service.Run(ctx, logger, services); err != nil {
		logger.Error("PowerStats terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("PowerStats version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "powerstats"
	app := kingpin.New(appName, "Platform power telemetry service.")

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		logger.Info("Loading configuration file", "path", *configFile)
		loadedCfg, err := config.FromFile(*configFile)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		// Replace default config with loaded config
		cfg = loadedCfg
		logger.Info("Completed loading of configuration file", "path", *configFile)
	}

	// Apply command line flags (these override config file settings)
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

// createRailMeter selects the rail power meter per the configuration:
// the fake meter in dev mode, the Redfish BMC meter when a platform BMC
// is configured, and the sysfs powercap meter otherwise.
func createRailMeter(logger *slog.Logger, cfg *config.Config) (device.RailPowerMeter, error) {
	if ptr.Deref(cfg.Dev.FakeRailMeter.Enabled, false) {
		logger.Warn("Using fake rail meter")
		return device.NewFakeRailMeter(nil, device.WithFakeLogger(logger))
	}

	if ptr.Deref(cfg.Platform.Redfish.Enabled, false) {
		bmc, err := redfishcfg.Load(cfg.Platform.Redfish.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("redfish config: %w", err)
		}
		reader := redfish.NewPowerReader(bmc, cfg.Platform.Redfish.HTTPTimeout, logger)
		return redfish.NewRailMeter(reader, logger,
			redfish.WithSampleInterval(cfg.Platform.Redfish.SampleInterval),
		), nil
	}

	return device.NewSysfsRailMeter(cfg.Host.SysFS,
		device.WithSysfsLogger(logger),
		device.WithRailFilter(cfg.Rails.Include),
	)
}

func createServices(logger *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	logger.Debug("Creating all services")

	meter, err := createRailMeter(logger, cfg)
	if err != nil {
		return nil, err
	}

	var residencySource device.ResidencySource
	if ptr.Deref(cfg.Dev.FakeResidencySource.Enabled, false) {
		logger.Warn("Using fake residency source")
		residencySource = device.NewFakeResidencySource(
			device.WithFakeResidencyLogger(logger),
			device.WithFakeResidencyInterval(cfg.Dev.FakeResidencySource.Interval),
		)
	} else {
		residencySource = device.NewUnsupportedResidencySource()
	}

	accumulator := powerstats.NewEnergyAccumulator(meter,
		powerstats.WithLogger(logger),
		powerstats.WithInterval(cfg.Telemetry.Interval),
		powerstats.WithMaxStaleness(cfg.Telemetry.Staleness),
	)
	tracker := powerstats.NewResidencyTracker(residencySource,
		powerstats.WithLogger(logger),
	)
	sampler := powerstats.NewStreamSampler(accumulator,
		powerstats.WithLogger(logger),
		powerstats.WithMaxSamplingRate(cfg.Telemetry.MaxSamplingRate),
		powerstats.WithBufferedRows(cfg.Telemetry.BufferedRows),
	)
	provider := powerstats.NewPowerStats(accumulator, tracker, sampler, logger)

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	services := []service.Service{
		apiServer,
		accumulator,
		tracker,
	}

	// meters and sources that sample in the background join the run group
	if runner, ok := meter.(service.Runner); ok {
		services = append(services, runner)
	}
	if runner, ok := residencySource.(service.Runner); ok {
		services = append(services, runner)
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		promExporter := prometheus.NewExporter(apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(prometheus.CreateCollectors(provider, logger)),
		)
		services = append(services, promExporter)
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		stdoutExporter := stdout.NewExporter(provider,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		)
		services = append(services, stdoutExporter)
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	services = append(services, service.NewSignalHandler(os.Interrupt, syscall.SIGTERM))

	return services, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}
