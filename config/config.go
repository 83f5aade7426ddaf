// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// DefaultPort is the fallback web listen address used when no
// configuration is supplied.
const DefaultPort = ":28282"

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS string `yaml:"sysfs"`
	}

	// Rails configuration
	Rails struct {
		// Include restricts monitoring to the named rails; empty means all
		Include []string `yaml:"include"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeRailMeter struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"fake-rail-meter"`
		FakeResidencySource struct {
			Enabled  *bool         `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"`
		} `yaml:"fake-residency-source"`
	}
	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	Telemetry struct {
		Interval  time.Duration `yaml:"interval"`  // Interval for background energy collection
		Staleness time.Duration `yaml:"staleness"` // Time after which a cached snapshot is considered stale

		// MaxSamplingRate caps the rate of streaming sessions in Hz;
		// requests above it are clamped, not rejected
		MaxSamplingRate uint32 `yaml:"maxSamplingRate"`

		// BufferedRows is the capacity of a streaming session's sample channel
		BufferedRows int `yaml:"bufferedRows"`
	}

	// Redfish platform source; reads BMC power via a separate credentials file
	Redfish struct {
		Enabled        *bool         `yaml:"enabled"`
		ConfigFile     string        `yaml:"configFile"`
		SampleInterval time.Duration `yaml:"sampleInterval"`
		HTTPTimeout    time.Duration `yaml:"httpTimeout"`
	}

	Platform struct {
		Redfish Redfish `yaml:"redfish"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log       Log       `yaml:"log"`
		Host      Host      `yaml:"host"`
		Telemetry Telemetry `yaml:"telemetry"`
		Rails     Rails     `yaml:"rails"`
		Platform  Platform  `yaml:"platform"`
		Exporter  Exporter  `yaml:"exporter"`
		Web       Web       `yaml:"web"`
		Debug     Debug     `yaml:"debug"`
		Dev       Dev       `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag = "host.sysfs"

	TelemetryIntervalFlag = "telemetry.interval"
	TelemetryStaleness    = "telemetry.staleness" // not a flag
	TelemetryMaxRate      = "telemetry.max-sampling-rate"
	TelemetryBufferedRows = "telemetry.buffered-rows" // not a flag

	RailsInclude = "rails.include" // not a flag

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"

	// Redfish platform flags
	RedfishEnabledFlag  = "platform.redfish"
	RedfishConfigFlag   = "platform.redfish.config"
	RedfishIntervalFlag = "platform.redfish.sample-interval"
	RedfishHTTPTimeout  = "platform.redfish.http-timeout" // not a flag

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS: "/sys",
		},
		Rails: Rails{
			Include: []string{},
		},
		Telemetry: Telemetry{
			Interval:        5 * time.Second,
			Staleness:       500 * time.Millisecond,
			MaxSamplingRate: 1000,
			BufferedRows:    8,
		},
		Platform: Platform{
			Redfish: Redfish{
				Enabled:        ptr.To(false),
				SampleInterval: 1 * time.Second,
				HTTPTimeout:    5 * time.Second,
			},
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 2 * time.Second,
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultPort},
		},
	}

	cfg.Dev.FakeRailMeter.Enabled = ptr.To(false)
	cfg.Dev.FakeResidencySource.Enabled = ptr.To(false)
	cfg.Dev.FakeResidencySource.Interval = 250 * time.Millisecond
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var errRet error
	defer func() {
		err = file.Close()
		if err != nil && errRet == nil {
			errRet = err
		}
	}()

	cfg, errRet := Load(file)

	return cfg, errRet
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()

	// telemetry
	telemetryInterval := app.Flag(TelemetryIntervalFlag,
		"Interval for background energy collection; 0 to disable").Default("5s").Duration()
	maxSamplingRate := app.Flag(TelemetryMaxRate,
		"Maximum streaming sampling rate in Hz; higher requests are clamped").Default("1000").Uint32()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultPort).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	// redfish platform
	redfishEnabled := app.Flag(RedfishEnabledFlag, "Read rail power from a Redfish BMC").Default("false").Bool()
	redfishConfig := app.Flag(RedfishConfigFlag, "Path to the Redfish BMC credentials file").Default("").String()
	redfishInterval := app.Flag(RedfishIntervalFlag, "Redfish power sampling interval").Default("1s").Duration()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		// telemetry settings
		if flagsSet[TelemetryIntervalFlag] {
			cfg.Telemetry.Interval = *telemetryInterval
		}
		if flagsSet[TelemetryMaxRate] {
			cfg.Telemetry.MaxSamplingRate = *maxSamplingRate
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		if flagsSet[RedfishEnabledFlag] {
			cfg.Platform.Redfish.Enabled = redfishEnabled
		}

		if flagsSet[RedfishConfigFlag] {
			cfg.Platform.Redfish.ConfigFile = *redfishConfig
		}

		if flagsSet[RedfishIntervalFlag] {
			cfg.Platform.Redfish.SampleInterval = *redfishInterval
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Rails.Include {
		c.Rails.Include[i] = strings.TrimSpace(c.Rails.Include[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
	c.Platform.Redfish.ConfigFile = strings.TrimSpace(c.Platform.Redfish.ConfigFile)
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Telemetry
		if c.Telemetry.Interval < 0 {
			errs = append(errs, fmt.Sprintf("invalid telemetry interval: %s can't be negative", c.Telemetry.Interval))
		}
		if c.Telemetry.Staleness < 0 {
			errs = append(errs, fmt.Sprintf("invalid telemetry staleness: %s can't be negative", c.Telemetry.Staleness))
		}
		if c.Telemetry.MaxSamplingRate == 0 {
			errs = append(errs, "telemetry max sampling rate must be at least 1 Hz")
		}
		if c.Telemetry.BufferedRows < 1 {
			errs = append(errs, fmt.Sprintf("invalid telemetry buffered rows: %d must be at least 1", c.Telemetry.BufferedRows))
		}
	}
	{ // Redfish
		if ptr.Deref(c.Platform.Redfish.Enabled, false) {
			if c.Platform.Redfish.ConfigFile == "" {
				errs = append(errs, fmt.Sprintf("%s not supplied but %s set to true", RedfishConfigFlag, RedfishEnabledFlag))
			} else if err := canReadFile(c.Platform.Redfish.ConfigFile); err != nil {
				errs = append(errs, fmt.Sprintf("unreadable redfish config: %s", c.Platform.Redfish.ConfigFile))
			}
			if c.Platform.Redfish.SampleInterval <= 0 {
				errs = append(errs, fmt.Sprintf("invalid redfish sample interval: %s must be positive", c.Platform.Redfish.SampleInterval))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// Use Go's standard library to parse host:port
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// Validate port (host can be empty for listening on all interfaces)
	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{TelemetryIntervalFlag, c.Telemetry.Interval.String()},
		{TelemetryStaleness, c.Telemetry.Staleness.String()},
		{TelemetryMaxRate, fmt.Sprintf("%d", c.Telemetry.MaxSamplingRate)},
		{RailsInclude, strings.Join(c.Rails.Include, ", ")},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", c.Exporter.Stdout.Enabled)},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", c.Exporter.Prometheus.Enabled)},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{pprofEnabledFlag, fmt.Sprintf("%v", c.Debug.Pprof.Enabled)},
		{RedfishConfigFlag, c.Platform.Redfish.ConfigFile},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
