// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

// makeSysfs returns a readable non-empty directory for host validation
func makeSysfs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "class"), []byte("x"), 0o644))
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/sys", cfg.Host.SysFS)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Telemetry.Staleness)
	assert.Equal(t, uint32(1000), cfg.Telemetry.MaxSamplingRate)
	assert.Equal(t, 8, cfg.Telemetry.BufferedRows)
	assert.Equal(t, []string{DefaultPort}, cfg.Web.ListenAddresses)

	assert.False(t, *cfg.Exporter.Stdout.Enabled)
	assert.True(t, *cfg.Exporter.Prometheus.Enabled)
	assert.False(t, *cfg.Debug.Pprof.Enabled)
	assert.False(t, *cfg.Dev.FakeRailMeter.Enabled)
	assert.False(t, *cfg.Platform.Redfish.Enabled)
}

func TestLoad(t *testing.T) {
	sysfs := makeSysfs(t)

	t.Run("overrides defaults", func(t *testing.T) {
		yaml := `
log:
  level: debug
  format: json
host:
  sysfs: ` + sysfs + `
telemetry:
  interval: 10s
  maxSamplingRate: 200
rails:
  include: [package-0, dram]
exporter:
  stdout:
    enabled: true
`
		cfg, err := Load(strings.NewReader(yaml))
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, 10*time.Second, cfg.Telemetry.Interval)
		assert.Equal(t, uint32(200), cfg.Telemetry.MaxSamplingRate)
		assert.Equal(t, []string{"package-0", "dram"}, cfg.Rails.Include)
		assert.True(t, *cfg.Exporter.Stdout.Enabled)

		// untouched settings keep defaults
		assert.Equal(t, 500*time.Millisecond, cfg.Telemetry.Staleness)
		assert.True(t, *cfg.Exporter.Prometheus.Enabled)
	})

	t.Run("whitespace is trimmed", func(t *testing.T) {
		yaml := `
log:
  level: "  info  "
host:
  sysfs: "` + sysfs + `"
rails:
  include: ["  package-0 "]
`
		cfg, err := Load(strings.NewReader(yaml))
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, []string{"package-0"}, cfg.Rails.Include)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(strings.NewReader("log: ["))
		assert.Error(t, err)
	})

	t.Run("invalid settings", func(t *testing.T) {
		yaml := `
log:
  level: loud
host:
  sysfs: ` + sysfs + `
`
		_, err := Load(strings.NewReader(yaml))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestFromFile(t *testing.T) {
	sysfs := makeSysfs(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
host:
  sysfs: `+sysfs+`
`), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Host.SysFS = makeSysfs(t)
		return cfg
	}

	t.Run("default config with readable sysfs", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("skip host validation", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Host.SysFS = "/nonexistent"
		assert.Error(t, cfg.Validate())
		assert.NoError(t, cfg.Validate(SkipHostValidation))
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{{
		name:    "bad log level",
		mutate:  func(c *Config) { c.Log.Level = "loud" },
		wantErr: "invalid log level",
	}, {
		name:    "bad log format",
		mutate:  func(c *Config) { c.Log.Format = "xml" },
		wantErr: "invalid log format",
	}, {
		name:    "no listen addresses",
		mutate:  func(c *Config) { c.Web.ListenAddresses = nil },
		wantErr: "listen address",
	}, {
		name:    "bad listen address",
		mutate:  func(c *Config) { c.Web.ListenAddresses = []string{"localhost"} },
		wantErr: "invalid web listen address",
	}, {
		name:    "bad listen port",
		mutate:  func(c *Config) { c.Web.ListenAddresses = []string{":99999"} },
		wantErr: "port must be between",
	}, {
		name:    "negative interval",
		mutate:  func(c *Config) { c.Telemetry.Interval = -time.Second },
		wantErr: "invalid telemetry interval",
	}, {
		name:    "negative staleness",
		mutate:  func(c *Config) { c.Telemetry.Staleness = -time.Second },
		wantErr: "invalid telemetry staleness",
	}, {
		name:    "zero sampling rate",
		mutate:  func(c *Config) { c.Telemetry.MaxSamplingRate = 0 },
		wantErr: "sampling rate",
	}, {
		name:    "zero buffered rows",
		mutate:  func(c *Config) { c.Telemetry.BufferedRows = 0 },
		wantErr: "buffered rows",
	}, {
		name:    "redfish enabled without config file",
		mutate:  func(c *Config) { c.Platform.Redfish.Enabled = ptr.To(true) },
		wantErr: "platform.redfish.config",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	assert.Contains(t, s, "log:")
	assert.Contains(t, s, "telemetry:")
	assert.Contains(t, s, "level: info")
}

func TestBuilder(t *testing.T) {
	t.Run("merges yaml fragments in order", func(t *testing.T) {
		cfg, err := (&Builder{}).Merge(`
log:
  level: debug
`, `
log:
  level: error
telemetry:
  interval: 2s
`).Build()
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level, "later fragments win")
		assert.Equal(t, 2*time.Second, cfg.Telemetry.Interval)
		assert.Equal(t, "text", cfg.Log.Format, "unset fields keep defaults")
	})

	t.Run("bool pointers merge explicitly", func(t *testing.T) {
		cfg, err := (&Builder{}).Merge(`
exporter:
  prometheus:
    enabled: false
`).Build()
		require.NoError(t, err)
		assert.False(t, *cfg.Exporter.Prometheus.Enabled, "explicit false overrides default true")
		assert.False(t, *cfg.Exporter.Stdout.Enabled, "absent pointer keeps default")
	})

	t.Run("invalid fragment", func(t *testing.T) {
		_, err := (&Builder{}).Merge("log: [").Build()
		assert.Error(t, err)
	})
}
