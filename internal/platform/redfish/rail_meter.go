// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/service"
)

// powerSource is the slice of PowerReader the meter needs, mockable for
// testing
type powerSource interface {
	Init() error
	ReadAll() ([]Reading, error)
	Close()
}

type railKey struct {
	chassisID string
	sourceID  string
}

// RailMeter exposes BMC power supply lines as instrumented rails. Redfish
// reports instantaneous power, not energy, so the meter samples power on a
// fixed cadence and integrates it into per-rail monotonic µWh counters.
// The rail registry is fixed at Init; supply lines appearing later are
// ignored.
type RailMeter struct {
	logger   *slog.Logger
	reader   powerSource
	clock    clock.WithTicker
	interval time.Duration

	rails       []device.Rail
	index       map[railKey]uint32
	initialized bool

	mu         sync.RWMutex
	energy     []Energy  // accumulated µWh per rail
	fraction   []float64 // sub-µWh integration remainder per rail
	lastSample time.Time
}

var (
	_ device.RailPowerMeter = (*RailMeter)(nil)
	_ service.Initializer   = (*RailMeter)(nil)
	_ service.Runner        = (*RailMeter)(nil)
	_ service.Shutdowner    = (*RailMeter)(nil)
)

// OptionFn is a functional option for configuring the RailMeter
type OptionFn func(*RailMeter)

// WithSampleInterval sets the power sampling cadence
func WithSampleInterval(d time.Duration) OptionFn {
	return func(m *RailMeter) {
		m.interval = d
	}
}

// WithClock sets the clock used for sampling and integration
func WithClock(c clock.WithTicker) OptionFn {
	return func(m *RailMeter) {
		m.clock = c
	}
}

// WithPowerSource sets the power source, replacing the BMC reader
func WithPowerSource(src powerSource) OptionFn {
	return func(m *RailMeter) {
		m.reader = src
	}
}

// NewRailMeter creates a rail meter backed by reader
func NewRailMeter(reader *PowerReader, logger *slog.Logger, opts ...OptionFn) *RailMeter {
	if logger == nil {
		logger = slog.Default()
	}

	meter := &RailMeter{
		logger:   logger.With("meter", "redfish-rail-meter"),
		reader:   reader,
		clock:    clock.RealClock{},
		interval: 1 * time.Second,
		index:    map[railKey]uint32{},
	}
	for _, opt := range opts {
		opt(meter)
	}
	return meter
}

func (m *RailMeter) Name() string {
	return "redfish-rail-meter"
}

// Init connects to the BMC and builds the immutable rail registry from
// the first power reading. Init is idempotent; the meter is initialized
// both by the run group and by the accumulator that wraps it.
func (m *RailMeter) Init() error {
	if m.initialized {
		return nil
	}

	if err := m.reader.Init(); err != nil {
		return fmt.Errorf("redfish: %w", err)
	}

	readings, err := m.reader.ReadAll()
	if err != nil {
		return fmt.Errorf("redfish: initial power reading failed: %w", err)
	}

	m.rails = make([]device.Rail, 0, len(readings))
	m.energy = make([]Energy, len(readings))
	m.fraction = make([]float64, len(readings))
	for i, r := range readings {
		name := r.SourceName
		if name == "" {
			name = r.SourceID
		}
		idx := uint32(i)
		m.rails = append(m.rails, device.Rail{
			Index:     idx,
			Name:      name,
			Subsystem: r.ChassisID,
		})
		m.index[railKey{r.ChassisID, r.SourceID}] = idx
	}
	m.lastSample = m.clock.Now()
	m.initialized = true

	m.logger.Info("Discovered BMC power rails", "count", len(m.rails))
	return nil
}

// Run samples power on the configured cadence and integrates it into the
// energy counters until the context is done.
func (m *RailMeter) Run(ctx context.Context) error {
	m.logger.Info("Redfish rail meter is running...")
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Redfish rail meter has terminated.")
			return nil
		case <-ticker.C():
			if err := m.integrate(); err != nil {
				m.logger.Warn("Power sampling failed, keeping previous counters", "error", err)
			}
		}
	}
}

func (m *RailMeter) Shutdown() error {
	m.logger.Info("shutting down redfish rail meter")
	m.reader.Close()
	return nil
}

// integrate advances every rail counter by power · Δt since the previous
// sample. Sources missing from a reading contribute nothing for that
// interval.
func (m *RailMeter) integrate() error {
	readings, err := m.reader.ReadAll()
	if err != nil {
		return err
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	hours := now.Sub(m.lastSample).Hours()
	m.lastSample = now
	if hours <= 0 {
		return nil
	}

	for _, r := range readings {
		idx, ok := m.index[railKey{r.ChassisID, r.SourceID}]
		if !ok {
			continue
		}

		// µW · h = µWh; carry the sub-µWh remainder forward
		uwh := r.Power.MicroWatts()*hours + m.fraction[idx]
		whole := Energy(uwh)
		m.fraction[idx] = uwh - float64(whole)
		m.energy[idx] += whole
	}

	return nil
}

func (m *RailMeter) Rails() ([]device.Rail, error) {
	if len(m.rails) == 0 {
		return nil, fmt.Errorf("redfish: %w", device.ErrNotSupported)
	}
	return m.rails, nil
}

func (m *RailMeter) Energy(railIndex uint32) (Energy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(railIndex) >= len(m.energy) {
		return 0, fmt.Errorf("unknown rail index %d", railIndex)
	}
	return m.energy[railIndex], nil
}

// MaxEnergy returns 0: the integrated counters never wrap.
func (m *RailMeter) MaxEnergy(railIndex uint32) Energy {
	return 0
}
