// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

// NOTE: This fake meter is not intended to be used in production and is for testing only

var defaultFakeRails = []string{"VDD_CPU", "VDD_GPU", "VDD_SOC", "VDD_MEM", "VDD_DISPLAY"}

// fakeRail is one synthetic monotonic rail counter
type fakeRail struct {
	rail      Rail
	energy    Energy
	maxEnergy Energy

	// for generating fake values
	increment    Energy
	randomFactor float64
}

// fakeRailMeter implements the RailPowerMeter interface with synthetic,
// monotonically increasing counters
type fakeRailMeter struct {
	logger *slog.Logger
	mu     sync.Mutex
	rails  []*fakeRail
}

var _ RailPowerMeter = (*fakeRailMeter)(nil)

// FakeOptFn is a functional option for configuring the fake rail meter
type FakeOptFn func(*fakeRailMeter)

// WithFakeMaxEnergy sets the maximum energy value before wrap-around
func WithFakeMaxEnergy(e Energy) FakeOptFn {
	return func(m *fakeRailMeter) {
		for _, r := range m.rails {
			r.maxEnergy = e
		}
	}
}

// WithFakeLogger sets the logger for the fake rail meter
func WithFakeLogger(l *slog.Logger) FakeOptFn {
	return func(m *fakeRailMeter) {
		m.logger = l.With("meter", m.Name())
	}
}

// NewFakeRailMeter creates a new fake rail power meter. Rail indices are
// assigned densely in the order the names are given.
func NewFakeRailMeter(railNames []string, opts ...FakeOptFn) (RailPowerMeter, error) {
	meter := &fakeRailMeter{
		logger: slog.Default().With("meter", "fake-rail-meter"),
	}

	// nil and empty slices are equivalent
	if len(railNames) == 0 {
		railNames = defaultFakeRails
	}

	meter.rails = make([]*fakeRail, 0, len(railNames))
	for i, name := range railNames {
		meter.rails = append(meter.rails, &fakeRail{
			rail: Rail{
				Index:     uint32(i),
				Name:      name,
				Subsystem: "fake",
			},
			maxEnergy:    1_000_000_000 * MicroWattHour,
			increment:    Energy(50 + 13*i),
			randomFactor: 0.5,
		})
	}

	for _, opt := range opts {
		opt(meter)
	}

	return meter, nil
}

func (m *fakeRailMeter) Name() string {
	return "fake-rail-meter"
}

func (m *fakeRailMeter) Rails() ([]Rail, error) {
	rails := make([]Rail, 0, len(m.rails))
	for _, r := range m.rails {
		rails = append(rails, r.rail)
	}
	return rails, nil
}

func (m *fakeRailMeter) Energy(railIndex uint32) (Energy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(railIndex) >= len(m.rails) {
		return 0, fmt.Errorf("unknown rail index %d", railIndex)
	}

	r := m.rails[railIndex]
	randomComponent := Energy(rand.Float64() * float64(r.increment) * r.randomFactor)
	r.energy = (r.energy + r.increment + randomComponent) % r.maxEnergy
	return r.energy, nil
}

func (m *fakeRailMeter) MaxEnergy(railIndex uint32) Energy {
	if int(railIndex) >= len(m.rails) {
		return 0
	}
	return m.rails[railIndex].maxEnergy
}
