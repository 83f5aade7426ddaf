// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"fmt"
	"sync"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
)

// mockMeter implements device.RailPowerMeter with scripted counters
type mockMeter struct {
	mu        sync.Mutex
	rails     []Rail
	energy    map[uint32]Energy
	maxEnergy map[uint32]Energy

	railsErr  error
	energyErr map[uint32]error
	reads     int
}

var _ device.RailPowerMeter = (*mockMeter)(nil)

func newMockMeter(railNames ...string) *mockMeter {
	m := &mockMeter{
		energy:    map[uint32]Energy{},
		maxEnergy: map[uint32]Energy{},
		energyErr: map[uint32]error{},
	}
	for i, name := range railNames {
		m.rails = append(m.rails, Rail{Index: uint32(i), Name: name, Subsystem: "mock"})
	}
	return m
}

func (m *mockMeter) Name() string { return "mock-meter" }

func (m *mockMeter) Rails() ([]Rail, error) {
	if m.railsErr != nil {
		return nil, m.railsErr
	}
	return m.rails, nil
}

func (m *mockMeter) Energy(railIndex uint32) (Energy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.energyErr[railIndex]; err != nil {
		return 0, err
	}
	e, ok := m.energy[railIndex]
	if !ok {
		return 0, fmt.Errorf("unknown rail index %d", railIndex)
	}
	return e, nil
}

func (m *mockMeter) MaxEnergy(railIndex uint32) Energy {
	return m.maxEnergy[railIndex]
}

func (m *mockMeter) setEnergy(railIndex uint32, e Energy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.energy[railIndex] = e
}

func (m *mockMeter) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// mockResidencySource implements device.ResidencySource with a scripted
// registry and a caller-fed event channel
type mockResidencySource struct {
	entities    []PowerEntity
	states      map[uint32][]State
	entitiesErr error
	events      chan device.StateTransition
}

var _ device.ResidencySource = (*mockResidencySource)(nil)

func newMockResidencySource() *mockResidencySource {
	return &mockResidencySource{
		entities: []PowerEntity{
			{ID: 0, Name: "Display"},
			{ID: 1, Name: "WiFi"},
			{ID: 2, Name: "GPS"}, // no state space
		},
		states: map[uint32][]State{
			0: {{ID: 0, Name: "On"}, {ID: 1, Name: "Off"}},
			1: {{ID: 0, Name: "Active"}, {ID: 1, Name: "Idle"}, {ID: 2, Name: "Sleep"}},
		},
		events: make(chan device.StateTransition, 16),
	}
}

func (s *mockResidencySource) Name() string { return "mock-residency-source" }

func (s *mockResidencySource) Entities() ([]PowerEntity, error) {
	if s.entitiesErr != nil {
		return nil, s.entitiesErr
	}
	return s.entities, nil
}

func (s *mockResidencySource) States(entityID uint32) ([]State, error) {
	return s.states[entityID], nil
}

func (s *mockResidencySource) Transitions() <-chan device.StateTransition {
	return s.events
}
