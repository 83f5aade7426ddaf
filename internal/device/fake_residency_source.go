// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"k8s.io/utils/clock"
)

// NOTE: This fake source is not intended to be used in production and is for testing only

// fakeEntity describes one synthetic power entity and its state space.
// A nil state space models an entity that exposes no residency info.
type fakeEntity struct {
	entity PowerEntity
	states []State
}

func defaultFakeEntities() []fakeEntity {
	active := []State{{ID: 0, Name: "ACTIVE"}, {ID: 1, Name: "IDLE"}, {ID: 2, Name: "SLEEP"}}
	return []fakeEntity{
		{entity: PowerEntity{ID: 0, Name: "Display"}, states: []State{{ID: 0, Name: "On"}, {ID: 1, Name: "Doze"}, {ID: 2, Name: "Off"}}},
		{entity: PowerEntity{ID: 1, Name: "WiFi"}, states: active},
		{entity: PowerEntity{ID: 2, Name: "Modem"}, states: active},
		{entity: PowerEntity{ID: 3, Name: "SoC"}, states: []State{{ID: 0, Name: "S0"}, {ID: 1, Name: "S1"}, {ID: 2, Name: "S3"}}},
		// GPS reports no state space on this fake platform
		{entity: PowerEntity{ID: 4, Name: "GPS"}},
	}
}

// fakeResidencySource implements ResidencySource with synthetic entities
// and a timed generator of random state transitions. It implements
// service.Runner so the generator participates in the process run group.
type fakeResidencySource struct {
	logger   *slog.Logger
	clock    clock.WithTicker
	interval time.Duration
	entities []fakeEntity
	events   chan StateTransition
	current  map[uint32]uint32 // entity id -> last entered state id
}

var _ ResidencySource = (*fakeResidencySource)(nil)

// FakeResidencyOptFn is a functional option for the fake residency source
type FakeResidencyOptFn func(*fakeResidencySource)

// WithFakeResidencyLogger sets the logger for the fake source
func WithFakeResidencyLogger(l *slog.Logger) FakeResidencyOptFn {
	return func(s *fakeResidencySource) {
		s.logger = l.With("source", s.Name())
	}
}

// WithFakeResidencyClock sets the clock used by the transition generator
func WithFakeResidencyClock(c clock.WithTicker) FakeResidencyOptFn {
	return func(s *fakeResidencySource) {
		s.clock = c
	}
}

// WithFakeResidencyInterval sets the cadence of generated transitions
func WithFakeResidencyInterval(d time.Duration) FakeResidencyOptFn {
	return func(s *fakeResidencySource) {
		s.interval = d
	}
}

// NewFakeResidencySource creates a new fake residency source
func NewFakeResidencySource(opts ...FakeResidencyOptFn) ResidencySource {
	src := &fakeResidencySource{
		logger:   slog.Default().With("source", "fake-residency-source"),
		clock:    clock.RealClock{},
		interval: 250 * time.Millisecond,
		entities: defaultFakeEntities(),
		events:   make(chan StateTransition, 64),
		current:  map[uint32]uint32{},
	}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

func (s *fakeResidencySource) Name() string {
	return "fake-residency-source"
}

func (s *fakeResidencySource) Entities() ([]PowerEntity, error) {
	entities := make([]PowerEntity, 0, len(s.entities))
	for _, fe := range s.entities {
		entities = append(entities, fe.entity)
	}
	return entities, nil
}

func (s *fakeResidencySource) States(entityID uint32) ([]State, error) {
	for _, fe := range s.entities {
		if fe.entity.ID == entityID {
			return fe.states, nil
		}
	}
	return nil, nil
}

func (s *fakeResidencySource) Transitions() <-chan StateTransition {
	return s.events
}

// Run generates random transitions until the context is cancelled, then
// closes the event channel.
func (s *fakeResidencySource) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Transition generator terminated")
			return nil
		case <-ticker.C():
			s.emitRandomTransition()
		}
	}
}

func (s *fakeResidencySource) emitRandomTransition() {
	fe := s.entities[rand.Intn(len(s.entities))]
	if len(fe.states) == 0 {
		return
	}

	next := fe.states[rand.Intn(len(fe.states))].ID
	if cur, ok := s.current[fe.entity.ID]; ok && cur == next {
		next = fe.states[(int(next)+1)%len(fe.states)].ID
	}
	s.current[fe.entity.ID] = next

	ev := StateTransition{
		EntityID:    fe.entity.ID,
		StateID:     next,
		TimestampMs: uint64(s.clock.Now().UnixMilli()),
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Debug("Dropping transition, event channel full", "entity", fe.entity.Name)
	}
}
