// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/service"
)

// ResidencyTracker consumes raw state-transition events and maintains
// accumulated time, entry count and last-entry timestamp per (entity,
// state) pair. Writers hold the lock only for a single record update;
// readers take a consistent copy per query.
type ResidencyTracker struct {
	logger *slog.Logger
	source device.ResidencySource
	opts   Opts

	// immutable after Init
	entities   []PowerEntity
	stateSpace map[uint32][]State // declared states per entity, state id order
	statePos   map[uint32]map[uint32]int
	supported  bool

	mu               sync.RWMutex
	residency        map[uint32][]StateResidency // parallel to stateSpace order
	currentState     map[uint32]int              // entity -> position of current state, -1 if unknown
	lastTransitionMs map[uint32]uint64
	trackedSince     time.Time
}

var (
	_ service.Initializer = (*ResidencyTracker)(nil)
	_ service.Runner      = (*ResidencyTracker)(nil)
)

// NewResidencyTracker creates a new ResidencyTracker fed by source
func NewResidencyTracker(source device.ResidencySource, applyOpts ...OptionFn) *ResidencyTracker {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &ResidencyTracker{
		logger:           opts.logger.With("service", "residency-tracker"),
		source:           source,
		opts:             opts,
		stateSpace:       map[uint32][]State{},
		statePos:         map[uint32]map[uint32]int{},
		residency:        map[uint32][]StateResidency{},
		currentState:     map[uint32]int{},
		lastTransitionMs: map[uint32]uint64{},
	}
}

func (t *ResidencyTracker) Name() string {
	return "residency-tracker"
}

// Init builds the immutable entity and state-space registries from the
// capability probe. A failing probe leaves the registries empty; dependent
// queries then report the unsupported-feature condition.
func (t *ResidencyTracker) Init() error {
	entities, err := t.source.Entities()
	if err != nil {
		t.logger.Warn("Entity discovery failed, residency queries disabled",
			"source", t.source.Name(), "reason", err)
		return nil
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	t.entities = entities

	for _, e := range entities {
		states, err := t.source.States(e.ID)
		if err != nil {
			t.logger.Warn("State-space probe failed for entity",
				"entity", e.Name, "reason", err)
			continue
		}
		if len(states) == 0 {
			// valid: entity provides no residency info
			continue
		}

		sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
		t.stateSpace[e.ID] = states

		pos := make(map[uint32]int, len(states))
		records := make([]StateResidency, len(states))
		for i, s := range states {
			pos[s.ID] = i
			records[i] = StateResidency{StateID: s.ID}
		}
		t.statePos[e.ID] = pos
		t.residency[e.ID] = records
		t.currentState[e.ID] = -1
	}

	t.supported = len(entities) > 0
	t.trackedSince = t.opts.clock.Now()

	return nil
}

// Run ingests transitions until the source closes its channel or the
// context is cancelled.
func (t *ResidencyTracker) Run(ctx context.Context) error {
	t.logger.Info("Residency tracker is running...")
	events := t.source.Transitions()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Residency tracker has terminated.")
			return nil
		case ev, ok := <-events:
			if !ok {
				t.logger.Info("Transition source closed")
				return nil
			}
			t.apply(ev)
		}
	}
}

// apply updates exactly one (entity, state) record from a transition
// event. Events whose timestamp is not greater than the entity's last
// applied transition are dropped to preserve monotonicity, which also
// gives at-least-once delivery tolerance.
func (t *ResidencyTracker) apply(ev device.StateTransition) {
	positions, ok := t.statePos[ev.EntityID]
	if !ok {
		t.logger.Debug("Dropping transition for unknown entity", "entity", ev.EntityID)
		return
	}
	newPos, ok := positions[ev.StateID]
	if !ok {
		t.logger.Debug("Dropping transition to undeclared state",
			"entity", ev.EntityID, "state", ev.StateID)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Driver clocks can step ahead of the host. A transition stamped in
	// the future is applied as of now, keeping accumulated time within
	// wall-clock time since the last reset.
	if nowMs := uint64(t.opts.clock.Now().UnixMilli()); ev.TimestampMs > nowMs {
		t.logger.Debug("Clamping future-stamped transition",
			"entity", ev.EntityID, "timestampMs", ev.TimestampMs, "nowMs", nowMs)
		ev.TimestampMs = nowMs
	}

	if last, seen := t.lastTransitionMs[ev.EntityID]; seen && ev.TimestampMs <= last {
		t.logger.Debug("Dropping out-of-order transition",
			"entity", ev.EntityID, "timestampMs", ev.TimestampMs, "lastMs", last)
		return
	}

	records := t.residency[ev.EntityID]

	// close out the state being exited
	if cur := t.currentState[ev.EntityID]; cur >= 0 {
		records[cur].TotalTimeInStateMs += ev.TimestampMs - records[cur].LastEntryTimestampMs
	}

	records[newPos].TotalStateEntryCount++
	records[newPos].LastEntryTimestampMs = ev.TimestampMs
	t.currentState[ev.EntityID] = newPos
	t.lastTransitionMs[ev.EntityID] = ev.TimestampMs
}

// Entities returns the immutable entity registry; empty when unsupported.
func (t *ResidencyTracker) Entities() []PowerEntity {
	return t.entities
}

// StateSpaces returns the declared state spaces of the requested entities.
// An empty entityIDs means all entities; unknown ids are silently
// excluded. Entities without state-space information are reported with an
// empty state list.
func (t *ResidencyTracker) StateSpaces(entityIDs []uint32) ([]StateSpace, error) {
	if !t.supported {
		return nil, fmt.Errorf("state residency: %w", ErrNotSupported)
	}

	spaces := make([]StateSpace, 0, len(t.entities))
	for _, e := range t.selectEntities(entityIDs) {
		spaces = append(spaces, StateSpace{
			EntityID: e.ID,
			States:   t.stateSpace[e.ID],
		})
	}
	return spaces, nil
}

// Residency returns the residency statistics of the requested entities,
// one result per entity with one record per declared state in state id
// order. The same empty-set and unknown-id rules as StateSpaces apply.
// The records of all requested entities come from a single consistent
// view.
func (t *ResidencyTracker) Residency(entityIDs []uint32) ([]StateResidencyResult, error) {
	if !t.supported {
		return nil, fmt.Errorf("state residency: %w", ErrNotSupported)
	}

	selected := t.selectEntities(entityIDs)

	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]StateResidencyResult, 0, len(selected))
	for _, e := range selected {
		records := t.residency[e.ID]
		out := make([]StateResidency, len(records))
		copy(out, records)
		results = append(results, StateResidencyResult{
			EntityID: e.ID,
			States:   out,
		})
	}
	return results, nil
}

// Reset clears all residency statistics. It models the external reset
// event (e.g. a device reboot); queries never reset.
func (t *ResidencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, records := range t.residency {
		for i := range records {
			records[i] = StateResidency{StateID: records[i].StateID}
		}
		t.currentState[id] = -1
		delete(t.lastTransitionMs, id)
	}
	t.trackedSince = t.opts.clock.Now()
}

// TrackedSince returns the time of the last reset (or Init). The sum of
// TotalTimeInStateMs across an entity's states never exceeds the elapsed
// time since this instant, within one update granularity.
func (t *ResidencyTracker) TrackedSince() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trackedSince
}

func (t *ResidencyTracker) selectEntities(entityIDs []uint32) []PowerEntity {
	if len(entityIDs) == 0 {
		return t.entities
	}

	requested := make(map[uint32]bool, len(entityIDs))
	for _, id := range entityIDs {
		requested[id] = true
	}

	selected := make([]PowerEntity, 0, len(entityIDs))
	for _, e := range t.entities {
		if requested[e.ID] {
			selected = append(selected, e)
		}
	}
	return selected
}
