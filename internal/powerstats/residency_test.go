// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
)

func newTestTracker(t *testing.T, src device.ResidencySource) *ResidencyTracker {
	t.Helper()
	tracker := NewResidencyTracker(src)
	require.NoError(t, tracker.Init())
	return tracker
}

func TestTrackerInit(t *testing.T) {
	t.Run("builds entity registry", func(t *testing.T) {
		tracker := newTestTracker(t, newMockResidencySource())

		entities := tracker.Entities()
		require.Len(t, entities, 3)
		assert.Equal(t, "Display", entities[0].Name)
		assert.Equal(t, "WiFi", entities[1].Name)
		assert.Equal(t, "GPS", entities[2].Name)
	})

	t.Run("probe failure leaves registry empty", func(t *testing.T) {
		src := newMockResidencySource()
		src.entitiesErr = errors.New("probe failed")
		tracker := NewResidencyTracker(src)

		require.NoError(t, tracker.Init(), "a failing probe must not fail startup")
		assert.Empty(t, tracker.Entities())

		_, err := tracker.StateSpaces(nil)
		assert.ErrorIs(t, err, ErrNotSupported)
		_, err = tracker.Residency(nil)
		assert.ErrorIs(t, err, ErrNotSupported)
	})
}

func TestTrackerStateSpaces(t *testing.T) {
	tracker := newTestTracker(t, newMockResidencySource())

	t.Run("empty request selects all entities", func(t *testing.T) {
		spaces, err := tracker.StateSpaces(nil)
		require.NoError(t, err)
		require.Len(t, spaces, 3)

		assert.Equal(t, uint32(0), spaces[0].EntityID)
		assert.Len(t, spaces[0].States, 2)
		assert.Len(t, spaces[1].States, 3)
		assert.Empty(t, spaces[2].States, "entity without state-space info")
	})

	t.Run("unknown ids are silently excluded", func(t *testing.T) {
		spaces, err := tracker.StateSpaces([]uint32{1, 42})
		require.NoError(t, err)
		require.Len(t, spaces, 1)
		assert.Equal(t, uint32(1), spaces[0].EntityID)
	})

	t.Run("all unknown ids yield no spaces", func(t *testing.T) {
		spaces, err := tracker.StateSpaces([]uint32{41, 42})
		require.NoError(t, err)
		assert.Empty(t, spaces)
	})
}

// run starts the tracker, feeds it evs in order and waits until they have
// been applied.
func run(t *testing.T, tracker *ResidencyTracker, src *mockResidencySource, evs ...device.StateTransition) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	for _, ev := range evs {
		src.events <- ev
	}
	close(src.events)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tracker did not drain the transition channel")
	}
	cancel()
}

func TestTrackerResidency(t *testing.T) {
	src := newMockResidencySource()
	tracker := newTestTracker(t, src)

	// Display: On at 1000ms, Off at 4000ms, On again at 4500ms
	run(t, tracker, src,
		device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 1000},
		device.StateTransition{EntityID: 0, StateID: 1, TimestampMs: 4000},
		device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 4500},
	)

	results, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].States, 2)

	on := results[0].States[0]
	assert.Equal(t, uint32(0), on.StateID)
	assert.Equal(t, uint64(3000), on.TotalTimeInStateMs, "On from 1000 to 4000")
	assert.Equal(t, uint64(2), on.TotalStateEntryCount)
	assert.Equal(t, uint64(4500), on.LastEntryTimestampMs)

	off := results[0].States[1]
	assert.Equal(t, uint32(1), off.StateID)
	assert.Equal(t, uint64(500), off.TotalTimeInStateMs, "Off from 4000 to 4500")
	assert.Equal(t, uint64(1), off.TotalStateEntryCount)
	assert.Equal(t, uint64(4000), off.LastEntryTimestampMs)
}

func TestTrackerDropsBadTransitions(t *testing.T) {
	src := newMockResidencySource()
	tracker := newTestTracker(t, src)

	run(t, tracker, src,
		device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 1000},
		// out of order: not newer than the last applied transition
		device.StateTransition{EntityID: 0, StateID: 1, TimestampMs: 1000},
		device.StateTransition{EntityID: 0, StateID: 1, TimestampMs: 500},
		// unknown entity
		device.StateTransition{EntityID: 42, StateID: 0, TimestampMs: 2000},
		// undeclared state
		device.StateTransition{EntityID: 0, StateID: 9, TimestampMs: 2000},
		// entity without a state space
		device.StateTransition{EntityID: 2, StateID: 0, TimestampMs: 2000},
	)

	results, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)
	require.Len(t, results, 1)

	on := results[0].States[0]
	assert.Equal(t, uint64(1), on.TotalStateEntryCount, "only the first transition applied")
	assert.Equal(t, uint64(1000), on.LastEntryTimestampMs)

	off := results[0].States[1]
	assert.Zero(t, off.TotalStateEntryCount)
	assert.Zero(t, off.TotalTimeInStateMs)
}

func TestTrackerClampsFutureTransitions(t *testing.T) {
	base := time.UnixMilli(1_000_000)
	fakeClock := testingclock.NewFakeClock(base)
	src := newMockResidencySource()
	tracker := NewResidencyTracker(src, WithClock(fakeClock))
	require.NoError(t, tracker.Init())

	fakeClock.SetTime(base.Add(100 * time.Millisecond))
	tracker.apply(device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 1_000_050})
	// stamped far ahead by a stepped driver clock
	tracker.apply(device.StateTransition{EntityID: 0, StateID: 1, TimestampMs: 9_000_000_000})

	results, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)
	require.Len(t, results, 1)

	elapsed := uint64(fakeClock.Now().Sub(tracker.TrackedSince()).Milliseconds())
	var sum uint64
	for _, sr := range results[0].States {
		sum += sr.TotalTimeInStateMs
	}
	assert.LessOrEqual(t, sum, elapsed,
		"residency must not outrun wall-clock time since reset")

	off := results[0].States[1]
	assert.Equal(t, uint64(1), off.TotalStateEntryCount)
	assert.Equal(t, uint64(1_000_100), off.LastEntryTimestampMs, "entry recorded as of now")

	// later genuine transitions still apply after the clamp
	fakeClock.SetTime(base.Add(300 * time.Millisecond))
	tracker.apply(device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 1_000_250})

	results, err = tracker.Residency([]uint32{0})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), results[0].States[0].TotalStateEntryCount)
}

func TestTrackerQueryDoesNotMutate(t *testing.T) {
	src := newMockResidencySource()
	tracker := newTestTracker(t, src)

	run(t, tracker, src,
		device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 1000},
		device.StateTransition{EntityID: 0, StateID: 1, TimestampMs: 2000},
	)

	first, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)
	second, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)

	assert.Equal(t, first, second, "queries never reset statistics")

	// mutating the returned slice must not affect the tracker
	first[0].States[0].TotalTimeInStateMs = 999999
	third, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestTrackerReset(t *testing.T) {
	src := newMockResidencySource()
	tracker := newTestTracker(t, src)

	run(t, tracker, src,
		device.StateTransition{EntityID: 0, StateID: 0, TimestampMs: 1000},
		device.StateTransition{EntityID: 0, StateID: 1, TimestampMs: 2500},
	)

	before := tracker.TrackedSince()
	tracker.Reset()
	assert.False(t, tracker.TrackedSince().Before(before))

	results, err := tracker.Residency([]uint32{0})
	require.NoError(t, err)
	for _, sr := range results[0].States {
		assert.Zero(t, sr.TotalTimeInStateMs)
		assert.Zero(t, sr.TotalStateEntryCount)
		assert.Zero(t, sr.LastEntryTimestampMs)
	}
}

func TestTrackerResidencyAllEntities(t *testing.T) {
	src := newMockResidencySource()
	tracker := newTestTracker(t, src)

	results, err := tracker.Residency(nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// records come back in state id order per entity
	require.Len(t, results[0].States, 2)
	require.Len(t, results[1].States, 3)
	assert.Empty(t, results[2].States, "entity without state-space info has no records")

	for _, res := range results {
		for i := 1; i < len(res.States); i++ {
			assert.Greater(t, res.States[i].StateID, res.States[i-1].StateID)
		}
	}
}
