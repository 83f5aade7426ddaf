// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/service"
	"golang.org/x/sync/singleflight"
)

// EnergyAccumulator maintains the current monotonic energy-since-boot
// counter per rail and answers point queries. Counters are refreshed from
// the rail power meter either by the background collection loop or on
// demand when a query finds the cached snapshot stale, so a query result
// is never more than one staleness window old and never mixes pre- and
// post-refresh values for different rails.
type EnergyAccumulator struct {
	logger *slog.Logger
	meter  device.RailPowerMeter
	opts   Opts

	// immutable after Init
	rails       []Rail
	railKnown   map[uint32]bool
	supported   bool
	supportErr  error
	maxByIndex  map[uint32]Energy
	computeGrp  singleflight.Group
	snapshot    atomic.Pointer[energySnapshot]
	lastReading map[uint32]Energy // raw counter at previous refresh, wrap tracking
	accumulated map[uint32]Energy // wrap-absorbed monotonic counter

	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var (
	_ service.Initializer = (*EnergyAccumulator)(nil)
	_ service.Runner      = (*EnergyAccumulator)(nil)
	_ service.Shutdowner  = (*EnergyAccumulator)(nil)
)

// NewEnergyAccumulator creates a new EnergyAccumulator reading from meter
func NewEnergyAccumulator(meter device.RailPowerMeter, applyOpts ...OptionFn) *EnergyAccumulator {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EnergyAccumulator{
		logger:           opts.logger.With("service", "energy-accumulator"),
		meter:            meter,
		opts:             opts,
		railKnown:        map[uint32]bool{},
		maxByIndex:       map[uint32]Energy{},
		lastReading:      map[uint32]Energy{},
		accumulated:      map[uint32]Energy{},
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}
}

func (a *EnergyAccumulator) Name() string {
	return "energy-accumulator"
}

// Init builds the immutable rail registry from the capability probe. A
// failing probe leaves the registry empty; queries then report the
// unsupported-feature condition instead of the process failing to start.
func (a *EnergyAccumulator) Init() error {
	if initializer, ok := a.meter.(service.Initializer); ok {
		if err := initializer.Init(); err != nil {
			a.logger.Warn("Rail power meter unavailable, energy queries disabled",
				"meter", a.meter.Name(), "reason", err)
			a.supportErr = err
			return nil
		}
	}

	rails, err := a.meter.Rails()
	if err != nil {
		a.logger.Warn("Rail discovery failed, energy queries disabled",
			"meter", a.meter.Name(), "reason", err)
		a.supportErr = err
		return nil
	}

	a.rails = rails
	for _, r := range rails {
		a.railKnown[r.Index] = true
		a.maxByIndex[r.Index] = a.meter.MaxEnergy(r.Index)
	}
	a.supported = len(rails) > 0

	return nil
}

// Run executes the background collection loop until the context is done.
func (a *EnergyAccumulator) Run(ctx context.Context) error {
	a.logger.Info("Energy accumulator is running...")
	a.collectionLoop()
	<-ctx.Done()
	a.collectionCancel()
	a.logger.Info("Energy accumulator has terminated.")
	return nil
}

func (a *EnergyAccumulator) Shutdown() error {
	a.logger.Info("shutting down energy accumulator")
	a.collectionCancel()
	return nil
}

// Rails returns the immutable rail registry; empty when unsupported.
func (a *EnergyAccumulator) Rails() []Rail {
	return a.rails
}

// RailCount returns the number of rails in the registry.
func (a *EnergyAccumulator) RailCount() int {
	return len(a.rails)
}

// CurrentEnergy returns one sample per requested rail from a consistent
// snapshot. An empty railIndices means all rails; unknown indices are
// silently excluded from the result.
func (a *EnergyAccumulator) CurrentEnergy(railIndices []uint32) ([]EnergySample, error) {
	if !a.supported {
		return nil, fmt.Errorf("rail energy: %w", ErrNotSupported)
	}

	if err := a.ensureFreshData(); err != nil {
		return nil, err
	}

	snapshot := a.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("%w: no energy snapshot available", ErrFilesystem)
	}

	if len(railIndices) == 0 {
		clone := snapshot.Clone()
		return clone.Samples, nil
	}

	requested := make(map[uint32]bool, len(railIndices))
	for _, idx := range railIndices {
		requested[idx] = true
	}

	samples := make([]EnergySample, 0, len(railIndices))
	for _, s := range snapshot.Samples {
		if requested[s.RailIndex] {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// ReadNow forces a fresh read of all rails, bypassing the staleness check.
// It is the read path of the streaming sampler.
func (a *EnergyAccumulator) ReadNow() ([]EnergySample, error) {
	if !a.supported {
		return nil, fmt.Errorf("rail energy: %w", ErrNotSupported)
	}

	if err := a.refreshShared(true); err != nil {
		return nil, err
	}

	snapshot := a.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("%w: no energy snapshot available", ErrFilesystem)
	}
	return snapshot.Clone().Samples, nil
}

func (a *EnergyAccumulator) collectionLoop() {
	if !a.supported {
		return
	}

	if err := a.refreshShared(false); err != nil {
		a.logger.Error("Failed to collect initial energy data", "error", err)
	}

	if a.opts.interval > 0 {
		a.scheduleNextCollection()
	}
}

func (a *EnergyAccumulator) scheduleNextCollection() {
	timer := a.opts.clock.After(a.opts.interval)
	go func() {
		select {
		case <-timer:
			if err := a.refreshShared(false); err != nil {
				a.logger.Error("Failed to collect energy data", "error", err)
			}
			a.scheduleNextCollection()

		case <-a.collectionCtx.Done():
			a.logger.Info("Collection loop terminated")
			return
		}
	}()
}

// ensureFreshData ensures the snapshot is recent enough (< maxStaleness)
func (a *EnergyAccumulator) ensureFreshData() error {
	if a.isFresh() {
		return nil
	}
	return a.refreshShared(false)
}

// refreshShared refreshes the snapshot while ensuring only one goroutine
// reads the hardware at a time. With force unset, freshness is re-checked
// after acquiring the singleflight slot so that a waiter piggybacking on a
// concurrent refresh does not trigger a second one.
func (a *EnergyAccumulator) refreshShared(force bool) error {
	_, err, _ := a.computeGrp.Do("refresh", func() (any, error) {
		if !force && a.isFresh() {
			return nil, nil
		}
		return nil, a.refreshSnapshot()
	})
	return err
}

func (a *EnergyAccumulator) isFresh() bool {
	snapshot := a.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}

	age := a.opts.clock.Now().Sub(snapshot.Timestamp)
	return age <= a.opts.maxStaleness
}

// refreshSnapshot reads every rail counter and publishes a new snapshot.
// All reads are staged first; a failing rail aborts the whole refresh so a
// snapshot never carries partially corrupted values.
func (a *EnergyAccumulator) refreshSnapshot() error {
	readings := make(map[uint32]Energy, len(a.rails))
	for _, rail := range a.rails {
		e, err := a.meter.Energy(rail.Index)
		if err != nil {
			return fmt.Errorf("%w: reading rail %q: %v", ErrFilesystem, rail.Name, err)
		}
		readings[rail.Index] = e
	}

	samples := make([]EnergySample, 0, len(a.rails))
	for _, rail := range a.rails {
		current := readings[rail.Index]
		last, seen := a.lastReading[rail.Index]

		var delta Energy
		switch {
		case !seen:
			delta = current
		case current >= last:
			delta = current - last
		default:
			// counter wrapped; recover the delta across the wrap
			// boundary when the wrap point is known
			if wrapAt := a.maxByIndex[rail.Index]; wrapAt > last {
				delta = (wrapAt - last) + current
			} else {
				a.logger.Warn("Rail counter regressed without known wrap boundary",
					"rail", rail.Name, "last", last, "current", current)
				delta = 0
			}
		}

		a.lastReading[rail.Index] = current
		a.accumulated[rail.Index] += delta
		samples = append(samples, EnergySample{
			RailIndex: rail.Index,
			Energy:    a.accumulated[rail.Index],
		})
	}

	newSnapshot := &energySnapshot{
		Timestamp: a.opts.clock.Now(),
		Samples:   samples,
	}
	a.snapshot.Store(newSnapshot)
	a.logger.Debug("refreshSnapshot", "rails", len(samples))

	return nil
}
