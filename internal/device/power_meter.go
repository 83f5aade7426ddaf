// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "errors"

// powerMeter is a generic interface for power meters which read energy
// readings from hardware devices like power rails, BMCs etc
type powerMeter interface {
	// Name() returns a string identifying the power meter
	Name() string
}

// ErrNotSupported is returned by a probe when the underlying capability is
// absent on this platform (feature disabled). It is an expected condition,
// not a failure.
var ErrNotSupported = errors.New("capability not supported")

// RailPowerMeter is the capability probe for energy instrumented rails.
// Implementations must be safe for concurrent use.
type RailPowerMeter interface {
	powerMeter

	// Rails returns the instrumented rails in ascending index order.
	// An ErrNotSupported error indicates rail instrumentation is absent.
	Rails() ([]Rail, error)

	// Energy returns the monotonic energy-since-boot counter of the rail.
	// The counter never decreases for a given rail within a boot session
	// except for a hardware wrap at MaxEnergy.
	Energy(railIndex uint32) (Energy, error)

	// MaxEnergy returns the value at which the rail's counter wraps
	// around, or 0 when the counter does not wrap.
	MaxEnergy(railIndex uint32) Energy
}

// ResidencySource is the capability probe for power-entity state residency.
// Entities and state spaces are fixed for the lifetime of the source; state
// transitions are pushed through the Transitions channel.
type ResidencySource interface {
	powerMeter

	// Entities returns the tracked power entities in ascending id order.
	// An ErrNotSupported error indicates residency tracking is absent.
	Entities() ([]PowerEntity, error)

	// States returns the state space of the entity in ascending state id
	// order. A nil slice with a nil error means the entity exposes no
	// state-space information, which is a valid, reportable condition.
	States(entityID uint32) ([]State, error)

	// Transitions returns the channel on which raw state-transition
	// events are delivered. The source closes the channel when it stops.
	Transitions() <-chan StateTransition
}
