// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

// Rail identifies a single instrumented power rail. Rails are immutable
// after discovery; Index is dense, assigned at discovery time and is the
// only key other components use to refer to the rail.
type Rail struct {
	Index     uint32
	Name      string
	Subsystem string
}

// PowerEntity is a logical power domain whose state residency is tracked.
// An entity is not necessarily tied to a single rail.
type PowerEntity struct {
	ID   uint32
	Name string
}

// State is one element of an entity's finite state space.
type State struct {
	ID   uint32
	Name string
}

// StateTransition is a raw event reporting that an entity entered a state
// at the given wall-clock millisecond timestamp.
type StateTransition struct {
	EntityID    uint32
	StateID     uint32
	TimestampMs uint64
}
