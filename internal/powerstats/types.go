// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"errors"
	"time"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
)

type (
	Energy      = device.Energy
	Rail        = device.Rail
	PowerEntity = device.PowerEntity
	State       = device.State
)

// Status is the outcome reported alongside every operation result.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotSupported
	StatusFilesystemError
	StatusInvalidInput
	StatusInsufficientResources
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusFilesystemError:
		return "FILESYSTEM_ERROR"
	case StatusInvalidInput:
		return "INVALID_INPUT"
	case StatusInsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for the status taxonomy. Internal components return
// wrapped sentinels; the facade maps them to Status values.
var (
	ErrNotSupported          = device.ErrNotSupported
	ErrFilesystem            = errors.New("data source access failed")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientResources = errors.New("insufficient resources")
)

// statusFromError maps a component error to the reported Status.
func statusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, ErrInvalidInput):
		return StatusInvalidInput
	case errors.Is(err, ErrInsufficientResources):
		return StatusInsufficientResources
	default:
		return StatusFilesystemError
	}
}

// EnergySample is a point reading of one rail's monotonic energy counter.
type EnergySample struct {
	RailIndex uint32
	Energy    Energy // µWh since boot
}

// energySnapshot is an immutable point-in-time view of all rail counters.
// A query never mixes counters from two different refreshes.
type energySnapshot struct {
	Timestamp time.Time
	Samples   []EnergySample // ascending rail index
}

func (s *energySnapshot) Clone() *energySnapshot {
	if s == nil {
		return nil
	}
	ret := &energySnapshot{
		Timestamp: s.Timestamp,
		Samples:   make([]EnergySample, len(s.Samples)),
	}
	copy(ret.Samples, s.Samples)
	return ret
}

// StateResidency holds the accumulated statistics of one (entity, state)
// pair. All three counters are monotonic and reset only by an explicit
// external reset event, never by a query.
type StateResidency struct {
	StateID              uint32
	TotalTimeInStateMs   uint64
	TotalStateEntryCount uint64
	LastEntryTimestampMs uint64
}

// StateSpace is the declared set of states of one entity.
type StateSpace struct {
	EntityID uint32
	States   []State
}

// StateResidencyResult carries the residency statistics of one entity, one
// entry per declared state in state id order. Empty States reports an
// entity that exposes no state-space information.
type StateResidencyResult struct {
	EntityID uint32
	States   []StateResidency
}
