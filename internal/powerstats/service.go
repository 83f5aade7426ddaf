// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"errors"
	"log/slog"
)

// Provider is the operation surface consumed by callers and exporters.
// Every operation returns a best-effort result alongside a Status instead
// of failing; no operation ever panics.
type Provider interface {
	GetRailInfo() ([]Rail, Status)
	GetEnergyData(railIndices []uint32) ([]EnergySample, Status)
	StreamEnergyData(timeMs, samplingRateHz uint32) (*StreamSession, Status)
	GetPowerEntityInfo() ([]PowerEntity, Status)
	GetPowerEntityStateInfo(entityIDs []uint32) ([]StateSpace, Status)
	GetPowerEntityStateResidencyData(entityIDs []uint32) ([]StateResidencyResult, Status)
}

// PowerStats is the facade tying the accumulator, the residency tracker
// and the streaming sampler together behind the operation surface.
type PowerStats struct {
	logger      *slog.Logger
	accumulator *EnergyAccumulator
	tracker     *ResidencyTracker
	sampler     *StreamSampler
}

var _ Provider = (*PowerStats)(nil)

// NewPowerStats creates the operation facade
func NewPowerStats(acc *EnergyAccumulator, tracker *ResidencyTracker, sampler *StreamSampler, logger *slog.Logger) *PowerStats {
	if logger == nil {
		logger = slog.Default()
	}
	return &PowerStats{
		logger:      logger.With("service", "powerstats"),
		accumulator: acc,
		tracker:     tracker,
		sampler:     sampler,
	}
}

func (ps *PowerStats) Name() string {
	return "powerstats"
}

// GetRailInfo returns the immutable rail registry.
func (ps *PowerStats) GetRailInfo() ([]Rail, Status) {
	rails := ps.accumulator.Rails()
	if len(rails) == 0 {
		return nil, StatusNotSupported
	}
	return rails, StatusSuccess
}

// GetEnergyData returns one sample per requested rail. Empty railIndices
// means all rails. Unknown indices are silently excluded; a request whose
// indices are all unknown (with no co-occurring data-source failure)
// reports INVALID_INPUT.
func (ps *PowerStats) GetEnergyData(railIndices []uint32) ([]EnergySample, Status) {
	samples, err := ps.accumulator.CurrentEnergy(railIndices)
	if err != nil {
		return nil, statusFromError(err)
	}
	if len(railIndices) > 0 && len(samples) == 0 {
		return nil, StatusInvalidInput
	}
	return samples, StatusSuccess
}

// StreamEnergyData starts a streaming session delivering
// session.NumSamples rows of session.RailsPerSample entries each.
func (ps *PowerStats) StreamEnergyData(timeMs, samplingRateHz uint32) (*StreamSession, Status) {
	session, err := ps.sampler.StartStream(timeMs, samplingRateHz)
	if err != nil {
		if !errors.Is(err, ErrInsufficientResources) && !errors.Is(err, ErrNotSupported) {
			ps.logger.Error("Failed to start stream", "error", err)
		}
		return nil, statusFromError(err)
	}
	return session, StatusSuccess
}

// GetPowerEntityInfo returns the immutable power-entity registry.
func (ps *PowerStats) GetPowerEntityInfo() ([]PowerEntity, Status) {
	entities := ps.tracker.Entities()
	if len(entities) == 0 {
		return nil, StatusNotSupported
	}
	return entities, StatusSuccess
}

// GetPowerEntityStateInfo returns the declared state spaces of the
// requested entities with the same id-selection rules as GetEnergyData.
func (ps *PowerStats) GetPowerEntityStateInfo(entityIDs []uint32) ([]StateSpace, Status) {
	spaces, err := ps.tracker.StateSpaces(entityIDs)
	if err != nil {
		return nil, statusFromError(err)
	}
	if len(entityIDs) > 0 && len(spaces) == 0 {
		return nil, StatusInvalidInput
	}
	return spaces, StatusSuccess
}

// GetPowerEntityStateResidencyData returns residency statistics for the
// requested entities with the same id-selection rules as GetEnergyData.
// Entities without state-space information are reported with empty
// state lists rather than treated as errors.
func (ps *PowerStats) GetPowerEntityStateResidencyData(entityIDs []uint32) ([]StateResidencyResult, Status) {
	results, err := ps.tracker.Residency(entityIDs)
	if err != nil {
		return nil, statusFromError(err)
	}
	if len(entityIDs) > 0 && len(results) == 0 {
		return nil, StatusInvalidInput
	}
	return results, StatusSuccess
}
