// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

// unsupportedResidencySource reports no entities. A tracker built on it
// serves the unsupported-feature condition on every residency query.
type unsupportedResidencySource struct{}

var _ ResidencySource = unsupportedResidencySource{}

// NewUnsupportedResidencySource returns a residency source for platforms
// that expose no power entity information.
func NewUnsupportedResidencySource() ResidencySource {
	return unsupportedResidencySource{}
}

func (unsupportedResidencySource) Name() string {
	return "unsupported-residency-source"
}

func (unsupportedResidencySource) Entities() ([]PowerEntity, error) {
	return nil, nil
}

func (unsupportedResidencySource) States(entityID uint32) ([]State, error) {
	return nil, nil
}

// Transitions returns a nil channel; receiving from it blocks until the
// consumer's context is cancelled.
func (unsupportedResidencySource) Transitions() <-chan StateTransition {
	return nil
}
