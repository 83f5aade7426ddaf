// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
)

type (
	Energy = device.Energy
	Power  = device.Power
)

// SourceType indicates the API source of a power reading
type SourceType string

const (
	// PowerSupplySource indicates data from PowerSubsystem → PowerSupplies (modern API)
	PowerSupplySource SourceType = "PowerSupply"
	// PowerControlSource indicates data from Power → PowerControl (deprecated API)
	PowerControlSource SourceType = "PowerControl"
)

// PowerAPIStrategy defines the power reading strategy
type PowerAPIStrategy string

const (
	// UnknownStrategy indicates that the strategy has not been determined yet
	UnknownStrategy PowerAPIStrategy = ""
	// PowerSubsystemStrategy uses the modern PowerSubsystem API
	PowerSubsystemStrategy PowerAPIStrategy = "PowerSubsystem"
	// PowerStrategy uses the deprecated Power API
	PowerStrategy PowerAPIStrategy = "Power"
)

// Reading is one instantaneous power measurement of a supply line exposed
// by the BMC. Readings are keyed by (ChassisID, SourceID); that pair keeps
// its rail index for the lifetime of the meter.
type Reading struct {
	ChassisID  string
	SourceID   string
	SourceName string
	SourceType SourceType
	Power      Power // instantaneous power in µW
}
