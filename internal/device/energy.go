// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
)

// Energy represents accumulated energy as an uint64 MicroWattHour count.
// The maximum energy that can be captured is 2^64 - 1 MicroWattHours.
// Use functions WattHours, MilliWattHours and MicroWattHours to get the
// energy value as WattHour, MilliWattHour or MicroWattHour respectively
type Energy uint64

const (
	MicroWattHour Energy = 1
	MilliWattHour        = 1000 * MicroWattHour
	WattHour             = 1000 * MilliWattHour
)

// microJoulesPerMicroWattHour converts between the two units; hardware
// counters (powercap) report micro joules while the rail contract is micro
// watt hours.
const microJoulesPerMicroWattHour = 3600

func (e Energy) MicroWattHours() uint64 {
	return uint64(e)
}

func (e Energy) MilliWattHours() float64 {
	return float64(e) / float64(MilliWattHour)
}

func (e Energy) WattHours() float64 {
	return float64(e) / float64(WattHour)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.3fWh", e.WattHours())
}

// EnergyFromMicroJoules converts a raw µJ counter reading to Energy (µWh).
func EnergyFromMicroJoules(uj uint64) Energy {
	return Energy(uj / microJoulesPerMicroWattHour)
}

// Power represents power usage as a float64 MicroWatts.
// Use functions Watts, MilliWatts and MicroWatts to get the power value as
// Watts, MilliWatts or MicroWatts respectively
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) MicroWatts() float64 {
	return float64(p)
}

func (p Power) MilliWatts() float64 {
	return float64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p / Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}
