// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// sysfsRailMeter implements RailPowerMeter on top of the Linux powercap
// interface. Every powercap zone is exposed as one instrumented rail; rail
// indices are assigned densely at discovery, ordered by zone path so they
// are stable across runs on the same hardware.
type sysfsRailMeter struct {
	reader      zoneReader
	logger      *slog.Logger
	railFilter  []string
	cachedRails []Rail
	zoneByIndex map[uint32]EnergyZone
}

var _ RailPowerMeter = (*sysfsRailMeter)(nil)

// EnergyZone is a single readable energy counter backing one rail.
type EnergyZone interface {
	// Name returns the zone name
	Name() string

	// Path returns the path from which the energy usage value is being read
	Path() string

	// Energy returns energy consumed by the zone
	Energy() (Energy, error)

	// MaxEnergy returns the maximum value of energy usage that can be
	// read. When usage reaches this value the counter wraps to zero.
	MaxEnergy() Energy
}

// zoneReader is an interface for the sysfs filesystem used by
// sysfsRailMeter, mockable for testing
type zoneReader interface {
	Zones() ([]EnergyZone, error)
}

type SysfsOptionFn func(*sysfsRailMeter)

// WithZoneReader sets the zoneReader used by the meter
func WithZoneReader(r zoneReader) SysfsOptionFn {
	return func(m *sysfsRailMeter) {
		m.reader = r
	}
}

// WithSysfsLogger sets the logger for the meter
func WithSysfsLogger(logger *slog.Logger) SysfsOptionFn {
	return func(m *sysfsRailMeter) {
		m.logger = logger.With("meter", m.Name())
	}
}

// WithRailFilter sets rail names to include for monitoring.
// If empty, all rails are included.
func WithRailFilter(names []string) SysfsOptionFn {
	return func(m *sysfsRailMeter) {
		m.railFilter = names
	}
}

// NewSysfsRailMeter creates a rail power meter backed by powercap zones
// under sysfsPath.
func NewSysfsRailMeter(sysfsPath string, opts ...SysfsOptionFn) (*sysfsRailMeter, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs at %s: %w", sysfsPath, err)
	}

	meter := &sysfsRailMeter{
		reader: powercapZoneReader{fs: fs},
		logger: slog.Default().With("meter", "sysfs-rail-meter"),
	}
	for _, opt := range opts {
		opt(meter)
	}
	return meter, nil
}

func (m *sysfsRailMeter) Name() string {
	return "sysfs-rail-meter"
}

// Init discovers the rails once; rail indices never change afterwards.
func (m *sysfsRailMeter) Init() error {
	zones, err := m.reader.Zones()
	if err != nil {
		return fmt.Errorf("powercap zone discovery failed: %w", err)
	}
	if len(zones) == 0 {
		return fmt.Errorf("powercap: %w", ErrNotSupported)
	}

	zones = m.filterZones(zones)
	if len(zones) == 0 {
		return fmt.Errorf("all powercap zones filtered out: %w", ErrNotSupported)
	}

	// stable ordering before dense index assignment
	sort.Slice(zones, func(i, j int) bool {
		return zones[i].Path() < zones[j].Path()
	})

	m.cachedRails = make([]Rail, 0, len(zones))
	m.zoneByIndex = make(map[uint32]EnergyZone, len(zones))
	for i, zone := range zones {
		idx := uint32(i)
		m.cachedRails = append(m.cachedRails, Rail{
			Index:     idx,
			Name:      zone.Name(),
			Subsystem: subsystemOf(zone),
		})
		m.zoneByIndex[idx] = zone
	}

	// verify the first rail can actually be read
	if _, err := zones[0].Energy(); err != nil {
		return fmt.Errorf("failed to read energy of rail %s: %w", zones[0].Name(), err)
	}

	m.logger.Info("Discovered power rails", "count", len(m.cachedRails))
	return nil
}

func (m *sysfsRailMeter) filterZones(zones []EnergyZone) []EnergyZone {
	if len(m.railFilter) == 0 {
		return zones
	}

	wanted := make(map[string]bool, len(m.railFilter))
	for _, name := range m.railFilter {
		wanted[strings.ToLower(name)] = true
	}

	filtered := make([]EnergyZone, 0, len(zones))
	for _, zone := range zones {
		if wanted[strings.ToLower(zone.Name())] {
			filtered = append(filtered, zone)
		}
	}
	return filtered
}

func (m *sysfsRailMeter) Rails() ([]Rail, error) {
	if len(m.cachedRails) == 0 {
		return nil, fmt.Errorf("powercap: %w", ErrNotSupported)
	}
	return m.cachedRails, nil
}

func (m *sysfsRailMeter) Energy(railIndex uint32) (Energy, error) {
	zone, ok := m.zoneByIndex[railIndex]
	if !ok {
		return 0, fmt.Errorf("unknown rail index %d", railIndex)
	}
	return zone.Energy()
}

func (m *sysfsRailMeter) MaxEnergy(railIndex uint32) Energy {
	zone, ok := m.zoneByIndex[railIndex]
	if !ok {
		return 0
	}
	return zone.MaxEnergy()
}

// subsystemOf derives the rail subsystem from the zone path; nested
// powercap zones (e.g. intel-rapl:0:1) belong to their parent package.
func subsystemOf(zone EnergyZone) string {
	path := strings.TrimSuffix(zone.Path(), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "powercap"
	}
	base := parts[len(parts)-1]
	if i := strings.Index(base, ":"); i > 0 {
		return base[:i]
	}
	return base
}

// powercapZoneReader reads energy zones using the Linux powercap sysfs
// interface
type powercapZoneReader struct {
	fs sysfs.FS
}

func (p powercapZoneReader) Zones() ([]EnergyZone, error) {
	raplZones, err := sysfs.GetRaplZones(p.fs)
	if err != nil {
		return nil, fmt.Errorf("failed to read powercap zones: %w", err)
	}

	zones := make([]EnergyZone, 0, len(raplZones))
	for _, zone := range raplZones {
		zones = append(zones, powercapZone{zone})
	}
	return zones, nil
}

// powercapZone adapts sysfs.RaplZone to the EnergyZone interface
type powercapZone struct {
	zone sysfs.RaplZone
}

func (z powercapZone) Name() string {
	return z.zone.Name
}

func (z powercapZone) Path() string {
	return z.zone.Path
}

func (z powercapZone) Energy() (Energy, error) {
	uj, err := z.zone.GetEnergyMicrojoules()
	if err != nil {
		return 0, err
	}
	return EnergyFromMicroJoules(uint64(uj)), nil
}

func (z powercapZone) MaxEnergy() Energy {
	return EnergyFromMicroJoules(uint64(z.zone.MaxMicrojoules))
}
