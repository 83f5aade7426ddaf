// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/device"
)

// mockPowerSource implements powerSource with scripted readings
type mockPowerSource struct {
	readings []Reading
	initErr  error
	readErr  error
	closed   bool
}

func (m *mockPowerSource) Init() error {
	return m.initErr
}

func (m *mockPowerSource) ReadAll() ([]Reading, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.readings, nil
}

func (m *mockPowerSource) Close() {
	m.closed = true
}

func newTestRailMeter(t *testing.T, src *mockPowerSource, clk *testingclock.FakeClock) *RailMeter {
	t.Helper()
	meter := NewRailMeter(nil, nil,
		WithPowerSource(src),
		WithClock(clk),
	)
	require.NoError(t, meter.Init())
	return meter
}

func TestRailMeterInit(t *testing.T) {
	t.Run("builds registry from first reading", func(t *testing.T) {
		src := &mockPowerSource{readings: []Reading{
			{ChassisID: "1", SourceID: "PSU1", SourceName: "Power Supply 1", Power: 100_000_000},
			{ChassisID: "1", SourceID: "PSU2", SourceName: "Power Supply 2", Power: 50_000_000},
		}}
		meter := newTestRailMeter(t, src, testingclock.NewFakeClock(time.Now()))

		rails, err := meter.Rails()
		require.NoError(t, err)
		require.Len(t, rails, 2)
		assert.Equal(t, device.Rail{Index: 0, Name: "Power Supply 1", Subsystem: "1"}, rails[0])
		assert.Equal(t, device.Rail{Index: 1, Name: "Power Supply 2", Subsystem: "1"}, rails[1])
	})

	t.Run("source id used when name missing", func(t *testing.T) {
		src := &mockPowerSource{readings: []Reading{
			{ChassisID: "1", SourceID: "PSU1", Power: 100},
		}}
		meter := newTestRailMeter(t, src, testingclock.NewFakeClock(time.Now()))

		rails, err := meter.Rails()
		require.NoError(t, err)
		assert.Equal(t, "PSU1", rails[0].Name)
	})

	t.Run("init is idempotent", func(t *testing.T) {
		src := &mockPowerSource{readings: []Reading{
			{ChassisID: "1", SourceID: "PSU1", Power: 100},
		}}
		meter := newTestRailMeter(t, src, testingclock.NewFakeClock(time.Now()))
		require.NoError(t, meter.Init())

		rails, err := meter.Rails()
		require.NoError(t, err)
		assert.Len(t, rails, 1)
	})

	t.Run("connect failure", func(t *testing.T) {
		src := &mockPowerSource{initErr: errors.New("connect refused")}
		meter := NewRailMeter(nil, nil, WithPowerSource(src))
		assert.Error(t, meter.Init())
	})

	t.Run("no rails is not supported", func(t *testing.T) {
		src := &mockPowerSource{}
		meter := newTestRailMeter(t, src, testingclock.NewFakeClock(time.Now()))

		_, err := meter.Rails()
		assert.ErrorIs(t, err, device.ErrNotSupported)
	})
}

func TestRailMeterIntegration(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	src := &mockPowerSource{readings: []Reading{
		// 100 W and 50 W in µW
		{ChassisID: "1", SourceID: "PSU1", Power: 100_000_000},
		{ChassisID: "1", SourceID: "PSU2", Power: 50_000_000},
	}}
	meter := newTestRailMeter(t, src, clk)

	// 36s = 0.01h: 100 W -> 1 Wh = 1_000_000 µWh
	clk.Step(36 * time.Second)
	require.NoError(t, meter.integrate())

	e, err := meter.Energy(0)
	require.NoError(t, err)
	assert.Equal(t, Energy(1_000_000), e)

	e, err = meter.Energy(1)
	require.NoError(t, err)
	assert.Equal(t, Energy(500_000), e)

	// counters accumulate monotonically across samples
	clk.Step(36 * time.Second)
	require.NoError(t, meter.integrate())

	e, err = meter.Energy(0)
	require.NoError(t, err)
	assert.Equal(t, Energy(2_000_000), e)
}

func TestRailMeterFractionCarry(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	src := &mockPowerSource{readings: []Reading{
		// 1 W: one second is 1_000_000/3600 = 277.78 µWh
		{ChassisID: "1", SourceID: "PSU1", Power: 1_000_000},
	}}
	meter := newTestRailMeter(t, src, clk)

	var total Energy
	for i := 0; i < 36; i++ {
		clk.Step(time.Second)
		require.NoError(t, meter.integrate())
		e, err := meter.Energy(0)
		require.NoError(t, err)
		total = e
	}

	// 36s at 1 W is 10_000 µWh; were the sub-µWh remainder dropped each
	// sample the counter would read 36 * 277 = 9_972
	assert.InDelta(t, 10_000, float64(total), 1)
}

func TestRailMeterMissingSource(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	src := &mockPowerSource{readings: []Reading{
		{ChassisID: "1", SourceID: "PSU1", Power: 100_000_000},
		{ChassisID: "1", SourceID: "PSU2", Power: 50_000_000},
	}}
	meter := newTestRailMeter(t, src, clk)

	// PSU2 disappears; its counter freezes while PSU1 keeps accumulating
	src.readings = src.readings[:1]
	clk.Step(36 * time.Second)
	require.NoError(t, meter.integrate())

	e, err := meter.Energy(0)
	require.NoError(t, err)
	assert.Equal(t, Energy(1_000_000), e)

	e, err = meter.Energy(1)
	require.NoError(t, err)
	assert.Equal(t, Energy(0), e)
}

func TestRailMeterNewSourceIgnored(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	src := &mockPowerSource{readings: []Reading{
		{ChassisID: "1", SourceID: "PSU1", Power: 100_000_000},
	}}
	meter := newTestRailMeter(t, src, clk)

	// a supply line appearing after Init does not join the registry
	src.readings = append(src.readings, Reading{ChassisID: "1", SourceID: "PSU9", Power: 1})
	clk.Step(time.Second)
	require.NoError(t, meter.integrate())

	rails, err := meter.Rails()
	require.NoError(t, err)
	assert.Len(t, rails, 1)

	_, err = meter.Energy(1)
	assert.Error(t, err)
}

func TestRailMeterReadFailureKeepsCounters(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	src := &mockPowerSource{readings: []Reading{
		{ChassisID: "1", SourceID: "PSU1", Power: 100_000_000},
	}}
	meter := newTestRailMeter(t, src, clk)

	clk.Step(36 * time.Second)
	require.NoError(t, meter.integrate())

	src.readErr = errors.New("BMC timeout")
	clk.Step(36 * time.Second)
	assert.Error(t, meter.integrate())

	e, err := meter.Energy(0)
	require.NoError(t, err)
	assert.Equal(t, Energy(1_000_000), e, "previous counters survive a failed sample")
}

func TestRailMeterShutdown(t *testing.T) {
	src := &mockPowerSource{readings: []Reading{
		{ChassisID: "1", SourceID: "PSU1", Power: 1},
	}}
	meter := newTestRailMeter(t, src, testingclock.NewFakeClock(time.Now()))

	require.NoError(t, meter.Shutdown())
	assert.True(t, src.closed)
}

func TestRailMeterMaxEnergyNeverWraps(t *testing.T) {
	src := &mockPowerSource{readings: []Reading{
		{ChassisID: "1", SourceID: "PSU1", Power: 1},
	}}
	meter := newTestRailMeter(t, src, testingclock.NewFakeClock(time.Now()))

	assert.Equal(t, Energy(0), meter.MaxEnergy(0))
}
