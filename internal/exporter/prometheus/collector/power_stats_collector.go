// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/powerstats"
)

// PowerStatsCollector exports rail energy counters and entity state
// residency statistics. All values come from point-query snapshots, so a
// scrape never observes a half-updated table.
type PowerStatsCollector struct {
	provider powerstats.Provider
	logger   *slog.Logger

	railEnergyDesc     *prom.Desc
	residencyTimeDesc  *prom.Desc
	residencyCountDesc *prom.Desc
	residencyLastDesc  *prom.Desc
}

var _ prom.Collector = (*PowerStatsCollector)(nil)

// NewPowerStatsCollector creates a collector reading from provider
func NewPowerStatsCollector(provider powerstats.Provider, logger *slog.Logger) *PowerStatsCollector {
	return &PowerStatsCollector{
		provider: provider,
		logger:   logger.With("collector", "powerstats"),

		railEnergyDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "rail", "energy_microwatt_hours_total"),
			"Monotonic energy consumed on the rail since boot in µWh",
			[]string{"rail", "index", "subsystem"},
			nil,
		),
		residencyTimeDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "entity", "state_time_milliseconds_total"),
			"Accumulated time the power entity spent in the state",
			[]string{"entity", "state"},
			nil,
		),
		residencyCountDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "entity", "state_entry_count_total"),
			"Number of times the power entity entered the state",
			[]string{"entity", "state"},
			nil,
		),
		residencyLastDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "entity", "state_last_entry_timestamp_milliseconds"),
			"Timestamp of the last entry into the state in ms",
			[]string{"entity", "state"},
			nil,
		),
	}
}

func (c *PowerStatsCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.railEnergyDesc
	ch <- c.residencyTimeDesc
	ch <- c.residencyCountDesc
	ch <- c.residencyLastDesc
}

func (c *PowerStatsCollector) Collect(ch chan<- prom.Metric) {
	c.collectRails(ch)
	c.collectResidency(ch)
}

func (c *PowerStatsCollector) collectRails(ch chan<- prom.Metric) {
	rails, status := c.provider.GetRailInfo()
	if status != powerstats.StatusSuccess {
		return
	}
	samples, status := c.provider.GetEnergyData(nil)
	if status != powerstats.StatusSuccess {
		c.logger.Debug("Skipping rail energy metrics", "status", status.String())
		return
	}

	railByIndex := make(map[uint32]powerstats.Rail, len(rails))
	for _, r := range rails {
		railByIndex[r.Index] = r
	}

	for _, s := range samples {
		rail := railByIndex[s.RailIndex]
		ch <- prom.MustNewConstMetric(
			c.railEnergyDesc,
			prom.CounterValue,
			float64(s.Energy.MicroWattHours()),
			rail.Name,
			fmt.Sprintf("%d", rail.Index),
			rail.Subsystem,
		)
	}
}

func (c *PowerStatsCollector) collectResidency(ch chan<- prom.Metric) {
	entities, status := c.provider.GetPowerEntityInfo()
	if status != powerstats.StatusSuccess {
		return
	}
	spaces, status := c.provider.GetPowerEntityStateInfo(nil)
	if status != powerstats.StatusSuccess {
		return
	}
	results, status := c.provider.GetPowerEntityStateResidencyData(nil)
	if status != powerstats.StatusSuccess {
		c.logger.Debug("Skipping residency metrics", "status", status.String())
		return
	}

	entityName := make(map[uint32]string, len(entities))
	for _, e := range entities {
		entityName[e.ID] = e.Name
	}
	stateName := make(map[uint32]map[uint32]string, len(spaces))
	for _, sp := range spaces {
		names := make(map[uint32]string, len(sp.States))
		for _, st := range sp.States {
			names[st.ID] = st.Name
		}
		stateName[sp.EntityID] = names
	}

	for _, res := range results {
		entity := entityName[res.EntityID]
		for _, st := range res.States {
			state := stateName[res.EntityID][st.StateID]

			ch <- prom.MustNewConstMetric(c.residencyTimeDesc, prom.CounterValue,
				float64(st.TotalTimeInStateMs), entity, state)
			ch <- prom.MustNewConstMetric(c.residencyCountDesc, prom.CounterValue,
				float64(st.TotalStateEntryCount), entity, state)
			ch <- prom.MustNewConstMetric(c.residencyLastDesc, prom.GaugeValue,
				float64(st.LastEntryTimestampMs), entity, state)
		}
	}
}
