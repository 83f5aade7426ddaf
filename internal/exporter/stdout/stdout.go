// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/LiquidRemix/android-hardware-interfaces/internal/powerstats"
	"github.com/LiquidRemix/android-hardware-interfaces/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Provider    = powerstats.Provider
)

// Exporter periodically dumps rail energy and state residency tables to
// stdout
type Exporter struct {
	logger   *slog.Logger
	provider Provider
	out      io.WriteCloser
	ticker   time.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default().With("service", "stdout"),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func NewExporter(provider Provider, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	exporter := &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		provider: provider,
		out:      opts.out,
		interval: opts.interval,
	}

	return exporter
}

func (e *Exporter) Init() error {
	e.ticker = *time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-e.ticker.C:
			writeRails(e.out, e.provider)
			writeResidency(e.out, e.provider)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func writeRails(out io.Writer, provider Provider) {
	rails, status := provider.GetRailInfo()
	if status != powerstats.StatusSuccess {
		return
	}
	samples, status := provider.GetEnergyData(nil)
	if status != powerstats.StatusSuccess {
		return
	}

	names := make(map[uint32]powerstats.Rail, len(rails))
	for _, r := range rails {
		names[r.Index] = r
	}

	rows := [][]string{}
	for _, s := range samples {
		rail := names[s.RailIndex]
		rows = append(rows, []string{
			rail.Name,
			rail.Subsystem,
			s.Energy.String(),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i][0] < rows[j][0]
	})
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Rail", "Subsystem", "Energy"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func writeResidency(out io.Writer, provider Provider) {
	entities, status := provider.GetPowerEntityInfo()
	if status != powerstats.StatusSuccess {
		return
	}
	spaces, status := provider.GetPowerEntityStateInfo(nil)
	if status != powerstats.StatusSuccess {
		return
	}
	results, status := provider.GetPowerEntityStateResidencyData(nil)
	if status != powerstats.StatusSuccess {
		return
	}

	entityNames := make(map[uint32]string, len(entities))
	for _, e := range entities {
		entityNames[e.ID] = e.Name
	}
	stateNames := make(map[uint32]map[uint32]string, len(spaces))
	for _, space := range spaces {
		byID := make(map[uint32]string, len(space.States))
		for _, s := range space.States {
			byID[s.ID] = s.Name
		}
		stateNames[space.EntityID] = byID
	}

	rows := [][]string{}
	for _, res := range results {
		for _, sr := range res.States {
			rows = append(rows, []string{
				entityNames[res.EntityID],
				stateNames[res.EntityID][sr.StateID],
				fmt.Sprintf("%d ms", sr.TotalTimeInStateMs),
				fmt.Sprintf("%d", sr.TotalStateEntryCount),
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i][0] != rows[j][0] {
			return rows[i][0] < rows[j][0]
		}
		return rows[i][1] < rows[j][1]
	})
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Entity", "State", "Time", "Entries"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
