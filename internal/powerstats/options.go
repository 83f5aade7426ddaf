// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger       *slog.Logger
	clock        clock.WithTicker
	interval     time.Duration
	maxStaleness time.Duration
	maxRateHz    uint32
	bufferedRows int
}

// DefaultOpts returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:       slog.Default(),
		clock:        clock.RealClock{},
		interval:     0 * time.Second, // no background collection
		maxStaleness: 500 * time.Millisecond,
		maxRateHz:    1000,
		bufferedRows: 8,
	}
}

// OptionFn is a function that sets one or more options in the Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithInterval sets the background collection interval
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithMaxStaleness sets the staleness bound for query-path reads
func WithMaxStaleness(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxStaleness = d
	}
}

// WithMaxSamplingRate sets the highest sustainable streaming rate in Hz
func WithMaxSamplingRate(hz uint32) OptionFn {
	return func(o *Opts) {
		o.maxRateHz = hz
	}
}

// WithBufferedRows sets the stream channel capacity in rows
func WithBufferedRows(rows int) OptionFn {
	return func(o *Opts) {
		o.bufferedRows = rows
	}
}
