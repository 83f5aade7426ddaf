// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package powerstats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// railSampleReader is the slice of the Energy Accumulator the sampler
// needs: a forced fresh read of all rails and the registry size.
type railSampleReader interface {
	ReadNow() ([]EnergySample, error)
	RailCount() int
}

// StreamSampler produces timed energy samples into a bounded channel on
// behalf of a single consumer. At most one streaming session is active
// system-wide; a second request is refused rather than queued.
type StreamSampler struct {
	logger *slog.Logger
	reader railSampleReader
	opts   Opts

	mu     sync.Mutex
	active bool
}

// NewStreamSampler creates a new StreamSampler reading from reader
func NewStreamSampler(reader railSampleReader, applyOpts ...OptionFn) *StreamSampler {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &StreamSampler{
		logger: opts.logger.With("service", "stream-sampler"),
		reader: reader,
		opts:   opts,
	}
}

// StreamSession is one bounded-duration stream of energy sample rows. The
// single consumer ranges over Samples(); the channel is closed when all
// rows have been delivered, the session is cancelled, or the producer hits
// a read failure.
type StreamSession struct {
	// fixed for the session
	NumSamples     uint32
	RailsPerSample uint32

	ch     chan []EnergySample
	cancel context.CancelFunc
	once   sync.Once
}

// Samples returns the channel rows are delivered on. Each row holds
// exactly RailsPerSample entries in ascending rail-index order; rows
// arrive in strict chronological sampling order.
func (s *StreamSession) Samples() <-chan []EnergySample {
	return s.ch
}

// Close cancels the session from the consumer side. The producer observes
// the cancellation within one sampling period, stops pushing and closes
// the channel. Close is idempotent and safe after normal completion.
func (s *StreamSession) Close() {
	s.once.Do(s.cancel)
}

// StartStream validates the request and spawns the producer. The
// requested rate is silently clamped to the sustainable maximum; the
// returned NumSamples reflects the actual rate. A zero duration or rate
// yields a successful, immediately closed, empty stream.
func (ss *StreamSampler) StartStream(durationMs, samplingRateHz uint32) (*StreamSession, error) {
	railCount := ss.reader.RailCount()
	if railCount == 0 {
		return nil, fmt.Errorf("streaming: %w", ErrNotSupported)
	}

	actualRate := samplingRateHz
	if actualRate > ss.opts.maxRateHz {
		ss.logger.Debug("Clamping requested sampling rate",
			"requestedHz", samplingRateHz, "actualHz", ss.opts.maxRateHz)
		actualRate = ss.opts.maxRateHz
	}

	// duration × rate can exceed 32 bits; saturate instead of wrapping
	totalSamples := uint64(durationMs) * uint64(actualRate) / 1000
	if totalSamples > math.MaxUint32 {
		totalSamples = math.MaxUint32
	}
	numSamples := uint32(totalSamples)

	ctx, cancel := context.WithCancel(context.Background())
	session := &StreamSession{
		NumSamples:     numSamples,
		RailsPerSample: uint32(railCount),
		ch:             make(chan []EnergySample, ss.opts.bufferedRows),
		cancel:         cancel,
	}

	if numSamples == 0 {
		// contract still satisfied, just empty
		close(session.ch)
		cancel()
		return session, nil
	}

	if err := ss.acquire(); err != nil {
		cancel()
		return nil, err
	}

	go ss.produce(ctx, session, actualRate)

	return session, nil
}

func (ss *StreamSampler) acquire() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.active {
		return fmt.Errorf("a streaming session is already active: %w", ErrInsufficientResources)
	}
	ss.active = true
	return nil
}

func (ss *StreamSampler) release() {
	ss.mu.Lock()
	ss.active = false
	ss.mu.Unlock()
}

// produce runs the single producer task: one fixed-period timer tick per
// sample, one row of all rails per tick. Pushing blocks when the bounded
// channel is full; a slow consumer delays but never loses data, and a
// cancelled session releases the producer from any pending push.
func (ss *StreamSampler) produce(ctx context.Context, session *StreamSession, rateHz uint32) {
	defer ss.release()
	defer close(session.ch)
	defer session.cancel()

	period := time.Duration(uint64(time.Second) / uint64(rateHz))
	ticker := ss.opts.clock.NewTicker(period)
	defer ticker.Stop()

	for i := uint32(0); i < session.NumSamples; i++ {
		select {
		case <-ctx.Done():
			ss.logger.Debug("Stream cancelled", "delivered", i, "of", session.NumSamples)
			return
		case <-ticker.C():
		}

		row, err := ss.reader.ReadNow()
		if err != nil {
			// end the stream early rather than deliver a gap
			ss.logger.Error("Stream read failed, closing session",
				"delivered", i, "of", session.NumSamples, "error", err)
			return
		}

		select {
		case session.ch <- row:
		case <-ctx.Done():
			ss.logger.Debug("Stream cancelled during push", "delivered", i, "of", session.NumSamples)
			return
		}
	}
}
