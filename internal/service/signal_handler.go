// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// SignalHandler is a Runner whose Run returns when one of the
// registered OS signals arrives, releasing the run group so every
// other service shuts down.
type SignalHandler struct {
	signals []os.Signal
}

var _ Runner = (*SignalHandler)(nil)

// NewSignalHandler creates a SignalHandler waiting on signals
func NewSignalHandler(signals ...os.Signal) *SignalHandler {
	return &SignalHandler{
		signals: signals,
	}
}

func (sh *SignalHandler) Name() string {
	return "signal-handler"
}

// Run blocks until a registered signal is delivered or ctx is done.
func (sh *SignalHandler) Run(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, sh.signals...)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case <-c:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
