// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"context"
	"time"

	"github.com/emblemhq/emblem/lib/clock"
)

// Every invokes fn at each time the schedule matches, until ctx is
// cancelled. The next occurrence is computed from the clock after fn
// returns, so an invocation that overruns its slot skips the missed
// occurrences instead of running them back to back.
//
// Returns ctx.Err() on cancellation, or a Next error if the schedule
// has no future occurrence.
func (s Schedule) Every(ctx context.Context, clk clock.Clock, fn func(scheduled time.Time)) error {
	for {
		now := clk.Now()
		next, err := s.Next(now)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(next.Sub(now)):
			fn(next)
		}
	}
}
