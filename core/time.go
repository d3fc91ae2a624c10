// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	return &Time{
		fps:            cfg.FramesPerSecond,
		fpsTicker:      time.NewTicker(frameInterval(cfg.FramesPerSecond)),
		eventPollDelay: cfg.EventPollDelay,
		eventTicker:    time.NewTicker(pollInterval(cfg.EventPollDelay)),
		start:          time.Now(),
	}
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		return time.Nanosecond
	}
	return time.Second / time.Duration(fps)
}

func pollInterval(delay int) time.Duration {
	if delay <= 0 {
		return time.Millisecond
	}
	return time.Duration(delay) * time.Millisecond
}

// Time contains all the time services and tickers
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventPollDelay int
	eventTicker    *time.Ticker

	start time.Time
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Elapsed returns the time since the service was created.
func (t *Time) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop stops both tickers.
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
