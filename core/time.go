// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "time"

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	interval := time.Nanosecond
	if cfg.FramesPerSecond > 0 {
		interval = time.Second / time.Duration(cfg.FramesPerSecond)
	}

	poll := time.Duration(cfg.EventPollDelay) * time.Millisecond
	if poll <= 0 {
		poll = interval
	}

	return &Time{
		fps:            cfg.FramesPerSecond,
		frameTicker:    time.NewTicker(interval),
		eventPollDelay: poll,
		eventTicker:    time.NewTicker(poll),
		started:        time.Now(),
	}
}

// Time contains all the time services and tickers
type Time struct {
	fps         int
	frameTicker *time.Ticker

	eventPollDelay time.Duration
	eventTicker    *time.Ticker

	started time.Time
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FrameTicker fires once per frame
func (t *Time) FrameTicker() *time.Ticker {
	return t.frameTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// EventPollDelay is the event ticker interval
func (t *Time) EventPollDelay() time.Duration {
	return t.eventPollDelay
}

// Elapsed is the time since the service was created
func (t *Time) Elapsed() time.Duration {
	return time.Since(t.started)
}

// Stop stops both tickers
func (t *Time) Stop() {
	t.frameTicker.Stop()
	t.eventTicker.Stop()
}
