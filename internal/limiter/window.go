// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package limiter implements per-initiator abuse controls: a fixed-window
// request counter, an in-flight slot counter and a per-address throttle for
// failed authentication.
package limiter

import (
	"sync"
	"time"
)

const (
	// WindowLength is the length of one rate window.
	WindowLength = time.Minute

	// DefaultMaxPerMinute is the request budget per initiator per window.
	DefaultMaxPerMinute = 120
)

type windowEntry struct {
	start time.Time
	count int
}

// Window is a fixed 60s request counter keyed by initiator.
type Window struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	max     int
	now     func() time.Time
}

// NewWindow creates a Window admitting maxPerMinute requests per initiator.
// Non-positive values use DefaultMaxPerMinute.
func NewWindow(maxPerMinute int) *Window {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxPerMinute
	}
	return &Window{
		entries: make(map[string]*windowEntry),
		max:     maxPerMinute,
		now:     time.Now,
	}
}

// Admit counts one request for initiator and reports whether it is within
// budget. Rejected requests still count toward the current window.
func (w *Window) Admit(initiator string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	e, ok := w.entries[initiator]
	if !ok || now.Sub(e.start) >= WindowLength {
		e = &windowEntry{start: now}
		w.entries[initiator] = e
	}
	e.count++
	return e.count <= w.max
}

// RetryAfter returns the time until initiator's current window resets.
func (w *Window) RetryAfter(initiator string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[initiator]
	if !ok {
		return 0
	}
	remaining := WindowLength - w.now().Sub(e.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune drops entries whose window has elapsed.
func (w *Window) Prune() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for id, e := range w.entries {
		if now.Sub(e.start) >= WindowLength {
			delete(w.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked initiators.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
