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

package limiter

import (
	"errors"
	"sync"
)

// DefaultMaxInFlight is the number of concurrent upstream calls allowed per
// initiator.
const DefaultMaxInFlight = 8

// ErrTooManyInFlight is returned by Slots.Do when the initiator is at its
// concurrency limit. fn is not called.
var ErrTooManyInFlight = errors.New("too many requests in flight")

// Slots bounds concurrent operations per initiator.
type Slots struct {
	mu       sync.Mutex
	inFlight map[string]int
	max      int
}

// NewSlots creates a Slots allowing maxInFlight concurrent calls per
// initiator. Non-positive values use DefaultMaxInFlight.
func NewSlots(maxInFlight int) *Slots {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Slots{
		inFlight: make(map[string]int),
		max:      maxInFlight,
	}
}

// Do runs fn while holding one of initiator's slots. The slot is released
// when fn returns or panics.
func (s *Slots) Do(initiator string, fn func() error) error {
	if !s.acquire(initiator) {
		return ErrTooManyInFlight
	}
	defer s.release(initiator)
	return fn()
}

// InFlight returns initiator's current slot count.
func (s *Slots) InFlight(initiator string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[initiator]
}

func (s *Slots) acquire(initiator string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[initiator] >= s.max {
		return false
	}
	s.inFlight[initiator]++
	return true
}

func (s *Slots) release(initiator string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.inFlight[initiator] - 1
	if n <= 0 {
		delete(s.inFlight, initiator)
		return
	}
	s.inFlight[initiator] = n
}
