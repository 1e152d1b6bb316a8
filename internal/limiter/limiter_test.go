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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestWindow_Admit(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(3)
	w.now = clock.Now

	assert.True(t, w.Admit("alice"))
	assert.True(t, w.Admit("alice"))
	assert.True(t, w.Admit("alice"))
	assert.False(t, w.Admit("alice"))

	// other initiators are independent
	assert.True(t, w.Admit("bob"))

	clock.Advance(59 * time.Second)
	assert.False(t, w.Admit("alice"))
	assert.Equal(t, time.Second, w.RetryAfter("alice"))

	clock.Advance(time.Second)
	assert.True(t, w.Admit("alice"))
}

func TestWindow_FreshWindowAdmitsUpToMax(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(DefaultMaxPerMinute)
	w.now = clock.Now

	for i := 0; i < 500; i++ {
		w.Admit("alice")
	}
	clock.Advance(WindowLength)

	for n := 1; n <= DefaultMaxPerMinute+1; n++ {
		assert.Equal(t, n <= DefaultMaxPerMinute, w.Admit("alice"), "request %d", n)
	}
}

func TestWindow_Defaults(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, DefaultMaxPerMinute, w.max)
}

func TestWindow_Prune(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(10)
	w.now = clock.Now

	w.Admit("alice")
	clock.Advance(30 * time.Second)
	w.Admit("bob")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, w.Prune())
	assert.Equal(t, 1, w.Len())
}

func TestWindow_ConcurrentAdmitIsExact(t *testing.T) {
	w := NewWindow(50)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Admit("alice") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}

func TestSlots_Do(t *testing.T) {
	s := NewSlots(1)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- s.Do("alice", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := s.Do("alice", func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyInFlight)

	// other initiators are unaffected
	assert.NoError(t, s.Do("bob", func() error { return nil }))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, s.InFlight("alice"))
}

func TestSlots_ReleasesOnErrorAndPanic(t *testing.T) {
	s := NewSlots(2)

	boom := errors.New("boom")
	assert.ErrorIs(t, s.Do("alice", func() error { return boom }), boom)
	assert.Equal(t, 0, s.InFlight("alice"))

	assert.Panics(t, func() {
		_ = s.Do("alice", func() error { panic("upstream exploded") })
	})
	assert.Equal(t, 0, s.InFlight("alice"))
}

func TestSlots_Conservation(t *testing.T) {
	const limit = 4
	s := NewSlots(limit)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		peak    int
		current int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Do("alice", func() error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				current--
				mu.Unlock()

				if i%3 == 0 {
					return errors.New("failed")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, limit)
	assert.Equal(t, 0, s.InFlight("alice"))
}

func TestAuthFailures(t *testing.T) {
	clock := newFakeClock()
	a := NewAuthFailures(AuthFailureConfig{PerMinute: 1, Burst: 2, IdleTTL: time.Minute})
	a.now = clock.Now

	assert.True(t, a.Record("10.0.0.1"))
	assert.True(t, a.Record("10.0.0.1"))
	assert.False(t, a.Record("10.0.0.1"))
	assert.True(t, a.Record("10.0.0.2"))

	clock.Advance(time.Minute)
	assert.True(t, a.Record("10.0.0.1"))
	assert.False(t, a.Record("10.0.0.1"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, a.Prune())
}
