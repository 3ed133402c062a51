// Copyright 1999-2020 Alibaba Group Holding Ltd.
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

// Package util carries the small collection of primitives the rest of the
// engine is built on: a monotonic millisecond clock, a sleep primitive,
// a recovering goroutine launcher and a ticker. The clock and the sleep
// primitive are overridable so the test suite never has to wait on a real
// clock.
package util

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shieldflow/shieldflow/logging"
)

// Clock supplies the current time to the engine. Tests install a fake clock
// via SetClock so sliding-window behaviour can be driven deterministically.
type Clock interface {
	NowMillis() uint64
}

type systemClock struct{}

func (systemClock) NowMillis() uint64 {
	return uint64(time.Now().UnixNano()) / uint64(time.Millisecond)
}

var currentClock atomic.Value

func init() {
	currentClock.Store(Clock(systemClock{}))
}

// SetClock overrides the clock used by CurrentTimeMillis. Passing nil
// restores the system clock.
func SetClock(c Clock) {
	if c == nil {
		c = systemClock{}
	}
	currentClock.Store(c)
}

// CurrentTimeMillis returns milliseconds since the Unix epoch, per the
// currently installed Clock.
func CurrentTimeMillis() uint64 {
	return currentClock.Load().(Clock).NowMillis()
}

// Sleeper is the injectable sleep primitive named in the host interfaces.
// flow.Slot sleeps through it (via Sleep) instead of time.Sleep directly,
// so tests can run SHOULD_WAIT paths without real wall-clock waits.
type Sleeper func(d time.Duration)

var sleeper atomic.Value

func init() {
	sleeper.Store(Sleeper(time.Sleep))
}

// SetSleeper overrides the sleep primitive. Passing nil restores time.Sleep.
func SetSleeper(s Sleeper) {
	if s == nil {
		s = time.Sleep
	}
	sleeper.Store(s)
}

// Sleep blocks for nanosToWait nanoseconds using the installed Sleeper.
// A non-positive duration is a no-op.
func Sleep(nanosToWait int64) {
	if nanosToWait <= 0 {
		return
	}
	sleeper.Load().(Sleeper)(time.Duration(nanosToWait))
}

// RunWithRecover runs f in the current goroutine, converting any panic into
// an error log line instead of crashing the host process. Background
// loops (metric aggregation, system-load sampling) are always launched as
// `go util.RunWithRecover(loop)`.
func RunWithRecover(f func()) {
	defer func() {
		if err := recover(); err != nil {
			logging.Error(nil, "Unexpected panic in background goroutine recovered by RunWithRecover", "panic", err)
		}
	}()
	f()
}

// Ticker is a minimal wrapper around time.Ticker exposing a channel method,
// so background loops can be written against an interface tests could swap.
type Ticker struct {
	t *time.Ticker
}

func NewTicker(d time.Duration) *Ticker {
	return &Ticker{t: time.NewTicker(d)}
}

func (tk *Ticker) C() <-chan time.Time {
	return tk.t.C
}

func (tk *Ticker) Stop() {
	tk.t.Stop()
}

// AtomicDuration is a small mutex-guarded int64 holder, e.g. for a
// timestamp in millis from which elapsed time is recomputed on every call
// instead of accumulating a float delta tick over tick. The warm-up
// controller does not use it; it keeps its own atomic int64 fields.
type AtomicDuration struct {
	mu    sync.Mutex
	value int64
}

func (a *AtomicDuration) Load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

func (a *AtomicDuration) Store(v int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}

// SliceHeader mirrors reflect.SliceHeader's layout; it lets
// AtomicBucketWrapArray reach into a []*BucketWrap's backing array to do
// raw pointer arithmetic for lock-free indexed CAS.
type SliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}
