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

// Package system implements adaptive, system-wide overload protection:
// SystemSlot rejects inbound entries once the host's CPU usage, or
// the InboundNode's average response time/concurrency/QPS, crosses a
// configured threshold, independent of any resource-level flow rule.
package system

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/shieldflow/shieldflow/core/config"
	"github.com/shieldflow/shieldflow/logging"
	"github.com/shieldflow/shieldflow/util"
)

var (
	cpuUsageBits uint64 // math.Float64bits of the last sampled CPU usage, 0..1

	collectorOnce    sync.Once
	collectorStarted int32
)

// InitCollector starts the background CPU sampler if it is not already
// running. Safe to call repeatedly and from multiple goroutines; only the
// first call has any effect.
func InitCollector() {
	collectorOnce.Do(func() {
		atomic.StoreInt32(&collectorStarted, 1)
		go util.RunWithRecover(collectLoop)
	})
}

// CollectorRunning reports whether the sampler goroutine was started.
// SystemSlot uses this to skip the CPU check entirely if InitCollector
// was never called, rather than checking against a permanently-zero
// reading that would look like an idle system.
func CollectorRunning() bool {
	return atomic.LoadInt32(&collectorStarted) == 1
}

func collectLoop() {
	for {
		interval := time.Duration(config.SystemRuleSampleInterval()) * time.Millisecond
		sample()
		time.Sleep(interval)
	}
}

func sample() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(nil, "system CPU sampler recovered from panic", "panic", r)
		}
	}()
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	usage := percents[0] / 100.0
	atomic.StoreUint64(&cpuUsageBits, math.Float64bits(usage))
}

// CurrentCPUUsage returns the most recent sample as a 0..1 fraction, or 0
// if the collector has never produced a sample yet.
func CurrentCPUUsage() float64 {
	return math.Float64frombits(atomic.LoadUint64(&cpuUsageBits))
}
