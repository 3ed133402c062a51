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

package flow

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/stat"
	"github.com/shieldflow/shieldflow/util"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMillis() uint64 { return uint64(atomic.LoadInt64(&c.ms)) }
func (c *fakeClock) advance(ms int64)  { atomic.AddInt64(&c.ms, ms) }

func withFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{ms: 1_000_000}
	util.SetClock(c)
	t.Cleanup(func() { util.SetClock(nil) })
	return c
}

func TestDefaultCheckerRejectsOverThreshold(t *testing.T) {
	withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 2}
	checker := newDefaultChecker(rule)

	assert.True(t, checker.doCheck(node, 1, rule.Count, 0).IsPass())
	node.AddCount(base.MetricEventPass, 1)
	assert.True(t, checker.doCheck(node, 1, rule.Count, 0).IsPass())
	node.AddCount(base.MetricEventPass, 1)
	// Two already recorded, threshold is 2: a third unit must be blocked.
	r := checker.doCheck(node, 1, rule.Count, 0)
	assert.True(t, r.IsBlocked())
}

func TestDefaultCheckerConcurrencyGrade(t *testing.T) {
	withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 1, Grade: Concurrency}
	checker := newDefaultChecker(rule)

	node.IncreaseConcurrency()
	r := checker.doCheck(node, 1, rule.Count, 0)
	assert.True(t, r.IsBlocked())
}

func TestDefaultCheckerOccupyFuture(t *testing.T) {
	clock := withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 1, MaxQueueingTimeMs: 2000}
	checker := newDefaultChecker(rule)

	node.AddCount(base.MetricEventPass, 1)
	r := checker.doCheck(node, 1, rule.Count, base.PrioritizedFlag)
	require.Equal(t, base.ResultStatusShouldWait, r.Status())
	assert.True(t, r.NanosToWait() > 0)
	_ = clock
}

func TestDefaultCheckerOccupyFutureRequiresPrioritizedFlag(t *testing.T) {
	withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 1, MaxQueueingTimeMs: 2000}
	checker := newDefaultChecker(rule)

	node.AddCount(base.MetricEventPass, 1)
	// Same setup as TestDefaultCheckerOccupyFuture, but without the
	// priority flag: must reject immediately rather than occupy a future
	// bucket.
	r := checker.doCheck(node, 1, rule.Count, 0)
	assert.True(t, r.IsBlocked())
}

func TestRateLimiterCheckerSpacesRequests(t *testing.T) {
	withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 10, MaxQueueingTimeMs: 5000} // costTime = 100ms/request
	checker := newRateLimiterChecker(rule)

	first := checker.doCheck(node, 1, rule.Count, 0)
	assert.True(t, first.IsPass())

	second := checker.doCheck(node, 1, rule.Count, 0)
	require.Equal(t, base.ResultStatusShouldWait, second.Status())
	assert.InDelta(t, 100*1e6, second.NanosToWait(), 5*1e6)
}

func TestRateLimiterCheckerBlocksWhenWaitExceedsQueue(t *testing.T) {
	withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 10, MaxQueueingTimeMs: 10}
	checker := newRateLimiterChecker(rule)

	checker.doCheck(node, 1, rule.Count, 0)
	r := checker.doCheck(node, 1, rule.Count, 0)
	assert.True(t, r.IsBlocked())
}

func TestWarmUpCheckerStartsCold(t *testing.T) {
	withFakeClock(t)
	node := stat.NewStatisticNode()
	rule := &Rule{Resource: "r", Count: 10, ControlBehavior: WarmUp, WarmUpPeriodSec: 10, WarmUpColdFactor: 3}
	checker := newWarmUpChecker(rule, false)

	assert.InDelta(t, rule.Count/float64(rule.WarmUpColdFactor), checker.allowedQps(), 0.01)

	// A cold checker admits a batch of exactly the cold rate.
	r := checker.doCheck(node, uint32(rule.Count/float64(rule.WarmUpColdFactor)), rule.Count, 0)
	assert.True(t, r.IsPass())
}

func TestWarmUpCheckerRampIsReciprocalNotLinear(t *testing.T) {
	rule := &Rule{Resource: "r", Count: 10, ControlBehavior: WarmUp, WarmUpPeriodSec: 10, WarmUpColdFactor: 3}
	checker := newWarmUpChecker(rule, false)

	mid := checker.warningToken + (checker.maxToken-checker.warningToken)/2
	atomic.StoreInt64(&checker.storedTokens, mid)

	got := checker.allowedQps()

	floor := rule.Count / float64(rule.WarmUpColdFactor)
	span := float64(checker.maxToken - checker.warningToken)
	slope := (float64(rule.WarmUpColdFactor) - 1) / rule.Count / span
	restToken := float64(mid - checker.warningToken)
	want := 1 / (slope*restToken + 1/rule.Count)
	assert.InDelta(t, want, got, 0.01)

	linear := rule.Count - (float64(mid-checker.warningToken)/span)*(rule.Count-floor)
	assert.NotInDelta(t, linear, got, 0.1, "ramp must be the reciprocal curve, not a linear interpolation")
}

func TestWarmUpCheckerRefillRateDependsOnColdness(t *testing.T) {
	clock := withFakeClock(t)
	rule := &Rule{Resource: "r", Count: 10, ControlBehavior: WarmUp, WarmUpPeriodSec: 10, WarmUpColdFactor: 3}
	checker := newWarmUpChecker(rule, false)

	// Drain to just below warningToken (warm) and record the refill over
	// one second — it must accrue at the full count rate, not count/k.
	atomic.StoreInt64(&checker.storedTokens, checker.warningToken-1)
	atomic.StoreInt64(&checker.lastFilledTime, int64(clock.NowMillis()/1000)*1000)
	clock.advance(1000)
	checker.refill(clock.NowMillis())
	warmGain := atomic.LoadInt64(&checker.storedTokens) - (checker.warningToken - 1)
	assert.EqualValues(t, int64(rule.Count), warmGain)

	// Reset to midway between warningToken and maxToken (cold, with
	// headroom to refill without hitting the cap) and check the same
	// elapsed second only accrues at count/k.
	coldStart := checker.warningToken + (checker.maxToken-checker.warningToken)/2
	atomic.StoreInt64(&checker.storedTokens, coldStart)
	atomic.StoreInt64(&checker.lastFilledTime, int64(clock.NowMillis()/1000)*1000)
	clock.advance(1000)
	checker.refill(clock.NowMillis())
	coldGain := atomic.LoadInt64(&checker.storedTokens) - coldStart
	assert.EqualValues(t, int64(rule.Count/float64(rule.WarmUpColdFactor)), coldGain)
}
