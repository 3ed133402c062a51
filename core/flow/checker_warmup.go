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

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/util"
)

// warmUpChecker is the WarmUp (and WarmUpRateLimit) control behavior: a
// token bucket that starts full of storedTokens — meaning "cold" — and
// allows count/coldFactor qps at maxToken, rising (reciprocally, not
// linearly) as the bucket drains, until at or below warningToken the full
// count qps is allowed. A system
// idle long enough to refill the bucket back above warningToken ramps
// back down automatically, so a cold cache or connection pool behind the
// resource gets eased into load instead of slammed immediately after a
// quiet period.
type warmUpChecker struct {
	rule          *Rule
	withRateLimit bool

	count      float64
	coldFactor float64
	warningToken int64
	maxToken     int64

	storedTokens   int64
	lastFilledTime int64 // millis, floored to the second; 0 means "never filled"

	latestPassedTime int64 // used only when withRateLimit is set
}

func newWarmUpChecker(rule *Rule, withRateLimit bool) *warmUpChecker {
	count := rule.Count
	coldFactor := float64(rule.WarmUpColdFactor)
	warmUpPeriodSec := float64(rule.WarmUpPeriodSec)

	warningToken := int64(warmUpPeriodSec * count / (coldFactor - 1))
	maxToken := warningToken + int64(2*warmUpPeriodSec*count/(1.0+coldFactor))
	if maxToken <= warningToken {
		maxToken = warningToken + 1
	}

	return &warmUpChecker{
		rule:             rule,
		withRateLimit:    withRateLimit,
		count:            count,
		coldFactor:       coldFactor,
		warningToken:     warningToken,
		maxToken:         maxToken,
		storedTokens:     maxToken,
		latestPassedTime: -1,
	}
}

func (c *warmUpChecker) blocked() *base.TokenResult {
	return base.NewTokenResultBlocked(base.NewBlockError(base.BlockTypeFlow, c.rule.String(), c.rule))
}

// refill adds elapsed-time tokens back to the bucket. The rate depends on
// whether the bucket is cold or warm *before* this refill: a bucket that's
// still above warningToken only earns tokens at count/coldFactor (it takes
// a full cold period to refill from empty), while a warm bucket earns at
// the full count rate.
func (c *warmUpChecker) refill(nowMs uint64) {
	nowSec := int64(nowMs/1000) * 1000
	last := atomic.LoadInt64(&c.lastFilledTime)
	if last == 0 {
		atomic.CompareAndSwapInt64(&c.lastFilledTime, 0, nowSec)
		return
	}
	if nowSec <= last {
		return
	}
	elapsedSec := float64(nowSec-last) / 1000
	for {
		old := atomic.LoadInt64(&c.storedTokens)
		rate := c.count
		if old >= c.warningToken {
			rate = c.count / c.coldFactor
		}
		refillAmount := int64(elapsedSec * rate)
		if refillAmount <= 0 {
			return
		}
		next := old + refillAmount
		if next > c.maxToken {
			next = c.maxToken
		}
		if atomic.CompareAndSwapInt64(&c.storedTokens, old, next) {
			atomic.StoreInt64(&c.lastFilledTime, nowSec)
			return
		}
	}
}

// allowedQps applies the reciprocal ramp: while storedTokens sits at or
// above warningToken (cold), the inter-request interval is linear in
// storedTokens, so the admitted rate is the reciprocal of that interval —
// not a linear interpolation of the rate itself. The two curves agree
// only at the endpoints (count at warningToken, count/coldFactor at
// maxToken); in between, qps rises slower than a straight-line ramp
// would, mirroring Guava's SmoothWarmingUp.
func (c *warmUpChecker) allowedQps() float64 {
	stored := atomic.LoadInt64(&c.storedTokens)
	if stored < c.warningToken {
		return c.count
	}
	span := float64(c.maxToken - c.warningToken)
	floor := c.count / c.coldFactor
	if span <= 0 {
		return floor
	}
	slope := (c.coldFactor - 1) / c.count / span
	restToken := float64(stored - c.warningToken)
	qps := 1 / (slope*restToken + 1/c.count)
	if qps < floor {
		qps = floor
	}
	return qps
}

func (c *warmUpChecker) consume(batchCount uint32) {
	for {
		old := atomic.LoadInt64(&c.storedTokens)
		next := old - int64(batchCount)
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&c.storedTokens, old, next) {
			return
		}
	}
}

func (c *warmUpChecker) doCheck(node base.StatNode, batchCount uint32, _ float64, _ int32) *base.TokenResult {
	now := util.CurrentTimeMillis()
	c.refill(now)
	allowed := c.allowedQps()

	used := node.GetQPS(base.MetricEventPass) + node.GetQPS(base.MetricEventOccupiedPass)
	if used+float64(batchCount) <= allowed {
		c.consume(batchCount)
		return base.NewTokenResultPass()
	}

	if !c.withRateLimit {
		return c.blocked()
	}
	return c.rateLimitedWait(batchCount, allowed)
}

// rateLimitedWait backs the WarmUpRateLimit behavior: once the immediate
// ramped threshold is exceeded, fall back to leaky-bucket spacing at the
// currently allowed qps instead of rejecting outright.
func (c *warmUpChecker) rateLimitedWait(batchCount uint32, allowed float64) *base.TokenResult {
	if allowed <= 0 {
		return c.blocked()
	}
	costTime := int64(float64(batchCount) / allowed * 1000)

	for {
		latest := atomic.LoadInt64(&c.latestPassedTime)
		expectedTime := latest + costTime
		now := int64(util.CurrentTimeMillis())

		if expectedTime <= now {
			if atomic.CompareAndSwapInt64(&c.latestPassedTime, latest, now) {
				c.consume(batchCount)
				return base.NewTokenResultPass()
			}
			continue
		}

		waitMs := expectedTime - now
		if waitMs > c.rule.MaxQueueingTimeMs {
			return c.blocked()
		}
		if !atomic.CompareAndSwapInt64(&c.latestPassedTime, latest, expectedTime) {
			continue
		}
		c.consume(batchCount)
		return base.NewTokenResultShouldWait(waitMs * int64(1e6))
	}
}
