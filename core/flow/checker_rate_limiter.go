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
	"math"
	"sync/atomic"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/util"
)

// rateLimiterChecker is the RateLimit control behavior: a leaky bucket
// that spaces admitted requests evenly instead of letting a whole
// window's worth of traffic burst through as soon as the window rolls
// over. latestPassedTime is the millisecond timestamp the bucket last
// promised to a request, advanced by CAS so concurrent callers each claim
// a distinct future slot rather than racing onto the same one.
type rateLimiterChecker struct {
	rule             *Rule
	latestPassedTime int64
}

func newRateLimiterChecker(rule *Rule) *rateLimiterChecker {
	return &rateLimiterChecker{rule: rule, latestPassedTime: -1}
}

func (c *rateLimiterChecker) blocked() *base.TokenResult {
	return base.NewTokenResultBlocked(base.NewBlockError(base.BlockTypeFlow, c.rule.String(), c.rule))
}

func (c *rateLimiterChecker) doCheck(node base.StatNode, batchCount uint32, threshold float64, _ int32) *base.TokenResult {
	if threshold <= 0 {
		return c.blocked()
	}

	costTime := int64(math.Round(float64(batchCount) / threshold * 1000))

	for {
		latest := atomic.LoadInt64(&c.latestPassedTime)
		expectedTime := latest + costTime
		now := int64(util.CurrentTimeMillis())

		if expectedTime <= now {
			if atomic.CompareAndSwapInt64(&c.latestPassedTime, latest, now) {
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
		return base.NewTokenResultShouldWait(waitMs * int64(1e6))
	}
}
