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
	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/util"
)

// defaultChecker is the Reject control behavior: reject immediately once
// the threshold is exceeded, unless the rule opts into priority occupancy
// of a future window via MaxQueueingTimeMs and the caller passes
// base.PrioritizedFlag, in which case a request that cannot pass now but
// could be satisfied by a bucket within the queueing budget is pledged
// into that bucket and told how long to sleep instead.
type defaultChecker struct {
	rule *Rule
}

func newDefaultChecker(rule *Rule) *defaultChecker {
	return &defaultChecker{rule: rule}
}

func (c *defaultChecker) blocked() *base.TokenResult {
	return base.NewTokenResultBlocked(base.NewBlockError(base.BlockTypeFlow, c.rule.String(), c.rule))
}

func (c *defaultChecker) doCheck(node base.StatNode, batchCount uint32, threshold float64, flag int32) *base.TokenResult {
	if c.rule.Grade == Concurrency {
		cur := node.CurrentConcurrency()
		if int64(cur)+int64(batchCount) > int64(threshold) {
			return c.blocked()
		}
		return base.NewTokenResultPass()
	}

	used := node.GetQPS(base.MetricEventPass) + node.GetQPS(base.MetricEventOccupiedPass)
	if used+float64(batchCount) <= threshold {
		return base.NewTokenResultPass()
	}

	// Priority occupy-future is only available to a prioritized caller on
	// a QPS-graded rule (we're already past the Concurrency branch above,
	// so Grade == QPS holds here); anything else rejects immediately.
	if flag != base.PrioritizedFlag || c.rule.MaxQueueingTimeMs <= 0 {
		return c.blocked()
	}

	currentTime := util.CurrentTimeMillis()
	waitMs := node.TryOccupyNext(currentTime, int32(batchCount), threshold)
	if waitMs == base.OccupyNoWay || waitMs > c.rule.MaxQueueingTimeMs {
		return c.blocked()
	}

	node.AddWaitingRequest(currentTime+uint64(waitMs), batchCount)
	node.AddOccupiedPass(int32(batchCount))
	return base.NewTokenResultShouldWait(waitMs * int64(1e6))
}
