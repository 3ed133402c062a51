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

package system

import (
	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/config"
	"github.com/shieldflow/shieldflow/core/stat"
)

const RuleCheckSlotOrder = 1500

// Slot is a RuleCheckSlot that only ever looks at inbound entries: it
// compares config.SystemRule thresholds against the process-wide
// InboundNode and, for CPU, the background collector's last sample. It
// runs before FlowSlot (lower Order) so an overloaded process sheds load
// before any resource gets to spend time evaluating its own flow rules.
type Slot struct {
}

func (s *Slot) Order() uint32 {
	return RuleCheckSlotOrder
}

func (s *Slot) Check(ctx *base.EntryContext) *base.TokenResult {
	if ctx.Resource.FlowType() != base.Inbound {
		return ctx.RuleCheckResult
	}

	if limit := config.SystemRuleCPUUsageLimit(); limit > 0 && CollectorRunning() {
		if CurrentCPUUsage() > limit {
			return blocked("cpu usage exceeds system rule limit")
		}
	}

	inbound := stat.InboundNode()

	if limit := config.SystemRuleConcurrencyLimit(); limit > 0 {
		if inbound.CurrentConcurrency() > limit {
			return blocked("concurrency exceeds system rule limit")
		}
	}

	if limit := config.SystemRuleAvgRTLimitMs(); limit > 0 {
		if inbound.AvgRT() > limit {
			return blocked("avg rt exceeds system rule limit")
		}
	}

	if limit := config.SystemRuleQPSLimit(); limit > 0 {
		used := inbound.GetQPS(base.MetricEventPass) + inbound.GetQPS(base.MetricEventOccupiedPass)
		if used > limit {
			return blocked("qps exceeds system rule limit")
		}
	}

	return ctx.RuleCheckResult
}

func blocked(message string) *base.TokenResult {
	return base.NewTokenResultBlocked(base.NewBlockError(base.BlockTypeSystem, message, nil))
}
