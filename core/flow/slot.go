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
	"github.com/pkg/errors"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/stat"
	metricexporter "github.com/shieldflow/shieldflow/exporter/metric"
	"github.com/shieldflow/shieldflow/logging"
	"github.com/shieldflow/shieldflow/util"
)

const (
	RuleCheckSlotOrder = 2000
)

var (
	DefaultSlot = &Slot{}

	flowWaitCount = metricexporter.NewCounter(
		"flow_wait_total",
		"Count of entries that took the priority-wait path",
		[]string{"resource"})
)

func init() {
	metricexporter.Register(flowWaitCount)
}

// Slot is the RuleCheckSlot implementing flow control: every rule
// attached to the entering resource is checked in order, and the first
// BLOCKED result short-circuits the rest. A SHOULD_WAIT result sleeps the
// calling goroutine for the controller-computed duration and then moves
// on to the next rule — waiting out one rule's occupancy does not exempt
// the entry from rules that follow it.
type Slot struct {
}

func (s *Slot) Order() uint32 {
	return RuleCheckSlotOrder
}

func (s *Slot) Check(ctx *base.EntryContext) *base.TokenResult {
	res := ctx.Resource.Name()
	tcs := getTrafficControllerListFor(res)
	result := ctx.RuleCheckResult

	for _, tc := range tcs {
		if tc == nil {
			logging.Warn("[FlowSlot Check] nil traffic shaping controller", "resourceName", res)
			continue
		}
		if tc.rule.RelationStrategy == Chain {
			if e := ctx.Entry(); e == nil || e.Context() == nil || e.Context().Name() != tc.rule.RefResource {
				continue
			}
		}
		node := ctx.StatNode
		if tc.rule.RelationStrategy == Direct && ctx.ClusterNode != nil {
			node = ctx.ClusterNode
		}
		r := canPassCheckWithFlag(tc, node, ctx.Input.BatchCount, ctx.Input.Flag)
		if r == nil {
			continue
		}
		if r.Status() == base.ResultStatusBlocked {
			return r
		}
		if r.Status() == base.ResultStatusShouldWait {
			if nanosToWait := r.NanosToWait(); nanosToWait > 0 {
				flowWaitCount.Add(float64(ctx.Input.BatchCount), res)
				util.Sleep(nanosToWait)
			}
			continue
		}
	}
	return result
}

func canPassCheckWithFlag(tc *TrafficShapingController, node base.StatNode, batchCount uint32, flag int32) *base.TokenResult {
	return checkInLocal(tc, node, batchCount, flag)
}

func selectNodeByRelStrategy(rule *Rule, node base.StatNode) base.StatNode {
	if rule.RelationStrategy == AssociatedResource {
		return stat.GetResourceNode(rule.RefResource)
	}
	return node
}

func checkInLocal(tc *TrafficShapingController, resStat base.StatNode, batchCount uint32, flag int32) *base.TokenResult {
	actual := selectNodeByRelStrategy(tc.rule, resStat)
	if actual == nil {
		logging.FrequentErrorOnce.Do(func() {
			logging.Error(errors.Errorf("nil resource node"), "no resource node for flow rule in FlowSlot.checkInLocal", "rule", tc.rule)
		})
		return base.NewTokenResultPass()
	}
	return tc.PerformChecking(actual, batchCount, flag)
}
