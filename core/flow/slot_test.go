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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/stat"
	"github.com/shieldflow/shieldflow/util"
)

func buildCheckContext(resourceName string, node base.StatNode, batchCount uint32) *base.EntryContext {
	return buildCheckContextWithFlag(resourceName, node, batchCount, 0)
}

func buildCheckContextWithFlag(resourceName string, node base.StatNode, batchCount uint32, flag int32) *base.EntryContext {
	ctx := base.NewEmptyEntryContext()
	ctx.Resource = base.NewResourceWrapper(resourceName, base.ResTypeCommon, base.Outbound)
	ctx.StatNode = node
	ctx.Input = &base.SentinelInput{BatchCount: batchCount, Flag: flag}
	ctx.RuleCheckResult = base.NewTokenResultPass()
	return ctx
}

func TestFlowSlotBlocksOverThreshold(t *testing.T) {
	withFakeClock(t)
	defer ClearRules()
	require.NoError(t, LoadRules([]*Rule{{Resource: "flow-slot-res", Count: 1}}))

	node := stat.NewStatisticNode()
	ctx := buildCheckContext("flow-slot-res", node, 1)
	s := &Slot{}

	r1 := s.Check(ctx)
	assert.True(t, r1.IsPass())
	node.AddCount(base.MetricEventPass, 1)

	r2 := s.Check(ctx)
	assert.True(t, r2.IsBlocked())
}

func TestFlowSlotSleepsOnShouldWait(t *testing.T) {
	withFakeClock(t)
	defer ClearRules()
	require.NoError(t, LoadRules([]*Rule{{Resource: "flow-slot-wait-res", Count: 1, MaxQueueingTimeMs: 2000}}))

	node := stat.NewStatisticNode()
	node.AddCount(base.MetricEventPass, 1)
	ctx := buildCheckContextWithFlag("flow-slot-wait-res", node, 1, base.PrioritizedFlag)
	s := &Slot{}

	var slept time.Duration
	util.SetSleeper(func(d time.Duration) { slept += d })
	defer util.SetSleeper(nil)

	r := s.Check(ctx)
	assert.True(t, r.IsPass() || r.Status() == base.ResultStatusPass)
	assert.True(t, slept > 0)
}

func TestFlowSlotRejectsNonPrioritizedDespiteQueueingConfigured(t *testing.T) {
	withFakeClock(t)
	defer ClearRules()
	require.NoError(t, LoadRules([]*Rule{{Resource: "flow-slot-noprio-res", Count: 1, MaxQueueingTimeMs: 2000}}))

	node := stat.NewStatisticNode()
	node.AddCount(base.MetricEventPass, 1)
	ctx := buildCheckContext("flow-slot-noprio-res", node, 1) // flag not set
	s := &Slot{}

	r := s.Check(ctx)
	assert.True(t, r.IsBlocked())
}

func TestFlowSlotAssociatedResourceStrategy(t *testing.T) {
	withFakeClock(t)
	defer ClearRules()
	defer stat.ResetForTest()

	refNode := stat.GetOrCreateClusterNode("flow-slot-ref", base.ResTypeCommon)
	refNode.AddCount(base.MetricEventPass, 1)

	require.NoError(t, LoadRules([]*Rule{{
		Resource:         "flow-slot-guarded",
		Count:            1,
		RelationStrategy: AssociatedResource,
		RefResource:      "flow-slot-ref",
	}}))

	node := stat.NewStatisticNode()
	ctx := buildCheckContext("flow-slot-guarded", node, 1)
	s := &Slot{}

	r := s.Check(ctx)
	assert.True(t, r.IsBlocked())
}
