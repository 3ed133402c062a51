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

package stat

import (
	"github.com/shieldflow/shieldflow/core/base"
	metricexporter "github.com/shieldflow/shieldflow/exporter/metric"
	"github.com/shieldflow/shieldflow/util"
)

const (
	StatSlotOrder = 1000
	ResultPass    = "pass"
	ResultBlock   = "block"
)

var (
	DefaultSlot = &Slot{}

	handledCounter = metricexporter.NewCounter(
		"handled_total",
		"Total handled count",
		[]string{"resource", "result", "block_type"})
)

func init() {
	metricexporter.Register(handledCounter)
}

// Slot is the StatSlot: it records pass/block/complete counts on the
// current node, the origin node (if set, via DefaultNode/ClusterNode
// forwarding), and the process-wide InboundNode for inbound resources.
type Slot struct {
}

func (s *Slot) Order() uint32 {
	return StatSlotOrder
}

func (s *Slot) OnEntryPassed(ctx *base.EntryContext) {
	count := int64(ctx.Input.BatchCount)
	s.recordPassFor(ctx.StatNode, count)
	s.recordPassFor(ctx.OriginNode, count)
	if ctx.Resource.FlowType() == base.Inbound {
		s.recordPassFor(InboundNode(), count)
	}
	handledCounter.Add(float64(count), ctx.Resource.Name(), ResultPass, "")
}

func (s *Slot) OnEntryBlocked(ctx *base.EntryContext, blockError *base.BlockError) {
	count := int64(ctx.Input.BatchCount)
	s.recordBlockFor(ctx.StatNode, count)
	s.recordBlockFor(ctx.OriginNode, count)
	if ctx.Resource.FlowType() == base.Inbound {
		s.recordBlockFor(InboundNode(), count)
	}
	blockType := "unknown"
	if blockError != nil {
		blockType = blockError.BlockType().String()
	}
	handledCounter.Add(float64(count), ctx.Resource.Name(), ResultBlock, blockType)
}

func (s *Slot) OnCompleted(ctx *base.EntryContext) {
	rt := util.CurrentTimeMillis() - ctx.StartTime()
	ctx.PutRt(rt)
	count := int64(ctx.Input.BatchCount)
	s.recordCompleteFor(ctx.StatNode, count, rt, ctx.Err())
	s.recordCompleteFor(ctx.OriginNode, count, rt, ctx.Err())
	if ctx.Resource.FlowType() == base.Inbound {
		s.recordCompleteFor(InboundNode(), count, rt, ctx.Err())
	}
}

func (s *Slot) recordPassFor(sn base.StatNode, count int64) {
	if sn == nil {
		return
	}
	sn.IncreaseConcurrency()
	sn.AddCount(base.MetricEventPass, count)
}

func (s *Slot) recordBlockFor(sn base.StatNode, count int64) {
	if sn == nil {
		return
	}
	sn.AddCount(base.MetricEventBlock, count)
}

func (s *Slot) recordCompleteFor(sn base.StatNode, count int64, rt uint64, err error) {
	if sn == nil {
		return
	}
	if err != nil {
		sn.AddCount(base.MetricEventError, count)
	}
	sn.AddCount(base.MetricEventRt, int64(rt))
	sn.AddCount(base.MetricEventComplete, count)
	sn.DecreaseConcurrency()
}
