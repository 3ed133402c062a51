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

// Package stat is the statistics runtime: StatisticNode's sliding windows,
// the DefaultNode/ClusterNode calling-tree, and the StatSlot that drives
// them from the slot chain.
package stat

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/shieldflow/shieldflow/core/base"
	statbase "github.com/shieldflow/shieldflow/core/stat/base"
	"github.com/shieldflow/shieldflow/util"
)

const (
	// secondSampleCount/secondIntervalMs give a 1-second resolution window
	// made of 2 buckets, per the data model's default.
	secondSampleCount = 2
	secondIntervalMs  = 1000
	// minuteSampleCount/minuteIntervalMs give a 1-minute resolution window
	// made of 60 buckets.
	minuteSampleCount = 60
	minuteIntervalMs  = 60 * 1000
)

var bucketGen = statbase.MetricBucketGenerator{}

// StatisticNode holds two time-windowed metric arrays (1s/2-bucket and
// 1m/60-bucket), a current-thread (concurrency) gauge, and the
// monotonically advancing lastOccupiedTime used for future-window
// borrowing. DefaultNode and ClusterNode both embed one.
type StatisticNode struct {
	secondArray *statbase.LeapArray
	minuteArray *statbase.LeapArray

	concurrency int32
	minRT       int64

	occupyMu         sync.Mutex
	lastOccupiedTime uint64
}

func NewStatisticNode() *StatisticNode {
	secondArr, err := statbase.NewLeapArray(secondSampleCount, secondIntervalMs, bucketGen)
	if err != nil {
		panic(err)
	}
	minuteArr, err := statbase.NewLeapArray(minuteSampleCount, minuteIntervalMs, bucketGen)
	if err != nil {
		panic(err)
	}
	return &StatisticNode{
		secondArray: secondArr,
		minuteArray: minuteArr,
		minRT:       math.MaxInt64,
	}
}

func (n *StatisticNode) arrayFor(intervalInMs uint32) *statbase.LeapArray {
	if intervalInMs <= secondIntervalMs {
		return n.secondArray
	}
	return n.minuteArray
}

func (n *StatisticNode) AddCount(event base.MetricEvent, count int64) {
	n.addCountAt(util.CurrentTimeMillis(), event, count)
}

func (n *StatisticNode) addCountAt(now uint64, event base.MetricEvent, count int64) {
	if bw, err := n.secondArray.BucketOfTime(now, bucketGen); err == nil {
		bw.Value.Load().(*statbase.MetricBucket).Add(event, count)
	}
	if bw, err := n.minuteArray.BucketOfTime(now, bucketGen); err == nil {
		bw.Value.Load().(*statbase.MetricBucket).Add(event, count)
	}
	if event == base.MetricEventRt {
		n.updateMinRT(count)
	}
}

func (n *StatisticNode) updateMinRT(sample int64) {
	for {
		cur := atomic.LoadInt64(&n.minRT)
		if sample >= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&n.minRT, cur, sample) {
			return
		}
	}
}

func (n *StatisticNode) GetSum(event base.MetricEvent, intervalInMs uint32) int64 {
	var total int64
	for _, bw := range n.arrayFor(intervalInMs).Values() {
		total += bw.Value.Load().(*statbase.MetricBucket).Get(event)
	}
	return total
}

func (n *StatisticNode) GetQPS(event base.MetricEvent) float64 {
	total := n.GetSum(event, secondIntervalMs)
	return float64(total) / (float64(secondIntervalMs) / 1000.0)
}

// GetPreviousQPS returns the QPS recorded in the bucket immediately before
// the currently active one — a settled reading rather than the
// still-filling current bucket.
func (n *StatisticNode) GetPreviousQPS(event base.MetricEvent) float64 {
	now := util.CurrentTimeMillis()
	bucketLen := n.secondArray.BucketLengthInMs()
	curStart := now - (now % uint64(bucketLen))
	prevStart := curStart - uint64(bucketLen)
	var total int64
	for _, bw := range n.secondArray.ValuesConditional(now, func(ts uint64) bool { return ts == prevStart }) {
		total += bw.Value.Load().(*statbase.MetricBucket).Get(event)
	}
	return float64(total) / (float64(bucketLen) / 1000.0)
}

// PassQps is the "used" quantity for QPS-graded flow rules: admitted
// requests plus pledged-but-not-yet-materialised occupied-pass slots, per
// scenario E (an occupied-pass pledge counts against the threshold for
// later, non-prioritised requests in the same window).
func (n *StatisticNode) PassQps() float64 {
	return n.GetQPS(base.MetricEventPass) + n.GetQPS(base.MetricEventOccupiedPass)
}

func (n *StatisticNode) IncreaseConcurrency() {
	atomic.AddInt32(&n.concurrency, 1)
}

func (n *StatisticNode) DecreaseConcurrency() {
	for {
		cur := atomic.LoadInt32(&n.concurrency)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&n.concurrency, cur, cur-1) {
			return
		}
	}
}

func (n *StatisticNode) CurrentConcurrency() int32 {
	return atomic.LoadInt32(&n.concurrency)
}

func (n *StatisticNode) AvgRT() float64 {
	complete := n.GetSum(base.MetricEventComplete, minuteIntervalMs)
	if complete <= 0 {
		return 0
	}
	total := n.GetSum(base.MetricEventRt, minuteIntervalMs)
	return float64(total) / float64(complete)
}

func (n *StatisticNode) MinRT() float64 {
	v := atomic.LoadInt64(&n.minRT)
	if v == math.MaxInt64 {
		return 0
	}
	return float64(v)
}

// TryOccupyNext walks forward bucket by bucket from currentTime, looking
// for the nearest future bucket whose window total (existing pass +
// occupied-pass, plus this pledge) would not exceed threshold. It returns
// the wait in milliseconds, or base.OccupyNoWay if no bucket within the
// window horizon can accommodate the pledge.
//
// The scan and the lastOccupiedTime advance are both done under occupyMu
// so concurrent occupants serialize: total pledges in any single future
// window never exceed threshold, and lastOccupiedTime only ever moves
// forward.
func (n *StatisticNode) TryOccupyNext(currentTime uint64, acquireCount int32, threshold float64) int64 {
	n.occupyMu.Lock()
	defer n.occupyMu.Unlock()

	intervalMs := uint64(n.secondArray.IntervalInMs())
	bucketMs := uint64(n.secondArray.BucketLengthInMs())
	maxAllowed := threshold * float64(intervalMs) / 1000.0

	for d := uint64(0); d < intervalMs; d += bucketMs {
		futureTime := currentTime + d
		if futureTime <= n.lastOccupiedTime {
			continue
		}
		sum := n.windowSumEndingAt(futureTime, base.MetricEventPass) + n.windowSumEndingAt(futureTime, base.MetricEventOccupiedPass)
		if float64(sum)+float64(acquireCount) <= maxAllowed {
			n.lastOccupiedTime = futureTime
			return int64(d)
		}
	}
	return base.OccupyNoWay
}

func (n *StatisticNode) windowSumEndingAt(end uint64, event base.MetricEvent) int64 {
	intervalMs := uint64(n.secondArray.IntervalInMs())
	lowerBound := int64(end) - int64(intervalMs)
	var total int64
	for _, bw := range n.secondArray.ValuesConditional(end, func(ts uint64) bool {
		return int64(ts) > lowerBound && ts <= end
	}) {
		total += bw.Value.Load().(*statbase.MetricBucket).Get(event)
	}
	return total
}

// AddWaitingRequest pledges acquireCount into the bucket covering
// futureTime, so a concurrent occupant scanning the same window sees the
// slot as already spoken for.
func (n *StatisticNode) AddWaitingRequest(futureTime uint64, acquireCount uint32) {
	if bw, err := n.secondArray.BucketOfTime(futureTime, bucketGen); err == nil {
		bw.Value.Load().(*statbase.MetricBucket).Add(base.MetricEventOccupiedPass, int64(acquireCount))
	}
}

// AddOccupiedPass credits the current bucket with an occupied-pass count,
// so a later (non-prioritised) check of the same window sees the slot as
// used, per scenario E.
func (n *StatisticNode) AddOccupiedPass(acquireCount int32) {
	n.addCountAt(util.CurrentTimeMillis(), base.MetricEventOccupiedPass, int64(acquireCount))
}

func (n *StatisticNode) GetOccupiedPass() int64 {
	return n.GetSum(base.MetricEventOccupiedPass, secondIntervalMs)
}

func (n *StatisticNode) MetricsOnCondition(predicate base.TimePredicate) []*base.MetricItem {
	now := util.CurrentTimeMillis()
	var items []*base.MetricItem
	for _, bw := range n.secondArray.ValuesConditional(now, predicate) {
		mb := bw.Value.Load().(*statbase.MetricBucket)
		bucketLen := n.secondArray.BucketLengthInMs()
		sec := float64(bucketLen) / 1000.0
		complete := mb.Get(base.MetricEventComplete)
		avgRt := uint64(0)
		if complete > 0 {
			avgRt = uint64(mb.Get(base.MetricEventRt) / complete)
		}
		items = append(items, &base.MetricItem{
			Timestamp:   bw.BucketStart,
			PassQps:     uint64(float64(mb.Get(base.MetricEventPass)) / sec),
			BlockQps:    uint64(float64(mb.Get(base.MetricEventBlock)) / sec),
			CompleteQps: uint64(float64(complete) / sec),
			ErrorQps:    uint64(float64(mb.Get(base.MetricEventError)) / sec),
			AvgRt:       avgRt,
			Concurrency: uint32(n.CurrentConcurrency()),
		})
	}
	return items
}
