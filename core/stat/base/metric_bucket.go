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

package base

import (
	"sync/atomic"

	sbase "github.com/shieldflow/shieldflow/core/base"
)

// metricEventCount is the number of distinct MetricEvent counters tracked
// per bucket: pass, block, complete, error, rt, occupiedPass.
const metricEventCount = 6

// MetricBucket is the counter set a single BucketWrap.Value holds: one
// atomic int64 per MetricEvent.
type MetricBucket struct {
	counters [metricEventCount]int64
}

func NewMetricBucket() *MetricBucket {
	return &MetricBucket{}
}

func (mb *MetricBucket) Add(event sbase.MetricEvent, count int64) {
	atomic.AddInt64(&mb.counters[int(event)], count)
}

func (mb *MetricBucket) Get(event sbase.MetricEvent) int64 {
	return atomic.LoadInt64(&mb.counters[int(event)])
}

func (mb *MetricBucket) reset() {
	for i := range mb.counters {
		atomic.StoreInt64(&mb.counters[i], 0)
	}
}

// MetricBucketGenerator is the BucketGenerator for MetricBucket-backed
// LeapArrays: StatisticNode's second- and minute-resolution windows both
// use it.
type MetricBucketGenerator struct{}

func (MetricBucketGenerator) NewEmptyBucket() interface{} {
	return NewMetricBucket()
}

func (MetricBucketGenerator) ResetBucketTo(bw *BucketWrap, startTime uint64) *BucketWrap {
	bw.BucketStart = startTime
	mb := bw.Value.Load().(*MetricBucket)
	mb.reset()
	return bw
}
