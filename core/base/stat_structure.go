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

// MetricEvent enumerates the counters tracked per time bucket.
type MetricEvent int8

const (
	MetricEventPass MetricEvent = iota
	MetricEventBlock
	MetricEventComplete
	MetricEventError
	// MetricEventRt accumulates total response time in milliseconds; the
	// average is total-rt / total-complete.
	MetricEventRt
	MetricEventOccupiedPass
)

func (e MetricEvent) String() string {
	switch e {
	case MetricEventPass:
		return "pass"
	case MetricEventBlock:
		return "block"
	case MetricEventComplete:
		return "complete"
	case MetricEventError:
		return "error"
	case MetricEventRt:
		return "rt"
	case MetricEventOccupiedPass:
		return "occupiedPass"
	default:
		return "unknown"
	}
}

// TimePredicate filters buckets/metric snapshots by their window-start
// timestamp (milliseconds).
type TimePredicate func(ts uint64) bool

// MetricItem is one bucket's worth of aggregated metrics for a resource,
// as exposed on the observation/snapshot surface.
type MetricItem struct {
	Resource       string
	Classification int32
	Timestamp      uint64
	PassQps        uint64
	BlockQps       uint64
	CompleteQps    uint64
	ErrorQps       uint64
	AvgRt          uint64
	Concurrency    uint32
}

// MetricItemRetriever is implemented by anything that can hand back
// MetricItems matching a time predicate — ClusterNode/ResourceNode in this
// core, consumed by the metric aggregator.
type MetricItemRetriever interface {
	MetricsOnCondition(predicate TimePredicate) []*MetricItem
}

// StatNode is the statistics surface a DefaultNode/ClusterNode exposes to
// the slot chain and controllers. It deliberately does not expose the
// underlying LeapArrays: all reads go through aggregate accessors so the
// sliding-window implementation can change without moving the interface.
type StatNode interface {
	MetricItemRetriever

	AddCount(event MetricEvent, count int64)
	GetSum(event MetricEvent, intervalInMs uint32) int64
	GetQPS(event MetricEvent) float64
	GetPreviousQPS(event MetricEvent) float64

	IncreaseConcurrency()
	DecreaseConcurrency()
	CurrentConcurrency() int32

	AvgRT() float64
	MinRT() float64

	// TryOccupyNext walks forward bucket by bucket looking for one that can
	// accommodate acquireCount more without the window total exceeding
	// threshold; returns the wait in milliseconds, or OccupyNoWay.
	TryOccupyNext(currentTime uint64, acquireCount int32, threshold float64) int64
	// AddWaitingRequest pledges acquireCount in the future bucket covering
	// futureTime, so concurrent occupants see the pledge.
	AddWaitingRequest(futureTime uint64, acquireCount uint32)
	AddOccupiedPass(acquireCount int32)
	GetOccupiedPass() int64
}

// OccupyNoWay is returned by TryOccupyNext when no future bucket within the
// sliding window can accommodate the requested pledge.
const OccupyNoWay int64 = -1
