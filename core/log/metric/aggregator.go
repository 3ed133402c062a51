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

// Package metric periodically drains every resource's MetricItems and
// writes them to a rotating log file, independent of the Prometheus
// counters in exporter/metric: this is the historical record a host greps
// or ships to a log pipeline, not the live scrape surface.
package metric

import (
	"sort"
	"sync"
	"time"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/config"
	"github.com/shieldflow/shieldflow/core/stat"
	"github.com/shieldflow/shieldflow/logging"
	"github.com/shieldflow/shieldflow/util"
)

type metricTimeMap = map[uint64][]*base.MetricItem

const logFlushQueueSize = 60

var (
	// lastFetchTime is the timestamp (ms) of the last aggregation pass; -1
	// before the first one runs, so the first pass accepts any bucket.
	lastFetchTime int64 = -1
	writeChan           = make(chan metricTimeMap, logFlushQueueSize)
	stopChan            = make(chan struct{})

	metricWriter MetricLogWriter
	initOnce     sync.Once
)

// InitTask starts the aggregation and flushing goroutines. A zero
// FlushIntervalSec in config leaves metric logging disabled. Safe to call
// more than once; only the first call has effect.
func InitTask() (err error) {
	initOnce.Do(func() {
		flushInterval := config.MetricLogFlushIntervalSec()
		if flushInterval == 0 {
			return
		}

		metricWriter, err = NewDefaultMetricLogWriter(config.MetricLogSingleFileMaxSize(), config.MetricLogMaxFileAmount())
		if err != nil {
			logging.Error(err, "failed to initialize the MetricLogWriter in aggregator.InitTask")
			return
		}

		go util.RunWithRecover(writeTaskLoop)

		ticker := util.NewTicker(time.Duration(flushInterval) * time.Second)
		go util.RunWithRecover(func() {
			for {
				select {
				case <-ticker.C():
					doAggregate()
				case <-stopChan:
					ticker.Stop()
					return
				}
			}
		})
	})
	return err
}

// Stop halts the aggregation ticker goroutine started by InitTask. The
// log-writing goroutine is left running, blocked on writeChan, which is
// never closed. Mainly useful for tests.
func Stop() {
	close(stopChan)
}

func writeTaskLoop() {
	for m := range writeChan {
		keys := make([]uint64, 0, len(m))
		for t := range m {
			keys = append(keys, t)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, t := range keys {
			if err := metricWriter.Write(t, m[t]); err != nil {
				logging.Error(err, "failed to write metric log line in aggregator.writeTaskLoop")
			}
		}
	}
}

func doAggregate() {
	curTime := util.CurrentTimeMillis()
	curTime = curTime - curTime%1000

	if int64(curTime) <= lastFetchTime {
		return
	}
	maps := make(metricTimeMap)
	for _, node := range stat.ResourceNodeList() {
		aggregateIntoMap(maps, currentMetricItems(node, curTime), node)
	}
	inbound := stat.InboundNode()
	aggregateIntoMap(maps, currentMetricItems(inbound, curTime), inbound)

	lastFetchTime = int64(curTime)

	if len(maps) > 0 {
		writeChan <- maps
	}
}

func aggregateIntoMap(mm metricTimeMap, metrics map[uint64]*base.MetricItem, node *stat.ClusterNode) {
	for t, item := range metrics {
		item.Resource = node.ResourceName()
		item.Classification = int32(node.ResourceType())
		mm[t] = append(mm[t], item)
	}
}

func isActiveMetricItem(item *base.MetricItem) bool {
	return item.PassQps > 0 || item.BlockQps > 0 || item.CompleteQps > 0 || item.ErrorQps > 0 ||
		item.AvgRt > 0 || item.Concurrency > 0
}

func isItemTimestampInTime(ts uint64, currentSecStart uint64) bool {
	return int64(ts) >= lastFetchTime && ts < currentSecStart
}

func currentMetricItems(retriever base.MetricItemRetriever, currentTime uint64) map[uint64]*base.MetricItem {
	items := retriever.MetricsOnCondition(func(ts uint64) bool {
		return isItemTimestampInTime(ts, currentTime)
	})
	m := make(map[uint64]*base.MetricItem, len(items))
	for _, item := range items {
		if !isActiveMetricItem(item) {
			continue
		}
		m[item.Timestamp] = item
	}
	return m
}
