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

package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/stat"
)

func TestIsActiveMetricItem(t *testing.T) {
	assert.False(t, isActiveMetricItem(&base.MetricItem{}))
	assert.True(t, isActiveMetricItem(&base.MetricItem{PassQps: 1}))
	assert.True(t, isActiveMetricItem(&base.MetricItem{Concurrency: 1}))
}

func TestIsItemTimestampInTime(t *testing.T) {
	lastFetchTime = 1000
	defer func() { lastFetchTime = -1 }()

	assert.True(t, isItemTimestampInTime(1000, 2000))
	assert.False(t, isItemTimestampInTime(999, 2000))
	assert.False(t, isItemTimestampInTime(2000, 2000))
}

func TestAggregateIntoMapStampsResourceIdentity(t *testing.T) {
	mm := make(metricTimeMap)
	node := stat.NewClusterNode("svc-a", base.ResTypeRPC)
	metrics := map[uint64]*base.MetricItem{
		1000: {Timestamp: 1000, PassQps: 3},
	}
	aggregateIntoMap(mm, metrics, node)

	items := mm[1000]
	assert.Len(t, items, 1)
	assert.Equal(t, "svc-a", items[0].Resource)
	assert.Equal(t, int32(base.ResTypeRPC), items[0].Classification)
}
