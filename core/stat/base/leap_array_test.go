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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeapArrayRejectsMismatchedInterval(t *testing.T) {
	_, err := NewLeapArray(3, 1000, MetricBucketGenerator{})
	assert.Error(t, err)
}

func TestLeapArrayBucketOfTimeSameBucketIsStable(t *testing.T) {
	la, err := NewLeapArray(2, 1000, MetricBucketGenerator{})
	require.NoError(t, err)

	bw1, err := la.BucketOfTime(10_000_000, MetricBucketGenerator{})
	require.NoError(t, err)
	bw2, err := la.BucketOfTime(10_000_400, MetricBucketGenerator{})
	require.NoError(t, err)
	assert.Same(t, bw1, bw2)
}

func TestLeapArrayBucketOfTimeAdvancesAndResets(t *testing.T) {
	la, err := NewLeapArray(2, 1000, MetricBucketGenerator{})
	require.NoError(t, err)

	bw1, err := la.BucketOfTime(10_000_000, MetricBucketGenerator{})
	require.NoError(t, err)
	bw1.Value.Load().(*MetricBucket).Add(1, 5) // MetricEventBlock=1 per base.MetricEvent ordering

	// One full interval later, the ring wraps back onto the same slot and
	// must be reset rather than keep stale counts.
	bw3, err := la.BucketOfTime(10_001_000, MetricBucketGenerator{})
	require.NoError(t, err)
	assert.Same(t, bw1, bw3)
	assert.Equal(t, int64(0), bw3.Value.Load().(*MetricBucket).Get(1))
}

func TestLeapArrayValuesExcludesDeprecatedBuckets(t *testing.T) {
	la, err := NewLeapArray(2, 1000, MetricBucketGenerator{})
	require.NoError(t, err)

	_, err = la.BucketOfTime(20_000_000, MetricBucketGenerator{})
	require.NoError(t, err)
	values := la.valuesWithTime(20_000_000)
	assert.Len(t, values, 1)

	// Far in the future, every existing bucket is deprecated.
	values = la.valuesWithTime(20_000_000 + 10_000)
	assert.Empty(t, values)
}

func TestMetricBucketAddAndGet(t *testing.T) {
	mb := NewMetricBucket()
	mb.Add(0, 3)
	mb.Add(0, 4)
	assert.Equal(t, int64(7), mb.Get(0))
	mb.reset()
	assert.Equal(t, int64(0), mb.Get(0))
}
