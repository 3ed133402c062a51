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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shieldflow/shieldflow/core/base"
)

func TestDefaultMetricLogWriterWritesOneJSONLinePerItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metric.log")
	w := &DefaultMetricLogWriter{out: &lumberjack.Logger{Filename: path}}
	defer w.Close()

	items := []*base.MetricItem{
		{Resource: "a", Timestamp: 1000, PassQps: 5},
		{Resource: "a", Timestamp: 1000, PassQps: 7},
	}
	require.NoError(t, w.Write(1000, items))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var decoded base.MetricItem
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "a", decoded.Resource)
	assert.Equal(t, uint64(5), decoded.PassQps)
}

func TestNewDefaultMetricLogWriterFloorsMaxSizeToOneMB(t *testing.T) {
	w, err := NewDefaultMetricLogWriter(100, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, w.out.MaxSize)
	assert.Equal(t, 3, w.out.MaxBackups)
}
