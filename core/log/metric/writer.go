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
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shieldflow/shieldflow/core/base"
)

// MetricLogWriter persists one second's worth of MetricItems. Write is
// called once per distinct bucket timestamp pulled out of the aggregation
// pass, in ascending timestamp order.
type MetricLogWriter interface {
	Write(timestamp uint64, items []*base.MetricItem) error
	Close() error
}

// DefaultMetricLogWriter appends one JSON line per MetricItem to a
// lumberjack-rotated file: size-based rotation at singleFileMaxBytes,
// keeping at most maxFileAmount backups.
type DefaultMetricLogWriter struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

func NewDefaultMetricLogWriter(singleFileMaxBytes uint64, maxFileAmount uint32) (*DefaultMetricLogWriter, error) {
	maxSizeMB := int(singleFileMaxBytes / (1024 * 1024))
	if maxSizeMB < 1 {
		maxSizeMB = 1
	}
	return &DefaultMetricLogWriter{
		out: &lumberjack.Logger{
			Filename:   "logs/shieldflow-metric.log",
			MaxSize:    maxSizeMB,
			MaxBackups: int(maxFileAmount),
			Compress:   false,
		},
	}, nil
}

func (w *DefaultMetricLogWriter) Write(timestamp uint64, items []*base.MetricItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := w.out.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (w *DefaultMetricLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}
