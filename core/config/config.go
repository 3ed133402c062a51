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

// Package config holds the engine-wide tunables that are not per-resource
// rules: metric log rotation, the metric aggregation interval, and the
// system-overload sampling interval. It is loaded once from an optional
// YAML file at startup; everything has a sane default so a host that never
// calls LoadFromYAML still gets a working engine.
package config

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// MetricLog configures the metric aggregation/log-rotation background task
// in core/log/metric.
type MetricLog struct {
	FlushIntervalSec int `yaml:"flushIntervalSec"`
	SingleFileMaxKB  int `yaml:"singleFileMaxKB"`
	MaxFileAmount    int `yaml:"maxFileAmount"`
}

// SystemRule configures the ambient SystemSlot: the CPU-load sampler and
// the calling-tree-wide thresholds checked against the InboundNode. A
// zero limit disables that particular check.
type SystemRule struct {
	SampleIntervalMs int     `yaml:"sampleIntervalMs"`
	CPUUsageLimit    float64 `yaml:"cpuUsageLimit"`
	AvgRTLimitMs     float64 `yaml:"avgRtLimitMs"`
	ConcurrencyLimit int32   `yaml:"concurrencyLimit"`
	QPSLimit         float64 `yaml:"qpsLimit"`
}

// Entity is the root configuration document.
type Entity struct {
	MetricLog  MetricLog  `yaml:"metricLog"`
	SystemRule SystemRule `yaml:"systemRule"`
}

func defaultEntity() *Entity {
	return &Entity{
		MetricLog: MetricLog{
			FlushIntervalSec: 1,
			SingleFileMaxKB:  1024 * 50,
			MaxFileAmount:    8,
		},
		SystemRule: SystemRule{
			SampleIntervalMs: 1000,
			CPUUsageLimit:    0, // 0 means disabled until a host sets it
			AvgRTLimitMs:     0,
			ConcurrencyLimit: 0,
			QPSLimit:         0,
		},
	}
}

var current = defaultEntity()

// LoadFromYAML reads an Entity from the given path, filling in defaults for
// anything the file omits, and installs it as the current config. An
// absent file is not an error: the defaults remain in effect.
func LoadFromYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	e := defaultEntity()
	if err := yaml.Unmarshal(data, e); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	current = e
	return nil
}

func MetricLogFlushIntervalSec() uint32 {
	return uint32(current.MetricLog.FlushIntervalSec)
}

func MetricLogSingleFileMaxSize() uint64 {
	return uint64(current.MetricLog.SingleFileMaxKB) * 1024
}

func MetricLogMaxFileAmount() uint32 {
	return uint32(current.MetricLog.MaxFileAmount)
}

func SystemRuleSampleInterval() int {
	if current.SystemRule.SampleIntervalMs <= 0 {
		return 1000
	}
	return current.SystemRule.SampleIntervalMs
}

func SystemRuleCPUUsageLimit() float64 {
	return current.SystemRule.CPUUsageLimit
}

func SystemRuleAvgRTLimitMs() float64 {
	return current.SystemRule.AvgRTLimitMs
}

func SystemRuleConcurrencyLimit() int32 {
	return current.SystemRule.ConcurrencyLimit
}

func SystemRuleQPSLimit() float64 {
	return current.SystemRule.QPSLimit
}
