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

// Package metric bridges the engine's internal counters to Prometheus.
// StatSlot and FlowSlot hold onto the *Counter handles returned by
// NewCounter and Register them once at package init, so the host only has
// to mount the handler this package exposes via Handler().
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter wraps a prometheus.CounterVec under the label set it was
// declared with, so call sites add a float value plus one label value per
// declared label without reaching for the prometheus API directly.
type Counter struct {
	vec *prometheus.CounterVec
}

// NewCounter declares (but does not register) a counter vector. Declaring
// before registering lets call sites hold a typed handle before the
// registry is finalized, mirroring the teacher's metric_exporter package.
func NewCounter(name, help string, labelNames []string) *Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldflow_" + name,
		Help: help,
	}, labelNames)
	return &Counter{vec: vec}
}

func (c *Counter) Add(v float64, labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Add(v)
}

var registry = prometheus.NewRegistry()

// Register adds c to the package's registry. Safe to call multiple times
// for distinct counters at package init time from any core package.
func Register(c *Counter) {
	registry.MustRegister(c.vec)
}

// Handler returns the http.Handler the host mounts at its metrics
// endpoint (e.g. "/metrics"). The dashboard/HTTP surface itself is out of
// core scope — this just hands back the wiring.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
