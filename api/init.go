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

package api

import (
	"github.com/pkg/errors"

	"github.com/shieldflow/shieldflow/core/config"
	metriclog "github.com/shieldflow/shieldflow/core/log/metric"
	"github.com/shieldflow/shieldflow/core/system"
)

// InitOptions configures InitDefault.
type InitOptions struct {
	// ConfigFile is an optional path to a YAML config file (core/config's
	// Entity shape). Empty means defaults only.
	ConfigFile string
}

// InitDefault brings up the ambient background tasks a long-running host
// wants: config loading, the metric log aggregator, and the system CPU
// collector. Flow rules are not loaded here — call flow.LoadRules or wire
// a pkg/datasource source separately, since rule sourcing is host-specific.
func InitDefault(opts InitOptions) error {
	if opts.ConfigFile != "" {
		if err := config.LoadFromYAML(opts.ConfigFile); err != nil {
			return errors.Wrap(err, "failed to load config")
		}
	}
	system.InitCollector()
	if err := metriclog.InitTask(); err != nil {
		return errors.Wrap(err, "failed to start metric log aggregator")
	}
	return nil
}
