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

package flow

import "fmt"

// RelationStrategy selects how a rule resolves its reference node.
type RelationStrategy int8

const (
	// Direct checks the rule's own resource.
	Direct RelationStrategy = iota
	// AssociatedResource checks RefResource's ClusterNode instead — used
	// to protect a resource by throttling a *different* one, e.g.
	// shedding a cheap endpoint when an expensive one it shares a backend
	// with is under load.
	AssociatedResource
	// Chain checks curNode, but only when the entering Context's name
	// equals RefResource — i.e. "only throttle calls arriving via this
	// specific calling chain".
	Chain
)

// ControlBehavior selects the traffic-shaping controller.
type ControlBehavior int8

const (
	Reject ControlBehavior = iota
	WarmUp
	RateLimit
	WarmUpRateLimit
)

// Grade selects the metric a rule's Count threshold is measured against.
type Grade int8

const (
	QPS Grade = iota
	Concurrency
)

// LimitApp names the callers a rule is scoped to. It is parsed and
// defaulted, but flow.Slot does not filter rules by origin: every rule on
// a resource applies to every caller, whatever its LimitApp.
const (
	LimitAppDefault = "default"
	LimitAppOther   = "other"
)

// Rule is one flow-control rule attached to a resource, per the wire
// format in the external interfaces section: unknown JSON/YAML keys are
// ignored by encoding/json's and yaml.v2's default unmarshal behaviour;
// missing numeric keys default to zero; LimitApp defaults to "default".
type Rule struct {
	Resource         string           `json:"resource" yaml:"resource"`
	LimitApp         string           `json:"limitApp" yaml:"limitApp"`
	Grade            Grade            `json:"grade" yaml:"grade"`
	Count            float64          `json:"count" yaml:"count"`
	RelationStrategy RelationStrategy `json:"strategy" yaml:"strategy"`
	RefResource      string           `json:"refResource" yaml:"refResource"`
	ControlBehavior  ControlBehavior  `json:"controlBehavior" yaml:"controlBehavior"`
	WarmUpPeriodSec  int              `json:"warmUpPeriodSec" yaml:"warmUpPeriodSec"`
	WarmUpColdFactor int              `json:"warmUpColdFactor" yaml:"warmUpColdFactor"`
	MaxQueueingTimeMs int64           `json:"maxQueueingTimeMs" yaml:"maxQueueingTimeMs"`
	// ClusterMode/ClusterConfig round-trip for a fleet-wide rule file but
	// are not implemented: cluster-mode flow control is out of core scope
	// (distributed coordination between engine instances, per Non-goals).
	ClusterMode   bool        `json:"clusterMode" yaml:"clusterMode"`
	ClusterConfig interface{} `json:"clusterConfig,omitempty" yaml:"clusterConfig,omitempty"`
}

func (r *Rule) applyDefaults() {
	if r.LimitApp == "" {
		r.LimitApp = LimitAppDefault
	}
	if r.WarmUpColdFactor <= 1 {
		r.WarmUpColdFactor = 3
	}
}

// Validate rejects rules whose shape cannot be checked safely: an empty
// resource, a negative threshold, or a warm-up behavior without a positive
// warm-up period. A zero threshold is accepted for every behavior; such a
// rule blocks every request.
func (r *Rule) Validate() error {
	if r.Resource == "" {
		return fmt.Errorf("flow rule: resource must not be empty")
	}
	if r.Count < 0 {
		return fmt.Errorf("flow rule %q: count must not be negative", r.Resource)
	}
	if r.ControlBehavior == WarmUp || r.ControlBehavior == WarmUpRateLimit {
		if r.WarmUpPeriodSec <= 0 {
			return fmt.Errorf("flow rule %q: warmUpPeriodSec must be positive for warm-up behavior", r.Resource)
		}
	}
	return nil
}

func (r *Rule) String() string {
	return fmt.Sprintf("Rule{resource=%s, limitApp=%s, grade=%v, count=%.2f, strategy=%v, behavior=%v}",
		r.Resource, r.LimitApp, r.Grade, r.Count, r.RelationStrategy, r.ControlBehavior)
}
