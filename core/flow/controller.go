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

import (
	"sync"

	"github.com/shieldflow/shieldflow/core/base"
)

// checker is the behavior a ControlBehavior plugs into a
// TrafficShapingController: given the node actually being measured (which
// may belong to a different resource than the one being entered, per
// RelationStrategy), the requested count, and the caller's flag (e.g.
// base.PrioritizedFlag), decide pass/block/wait.
type checker interface {
	doCheck(node base.StatNode, batchCount uint32, threshold float64, flag int32) *base.TokenResult
}

// TrafficShapingController is the runtime counterpart of a Rule: the rule
// holds configuration, the controller holds whatever mutable state its
// checker needs (token bucket fill level, last-passed timestamp, ...) and
// is rebuilt whenever the rule it was built from changes.
type TrafficShapingController struct {
	rule    *Rule
	checker checker
}

func newTrafficShapingController(rule *Rule) *TrafficShapingController {
	tc := &TrafficShapingController{rule: rule}
	switch rule.ControlBehavior {
	case RateLimit:
		tc.checker = newRateLimiterChecker(rule)
	case WarmUp:
		tc.checker = newWarmUpChecker(rule, false)
	case WarmUpRateLimit:
		tc.checker = newWarmUpChecker(rule, true)
	default:
		tc.checker = newDefaultChecker(rule)
	}
	return tc
}

func (t *TrafficShapingController) Rule() *Rule {
	return t.rule
}

func (t *TrafficShapingController) PerformChecking(node base.StatNode, batchCount uint32, flag int32) *base.TokenResult {
	return t.checker.doCheck(node, batchCount, t.rule.Count, flag)
}

// getTrafficControllerListFor resolves and lazily builds the
// TrafficShapingControllers backing the current rule list for a resource.
// Controllers are cached per *Rule pointer. LoadRules stores a fresh copy
// of every rule, so each load gets new controllers with fresh state (e.g.
// a warm-up controller starts cold again); entries for replaced rules are
// not removed from the cache.
var (
	controllerCacheMu sync.Mutex
	controllerCache   = make(map[*Rule]*TrafficShapingController)
)

func getTrafficControllerListFor(resource string) []*TrafficShapingController {
	rules := rulesFor(resource)
	if len(rules) == 0 {
		return nil
	}
	controllerCacheMu.Lock()
	defer controllerCacheMu.Unlock()

	out := make([]*TrafficShapingController, 0, len(rules))
	for _, r := range rules {
		tc, ok := controllerCache[r]
		if !ok {
			tc = newTrafficShapingController(r)
			controllerCache[r] = tc
		}
		out = append(out, tc)
	}
	return out
}
