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
	"sync/atomic"

	"go.uber.org/multierr"
)

// RuleProvider is the host-supplied function the checker reads from: a
// resource name in, the ordered list of rules currently attached to it
// out. The checker never mutates what it gets back. The default provider
// (installed by LoadRules) stores the whole rule set as one atomic
// pointer swap, per the external interface contract.
type RuleProvider func(resourceName string) []*Rule

var rulesMapHolder atomic.Value // holds map[string][]*Rule

func init() {
	rulesMapHolder.Store(make(map[string][]*Rule))
}

var provider atomic.Value // holds RuleProvider

func init() {
	provider.Store(RuleProvider(defaultProvider))
}

func defaultProvider(resourceName string) []*Rule {
	m := rulesMapHolder.Load().(map[string][]*Rule)
	return m[resourceName]
}

// SetRulesProvider overrides how the checker resolves a resource's rule
// list — e.g. to read directly from a datasource instead of the built-in
// map. Passing nil restores the default (LoadRules-backed) provider.
func SetRulesProvider(p RuleProvider) {
	if p == nil {
		p = defaultProvider
	}
	provider.Store(p)
}

func rulesFor(resourceName string) []*Rule {
	return provider.Load().(RuleProvider)(resourceName)
}

// RulesFor exposes the currently effective rule list for a resource, as
// resolved through whatever provider is installed — the built-in map by
// default, or a host-supplied one via SetRulesProvider. Useful for a host
// inspecting what would actually be checked without duplicating the
// provider lookup.
func RulesFor(resourceName string) []*Rule {
	return rulesFor(resourceName)
}

// LoadRules validates and installs a full rule set, replacing whatever was
// loaded before via one atomic pointer swap. Rules for the same resource
// keep their given order; all rules are evaluated until one rejects, so
// order is significant (a cheap DIRECT check before an expensive RELATE
// lookup, for instance).
//
// Every invalid rule in the batch is reported: a reload that rejects more
// than one rule at once should not make the caller fix them one at a
// time, so validation errors are aggregated with multierr rather than
// returned on the first failure.
func LoadRules(rules []*Rule) error {
	var errs error
	grouped := make(map[string][]*Rule)
	for _, r := range rules {
		if r == nil {
			continue
		}
		cp := *r
		cp.applyDefaults()
		if err := cp.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		grouped[cp.Resource] = append(grouped[cp.Resource], &cp)
	}
	if errs != nil {
		return errs
	}
	rulesMapHolder.Store(grouped)
	return nil
}

// ClearRules drops every loaded rule, restoring the default empty table.
func ClearRules() {
	rulesMapHolder.Store(make(map[string][]*Rule))
}
