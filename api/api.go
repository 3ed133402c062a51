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

// Package api is the host-facing surface: Entry/Exit wrap SlotChain
// construction, Context lookup and EntryContext pooling behind a small
// functional-options call.
package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/flow"
	"github.com/shieldflow/shieldflow/core/stat"
	"github.com/shieldflow/shieldflow/core/system"
)

var (
	chainsMu sync.Mutex
	chains   = make(map[string]*base.SlotChain) // copy-on-write, keyed by resource name
)

func buildSlotChain(resource *base.ResourceWrapper) *base.SlotChain {
	sc := base.NewSlotChain()
	sc.AddStatPrepareSlot(stat.NewNodeSelectorSlot(resource))
	sc.AddStatPrepareSlot(stat.NewClusterBuilderSlot(resource))
	sc.AddRuleCheckSlot(&system.Slot{})
	sc.AddRuleCheckSlot(flow.DefaultSlot)
	sc.AddStatSlot(stat.DefaultSlot)
	return sc
}

func chainFor(resource *base.ResourceWrapper) *base.SlotChain {
	chainsMu.Lock()
	defer chainsMu.Unlock()
	sc, ok := chains[resource.Name()]
	if ok {
		return sc
	}
	sc = buildSlotChain(resource)
	newMap := make(map[string]*base.SlotChain, len(chains)+1)
	for k, v := range chains {
		newMap[k] = v
	}
	newMap[resource.Name()] = sc
	chains = newMap
	return sc
}

// Entry attempts to admit one call against resourceName. A non-nil
// BlockError means the call must not proceed — no Exit is needed in that
// case, since nothing was entered. Otherwise the caller must call
// entry.Exit() exactly once, typically via defer, when the guarded work
// completes.
func Entry(resourceName string, opts ...EntryOption) (*base.SentinelEntry, *base.BlockError) {
	o := newEntryOptions()
	for _, opt := range opts {
		opt(o)
	}

	resource := base.NewResourceWrapper(resourceName, o.resourceType, o.trafficType)
	chain := chainFor(resource)

	cc := base.GetOrCreateContext(o.contextName, o.origin)
	if o.origin != "" {
		cc.SetOrigin(o.origin)
	}

	ctx := chain.GetPooledContext()
	ctx.Resource = resource
	ctx.RequestID = uuid.NewString()
	ctx.Input.BatchCount = o.batchCount
	ctx.Input.Flag = o.flag
	if len(o.args) > 0 {
		ctx.Input.Args = append(ctx.Input.Args, o.args...)
	}
	for k, v := range o.attachments {
		ctx.Input.Attachments[k] = v
	}

	entry := base.NewSentinelEntry(ctx, chain, cc)

	result := chain.Entry(ctx)
	if result.IsBlocked() {
		// Nothing to clean up from the caller's perspective, but the
		// pushed entry and pooled context must still be unwound. Exit
		// resets the pooled result, so read the block error first.
		blockErr := result.BlockError()
		_ = entry.Exit()
		return nil, blockErr
	}
	return entry, nil
}

// InboundEntry is shorthand for Entry with WithTrafficType(base.Inbound),
// the common case for a resource guarding inbound requests.
func InboundEntry(resourceName string, opts ...EntryOption) (*base.SentinelEntry, *base.BlockError) {
	return Entry(resourceName, append([]EntryOption{WithTrafficType(base.Inbound)}, opts...)...)
}
