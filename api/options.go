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

import "github.com/shieldflow/shieldflow/core/base"

type entryOptions struct {
	resourceType base.ResourceType
	trafficType  base.TrafficType
	batchCount   uint32
	flag         int32
	args         []interface{}
	attachments  map[interface{}]interface{}
	contextName  string
	origin       string
}

func newEntryOptions() *entryOptions {
	return &entryOptions{
		resourceType: base.ResTypeCommon,
		trafficType:  base.Outbound,
		batchCount:   1,
		contextName:  base.RootContextName,
	}
}

// EntryOption configures one call to Entry.
type EntryOption func(*entryOptions)

func WithResourceType(t base.ResourceType) EntryOption {
	return func(o *entryOptions) { o.resourceType = t }
}

// WithTrafficType marks the entry Inbound: SystemSlot and the InboundNode
// aggregate only Inbound traffic, so a resource representing work the
// process receives (an HTTP handler, an RPC method) should set this.
func WithTrafficType(t base.TrafficType) EntryOption {
	return func(o *entryOptions) { o.trafficType = t }
}

// WithBatchCount sets how many units this single Entry call consumes,
// e.g. a batched RPC carrying 10 sub-requests would pass 10 here instead
// of calling Entry ten times.
func WithBatchCount(n uint32) EntryOption {
	return func(o *entryOptions) { o.batchCount = n }
}

func WithFlag(flag int32) EntryOption {
	return func(o *entryOptions) { o.flag = flag }
}

// WithPrioritized marks the call eligible for the DefaultController's
// priority occupy-future path: against a QPS-graded REJECT rule with
// MaxQueueingTimeMs configured, a call that can't pass right now but
// could be satisfied by a near-future bucket is pledged into it and told
// to wait, instead of being rejected outright like a non-prioritized call.
func WithPrioritized() EntryOption {
	return func(o *entryOptions) { o.flag = base.PrioritizedFlag }
}

func WithArgs(args ...interface{}) EntryOption {
	return func(o *entryOptions) { o.args = args }
}

func WithAttachment(key, value interface{}) EntryOption {
	return func(o *entryOptions) {
		if o.attachments == nil {
			o.attachments = make(map[interface{}]interface{})
		}
		o.attachments[key] = value
	}
}

// WithContextName scopes the entry to a named calling chain other than
// the shared root — e.g. one per inbound RPC method, so CHAIN-strategy
// rules can throttle "calls arriving via this context" specifically.
func WithContextName(name string) EntryOption {
	return func(o *entryOptions) { o.contextName = name }
}

// WithOrigin attaches a caller identity (service name, tenant id, ...) to
// the owning Context; StatSlot then also records the call on that origin's
// node. Flow rules do not filter on it: a rule's LimitApp is not evaluated.
func WithOrigin(origin string) EntryOption {
	return func(o *entryOptions) { o.origin = origin }
}
