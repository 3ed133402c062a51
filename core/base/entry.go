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

package base

import "github.com/pkg/errors"

// PrioritizedFlag marks a call as eligible for the DefaultController's
// priority occupy-future path (see checker_default.go): only a request
// carrying this flag against a QPS-graded rule may pledge a future bucket
// and wait instead of being rejected outright.
const PrioritizedFlag int32 = 1

// SentinelInput carries the per-call parameters threaded through the slot
// chain: the acquire count, a flag (PrioritizedFlag being the only one
// currently meaningful), positional args and a key-value attachment bag a
// host slot can stash data in.
type SentinelInput struct {
	BatchCount  uint32
	Flag        int32
	Args        []interface{}
	Attachments map[interface{}]interface{}
}

// EntryContext is the per-invocation state threaded through one
// SlotChain.Entry/exit pair. It is pooled (see SlotChain.GetPooledContext)
// so steady-state traffic does not allocate once warmed up.
type EntryContext struct {
	entry *SentinelEntry

	Resource *ResourceWrapper
	// StatNode is the DefaultNode for (context name, resource) — the
	// per-context-per-resource node built by NodeSelectorSlot.
	StatNode StatNode
	// ClusterNode is the resource-global node, built/fetched by
	// ClusterBuilderSlot.
	ClusterNode StatNode
	// OriginNode is the per-origin StatisticNode inside ClusterNode, set
	// only when the owning Context carries a non-empty origin.
	OriginNode StatNode

	Input           *SentinelInput
	RuleCheckResult *TokenResult
	Data            map[interface{}]interface{}

	RequestID string

	startTime uint64
	rt        uint64
	err       error
}

func NewEmptyEntryContext() *EntryContext {
	return &EntryContext{}
}

func (ctx *EntryContext) Entry() *SentinelEntry {
	return ctx.entry
}

func (ctx *EntryContext) StartTime() uint64 {
	return ctx.startTime
}

func (ctx *EntryContext) SetStartTime(t uint64) {
	ctx.startTime = t
}

func (ctx *EntryContext) PutRt(rt uint64) {
	ctx.rt = rt
}

func (ctx *EntryContext) Rt() uint64 {
	return ctx.rt
}

func (ctx *EntryContext) SetError(err error) {
	ctx.err = err
}

func (ctx *EntryContext) Err() error {
	return ctx.err
}

func (ctx *EntryContext) IsBlocked() bool {
	return ctx.RuleCheckResult != nil && ctx.RuleCheckResult.IsBlocked()
}

// Reset clears an EntryContext for reuse from the pool. Every field that
// carries per-request state must be zeroed here.
func (ctx *EntryContext) Reset() {
	ctx.entry = nil
	ctx.Resource = nil
	ctx.StatNode = nil
	ctx.ClusterNode = nil
	ctx.OriginNode = nil
	if ctx.RuleCheckResult != nil {
		ctx.RuleCheckResult.ResetToPass()
	}
	ctx.startTime = 0
	ctx.rt = 0
	ctx.err = nil
	ctx.RequestID = ""
	for k := range ctx.Data {
		delete(ctx.Data, k)
	}
	if ctx.Input != nil {
		ctx.Input.BatchCount = 1
		ctx.Input.Flag = 0
		ctx.Input.Args = ctx.Input.Args[:0]
		for k := range ctx.Input.Attachments {
			delete(ctx.Input.Attachments, k)
		}
	}
}

// SentinelEntry is the handle returned by a successful admission. Entries
// stack per-Context via parent/child links; on Exit the current entry
// must equal the one being exited, or the pairing is fatally broken.
type SentinelEntry struct {
	cc      *Context
	parent  *SentinelEntry
	child   *SentinelEntry
	curNode StatNode

	ctx   *EntryContext
	chain *SlotChain

	exited bool
}

// NewSentinelEntry builds a new entry and pushes it onto cc's entry stack:
// the new entry's parent is whatever was previously on top (nil at the
// root of a calling chain), and it becomes cc's current entry until Exit
// pops it back off. Mirrors exit()'s pop so every push has a matching,
// order-checked pop.
func NewSentinelEntry(ctx *EntryContext, chain *SlotChain, cc *Context) *SentinelEntry {
	e := &SentinelEntry{ctx: ctx, chain: chain, cc: cc, parent: cc.curEntry}
	if cc.curEntry != nil {
		cc.curEntry.child = e
	}
	cc.curEntry = e
	ctx.entry = e
	return e
}

func (e *SentinelEntry) Context() *Context {
	return e.cc
}

func (e *SentinelEntry) SetCurNode(node StatNode) {
	e.curNode = node
}

func (e *SentinelEntry) CurNode() StatNode {
	return e.curNode
}

func (e *SentinelEntry) Parent() *SentinelEntry {
	return e.parent
}

func (e *SentinelEntry) SetParent(p *SentinelEntry) {
	e.parent = p
}

func (e *SentinelEntry) Child() *SentinelEntry {
	return e.child
}

func (e *SentinelEntry) SetChild(c *SentinelEntry) {
	e.child = c
}

func (e *SentinelEntry) EntryContext() *EntryContext {
	return e.ctx
}

// Exit completes this entry. The count/args taken by ExitWithCount are
// accepted but not forwarded: the chain's exit sees only the entry-time
// EntryContext. Exit must be called exactly once per
// successful entry, in LIFO order within its Context — violating either
// rule is a fatal mis-pair, surfaced rather than swallowed.
func (e *SentinelEntry) Exit() error {
	return e.exit(1, nil)
}

func (e *SentinelEntry) ExitWithCount(count uint32, args ...interface{}) error {
	return e.exit(count, args)
}

func (e *SentinelEntry) exit(count uint32, args []interface{}) error {
	if e == nil {
		return errors.New("nil entry")
	}
	if e.exited {
		return NewMispairError("entry already exited")
	}
	if e.cc == nil {
		return NewMispairError("entry has no owning context")
	}
	if e.cc.curEntry != e {
		return NewMispairError("exit order violated: entry is not the current entry of its context")
	}

	if e.chain != nil && e.ctx != nil {
		e.chain.exit(e.ctx)
	}

	e.cc.curEntry = e.parent
	if e.parent != nil {
		e.parent.child = nil
	}
	e.exited = true

	if e.chain != nil {
		e.chain.RefurbishContext(e.ctx)
	}
	return nil
}
