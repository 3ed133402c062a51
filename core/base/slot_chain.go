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

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/shieldflow/shieldflow/logging"
	"github.com/shieldflow/shieldflow/util"
)

type BaseSlot interface {
	// Order returns the sort value of the slot. SlotChain sorts all of a
	// bucket's slots by ascending Order() value.
	Order() uint32
}

// StatPrepareSlot does preparation before statistics/rule-checking run:
// building/attaching nodes, stamping the request id, and so on. All
// StatPrepareSlots run in order; Prepare must never panic.
type StatPrepareSlot interface {
	BaseSlot
	Prepare(ctx *EntryContext)
}

// RuleCheckSlot is a rule-based checking strategy. It can break off the
// pipeline by returning a blocked/should-wait TokenResult; nil means pass.
type RuleCheckSlot interface {
	BaseSlot
	Check(ctx *EntryContext) *TokenResult
}

// StatSlot counts biz metrics. It must not handle panics itself — they
// propagate up through SlotChain.Entry's recover.
type StatSlot interface {
	BaseSlot
	OnEntryPassed(ctx *EntryContext)
	OnEntryBlocked(ctx *EntryContext, blockError *BlockError)
	// OnCompleted fires when the chain exits for an entry that passed.
	// Blocked entries never reach OnCompleted.
	OnCompleted(ctx *EntryContext)
}

// SlotChain holds all system slots plus any developer-registered slot for
// one resource. It is immutable after construction and safe to share
// across concurrently entering goroutines.
type SlotChain struct {
	statPres   []StatPrepareSlot
	ruleChecks []RuleCheckSlot
	stats      []StatSlot
	ctxPool    *sync.Pool
}

func newCtxPool() *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			ctx := NewEmptyEntryContext()
			ctx.RuleCheckResult = NewTokenResultPass()
			ctx.Data = make(map[interface{}]interface{})
			ctx.Input = &SentinelInput{
				BatchCount:  1,
				Flag:        0,
				Args:        make([]interface{}, 0),
				Attachments: make(map[interface{}]interface{}),
			}
			return ctx
		},
	}
}

func NewSlotChain() *SlotChain {
	return &SlotChain{
		statPres:   make([]StatPrepareSlot, 0, 8),
		ruleChecks: make([]RuleCheckSlot, 0, 8),
		stats:      make([]StatSlot, 0, 8),
		ctxPool:    newCtxPool(),
	}
}

// GetPooledContext fetches a reset EntryContext from the chain's pool and
// stamps its start time.
func (sc *SlotChain) GetPooledContext() *EntryContext {
	ctx := sc.ctxPool.Get().(*EntryContext)
	ctx.startTime = util.CurrentTimeMillis()
	return ctx
}

func (sc *SlotChain) RefurbishContext(c *EntryContext) {
	if c != nil {
		c.Reset()
		sc.ctxPool.Put(c)
	}
}

// AddStatPrepareSlot inserts s, keeping statPres sorted by Order(). Not
// thread-safe: callers must add all slots for a resource before the chain
// is published to concurrent entries.
func (sc *SlotChain) AddStatPrepareSlot(s StatPrepareSlot) {
	sc.statPres = append(sc.statPres, s)
	sort.SliceStable(sc.statPres, func(i, j int) bool {
		return sc.statPres[i].Order() < sc.statPres[j].Order()
	})
}

func (sc *SlotChain) AddRuleCheckSlot(s RuleCheckSlot) {
	sc.ruleChecks = append(sc.ruleChecks, s)
	sort.SliceStable(sc.ruleChecks, func(i, j int) bool {
		return sc.ruleChecks[i].Order() < sc.ruleChecks[j].Order()
	})
}

func (sc *SlotChain) AddStatSlot(s StatSlot) {
	sc.stats = append(sc.stats, s)
	sort.SliceStable(sc.stats, func(i, j int) bool {
		return sc.stats[i].Order() < sc.stats[j].Order()
	})
}

// Entry is the entrance of the slot chain. It never panics out to the
// caller: an internal panic is recovered, logged, and attached to ctx as
// an error instead.
func (sc *SlotChain) Entry(ctx *EntryContext) (result *TokenResult) {
	defer func() {
		if err := recover(); err != nil {
			logging.Error(errors.Errorf("%+v", err), "Sentinel internal panic in SlotChain.Entry()")
			ctx.SetError(errors.Errorf("%+v", err))
			result = ctx.RuleCheckResult
		}
	}()

	for _, s := range sc.statPres {
		s.Prepare(ctx)
	}

	var ruleCheckRet *TokenResult
	for _, s := range sc.ruleChecks {
		sr := s.Check(ctx)
		if sr == nil {
			continue
		}
		if sr.IsBlocked() {
			ruleCheckRet = sr
			break
		}
	}
	if ruleCheckRet == nil {
		ctx.RuleCheckResult.ResetToPass()
	} else {
		ctx.RuleCheckResult = ruleCheckRet
	}

	ruleCheckRet = ctx.RuleCheckResult
	for _, s := range sc.stats {
		if !ruleCheckRet.IsBlocked() {
			s.OnEntryPassed(ctx)
		} else {
			s.OnEntryBlocked(ctx, ruleCheckRet.BlockError())
		}
	}
	return ruleCheckRet
}

// exit runs the StatSlot.OnCompleted phase. It is only meaningful for
// entries that passed: a blocked entry's matching StatPrepareSlots never
// ran past rule checking, so OnCompleted is skipped for it entirely,
// which is what lets each StatSlot's OnCompleted assume its own
// OnEntryPassed ran.
func (sc *SlotChain) exit(ctx *EntryContext) {
	if ctx == nil || ctx.Entry() == nil {
		logging.Error(errors.New("entryContext or SentinelEntry is nil"),
			"EntryContext or SentinelEntry is nil in SlotChain.exit()", "ctx", ctx)
		return
	}
	if ctx.IsBlocked() {
		return
	}
	for _, s := range sc.stats {
		s.OnCompleted(ctx)
	}
}
